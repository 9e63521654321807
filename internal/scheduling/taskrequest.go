package scheduling

import (
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

// TaskRequest is one shard's pending placement request, built before a
// slave is known — the Go analogue of Fenzo's JobTaskRequest pairing a
// TaskContext (carrying taskcontext.PlaceholderSlaveID) with the job
// configuration its resource demand comes from.
type TaskRequest struct {
	Context taskcontext.Context
	Job     jobconfig.JobConfig
}

func (r TaskRequest) CPUs() float64     { return r.Job.CPUCount }
func (r TaskRequest) MemoryMB() float64 { return r.Job.MemoryMB }
