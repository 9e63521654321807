package scheduling

import (
	"encoding/json"

	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

// ShardingContexts is the payload launched alongside a task: everything
// the executor needs to run its assigned shard without its own round trip
// to the coordination store.
type ShardingContexts struct {
	JobName               string         `json:"jobName"`
	ShardingTotalCount    int            `json:"shardingTotalCount"`
	JobParameter          string         `json:"jobParameter"`
	AssignedShardingItems map[int]string `json:"assignedShardingItems"`
}

func (s ShardingContexts) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// TaskInfo is the launch-time descriptor handed to the Driver.
type TaskInfo struct {
	TaskID          string
	Name            string
	SlaveID         string
	CPUs            float64
	MemoryMB        float64
	ExecutorID      string
	AppURL          string
	BootstrapScript string
	Data            []byte
}

// BuildTaskInfo renders the TaskInfo for one assigned shard now that a
// slave has been resolved. configOK must be the presence flag returned
// alongside cfg by the Config Service lookup for req's job; when false
// (the job's configuration disappeared between eligibility and launch,
// racing a deregister) BuildTaskInfo returns ok=false and the caller must
// silently skip the task rather than treat it as an error.
func BuildTaskInfo(req TaskRequest, slaveID string, cfg jobconfig.JobConfig, configOK bool) (TaskInfo, bool) {
	if !configOK {
		return TaskInfo{}, false
	}

	meta := req.Context.MetaInfo
	taskCtx := req.Context.WithSlaveID(slaveID)

	shardingContexts := ShardingContexts{
		JobName:            cfg.JobName,
		ShardingTotalCount: cfg.ShardingTotalCount,
		JobParameter:       cfg.JobParameter,
		AssignedShardingItems: map[int]string{
			meta.ShardingItem: cfg.ShardingParameter(meta.ShardingItem),
		},
	}
	data, err := shardingContexts.Serialize()
	if err != nil {
		return TaskInfo{}, false
	}

	return TaskInfo{
		TaskID:          taskCtx.String(),
		Name:            taskCtx.TaskName(),
		SlaveID:         slaveID,
		CPUs:            cfg.CPUCount,
		MemoryMB:        cfg.MemoryMB,
		ExecutorID:      taskcontext.ExecutorID(cfg.JobName, cfg.AppURL),
		AppURL:          cfg.AppURL,
		BootstrapScript: cfg.BootstrapScript,
		Data:            data,
	}, true
}
