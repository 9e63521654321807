// Package jobconfig holds the job definition type that operators register
// and the per-offer-cycle context the Facade derives from it.
package jobconfig

import "github.com/Fly365/elastic-job/internal/taskcontext"

// ExecutionType distinguishes how a job is triggered.
type ExecutionType string

const (
	// Transient jobs are enqueued by a cron trigger each time it fires.
	Transient ExecutionType = "TRANSIENT"
	// Daemon jobs are always eligible; their name is re-enqueued to Ready
	// after a shard is killed or ends LOST/FAILED/ERROR. A FINISHED shard
	// does not re-enqueue the job.
	Daemon ExecutionType = "DAEMON"
)

// MisfireStrategy governs what the cron trigger does when a previous run of
// a TRANSIENT job is still in the running-set at the next firing.
type MisfireStrategy string

const (
	// FireOnceNow enqueues the firing anyway; duplicate runs are the
	// operator's problem.
	FireOnceNow MisfireStrategy = "FIRE_ONCE_NOW"
	// Skip drops the firing.
	Skip MisfireStrategy = "SKIP"
)

// JobConfig is the immutable-once-registered job definition. It is mutated
// only via an explicit Producer Manager Update call, which replaces it
// wholesale.
type JobConfig struct {
	JobName                string           `yaml:"jobName"`
	ExecutionType          ExecutionType    `yaml:"executionType"`
	Cron                   string           `yaml:"cron,omitempty"` // required for Transient, ignored for Daemon
	ShardingTotalCount     int              `yaml:"shardingTotalCount"`
	ShardingItemParameters map[int]string   `yaml:"shardingItemParameters,omitempty"`
	JobParameter           string           `yaml:"jobParameter,omitempty"`
	CPUCount               float64          `yaml:"cpuCount"`
	MemoryMB               float64          `yaml:"memoryMB"`
	AppURL                 string           `yaml:"appURL"`
	BootstrapScript        string           `yaml:"bootstrapScript"`

	Description     string          `yaml:"description,omitempty"`
	FailoverEnabled bool            `yaml:"failoverEnabled,omitempty"`
	MisfireStrategy MisfireStrategy `yaml:"misfireStrategy,omitempty"`
}

// ShardingParameter returns the parameter string configured for a shard,
// defaulting to the empty string when the job carries none for that item.
func (c JobConfig) ShardingParameter(item int) string {
	if c.ShardingItemParameters == nil {
		return ""
	}
	return c.ShardingItemParameters[item]
}

// Validate reports the most basic structural requirements a JobConfig must
// satisfy before it can be registered.
func (c JobConfig) Validate() error {
	switch {
	case c.JobName == "":
		return errInvalid("jobName must not be empty")
	case c.ExecutionType != Transient && c.ExecutionType != Daemon:
		return errInvalid("executionType must be TRANSIENT or DAEMON")
	case c.ExecutionType == Transient && c.Cron == "":
		return errInvalid("cron is required for a TRANSIENT job")
	case c.ShardingTotalCount < 1:
		return errInvalid("shardingTotalCount must be >= 1")
	case c.CPUCount <= 0:
		return errInvalid("cpuCount must be > 0")
	case c.MemoryMB <= 0:
		return errInvalid("memoryMB must be > 0")
	}
	return nil
}

// JobContext is the per-offer-cycle unit the Facade produces: a job's
// config, the shards assigned to this cycle, and why they are eligible.
type JobContext struct {
	JobConfig            JobConfig
	AssignedShardingItem []int
	ExecutionType        taskcontext.ExecutionType
}

type invalidError string

func (e invalidError) Error() string { return string(e) }

func errInvalid(msg string) error { return invalidError(msg) }
