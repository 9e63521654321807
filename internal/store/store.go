// Package store defines the four coordination-store interfaces (C2-C5)
// that the Producer Manager and Scheduler Engine depend on. The
// coordination store itself — ZooKeeper in the original system — is an
// out-of-scope external collaborator; this package only specifies the
// shape the core consumes, plus two concrete implementations
// (memstore, boltstore) so the rest of the module is runnable without one.
package store

import (
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

// ConfigService is the Config Service (C2): job definitions keyed by name.
type ConfigService interface {
	// Load returns the config for jobName, or ok=false if absent.
	Load(jobName string) (cfg jobconfig.JobConfig, ok bool, err error)
	LoadAll() ([]jobconfig.JobConfig, error)
	Add(cfg jobconfig.JobConfig) error
	Update(cfg jobconfig.JobConfig) error
	Remove(jobName string) error
}

// ReadyService is the Ready Service (C3): an ordered multiset of job names
// awaiting the next offer cycle.
type ReadyService interface {
	// AddDaemon enqueues a DAEMON job's name, idempotently — a job name
	// already present is not duplicated.
	AddDaemon(jobName string) error
	// AddTransient enqueues one firing of a TRANSIENT job. Unlike
	// AddDaemon this is not idempotent: a job may appear more than once if
	// the trigger fires again before the prior firing is consumed.
	AddTransient(jobName string) error
	// Remove drops every occurrence of the given job names.
	Remove(jobNames []string) error
	// JobNames returns the queue's current contents in enqueue order.
	JobNames() ([]string, error)
}

// RunningService is the Running Service (C4): the set of currently running
// task contexts, grouped by job.
type RunningService interface {
	Add(ctx taskcontext.Context) error
	Remove(meta taskcontext.MetaInfo) error
	IsRunning(meta taskcontext.MetaInfo) (bool, error)
	// GetRunningTasks returns the full contexts (not just meta info)
	// currently running for jobName, so callers can recover slave id and
	// uuid without a separate lookup.
	GetRunningTasks(jobName string) ([]taskcontext.Context, error)
	// Count returns the total number of running tasks across all jobs.
	Count() (int, error)
}

// FailoverService is the Failover Service (C5): per-job queues of task
// metas whose last run ended abnormally and need re-launch.
type FailoverService interface {
	// Record appends meta to jobName's failover queue, deduplicating by
	// MetaInfo so a shard is never queued for failover twice.
	Record(ctx taskcontext.Context) error
	Remove(meta taskcontext.MetaInfo) error
	// JobNames returns the names of jobs with at least one failover entry.
	JobNames() ([]string, error)
	Tasks(jobName string) ([]taskcontext.Context, error)
	// Count returns the total number of failover entries across all jobs.
	Count() (int, error)
}
