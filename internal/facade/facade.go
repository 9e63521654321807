// Package facade implements the Facade Service (C6): a plain composition
// over the four coordination-store services that the Scheduler Engine
// consumes as one unit, following the teacher's pkg/manager.Manager split
// between mutating operations and read accessors — minus the Raft
// replication layer, which this domain has no use for.
package facade

import (
	"sort"
	"sync"

	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/store"
	"github.com/Fly365/elastic-job/internal/taskcontext"
	"github.com/Fly365/elastic-job/pkg/events"
	"github.com/Fly365/elastic-job/pkg/log"
)

// Facade composes the four coordination-store services (C2-C5) into the
// single view the Scheduler Engine operates against.
type Facade struct {
	Config   store.ConfigService
	Ready    store.ReadyService
	Running  store.RunningService
	Failover store.FailoverService

	broker *events.Broker

	mu         sync.RWMutex
	daemonIdle map[taskcontext.MetaInfo]bool
	started    bool
}

// New composes a Facade over the four given services, publishing daemon
// liveness transitions on broker. broker may be nil, in which case
// UpdateDaemonStatus still tracks liveness but publishes nothing.
func New(cfg store.ConfigService, ready store.ReadyService, running store.RunningService, failover store.FailoverService, broker *events.Broker) *Facade {
	return &Facade{
		Config:     cfg,
		Ready:      ready,
		Running:    running,
		Failover:   failover,
		broker:     broker,
		daemonIdle: make(map[taskcontext.MetaInfo]bool),
	}
}

// Start activates state watches on the coordination store. Since the
// reference store implementations (memstore, boltstore) are both
// poll-on-demand rather than watch-based, this only starts the event
// broker; a real ZooKeeper-backed store would begin its watches here.
func (f *Facade) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	if f.broker != nil {
		f.broker.Start()
	}
}

// Stop ends state watches. Leases held by the assignment algorithm are
// deliberately untouched; they are refreshed on reconnect.
func (f *Facade) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return
	}
	f.started = false
	if f.broker != nil {
		f.broker.Stop()
	}
}

// GetEligibleJobContext merges the failover-queue and ready-queue into the
// set of JobContexts eligible for this offer cycle. A job with failover
// entries is reported as FAILOVER (its assigned shards are exactly those
// entries); a job present only in the ready-queue is reported as READY or
// DAEMON according to its own ExecutionType, with all shards assigned.
func (f *Facade) GetEligibleJobContext() ([]jobconfig.JobContext, error) {
	var contexts []jobconfig.JobContext
	seen := make(map[string]bool)

	failoverJobs, err := f.Failover.JobNames()
	if err != nil {
		return nil, err
	}
	for _, jobName := range failoverJobs {
		cfg, ok, err := f.Config.Load(jobName)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // config removed mid-cycle; skip, do not error
		}
		tasks, err := f.Failover.Tasks(jobName)
		if err != nil {
			return nil, err
		}
		items := make([]int, 0, len(tasks))
		for _, t := range tasks {
			items = append(items, t.MetaInfo.ShardingItem)
		}
		sort.Ints(items)
		contexts = append(contexts, jobconfig.JobContext{
			JobConfig:            cfg,
			AssignedShardingItem: items,
			ExecutionType:        taskcontext.Failover,
		})
		seen[jobName] = true
	}

	readyJobs, err := f.Ready.JobNames()
	if err != nil {
		return nil, err
	}
	for _, jobName := range dedupe(readyJobs) {
		if seen[jobName] {
			continue
		}
		cfg, ok, err := f.Config.Load(jobName)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		items := make([]int, cfg.ShardingTotalCount)
		for i := range items {
			items[i] = i
		}
		execType := taskcontext.Ready
		if cfg.ExecutionType == jobconfig.Daemon {
			execType = taskcontext.Daemon
		}
		contexts = append(contexts, jobconfig.JobContext{
			JobConfig:            cfg,
			AssignedShardingItem: items,
			ExecutionType:        execType,
		})
		seen[jobName] = true
	}

	return contexts, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// RemoveLaunchTasksFromQueue drops the entries corresponding to taskCtxs
// from whichever queue they came from, keyed by each context's
// ExecutionType.
func (f *Facade) RemoveLaunchTasksFromQueue(taskCtxs []taskcontext.Context) error {
	var readyJobs []string
	var failoverMetas []taskcontext.MetaInfo

	for _, ctx := range taskCtxs {
		switch ctx.ExecutionType {
		case taskcontext.Failover:
			failoverMetas = append(failoverMetas, ctx.MetaInfo)
		default: // Ready or Daemon both came from the ready-queue
			readyJobs = append(readyJobs, ctx.MetaInfo.JobName)
		}
	}

	if len(readyJobs) > 0 {
		if err := f.Ready.Remove(dedupe(readyJobs)); err != nil {
			return err
		}
	}
	for _, meta := range failoverMetas {
		if err := f.Failover.Remove(meta); err != nil {
			return err
		}
	}
	return nil
}

func (f *Facade) AddRunning(ctx taskcontext.Context) error {
	return f.Running.Add(ctx)
}

func (f *Facade) RemoveRunning(meta taskcontext.MetaInfo) error {
	return f.Running.Remove(meta)
}

func (f *Facade) IsRunning(meta taskcontext.MetaInfo) (bool, error) {
	return f.Running.IsRunning(meta)
}

// UpdateDaemonStatus records whether a DAEMON task's most recent status
// update reported idle (RUNNING/COMPLETE) or busy (RUNNING/BEGIN), and
// publishes the transition on the event broker. The liveness record itself
// is opaque to the Scheduler Engine; nothing downstream consumes it beyond
// the pkg/metrics daemon-idle gauge.
func (f *Facade) UpdateDaemonStatus(ctx taskcontext.Context, idle bool) {
	f.mu.Lock()
	f.daemonIdle[ctx.MetaInfo] = idle
	f.mu.Unlock()

	if f.broker == nil {
		return
	}
	eventType := events.EventDaemonBusy
	if idle {
		eventType = events.EventDaemonIdle
	}
	f.broker.Publish(&events.Event{
		Type:    eventType,
		Message: ctx.MetaInfo.String(),
	})
}

// Publish emits an event on the broker, if one was configured. The
// Scheduler Engine uses this for task lifecycle events (launch, finish,
// kill, failure, failover) rather than holding a broker reference of its
// own, keeping the broker's lifecycle tied entirely to the Facade's
// Start/Stop.
func (f *Facade) Publish(eventType events.EventType, message string) {
	if f.broker == nil {
		return
	}
	f.broker.Publish(&events.Event{Type: eventType, Message: message})
}

// DaemonJobIdleCount returns the number of tracked tasks currently reported
// idle. Satisfies pkg/metrics.Source.
func (f *Facade) DaemonJobIdleCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	count := 0
	for _, idle := range f.daemonIdle {
		if idle {
			count++
		}
	}
	return count
}

// RecordFailoverTask appends ctx to its job's failover queue.
func (f *Facade) RecordFailoverTask(ctx taskcontext.Context) error {
	return f.Failover.Record(ctx)
}

// AddDaemonJobToReadyQueue idempotently re-enqueues a DAEMON job's name,
// but only if its config is still present and still DAEMON. This is the
// spec's own mitigation for the TASK_KILLED-vs-deregister race: a
// deregister that commits first removes the config, so the racing re-queue
// becomes a no-op instead of resurrecting a deleted job.
func (f *Facade) AddDaemonJobToReadyQueue(jobName string) error {
	cfg, ok, err := f.Config.Load(jobName)
	if err != nil {
		return err
	}
	if !ok || cfg.ExecutionType != jobconfig.Daemon {
		log.WithJob(jobName).Debug().Msg("skipping daemon re-queue: config absent or no longer daemon")
		return nil
	}
	return f.Ready.AddDaemon(jobName)
}

// RunningTaskCount, ReadyQueueLength and FailoverQueueLength satisfy
// pkg/metrics.Source alongside DaemonJobIdleCount above.

func (f *Facade) RunningTaskCount() int {
	n, err := f.Running.Count()
	if err != nil {
		return 0
	}
	return n
}

func (f *Facade) ReadyQueueLength() int {
	names, err := f.Ready.JobNames()
	if err != nil {
		return 0
	}
	return len(names)
}

func (f *Facade) FailoverQueueLength() int {
	n, err := f.Failover.Count()
	if err != nil {
		return 0
	}
	return n
}
