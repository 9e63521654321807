// Package scheduling implements the Scheduler Engine (C10), its pluggable
// assignment algorithm (C11), and the resource-driver boundary (C12). It is
// grounded line-for-line on SchedulerEngine.java: every callback it
// implements there (registered/reregistered/disconnected/offerRescinded/
// slaveLost/resourceOffers/statusUpdate/frameworkMessage/executorLost/
// error) has a corresponding method here.
package scheduling

import (
	"sort"

	elasticerrors "github.com/Fly365/elastic-job/internal/errors"
	"github.com/Fly365/elastic-job/internal/facade"
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
	"github.com/Fly365/elastic-job/pkg/events"
	"github.com/Fly365/elastic-job/pkg/log"
	"github.com/Fly365/elastic-job/pkg/metrics"
)

// TaskState is the resource manager's terminal/transitional task state, as
// reported on a status update.
type TaskState string

const (
	TaskRunning  TaskState = "RUNNING"
	TaskFinished TaskState = "FINISHED"
	TaskKilled   TaskState = "KILLED"
	TaskLost     TaskState = "LOST"
	TaskFailed   TaskState = "FAILED"
	TaskError    TaskState = "ERROR"
)

// StatusUpdate is one task status report from the resource manager.
type StatusUpdate struct {
	TaskID  string
	State   TaskState
	Message string
	Source  string
}

// Engine is the Scheduler Engine (C10): the framework-scheduler callback
// implementation tying the Facade, the assignment algorithm, and the
// resource driver together.
type Engine struct {
	assigner Assigner
	facade   *facade.Facade
	driver   Driver
}

func NewEngine(assigner Assigner, f *facade.Facade, driver Driver) *Engine {
	return &Engine{assigner: assigner, facade: f, driver: driver}
}

// Registered starts the Facade's state watches and invalidates any leases
// the assignment algorithm cached from a previous connection.
func (e *Engine) Registered() {
	log.Info("call registered")
	e.facade.Start()
	e.assigner.ExpireAllLeases()
}

// Reregistered does exactly what Registered does; the resource manager's
// reconnect callback carries no information this engine needs beyond
// "treat every previously held lease as gone."
func (e *Engine) Reregistered() {
	log.Info("call reregistered")
	e.facade.Start()
	e.assigner.ExpireAllLeases()
}

// Disconnected stops the Facade's state watches. Leases are left alone;
// they will be invalidated on the next Registered/Reregistered instead.
func (e *Engine) Disconnected() {
	log.Warn("call disconnected")
	e.facade.Stop()
}

// OfferRescinded expires one lease in the assignment algorithm.
func (e *Engine) OfferRescinded(offerID string) {
	e.assigner.ExpireLease(offerID)
}

// SlaveLost expires every lease bound to the given VM.
func (e *Engine) SlaveLost(slaveID string) {
	log.Warn("call slaveLost slaveID is: " + slaveID)
	e.assigner.ExpireAllLeasesBySlaveID(slaveID)
	e.facade.Publish(events.EventSlaveLost, slaveID)
}

func (e *Engine) FrameworkMessage(slaveID, executorID string, data []byte) {
	log.WithSlave(slaveID).Trace().Str("executor_id", executorID).Int("bytes", len(data)).Msg("framework message")
}

func (e *Engine) ExecutorLost(slaveID, executorID string, status int) {
	log.WithSlave(slaveID).Debug().Str("executor_id", executorID).Int("status", status).Msg("executor lost")
}

func (e *Engine) Error(message string) {
	log.Error(message)
}

// ResourceOffers is the heart of the engine: it matches pending shards
// against the batch of offers, launches what the assignment algorithm
// placed (subject to the sharding integrity check), and reconciles the
// ready/failover queues and running-set accordingly.
func (e *Engine) ResourceOffers(offers []Lease) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.OffersReceivedTotal.Add(float64(len(offers)))

	eligible, err := e.facade.GetEligibleJobContext()
	if err != nil {
		return err
	}

	shardingTotalCounts := make(map[string]int, len(eligible))
	var pending []TaskRequest
	for _, jc := range eligible {
		for _, item := range jc.AssignedShardingItem {
			pending = append(pending, TaskRequest{
				Context: taskcontext.New(jc.JobConfig.JobName, item, jc.ExecutionType, taskcontext.PlaceholderSlaveID),
				Job:     jc.JobConfig,
			})
		}
		if jc.ExecutionType != taskcontext.Failover {
			shardingTotalCounts[jc.JobConfig.JobName] = jc.JobConfig.ShardingTotalCount
		}
	}

	results := e.assigner.ScheduleOnce(pending, offers)
	e.logUnassignedJobs(eligible, results)

	violators := integrityViolators(shardingTotalCounts, results)
	for _, jobName := range violators {
		metrics.IntegrityViolationsTotal.Inc()
		log.WithJob(jobName).Warn().Msg("job is not assigned at this time, because resources not enough to run all sharding instances")
	}

	for _, result := range results {
		e.launchOne(result, violators)
	}
	return nil
}

// launchOne processes one VM's assignment result: builds TaskInfos for
// every assigned task that isn't a skip case (integrity violator, already
// running, or config vanished), launches the batch, then reconciles the
// queues and running-set.
func (e *Engine) launchOne(result VMAssignmentResult, violators []string) {
	var launched []TaskInfo
	var launchedCtx []taskcontext.Context

	for _, assigned := range result.TasksAssigned {
		req := assigned.Request
		jobName := req.Context.MetaInfo.JobName

		if contains(violators, jobName) {
			e.assigner.ConfirmAssignment(req, result.Lease.Hostname)
			log.WithJob(jobName).Debug().Err(elasticerrors.NewAssignmentSkip(
				elasticerrors.IntegrityViolation, jobName, "partial assignment this cycle")).Msg("skipping launch")
			continue
		}

		running, err := e.facade.IsRunning(req.Context.MetaInfo)
		if err != nil {
			log.WithJob(jobName).Error().Err(err).Msg("failed to check running-set during launch")
			continue
		}
		e.assigner.ConfirmAssignment(req, result.Lease.Hostname)
		if running {
			continue
		}

		cfg, ok, err := e.facade.Config.Load(jobName)
		if err != nil {
			log.WithJob(jobName).Error().Err(err).Msg("failed to load config during launch")
			continue
		}
		taskInfo, built := BuildTaskInfo(req, result.Lease.SlaveID, cfg, ok)
		if !built {
			continue
		}
		launched = append(launched, taskInfo)
		launchedCtx = append(launchedCtx, req.Context.WithSlaveID(result.Lease.SlaveID))
	}

	if len(launched) == 0 {
		return
	}

	if err := e.driver.LaunchTasks([]string{result.Lease.OfferID}, launched); err != nil {
		log.Logger.Error().Err(elasticerrors.NewResourceManagerError("launchTasks", err)).Msg("launch failed")
		return
	}

	if err := e.facade.RemoveLaunchTasksFromQueue(launchedCtx); err != nil {
		log.Logger.Error().Err(err).Msg("failed to remove launched tasks from queue")
	}
	for _, ctx := range launchedCtx {
		if err := e.facade.AddRunning(ctx); err != nil {
			log.WithJob(ctx.MetaInfo.JobName).Error().Err(err).Msg("failed to record running task")
			continue
		}
		metrics.TasksScheduled.Inc()
		metrics.TasksLaunchedTotal.WithLabelValues(string(ctx.ExecutionType)).Inc()
		e.facade.Publish(events.EventTaskLaunched, ctx.MetaInfo.String())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// integrityViolators returns the jobs whose assigned-task count this cycle
// is nonzero but short of shardingTotalCount — a partial launch that would
// break the shard contract.
func integrityViolators(shardingTotalCounts map[string]int, results []VMAssignmentResult) []string {
	assignedCounts := make(map[string]int)
	for _, r := range results {
		for _, ta := range r.TasksAssigned {
			assignedCounts[ta.Request.Context.MetaInfo.JobName]++
		}
	}
	var violators []string
	for jobName, want := range shardingTotalCounts {
		if got := assignedCounts[jobName]; got > 0 && got != want {
			violators = append(violators, jobName)
		}
	}
	sort.Strings(violators)
	return violators
}

// logUnassignedJobs warns, without failing, about jobs that were eligible
// this cycle yet received no assignment and have no task already running.
func (e *Engine) logUnassignedJobs(eligible []jobconfig.JobContext, results []VMAssignmentResult) {
	assignedJobs := make(map[string]bool)
	for _, r := range results {
		for _, ta := range r.TasksAssigned {
			assignedJobs[ta.Request.Context.MetaInfo.JobName] = true
		}
	}
	for _, jc := range eligible {
		jobName := jc.JobConfig.JobName
		if assignedJobs[jobName] {
			continue
		}
		tasks, err := e.facade.Running.GetRunningTasks(jobName)
		if err == nil && len(tasks) > 0 {
			continue
		}
		metrics.OffersDeclinedTotal.Inc()
		log.WithJob(jobName).Warn().Msg("job is not assigned at this time, because resources not enough")
	}
}

// StatusUpdate dispatches a task status report to the right queue/
// running-set mutation, per spec.md §4.2's state table.
func (e *Engine) StatusUpdate(update StatusUpdate) error {
	taskCtx, err := taskcontext.From(update.TaskID)
	if err != nil {
		log.Logger.Error().Err(err).Str("task_id", update.TaskID).Msg("failed to parse task id on status update")
		return err
	}

	switch update.State {
	case TaskRunning:
		e.facade.Publish(events.EventTaskRunning, taskCtx.MetaInfo.String())
		switch update.Message {
		case "BEGIN":
			e.facade.UpdateDaemonStatus(taskCtx, false)
		case "COMPLETE":
			e.facade.UpdateDaemonStatus(taskCtx, true)
		}
		return nil

	case TaskFinished:
		if err := e.facade.RemoveRunning(taskCtx.MetaInfo); err != nil {
			return err
		}
		e.facade.Publish(events.EventTaskFinished, taskCtx.MetaInfo.String())
		return nil

	case TaskKilled:
		if err := e.facade.RemoveRunning(taskCtx.MetaInfo); err != nil {
			return err
		}
		e.facade.Publish(events.EventTaskKilled, taskCtx.MetaInfo.String())
		return e.facade.AddDaemonJobToReadyQueue(taskCtx.MetaInfo.JobName)

	case TaskLost, TaskFailed, TaskError:
		log.WithTask(update.TaskID).Warn().
			Str("state", string(update.State)).
			Str("message", update.Message).
			Str("source", update.Source).
			Msg("task terminated abnormally")
		metrics.TasksFailed.Inc()
		if err := e.facade.RemoveRunning(taskCtx.MetaInfo); err != nil {
			return err
		}
		eventType := events.EventTaskFailed
		if e.failoverEnabled(taskCtx.MetaInfo.JobName) {
			if err := e.facade.RecordFailoverTask(taskCtx); err != nil {
				return err
			}
			metrics.FailoverTasksTotal.Inc()
			eventType = events.EventTaskFailover
		}
		e.facade.Publish(eventType, taskCtx.MetaInfo.String())
		return e.facade.AddDaemonJobToReadyQueue(taskCtx.MetaInfo.JobName)

	default:
		return nil
	}
}

// failoverEnabled reports whether jobName's config opts into failover-queue
// recording on an abnormal terminal status. A missing config (race with
// deregister) is treated as disabled: there is nothing left to re-launch.
func (e *Engine) failoverEnabled(jobName string) bool {
	cfg, ok, err := e.facade.Config.Load(jobName)
	if err != nil || !ok {
		return false
	}
	return cfg.FailoverEnabled
}
