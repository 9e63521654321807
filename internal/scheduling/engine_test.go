package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fly365/elastic-job/internal/facade"
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/store/memstore"
	"github.com/Fly365/elastic-job/internal/taskcontext"
	"github.com/Fly365/elastic-job/pkg/events"
)

type fakeDriver struct {
	launched [][]TaskInfo
	offerIDs [][]string
	killed   []string
	failNext bool
}

func (d *fakeDriver) LaunchTasks(offerIDs []string, tasks []TaskInfo) error {
	d.offerIDs = append(d.offerIDs, offerIDs)
	d.launched = append(d.launched, tasks)
	return nil
}

func (d *fakeDriver) KillTask(taskID string) error {
	d.killed = append(d.killed, taskID)
	return nil
}

func newTestEngine() (*Engine, *facade.Facade, *fakeDriver, *memstore.ConfigStore) {
	config := memstore.NewConfigStore()
	ready := memstore.NewReadyStore()
	running := memstore.NewRunningStore()
	failover := memstore.NewFailoverStore()
	f := facade.New(config, ready, running, failover, nil)
	driver := &fakeDriver{}
	engine := NewEngine(NewBinPackAssigner(), f, driver)
	return engine, f, driver, config
}

func newTestEngineWithBroker() (*Engine, *facade.Facade, *fakeDriver, *memstore.ConfigStore, *events.Broker) {
	config := memstore.NewConfigStore()
	ready := memstore.NewReadyStore()
	running := memstore.NewRunningStore()
	failover := memstore.NewFailoverStore()
	broker := events.NewBroker()
	broker.Start()
	f := facade.New(config, ready, running, failover, broker)
	driver := &fakeDriver{}
	engine := NewEngine(NewBinPackAssigner(), f, driver)
	return engine, f, driver, config, broker
}

func awaitEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func transientCfg(jobName string, n int) jobconfig.JobConfig {
	return jobconfig.JobConfig{
		JobName:            jobName,
		ExecutionType:      jobconfig.Transient,
		Cron:               "0/5 * * * * *",
		ShardingTotalCount: n,
		CPUCount:           1,
		MemoryMB:           128,
		AppURL:             "http://example.test/app.tar",
		BootstrapScript:    "bin/start.sh",
		FailoverEnabled:    true,
	}
}

func roomyLease(offerID string) Lease {
	return Lease{OfferID: offerID, SlaveID: "slave-" + offerID, Hostname: "host-" + offerID, CPUs: 16, MemoryMB: 16384}
}

// Scenario 5: integrity violation. N=3 produces 3 requests, only 2 fit.
func TestResourceOffersIntegrityViolationDropsAllShards(t *testing.T) {
	engine, f, driver, config := newTestEngine()
	cfg := transientCfg("j", 3)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Ready.AddTransient("j"))

	// Exactly two shards' worth of CPU, so the third request cannot fit
	// anywhere and the job is a partial-assignment (integrity) violator.
	lease := Lease{OfferID: "o1", SlaveID: "s1", Hostname: "h1", CPUs: 2, MemoryMB: 256}

	require.NoError(t, engine.ResourceOffers([]Lease{lease}))

	assert.Empty(t, driver.launched, "no batch should be launched for an integrity-violating job")
	tasks, err := f.Running.GetRunningTasks("j")
	require.NoError(t, err)
	assert.Empty(t, tasks, "running-set must stay untouched")
}

// P2 / happy path: full shard count fits, all launched, ready-queue cleared,
// running-set populated.
func TestResourceOffersLaunchesFullShardSetAndUpdatesQueues(t *testing.T) {
	engine, f, driver, config := newTestEngine()
	cfg := transientCfg("j", 2)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Ready.AddTransient("j"))

	require.NoError(t, engine.ResourceOffers([]Lease{roomyLease("o1")}))

	require.Len(t, driver.launched, 1)
	assert.Len(t, driver.launched[0], 2)

	tasks, err := f.Running.GetRunningTasks("j")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	names, err := f.Ready.JobNames()
	require.NoError(t, err)
	assert.NotContains(t, names, "j")
}

// P3: a shard already in the running-set must never be launched again.
func TestResourceOffersSkipsAlreadyRunningShard(t *testing.T) {
	engine, f, driver, config := newTestEngine()
	cfg := transientCfg("j", 1)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Ready.AddTransient("j"))
	require.NoError(t, f.Running.Add(taskcontext.New("j", 0, taskcontext.Ready, "slave-x")))

	require.NoError(t, engine.ResourceOffers([]Lease{roomyLease("o1")}))

	assert.Empty(t, driver.launched, "the only shard is already running, nothing new to launch")
}

// Config absent when eligibility is computed means GetEligibleJobContext
// already drops the job, so no request for it is even built — the same
// "config missing" skip outcome the narrower deregister race produces,
// just observed one step earlier in the pipeline.
func TestResourceOffersSkipsJobWhenConfigAbsent(t *testing.T) {
	engine, f, driver, config := newTestEngine()
	cfg := transientCfg("j", 1)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Ready.AddTransient("j"))
	require.NoError(t, config.Remove("j")) // races a concurrent deregister

	require.NoError(t, engine.ResourceOffers([]Lease{roomyLease("o1")}))

	assert.Empty(t, driver.launched)
}

func TestResourceOffersLaunchesFailoverShardsByMetaInfo(t *testing.T) {
	engine, f, driver, config := newTestEngine()
	cfg := transientCfg("j", 3)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Failover.Record(taskcontext.New("j", 1, taskcontext.Failover, "slave-old")))

	require.NoError(t, engine.ResourceOffers([]Lease{roomyLease("o1")}))

	require.Len(t, driver.launched, 1)
	require.Len(t, driver.launched[0], 1)
	assert.Contains(t, driver.launched[0][0].TaskID, "j")

	names, err := f.Failover.JobNames()
	require.NoError(t, err)
	assert.NotContains(t, names, "j")
}

// Scenario 6 / P7: a TASK_FAILED status update moves the shard from the
// running-set into the failover-queue, and re-enqueues a DAEMON job.
func TestStatusUpdateTaskFailedRecordsFailoverAndRequeuesDaemon(t *testing.T) {
	engine, f, _, config := newTestEngine()
	cfg := transientCfg("j", 2)
	cfg.ExecutionType = jobconfig.Daemon
	require.NoError(t, config.Add(cfg))

	ctx := taskcontext.New("j", 1, taskcontext.Daemon, "slave-1")
	require.NoError(t, f.Running.Add(ctx))

	err := engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskFailed, Message: "oom"})
	require.NoError(t, err)

	running, err := f.Running.IsRunning(ctx.MetaInfo)
	require.NoError(t, err)
	assert.False(t, running)

	failoverTasks, err := f.Failover.Tasks("j")
	require.NoError(t, err)
	require.Len(t, failoverTasks, 1)
	assert.Equal(t, 1, failoverTasks[0].MetaInfo.ShardingItem)

	names, err := f.Ready.JobNames()
	require.NoError(t, err)
	assert.Contains(t, names, "j")
}

// P6: TASK_KILLED on a DAEMON job's shard re-enqueues the job name.
func TestStatusUpdateTaskKilledRequeuesDaemonJob(t *testing.T) {
	engine, f, _, config := newTestEngine()
	cfg := transientCfg("j", 1)
	cfg.ExecutionType = jobconfig.Daemon
	require.NoError(t, config.Add(cfg))

	ctx := taskcontext.New("j", 0, taskcontext.Daemon, "slave-1")
	require.NoError(t, f.Running.Add(ctx))

	err := engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskKilled})
	require.NoError(t, err)

	running, err := f.Running.IsRunning(ctx.MetaInfo)
	require.NoError(t, err)
	assert.False(t, running)

	names, err := f.Ready.JobNames()
	require.NoError(t, err)
	assert.Contains(t, names, "j")
}

func TestStatusUpdateTaskFailedSkipsFailoverWhenDisabled(t *testing.T) {
	engine, f, _, config := newTestEngine()
	cfg := transientCfg("j", 2)
	cfg.ExecutionType = jobconfig.Daemon
	cfg.FailoverEnabled = false
	require.NoError(t, config.Add(cfg))

	ctx := taskcontext.New("j", 1, taskcontext.Daemon, "slave-1")
	require.NoError(t, f.Running.Add(ctx))

	err := engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskFailed, Message: "oom"})
	require.NoError(t, err)

	running, err := f.Running.IsRunning(ctx.MetaInfo)
	require.NoError(t, err)
	assert.False(t, running)

	failoverTasks, err := f.Failover.Tasks("j")
	require.NoError(t, err)
	assert.Empty(t, failoverTasks, "FailoverEnabled=false must suppress failover-queue recording")

	names, err := f.Ready.JobNames()
	require.NoError(t, err)
	assert.Contains(t, names, "j", "daemon re-queue still happens regardless of failover setting")
}

func TestStatusUpdateTaskKilledDoesNotRequeueTransientJob(t *testing.T) {
	engine, f, _, config := newTestEngine()
	cfg := transientCfg("j", 1)
	require.NoError(t, config.Add(cfg))

	ctx := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")
	require.NoError(t, f.Running.Add(ctx))

	err := engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskKilled})
	require.NoError(t, err)

	names, err := f.Ready.JobNames()
	require.NoError(t, err)
	assert.Empty(t, names, "TRANSIENT jobs rely on the cron trigger, not an unconditional re-queue")
}

func TestStatusUpdateTaskFinishedOnlyRemovesFromRunning(t *testing.T) {
	engine, f, _, config := newTestEngine()
	cfg := transientCfg("j", 1)
	require.NoError(t, config.Add(cfg))
	ctx := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")
	require.NoError(t, f.Running.Add(ctx))

	err := engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskFinished})
	require.NoError(t, err)

	running, err := f.Running.IsRunning(ctx.MetaInfo)
	require.NoError(t, err)
	assert.False(t, running)

	failoverTasks, err := f.Failover.Tasks("j")
	require.NoError(t, err)
	assert.Empty(t, failoverTasks)
}

func TestStatusUpdateRunningBeginAndCompleteTrackDaemonIdle(t *testing.T) {
	engine, f, _, _ := newTestEngine()
	ctx := taskcontext.New("j", 0, taskcontext.Daemon, "slave-1")

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskRunning, Message: "BEGIN"}))
	assert.Equal(t, 0, f.DaemonJobIdleCount())

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskRunning, Message: "COMPLETE"}))
	assert.Equal(t, 1, f.DaemonJobIdleCount())
}

func TestOfferRescindedAndSlaveLostDelegateToAssigner(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	engine.OfferRescinded("o1") // exercised for panics only; assigner state asserted in assigner_test.go
	engine.SlaveLost("s1")
}

func TestResourceOffersPublishesTaskLaunched(t *testing.T) {
	engine, f, _, config, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	cfg := transientCfg("j", 1)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Ready.AddTransient("j"))

	require.NoError(t, engine.ResourceOffers([]Lease{roomyLease("o1")}))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventTaskLaunched, ev.Type)
}

func TestStatusUpdatePublishesTaskFinished(t *testing.T) {
	engine, _, _, _, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	ctx := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskFinished}))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventTaskFinished, ev.Type)
}

func TestStatusUpdatePublishesTaskFailover(t *testing.T) {
	engine, f, _, config, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	cfg := transientCfg("j", 1)
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Running.Add(taskcontext.New("j", 0, taskcontext.Ready, "slave-1")))
	ctx := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskFailed}))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventTaskFailover, ev.Type, "failover is enabled on this job, so the failed-task event should be the failover variant")
}

func TestStatusUpdatePublishesTaskFailedWhenFailoverDisabled(t *testing.T) {
	engine, f, _, config, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	cfg := transientCfg("j", 1)
	cfg.FailoverEnabled = false
	require.NoError(t, config.Add(cfg))
	require.NoError(t, f.Running.Add(taskcontext.New("j", 0, taskcontext.Ready, "slave-1")))
	ctx := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskFailed}))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventTaskFailed, ev.Type)
}

func TestStatusUpdatePublishesTaskKilled(t *testing.T) {
	engine, f, _, config, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	cfg := transientCfg("j", 1)
	cfg.ExecutionType = jobconfig.Daemon
	require.NoError(t, config.Add(cfg))
	ctx := taskcontext.New("j", 0, taskcontext.Daemon, "slave-1")
	require.NoError(t, f.Running.Add(ctx))

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskKilled}))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventTaskKilled, ev.Type)
}

func TestStatusUpdatePublishesTaskRunning(t *testing.T) {
	engine, _, _, _, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	ctx := taskcontext.New("j", 0, taskcontext.Daemon, "slave-1")

	require.NoError(t, engine.StatusUpdate(StatusUpdate{TaskID: ctx.String(), State: TaskRunning, Message: "BEGIN"}))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventTaskRunning, ev.Type)
}

func TestSlaveLostPublishesSlaveLost(t *testing.T) {
	engine, _, _, _, broker := newTestEngineWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	engine.SlaveLost("s1")

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventSlaveLost, ev.Type)
	assert.Equal(t, "s1", ev.Message)
}
