package producer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	elasticerrors "github.com/Fly365/elastic-job/internal/errors"
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/lifecycle"
	"github.com/Fly365/elastic-job/internal/store/memstore"
	"github.com/Fly365/elastic-job/internal/taskcontext"
	"github.com/Fly365/elastic-job/pkg/events"
)

type fakeDriver struct {
	killed []string
}

func (d *fakeDriver) KillTask(taskID string) error {
	d.killed = append(d.killed, taskID)
	return nil
}

func transientConfig() jobconfig.JobConfig {
	return jobconfig.JobConfig{
		JobName:            "transient_test_job",
		ExecutionType:      jobconfig.Transient,
		Cron:               "0/5 * * * * *",
		ShardingTotalCount: 2,
		CPUCount:           1,
		MemoryMB:           128,
	}
}

func daemonConfig() jobconfig.JobConfig {
	return jobconfig.JobConfig{
		JobName:            "daemon_test_job",
		ExecutionType:      jobconfig.Daemon,
		ShardingTotalCount: 1,
		CPUCount:           1,
		MemoryMB:           128,
	}
}

func newTestManager() (*Manager, *memstore.ConfigStore, *memstore.ReadyStore, *memstore.RunningStore, *fakeDriver) {
	m, config, ready, running, driver, _ := newTestManagerWithBroker()
	return m, config, ready, running, driver
}

func newTestManagerWithBroker() (*Manager, *memstore.ConfigStore, *memstore.ReadyStore, *memstore.RunningStore, *fakeDriver, *events.Broker) {
	config := memstore.NewConfigStore()
	ready := memstore.NewReadyStore()
	running := memstore.NewRunningStore()
	driver := &fakeDriver{}
	lc := lifecycle.New(running, driver)
	broker := events.NewBroker()
	broker.Start()
	return New(config, ready, running, lc, broker), config, ready, running, driver, broker
}

func TestStartupRegistersTransientAndEnqueuesDaemon(t *testing.T) {
	m, config, ready, _, _ := newTestManager()
	require.NoError(t, config.Add(transientConfig()))
	require.NoError(t, config.Add(daemonConfig()))

	require.NoError(t, m.Startup())

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.Contains(t, names, "daemon_test_job")
	assert.NotContains(t, names, "transient_test_job")
	assert.Contains(t, m.scheduler.entries, "transient_test_job")
}

func TestRegisterExistingJobFails(t *testing.T) {
	m, config, _, _, _ := newTestManager()
	require.NoError(t, config.Add(transientConfig()))

	err := m.Register(transientConfig())
	require.Error(t, err)
	var cfgErr *elasticerrors.JobConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, elasticerrors.AlreadyExists, cfgErr.Kind)
}

func TestRegisterTransientJobSchedulesCron(t *testing.T) {
	m, config, _, _, _ := newTestManager()

	require.NoError(t, m.Register(transientConfig()))

	cfg, ok, err := config.Load("transient_test_job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobconfig.Transient, cfg.ExecutionType)
	assert.Contains(t, m.scheduler.entries, "transient_test_job")
}

func TestRegisterDaemonJobAddsToReady(t *testing.T) {
	m, _, ready, _, _ := newTestManager()

	require.NoError(t, m.Register(daemonConfig()))

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.Contains(t, names, "daemon_test_job")
}

func TestUpdateNotExistedFails(t *testing.T) {
	m, _, _, _, _ := newTestManager()

	err := m.Update(transientConfig())
	require.Error(t, err)
	var cfgErr *elasticerrors.JobConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, elasticerrors.NotFound, cfgErr.Kind)
}

func TestUpdateExistedKillsAndClearsQueues(t *testing.T) {
	m, config, ready, running, driver := newTestManager()
	require.NoError(t, config.Add(transientConfig()))
	require.NoError(t, ready.AddTransient("transient_test_job"))
	require.NoError(t, running.Add(taskcontext.New("transient_test_job", 0, taskcontext.Ready, "SLAVE-S0")))
	require.NoError(t, running.Add(taskcontext.New("transient_test_job", 1, taskcontext.Ready, "SLAVE-S0")))

	updated := transientConfig()
	updated.ShardingTotalCount = 3

	require.NoError(t, m.Update(updated))

	assert.Len(t, driver.killed, 2)

	tasks, err := running.GetRunningTasks("transient_test_job")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.NotContains(t, names, "transient_test_job")

	cfg, ok, err := config.Load("transient_test_job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cfg.ShardingTotalCount)
}

func TestDeregisterNotExistedIsNoOp(t *testing.T) {
	m, config, _, _, driver := newTestManager()

	require.NoError(t, m.Deregister("transient_test_job"))
	assert.Empty(t, driver.killed)

	_, ok, err := config.Load("transient_test_job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeregisterExistedRemovesConfigLast(t *testing.T) {
	m, config, ready, running, driver := newTestManager()
	require.NoError(t, config.Add(transientConfig()))
	require.NoError(t, ready.AddTransient("transient_test_job"))
	require.NoError(t, running.Add(taskcontext.New("transient_test_job", 0, taskcontext.Ready, "SLAVE-S0")))
	require.NoError(t, running.Add(taskcontext.New("transient_test_job", 1, taskcontext.Ready, "SLAVE-S0")))

	require.NoError(t, m.Deregister("transient_test_job"))

	assert.Len(t, driver.killed, 2)

	tasks, err := running.GetRunningTasks("transient_test_job")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.NotContains(t, names, "transient_test_job")

	_, ok, err := config.Load("transient_test_job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShutdownStopsScheduler(t *testing.T) {
	m, _, _, _, _ := newTestManager()
	m.scheduler.Start()

	m.Shutdown()
	assert.False(t, m.scheduler.Running())

	err := m.scheduler.Register(transientConfig())
	require.NoError(t, err) // registering after shutdown still records the entry...
	assert.Contains(t, m.scheduler.entries, "transient_test_job")
}

func TestOnTransientFireSkipsWhenPreviousRunStillActive(t *testing.T) {
	m, config, ready, running, _ := newTestManager()
	cfg := transientConfig()
	cfg.MisfireStrategy = jobconfig.Skip
	require.NoError(t, config.Add(cfg))
	require.NoError(t, running.Add(taskcontext.New(cfg.JobName, 0, taskcontext.Ready, "SLAVE-S0")))

	m.onTransientFire(cfg.JobName)

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.NotContains(t, names, cfg.JobName)
}

func TestOnTransientFireFiresOnceNowDespiteActiveRun(t *testing.T) {
	m, config, ready, running, _ := newTestManager()
	cfg := transientConfig()
	cfg.MisfireStrategy = jobconfig.FireOnceNow
	require.NoError(t, config.Add(cfg))
	require.NoError(t, running.Add(taskcontext.New(cfg.JobName, 0, taskcontext.Ready, "SLAVE-S0")))

	m.onTransientFire(cfg.JobName)

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.Contains(t, names, cfg.JobName)
}

func TestOnTransientFireNoOpWhenDeregistered(t *testing.T) {
	m, _, ready, _, _ := newTestManager()

	m.onTransientFire("gone")

	names, err := ready.JobNames()
	require.NoError(t, err)
	assert.Empty(t, names)
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

func TestRegisterPublishesJobRegistered(t *testing.T) {
	m, _, _, _, _, broker := newTestManagerWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	require.NoError(t, m.Register(daemonConfig()))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventJobRegistered, ev.Type)
	assert.Equal(t, "daemon_test_job", ev.Message)
}

func TestRegisterPublishesNothingOnFailure(t *testing.T) {
	m, config, _, _, _, broker := newTestManagerWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	require.NoError(t, config.Add(daemonConfig()))

	err := m.Register(daemonConfig())
	require.Error(t, err)

	select {
	case ev := <-sub:
		t.Fatalf("expected no event, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdatePublishesJobUpdated(t *testing.T) {
	m, config, _, _, _, broker := newTestManagerWithBroker()
	require.NoError(t, config.Add(transientConfig()))
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	cfg := transientConfig()
	cfg.ShardingTotalCount = 4
	require.NoError(t, m.Update(cfg))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventJobUpdated, ev.Type)
	assert.Equal(t, cfg.JobName, ev.Message)
}

func TestDeregisterPublishesJobDeregistered(t *testing.T) {
	m, config, _, _, _, broker := newTestManagerWithBroker()
	require.NoError(t, config.Add(daemonConfig()))
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	require.NoError(t, m.Deregister("daemon_test_job"))

	ev := awaitEvent(t, sub)
	assert.Equal(t, events.EventJobDeregistered, ev.Type)
	assert.Equal(t, "daemon_test_job", ev.Message)
}

func TestDeregisterNoOpPublishesNothing(t *testing.T) {
	m, _, _, _, _, broker := newTestManagerWithBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	require.NoError(t, m.Deregister("never_registered"))

	select {
	case ev := <-sub:
		t.Fatalf("expected no event, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
