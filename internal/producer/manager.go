// Package producer implements the Transient Producer Scheduler (C7) and
// the Producer Manager (C9): together, the job lifecycle controller.
// Manager's behavior is grounded directly on
// ProducerManagerTest.java — every admin-path assertion in that file has a
// corresponding code path and test here.
package producer

import (
	"context"
	"sync"

	elasticerrors "github.com/Fly365/elastic-job/internal/errors"
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/lifecycle"
	"github.com/Fly365/elastic-job/internal/store"
	"github.com/Fly365/elastic-job/pkg/events"
	"github.com/Fly365/elastic-job/pkg/log"
)

// Manager is the Producer Manager (C9): it registers, updates and
// deregisters jobs, distinguishing TRANSIENT from DAEMON, and reconciles
// in-flight work when configuration changes. All mutating operations on a
// given job name are serialized.
type Manager struct {
	config    store.ConfigService
	ready     store.ReadyService
	running   store.RunningService
	lifecycle *lifecycle.Service
	scheduler *TransientProducerScheduler
	broker    *events.Broker

	jobLocks sync.Map // jobName -> *sync.Mutex
}

// New wires a Producer Manager over the given coordination-store services
// and lifecycle controller, publishing job admin events on broker. broker
// may be nil (e.g. for one-shot CLI admin commands), in which case
// Register/Update/Deregister still run but publish nothing.
func New(config store.ConfigService, ready store.ReadyService, running store.RunningService, lc *lifecycle.Service, broker *events.Broker) *Manager {
	m := &Manager{
		config:    config,
		ready:     ready,
		running:   running,
		lifecycle: lc,
		broker:    broker,
	}
	m.scheduler = NewTransientProducerScheduler(m.onTransientFire)
	return m
}

func (m *Manager) publish(eventType events.EventType, jobName string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: eventType, Message: jobName})
}

// Scheduler exposes the Transient Producer Scheduler so cmd/scheduler can
// Start() it after wiring is complete.
func (m *Manager) Scheduler() *TransientProducerScheduler {
	return m.scheduler
}

func (m *Manager) jobLock(jobName string) *sync.Mutex {
	lock, _ := m.jobLocks.LoadOrStore(jobName, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// onTransientFire is the FireFunc the Transient Producer Scheduler invokes
// on each cron firing. It honors MisfireStrategy: if the job's prior run is
// still in the running-set and the strategy is SKIP, the firing is dropped.
func (m *Manager) onTransientFire(jobName string) {
	cfg, ok, err := m.config.Load(jobName)
	if err != nil {
		log.WithJob(jobName).Error().Err(err).Msg("failed to load config for transient firing")
		return
	}
	if !ok {
		return // deregistered since the cron entry was scheduled
	}

	if cfg.MisfireStrategy == jobconfig.Skip {
		tasks, err := m.running.GetRunningTasks(jobName)
		if err != nil {
			log.WithJob(jobName).Error().Err(err).Msg("failed to check running tasks for misfire policy")
			return
		}
		if len(tasks) > 0 {
			log.WithJob(jobName).Warn().Msg("skipping transient firing: previous run still active")
			return
		}
	}

	if err := m.ready.AddTransient(jobName); err != nil {
		log.WithJob(jobName).Error().Err(err).Msg("failed to enqueue transient firing")
	}
}

// Startup loads every job from the Config Service and, for each, either
// registers it with the cron trigger (TRANSIENT) or adds its name to the
// ready-queue once (DAEMON). Idempotent: calling it twice must not
// double-register a TRANSIENT job, since Register replaces any existing
// cron entry for the same name.
func (m *Manager) Startup() error {
	configs, err := m.config.LoadAll()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		switch cfg.ExecutionType {
		case jobconfig.Transient:
			if err := m.scheduler.Register(cfg); err != nil {
				log.WithJob(cfg.JobName).Error().Err(err).Msg("failed to register transient schedule at startup")
			}
		case jobconfig.Daemon:
			if err := m.ready.AddDaemon(cfg.JobName); err != nil {
				log.WithJob(cfg.JobName).Error().Err(err).Msg("failed to enqueue daemon job at startup")
			}
		}
	}
	return nil
}

// Register adds a new job. Fails with JobConfigurationError{AlreadyExists}
// if a config already exists under cfg.JobName.
func (m *Manager) Register(cfg jobconfig.JobConfig) error {
	lock := m.jobLock(cfg.JobName)
	lock.Lock()
	defer lock.Unlock()

	if _, ok, err := m.config.Load(cfg.JobName); err != nil {
		return err
	} else if ok {
		return elasticerrors.NewJobConfigurationError(elasticerrors.AlreadyExists, cfg.JobName, "job already registered")
	}

	if err := cfg.Validate(); err != nil {
		return elasticerrors.NewJobConfigurationError(elasticerrors.Invalid, cfg.JobName, err.Error())
	}

	if err := m.config.Add(cfg); err != nil {
		return err
	}

	var err error
	switch cfg.ExecutionType {
	case jobconfig.Transient:
		err = m.scheduler.Register(cfg)
	case jobconfig.Daemon:
		err = m.ready.AddDaemon(cfg.JobName)
	}
	if err != nil {
		return err
	}
	m.publish(events.EventJobRegistered, cfg.JobName)
	return nil
}

// Update replaces an existing job's configuration and reconciles all
// in-flight work for it: kills every running task, removes each from the
// running-set, and clears the job from the ready-queue. New configuration
// may change shard count, resources, or schedule, so existing instances
// must be torn down cleanly rather than left to straddle old and new
// config.
func (m *Manager) Update(cfg jobconfig.JobConfig) error {
	lock := m.jobLock(cfg.JobName)
	lock.Lock()
	defer lock.Unlock()

	if _, ok, err := m.config.Load(cfg.JobName); err != nil {
		return err
	} else if !ok {
		return elasticerrors.NewJobConfigurationError(elasticerrors.NotFound, cfg.JobName, "job not registered")
	}

	if err := m.config.Update(cfg); err != nil {
		return err
	}

	if err := m.lifecycle.KillJob(context.Background(), cfg.JobName); err != nil {
		log.WithJob(cfg.JobName).Warn().Err(err).Msg("kill job during update reported errors")
	}

	tasks, err := m.running.GetRunningTasks(cfg.JobName)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := m.running.Remove(task.MetaInfo); err != nil {
			return err
		}
	}

	if err := m.ready.Remove([]string{cfg.JobName}); err != nil {
		return err
	}

	if cfg.ExecutionType == jobconfig.Transient {
		if err := m.scheduler.Register(cfg); err != nil {
			return err
		}
	} else {
		m.scheduler.Deregister(cfg.JobName)
	}
	m.publish(events.EventJobUpdated, cfg.JobName)
	return nil
}

// Deregister removes a job entirely. A no-op (must not touch the Config
// Service) if the job is already absent. Removal of the config entry
// happens last so observers racing on status updates still see a valid
// config while kills propagate.
func (m *Manager) Deregister(jobName string) error {
	lock := m.jobLock(jobName)
	lock.Lock()
	defer lock.Unlock()

	if _, ok, err := m.config.Load(jobName); err != nil {
		return err
	} else if !ok {
		return nil
	}

	if err := m.lifecycle.KillJob(context.Background(), jobName); err != nil {
		log.WithJob(jobName).Warn().Err(err).Msg("kill job during deregister reported errors")
	}

	tasks, err := m.running.GetRunningTasks(jobName)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := m.running.Remove(task.MetaInfo); err != nil {
			return err
		}
	}

	if err := m.ready.Remove([]string{jobName}); err != nil {
		return err
	}

	m.scheduler.Deregister(jobName)
	if err := m.config.Remove(jobName); err != nil {
		return err
	}
	m.publish(events.EventJobDeregistered, jobName)
	return nil
}

// Shutdown stops the cron trigger. Running tasks are left untouched;
// graceful drain is a separate concern.
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
}
