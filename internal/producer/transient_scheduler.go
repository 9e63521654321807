package producer

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/pkg/log"
)

// FireFunc is invoked each time a TRANSIENT job's cron schedule fires. The
// Transient Producer Scheduler never holds a reference back to the
// Producer Manager; it only knows this callback, breaking the cyclic
// dependency the two would otherwise have.
type FireFunc func(jobName string)

// TransientProducerScheduler is the Transient Producer Scheduler (C7): a
// cron-driven trigger that, on each firing of a TRANSIENT job's schedule,
// invokes FireFunc so the caller can enqueue that job's shards into Ready.
type TransientProducerScheduler struct {
	cron *cron.Cron
	fire FireFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

func NewTransientProducerScheduler(fire FireFunc) *TransientProducerScheduler {
	return &TransientProducerScheduler{
		cron:    cron.New(cron.WithSeconds()),
		fire:    fire,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins running registered cron entries. Must be called once before
// any firing will occur; Register may be called before or after Start.
func (s *TransientProducerScheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
}

// Running reports whether Start has been called and Shutdown has not yet
// completed. Used by the process entrypoint's cron-trigger health check.
func (s *TransientProducerScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Register adds or replaces cfg's cron entry. Re-registering a job that
// already has an entry (e.g. because Update changed its schedule) removes
// the stale entry first.
func (s *TransientProducerScheduler) Register(cfg jobconfig.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[cfg.JobName]; ok {
		s.cron.Remove(existing)
		delete(s.entries, cfg.JobName)
	}

	jobName := cfg.JobName
	id, err := s.cron.AddFunc(cfg.Cron, func() {
		log.WithJob(jobName).Debug().Msg("transient trigger fired")
		s.fire(jobName)
	})
	if err != nil {
		return err
	}
	s.entries[cfg.JobName] = id
	return nil
}

// Deregister removes jobName's cron entry, if any.
func (s *TransientProducerScheduler) Deregister(jobName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[jobName]; ok {
		s.cron.Remove(id)
		delete(s.entries, jobName)
	}
}

// Shutdown stops the cron scheduler. Running tasks are untouched; this is
// purely about future firings.
func (s *TransientProducerScheduler) Shutdown() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
