// Package memstore implements internal/store's four interfaces entirely in
// memory, guarded by a mutex per service — the same pattern the teacher
// uses for pkg/events.Broker's subscriber map. It is the reference
// implementation used by this module's own tests and is suitable for
// single-process deployments that accept losing running/ready/failover
// state across restarts.
package memstore

import (
	"sync"

	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

// ConfigStore is an in-memory ConfigService.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]jobconfig.JobConfig
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{configs: make(map[string]jobconfig.JobConfig)}
}

func (s *ConfigStore) Load(jobName string) (jobconfig.JobConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[jobName]
	return cfg, ok, nil
}

func (s *ConfigStore) LoadAll() ([]jobconfig.JobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobconfig.JobConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *ConfigStore) Add(cfg jobconfig.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.JobName] = cfg
	return nil
}

func (s *ConfigStore) Update(cfg jobconfig.JobConfig) error {
	return s.Add(cfg)
}

func (s *ConfigStore) Remove(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, jobName)
	return nil
}

// ReadyStore is an in-memory ReadyService backed by an ordered slice so
// that multiset semantics (a TRANSIENT job may be enqueued more than once)
// are preserved.
type ReadyStore struct {
	mu    sync.Mutex
	names []string
}

func NewReadyStore() *ReadyStore {
	return &ReadyStore{}
}

func (s *ReadyStore) AddDaemon(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.names {
		if n == jobName {
			return nil
		}
	}
	s.names = append(s.names, jobName)
	return nil
}

func (s *ReadyStore) AddTransient(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, jobName)
	return nil
}

func (s *ReadyStore) Remove(jobNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(jobNames))
	for _, n := range jobNames {
		drop[n] = true
	}
	kept := s.names[:0:0]
	for _, n := range s.names {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	s.names = kept
	return nil
}

func (s *ReadyStore) JobNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out, nil
}

// RunningStore is an in-memory RunningService keyed by job name, each
// holding a map of shard -> full task context.
type RunningStore struct {
	mu    sync.RWMutex
	byJob map[string]map[int]taskcontext.Context
}

func NewRunningStore() *RunningStore {
	return &RunningStore{byJob: make(map[string]map[int]taskcontext.Context)}
}

func (s *RunningStore) Add(ctx taskcontext.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shards, ok := s.byJob[ctx.MetaInfo.JobName]
	if !ok {
		shards = make(map[int]taskcontext.Context)
		s.byJob[ctx.MetaInfo.JobName] = shards
	}
	shards[ctx.MetaInfo.ShardingItem] = ctx
	return nil
}

func (s *RunningStore) Remove(meta taskcontext.MetaInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shards, ok := s.byJob[meta.JobName]
	if !ok {
		return nil
	}
	delete(shards, meta.ShardingItem)
	if len(shards) == 0 {
		delete(s.byJob, meta.JobName)
	}
	return nil
}

func (s *RunningStore) IsRunning(meta taskcontext.MetaInfo) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shards, ok := s.byJob[meta.JobName]
	if !ok {
		return false, nil
	}
	_, ok = shards[meta.ShardingItem]
	return ok, nil
}

func (s *RunningStore) GetRunningTasks(jobName string) ([]taskcontext.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shards := s.byJob[jobName]
	out := make([]taskcontext.Context, 0, len(shards))
	for _, ctx := range shards {
		out = append(out, ctx)
	}
	return out, nil
}

func (s *RunningStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, shards := range s.byJob {
		total += len(shards)
	}
	return total, nil
}

// FailoverStore is an in-memory FailoverService keyed by job name, each
// holding a map of shard -> task context so Record is naturally
// deduplicating.
type FailoverStore struct {
	mu    sync.RWMutex
	byJob map[string]map[int]taskcontext.Context
}

func NewFailoverStore() *FailoverStore {
	return &FailoverStore{byJob: make(map[string]map[int]taskcontext.Context)}
}

func (s *FailoverStore) Record(ctx taskcontext.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shards, ok := s.byJob[ctx.MetaInfo.JobName]
	if !ok {
		shards = make(map[int]taskcontext.Context)
		s.byJob[ctx.MetaInfo.JobName] = shards
	}
	shards[ctx.MetaInfo.ShardingItem] = ctx
	return nil
}

func (s *FailoverStore) Remove(meta taskcontext.MetaInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shards, ok := s.byJob[meta.JobName]
	if !ok {
		return nil
	}
	delete(shards, meta.ShardingItem)
	if len(shards) == 0 {
		delete(s.byJob, meta.JobName)
	}
	return nil
}

func (s *FailoverStore) JobNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byJob))
	for name := range s.byJob {
		out = append(out, name)
	}
	return out, nil
}

func (s *FailoverStore) Tasks(jobName string) ([]taskcontext.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shards := s.byJob[jobName]
	out := make([]taskcontext.Context, 0, len(shards))
	for _, ctx := range shards {
		out = append(out, ctx)
	}
	return out, nil
}

func (s *FailoverStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, shards := range s.byJob {
		total += len(shards)
	}
	return total, nil
}
