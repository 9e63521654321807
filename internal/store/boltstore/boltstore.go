// Package boltstore implements internal/store's four interfaces on top of
// a single embedded bbolt database, one bucket per service, following the
// bucket-per-entity / JSON-marshal-per-record pattern of the teacher's
// pkg/storage.BoltStore. Unlike memstore it survives process restarts,
// which is the property spec.md §5 requires of the running-set and queues.
package boltstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

var (
	bucketConfig   = []byte("config")
	bucketReady    = []byte("ready")
	bucketRunning  = []byte("running")
	bucketFailover = []byte("failover")
)

// DB opens the shared bbolt file and exposes the four per-service stores.
type DB struct {
	db *bolt.DB
}

// Open creates (or reuses) "<dataDir>/elastic-job.db" and ensures all four
// buckets exist.
func Open(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, "elastic-job.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketConfig, bucketReady, bucketRunning, bucketFailover} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) ConfigService() *ConfigStore     { return &ConfigStore{db: d.db} }
func (d *DB) ReadyService() *ReadyStore       { return &ReadyStore{db: d.db} }
func (d *DB) RunningService() *RunningStore   { return &RunningStore{db: d.db} }
func (d *DB) FailoverService() *FailoverStore { return &FailoverStore{db: d.db} }

// ConfigStore is a bbolt-backed ConfigService, one record per job name.
type ConfigStore struct{ db *bolt.DB }

func (s *ConfigStore) Load(jobName string) (jobconfig.JobConfig, bool, error) {
	var cfg jobconfig.JobConfig
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get([]byte(jobName))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cfg)
	})
	return cfg, found, err
}

func (s *ConfigStore) LoadAll() ([]jobconfig.JobConfig, error) {
	var out []jobconfig.JobConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).ForEach(func(_, v []byte) error {
			var cfg jobconfig.JobConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			out = append(out, cfg)
			return nil
		})
	})
	return out, err
}

func (s *ConfigStore) Add(cfg jobconfig.JobConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfig).Put([]byte(cfg.JobName), data)
	})
}

func (s *ConfigStore) Update(cfg jobconfig.JobConfig) error {
	return s.Add(cfg)
}

func (s *ConfigStore) Remove(jobName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Delete([]byte(jobName))
	})
}

// readyRecord is the JSON form of one ready-queue slot: bbolt's per-bucket
// ordering is by key, so the key carries a monotonic sequence to preserve
// enqueue order across restarts.
type readyRecord struct {
	JobName string `json:"jobName"`
}

// ReadyStore is a bbolt-backed ReadyService. Each enqueue gets the bucket's
// next sequence number as its key, which keeps JobNames() in FIFO order.
type ReadyStore struct{ db *bolt.DB }

func (s *ReadyStore) AddDaemon(jobName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReady)
		exists := false
		_ = b.ForEach(func(_, v []byte) error {
			var rec readyRecord
			if err := json.Unmarshal(v, &rec); err == nil && rec.JobName == jobName {
				exists = true
			}
			return nil
		})
		if exists {
			return nil
		}
		return putReadyRecord(b, jobName)
	})
}

func (s *ReadyStore) AddTransient(jobName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putReadyRecord(tx.Bucket(bucketReady), jobName)
	})
}

func putReadyRecord(b *bolt.Bucket, jobName string) error {
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(readyRecord{JobName: jobName})
	if err != nil {
		return err
	}
	return b.Put(itob(seq), data)
}

func (s *ReadyStore) Remove(jobNames []string) error {
	drop := make(map[string]bool, len(jobNames))
	for _, n := range jobNames {
		drop[n] = true
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReady)
		var keys [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec readyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if drop[rec.JobName] {
				keys = append(keys, append([]byte{}, k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ReadyStore) JobNames() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReady).ForEach(func(_, v []byte) error {
			var rec readyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec.JobName)
			return nil
		})
	})
	return out, err
}

// RunningStore is a bbolt-backed RunningService, keyed by
// "jobName@-@shardingItem" so all shards of a job sort together.
type RunningStore struct{ db *bolt.DB }

func runningKey(meta taskcontext.MetaInfo) []byte {
	return []byte(meta.String())
}

func (s *RunningStore) Add(ctx taskcontext.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := []byte(ctx.String())
		return tx.Bucket(bucketRunning).Put(runningKey(ctx.MetaInfo), data)
	})
}

func (s *RunningStore) Remove(meta taskcontext.MetaInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRunning).Delete(runningKey(meta))
	})
}

func (s *RunningStore) IsRunning(meta taskcontext.MetaInfo) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketRunning).Get(runningKey(meta)) != nil
		return nil
	})
	return found, err
}

func (s *RunningStore) GetRunningTasks(jobName string) ([]taskcontext.Context, error) {
	var out []taskcontext.Context
	prefix := []byte(jobName + taskcontext.Delimiter)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRunning).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ctx, err := taskcontext.From(string(v))
			if err != nil {
				return err
			}
			out = append(out, ctx)
		}
		return nil
	})
	return out, err
}

func (s *RunningStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRunning).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// FailoverStore is a bbolt-backed FailoverService, keyed the same way as
// RunningStore so Record naturally overwrites (deduplicates) by shard.
type FailoverStore struct{ db *bolt.DB }

func (s *FailoverStore) Record(ctx taskcontext.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailover).Put(runningKey(ctx.MetaInfo), []byte(ctx.String()))
	})
}

func (s *FailoverStore) Remove(meta taskcontext.MetaInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailover).Delete(runningKey(meta))
	})
}

func (s *FailoverStore) JobNames() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailover).ForEach(func(_, v []byte) error {
			ctx, err := taskcontext.From(string(v))
			if err != nil {
				return err
			}
			if !seen[ctx.MetaInfo.JobName] {
				seen[ctx.MetaInfo.JobName] = true
				out = append(out, ctx.MetaInfo.JobName)
			}
			return nil
		})
	})
	return out, err
}

func (s *FailoverStore) Tasks(jobName string) ([]taskcontext.Context, error) {
	var out []taskcontext.Context
	prefix := []byte(jobName + taskcontext.Delimiter)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFailover).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ctx, err := taskcontext.From(string(v))
			if err != nil {
				return err
			}
			out = append(out, ctx)
		}
		return nil
	})
	return out, err
}

func (s *FailoverStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailover).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
