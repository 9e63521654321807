package boltstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfigStorePersistsAcrossLoad(t *testing.T) {
	db := openTestDB(t)
	cs := db.ConfigService()

	cfg := jobconfig.JobConfig{JobName: "j", ExecutionType: jobconfig.Transient, Cron: "* * * * * ?", ShardingTotalCount: 3, CPUCount: 1, MemoryMB: 64}
	require.NoError(t, cs.Add(cfg))

	loaded, ok, err := cs.Load("j")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg.ShardingTotalCount, loaded.ShardingTotalCount)

	require.NoError(t, cs.Remove("j"))
	_, ok, err = cs.Load("j")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadyStoreOrderingAndDaemonDedup(t *testing.T) {
	db := openTestDB(t)
	rs := db.ReadyService()

	require.NoError(t, rs.AddTransient("a"))
	require.NoError(t, rs.AddDaemon("b"))
	require.NoError(t, rs.AddDaemon("b"))
	require.NoError(t, rs.AddTransient("a"))

	names, err := rs.JobNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a"}, names)

	require.NoError(t, rs.Remove([]string{"a"}))
	names, err = rs.JobNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestRunningStoreScopedByJobPrefix(t *testing.T) {
	db := openTestDB(t)
	rs := db.RunningService()

	ctxA0 := taskcontext.New("job_a", 0, taskcontext.Ready, "slave-1")
	ctxA1 := taskcontext.New("job_a", 1, taskcontext.Ready, "slave-1")
	ctxB0 := taskcontext.New("job_ab", 0, taskcontext.Ready, "slave-1")

	require.NoError(t, rs.Add(ctxA0))
	require.NoError(t, rs.Add(ctxA1))
	require.NoError(t, rs.Add(ctxB0))

	tasks, err := rs.GetRunningTasks("job_a")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	count, err := rs.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	running, err := rs.IsRunning(ctxA0.MetaInfo)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, rs.Remove(ctxA0.MetaInfo))
	running, err = rs.IsRunning(ctxA0.MetaInfo)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestFailoverStoreRecordDeduplicatesByShard(t *testing.T) {
	db := openTestDB(t)
	fs := db.FailoverService()

	ctx1 := taskcontext.New("j", 2, taskcontext.Failover, "slave-1")
	ctx2 := taskcontext.New("j", 2, taskcontext.Failover, "slave-2")

	require.NoError(t, fs.Record(ctx1))
	require.NoError(t, fs.Record(ctx2))

	tasks, err := fs.Tasks("j")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ctx2.SlaveID, tasks[0].SlaveID)

	names, err := fs.JobNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"j"}, names)

	count, err := fs.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
