package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fly365/elastic-job/internal/store/memstore"
	"github.com/Fly365/elastic-job/internal/taskcontext"
)

type fakeDriver struct {
	killed  []string
	failFor map[string]error
}

func (d *fakeDriver) KillTask(taskID string) error {
	d.killed = append(d.killed, taskID)
	return d.failFor[taskID]
}

func TestKillJobKillsEveryRunningShard(t *testing.T) {
	running := memstore.NewRunningStore()
	ctx0 := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")
	ctx1 := taskcontext.New("j", 1, taskcontext.Ready, "slave-1")
	require.NoError(t, running.Add(ctx0))
	require.NoError(t, running.Add(ctx1))

	driver := &fakeDriver{}
	svc := New(running, driver)

	err := svc.KillJob(context.Background(), "j")
	require.NoError(t, err)
	assert.Len(t, driver.killed, 2)
}

func TestKillJobAggregatesPartialFailuresWithoutStopping(t *testing.T) {
	running := memstore.NewRunningStore()
	ctx0 := taskcontext.New("j", 0, taskcontext.Ready, "slave-1")
	ctx1 := taskcontext.New("j", 1, taskcontext.Ready, "slave-1")
	require.NoError(t, running.Add(ctx0))
	require.NoError(t, running.Add(ctx1))

	driver := &fakeDriver{failFor: map[string]error{ctx0.String(): errors.New("kill refused")}}
	svc := New(running, driver)

	err := svc.KillJob(context.Background(), "j")
	require.Error(t, err)
	assert.Len(t, driver.killed, 2) // both attempted despite ctx0 failing
}

func TestKillJobNoOpOnEmptyRunningSet(t *testing.T) {
	running := memstore.NewRunningStore()
	driver := &fakeDriver{}
	svc := New(running, driver)

	require.NoError(t, svc.KillJob(context.Background(), "j"))
	assert.Empty(t, driver.killed)
}
