// Package lifecycle implements the Lifecycle Service (C8): killing every
// currently running task of a job through the resource driver. It is
// invoked by the Producer Manager's Update and Deregister paths, mirroring
// ProducerManagerTest.java's lifecycleService.killJob call sites.
package lifecycle

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/Fly365/elastic-job/internal/store"
	"github.com/Fly365/elastic-job/pkg/log"
)

// Driver is the subset of internal/scheduling.Driver that killing a job
// needs. Declaring it here rather than importing internal/scheduling keeps
// this package usable (and testable) without pulling in the assignment
// algorithm or engine.
type Driver interface {
	KillTask(taskID string) error
}

// Service kills all running tasks of a job, tolerating partial failures: a
// failed kill of one shard must never block killing the others, since the
// resource manager's own status stream will eventually converge any task
// this call could not reach.
type Service struct {
	running store.RunningService
	driver  Driver
}

func New(running store.RunningService, driver Driver) *Service {
	return &Service{running: running, driver: driver}
}

// KillJob asks the Running Service for jobName's current tasks and kills
// each one individually, collecting every error rather than stopping at
// the first one.
func (s *Service) KillJob(ctx context.Context, jobName string) error {
	tasks, err := s.running.GetRunningTasks(jobName)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, task := range tasks {
		taskID := task.String()
		if err := s.driver.KillTask(taskID); err != nil {
			log.WithJob(jobName).Warn().Err(err).Str("task_id", taskID).Msg("failed to kill task")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
