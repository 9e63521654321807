package scheduling

import "github.com/Fly365/elastic-job/pkg/log"

// Driver is the resource-manager SDK boundary (C12): the launch/kill
// surface the engine calls out to. The underlying wire protocol (Mesos,
// or any other offer-based resource manager) is deliberately out of
// scope; a real binding implements this interface against it, per
// spec.md's "interface-based callback layer" design note.
type Driver interface {
	LaunchTasks(offerIDs []string, tasks []TaskInfo) error
	KillTask(taskID string) error
}

// LoggingDriver is a reference Driver that only logs what it would have
// done. It stands in for the out-of-scope resource-manager SDK so the rest
// of the engine can be exercised without a real cluster.
type LoggingDriver struct{}

func (LoggingDriver) LaunchTasks(offerIDs []string, tasks []TaskInfo) error {
	for _, t := range tasks {
		log.WithTask(t.TaskID).Info().
			Strs("offer_ids", offerIDs).
			Str("slave", t.SlaveID).
			Float64("cpus", t.CPUs).
			Float64("memory_mb", t.MemoryMB).
			Msg("launching task")
	}
	return nil
}

func (LoggingDriver) KillTask(taskID string) error {
	log.WithTask(taskID).Info().Msg("killing task")
	return nil
}
