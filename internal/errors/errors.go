// Package errors defines the typed error taxonomy shared by the admin path
// (Producer Manager) and the callback path (Scheduler Engine). Admin-path
// errors are returned to the caller; callback-path "errors" are logged and
// discarded, never propagated back into the resource-manager SDK.
package errors

import (
	"errors"
	"fmt"
)

// ConfigurationKind enumerates why an admin operation on job configuration
// was rejected.
type ConfigurationKind string

const (
	AlreadyExists ConfigurationKind = "ALREADY_EXISTS"
	NotFound      ConfigurationKind = "NOT_FOUND"
	Invalid       ConfigurationKind = "INVALID"
)

// sentinels usable with errors.Is, one per Kind.
var (
	ErrAlreadyExists = &JobConfigurationError{Kind: AlreadyExists}
	ErrNotFound      = &JobConfigurationError{Kind: NotFound}
	ErrInvalid       = &JobConfigurationError{Kind: Invalid}
)

// JobConfigurationError is returned to callers of Producer Manager admin
// operations (Register, Update, Deregister). It is never raised on the
// offer/status callback path.
type JobConfigurationError struct {
	Kind    ConfigurationKind
	JobName string
	Reason  string
}

func (e *JobConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("job %q: %s: %s", e.JobName, e.Kind, e.Reason)
	}
	return fmt.Sprintf("job %q: %s", e.JobName, e.Kind)
}

// Is allows errors.Is(err, errors.ErrAlreadyExists) style comparisons that
// match on Kind alone, ignoring JobName/Reason.
func (e *JobConfigurationError) Is(target error) bool {
	t, ok := target.(*JobConfigurationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewJobConfigurationError(kind ConfigurationKind, jobName, reason string) *JobConfigurationError {
	return &JobConfigurationError{Kind: kind, JobName: jobName, Reason: reason}
}

// SkipKind enumerates why the Scheduler Engine declined to launch a task it
// had otherwise considered eligible this cycle.
type SkipKind string

const (
	ConfigMissing      SkipKind = "CONFIG_MISSING"
	AlreadyRunning     SkipKind = "ALREADY_RUNNING"
	IntegrityViolation SkipKind = "INTEGRITY_VIOLATION"
	Redundant          SkipKind = "REDUNDANT"
)

// AssignmentSkip is constructed purely so a skip reason can be logged with
// structured fields; it is never returned to a caller.
type AssignmentSkip struct {
	Kind    SkipKind
	JobName string
	Detail  string
}

func (e *AssignmentSkip) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("skip %s for job %q: %s", e.Kind, e.JobName, e.Detail)
	}
	return fmt.Sprintf("skip %s for job %q", e.Kind, e.JobName)
}

func NewAssignmentSkip(kind SkipKind, jobName, detail string) *AssignmentSkip {
	return &AssignmentSkip{Kind: kind, JobName: jobName, Detail: detail}
}

// ResourceManagerError wraps whatever the Driver returned from LaunchTasks
// or KillTask. The engine logs it at error level and keeps running.
type ResourceManagerError struct {
	Op  string
	Err error
}

func (e *ResourceManagerError) Error() string {
	return fmt.Sprintf("resource manager %s failed: %v", e.Op, e.Err)
}

func (e *ResourceManagerError) Unwrap() error { return e.Err }

func NewResourceManagerError(op string, err error) *ResourceManagerError {
	return &ResourceManagerError{Op: op, Err: err}
}

// Is re-exported so callers only need to import this package.
var Is = errors.Is

// As re-exported so callers only need to import this package.
var As = errors.As
