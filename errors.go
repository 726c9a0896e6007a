package taskgraph

import "errors"

// Scheduling and resource errors. Parameterised context (which resource,
// which track) is attached by wrapping; match with errors.Is.
var (
	// ErrNoFittingTrack is returned when no device queue satisfies a
	// task's capability requirement, even after widening through the
	// whole capability precedence list. The caller may relax the
	// requirement and retry; nothing was submitted.
	ErrNoFittingTrack = errors.New("taskgraph: no fitting track for capability requirement")

	// ErrAcquireRecord is returned when a queue-family acquire is
	// scheduled for a resource that is still owned. This is an ownership
	// accounting bug, not a recoverable condition.
	ErrAcquireRecord = errors.New("taskgraph: acquire of still-owned resource")

	// ErrReleaseRecord is returned when a resource turns out to be
	// released to a different track than the transfer expected.
	ErrReleaseRecord = errors.New("taskgraph: resource released to unexpected track")

	// ErrReleaseUninitialised is returned when an ownership release is
	// scheduled for a resource that was never initialised.
	ErrReleaseUninitialised = errors.New("taskgraph: release of uninitialised resource")

	// ErrNoSuchResource is returned for stale or unknown handles.
	ErrNoSuchResource = errors.New("taskgraph: no such resource")

	// ErrResourceExists is returned when a resource is registered with
	// the temporary cache twice.
	ErrResourceExists = errors.New("taskgraph: resource already tracked as temporary")

	// ErrLayoutConflict is returned when a single task declares two
	// accesses to the same image with different required layouts.
	ErrLayoutConflict = errors.New("taskgraph: conflicting image layouts declared by one task")

	// ErrDependencyCycle is returned when the declared accesses create a
	// cyclic dependency, either between tasks or between whole tracks.
	ErrDependencyCycle = errors.New("taskgraph: cyclic dependency")

	// ErrUsageFlags is returned when an image or buffer is created
	// without any usage that would make it reachable from a task.
	ErrUsageFlags = errors.New("taskgraph: resource declares no usage")
)
