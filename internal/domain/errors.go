package domain

import "errors"

// Domain errors - these are returned by repository implementations and the
// core engines, and checked by the control/dispatch layer.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrJobNotFound indicates the specified job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkerNotFound indicates the specified worker does not exist.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrInvalidID indicates the provided ID format is invalid.
	ErrInvalidID = errors.New("invalid ID format")

	// ErrSelfLoop is returned by addDependency when child == parent.
	ErrSelfLoop = errors.New("job cannot depend on itself")

	// ErrJobMissing is returned by addDependency when either endpoint is unknown.
	ErrJobMissing = errors.New("dependency endpoint job is missing")

	// ErrWouldCreateCycle is returned by addDependency when the prospective
	// edge would close a cycle in the dependency graph.
	ErrWouldCreateCycle = errors.New("dependency would create a cycle")

	// ErrJobOwnershipLost reports that a worker-scoped mutation found the
	// job no longer bound to the calling worker. No function in this module
	// returns it.
	ErrJobOwnershipLost = errors.New("job is no longer owned by this worker")

	// ErrJobNotCancellable reports a cancellation request for a job in a
	// terminal state. No function in this module returns it.
	ErrJobNotCancellable = errors.New("job cannot be cancelled in its current state")

	// ErrDeadLetterNotFound indicates the dead-letter entry does not exist.
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrQueueFull reports that a priority band is at capacity. queue.Queue
	// enforces no band capacity, so its Enqueue never returns this error.
	ErrQueueFull = errors.New("priority queue band is at capacity")

	// ErrWorkerThrottled is returned by Register when registration attempts
	// have exceeded the hourly threshold.
	ErrWorkerThrottled = errors.New("worker registration throttled")

	// ErrWorkerHasAssignedJobs is returned by Deregister when force=false
	// and the worker still has jobs bound to it.
	ErrWorkerHasAssignedJobs = errors.New("worker has assigned jobs; use force to deregister anyway")

	// ErrInvalidWorker indicates a worker registration/heartbeat payload
	// failed field validation.
	ErrInvalidWorker = errors.New("invalid worker payload")

	// ErrNoCandidateWorker indicates the load balancer found no worker
	// able to accept a job.
	ErrNoCandidateWorker = errors.New("no candidate worker available")

	// ErrLeaseHeld indicates an exclusive-run lease is held by another holder.
	ErrLeaseHeld = errors.New("lease is held by another holder")
)
