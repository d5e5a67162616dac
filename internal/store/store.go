// Package store declares component B, the repository interface contracts
// (§4.B, §6 persistent-store contract) every subsystem's narrow consumer
// interface (graph.EdgeStore, queue.JobStore, fleet.WorkerStore,
// dispatch.WorkerSource/Binder, retry.JobStore/DeadLetterStore) is drawn
// from. A single concrete backend satisfies all of them at once:
// store/postgres in production (jackc/pgx/v5), store/memory in tests and
// single-process deployments without a database.
//
// Following the source's own preference (its application packages accept
// narrow, locally-defined interfaces rather than importing one another),
// this package does not redeclare those interfaces; it documents the
// aggregate contract a full backend must satisfy and declares the
// LeaseStore and CancellationSubscriber interfaces.
package store

import (
	"context"
	"time"
)

// LeaseStore grants named exclusive-run leases to one holder at a time for
// a TTL. The periodic sweeps in internal/app (stuck-job sweep, fleet
// rebalance, cron evaluation) run without acquiring one. Grounded on
// TryAcquireExclusiveRun / cron_job_leases mechanism
// (internal/application/worker/reconciliation.go), generalized from
// recurring-template generation leases to scheduler-sweep leases.
type LeaseStore interface {
	// TryAcquireLease attempts to take the named lease for holder, valid
	// for ttl. Returns false (and no error) if another holder currently
	// holds it.
	TryAcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	// ReleaseLease releases the named lease if held by holder.
	ReleaseLease(ctx context.Context, name, holder string) error
}

// CancellationSubscriber exposes the out-of-band cancellation channel
// §5's cancellation semantics leave unspecified ("not specified here").
// Grounded on SubscribeToCancellations/CancelJob, realized
// here via Postgres LISTEN/NOTIFY on a job_cancellations channel.
type CancellationSubscriber interface {
	// SubscribeToCancellations returns a channel of job IDs that have been
	// requested for cancellation while RUNNING. The channel is closed when
	// ctx is cancelled.
	SubscribeToCancellations(ctx context.Context) (<-chan string, error)
	// NotifyCancellation publishes a cancellation request for jobID to
	// subscribers.
	NotifyCancellation(ctx context.Context, jobID string) error
}
