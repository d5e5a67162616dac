// Package postgres is the production backend for component B, satisfying
// every consumer interface the scheduler subsystems declare
// (graph.EdgeStore/StatusLookup, queue.JobStore, fleet.WorkerStore,
// dispatch.WorkerSource/Binder, retry.JobStore/DeadLetterStore,
// store.LeaseStore/CancellationSubscriber) against PostgreSQL via
// jackc/pgx/v5. Grounded on
// internal/infrastructure/persistence/postgres package: pgxpool
// connection management, structured slog logging on non-fatal paths, and
// LISTEN/NOTIFY cancellation propagation. The source's own coordinator
// is generated by sqlc against a sqlcgen package that is not present in
// this retrieval pack, so queries here are hand-written pgx calls
// instead of sqlc output (see DESIGN.md).
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/mono/internal/domain"
)

// Store is the pgx-backed implementation shared by every subsystem.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an already-configured pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// PutJob inserts a new job row.
func (s *Store) PutJob(ctx context.Context, j *domain.Job) error {
	params, err := jsonb(j.Parameters)
	if err != nil {
		return fmt.Errorf("store/postgres: marshal parameters: %w", err)
	}
	result, err := jsonb(j.Result)
	if err != nil {
		return fmt.Errorf("store/postgres: marshal result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (key, id, name, type, parameters, priority, max_retries, retry_count,
			scheduled_at, tags, created_at, updated_at, error_message, result, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, parameters = EXCLUDED.parameters,
			priority = EXCLUDED.priority, updated_at = EXCLUDED.updated_at`,
		j.Key, j.ID, j.Name, j.Type, params, j.Priority, j.MaxRetries, j.RetryCount,
		nullTime(j.ScheduledAt), j.Tags, j.CreatedAt, j.UpdatedAt, j.ErrorMessage, result, string(j.Status))
	if err != nil {
		return fmt.Errorf("store/postgres: put job: %w", err)
	}
	return nil
}

// GetJob implements queue.JobStore/retry.JobStore.
func (s *Store) GetJob(ctx context.Context, key int64, id string) (*domain.Job, error) {
	var row jobRow
	var err error
	if key != 0 {
		err = s.pool.QueryRow(ctx, jobSelectByKey, key).Scan(row.scanArgs()...)
	} else {
		err = s.pool.QueryRow(ctx, jobSelectByID, id).Scan(row.scanArgs()...)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/postgres: get job: %w", err)
	}
	return row.toDomain()
}

// SetStatus implements queue.JobStore: update status and the lifecycle
// timestamp associated with it (§3).
func (s *Store) SetStatus(ctx context.Context, key int64, _ string, status domain.JobStatus, ts time.Time) error {
	var column string
	switch status {
	case domain.JobStatusQueued:
		column = "queued_at"
	case domain.JobStatusRunning:
		column = "started_at"
	case domain.JobStatusCompleted:
		column = "completed_at"
	default:
		column = ""
	}

	var err error
	if column != "" {
		_, err = s.pool.Exec(ctx, fmt.Sprintf(`UPDATE jobs SET status = $1, updated_at = $2, %s = $2 WHERE key = $3`, column), string(status), ts, key)
	} else {
		_, err = s.pool.Exec(ctx, `UPDATE jobs SET status = $1, updated_at = $2 WHERE key = $3`, string(status), ts, key)
	}
	if err != nil {
		return fmt.Errorf("store/postgres: set status: %w", err)
	}
	return nil
}

// SaveJob implements retry.JobStore: persist every mutable field.
func (s *Store) SaveJob(ctx context.Context, j *domain.Job) error {
	result, err := jsonb(j.Result)
	if err != nil {
		return fmt.Errorf("store/postgres: marshal result: %w", err)
	}

	var workerID, name, host *string
	var port *int
	var assignedAt *time.Time
	if j.Binding != nil {
		workerID, name, host = &j.Binding.WorkerID, &j.Binding.Name, &j.Binding.Host
		port = &j.Binding.Port
		assignedAt = &j.Binding.AssignedAt
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			priority = $1, retry_count = $2, status = $3, error_message = $4, result = $5,
			binding_worker_id = $6, binding_name = $7, binding_host = $8, binding_port = $9,
			binding_assigned_at = $10, started_at = $11, completed_at = $12, updated_at = $13
		WHERE key = $14`,
		j.Priority, j.RetryCount, string(j.Status), j.ErrorMessage, result,
		workerID, name, host, port, assignedAt,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.UpdatedAt, j.Key)
	if err != nil {
		return fmt.Errorf("store/postgres: save job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// AppendHistory implements retry.JobStore's history side effect.
func (s *Store) AppendHistory(ctx context.Context, e domain.ExecutionHistoryEntry) error {
	details, err := jsonb(e.Details)
	if err != nil {
		return fmt.Errorf("store/postgres: marshal history details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_history (job_key, job_name, worker_id, kind, description, details,
			exception_class, occurred_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.JobKey, e.JobName, e.WorkerID, string(e.Kind), e.Description, details,
		e.ExceptionClass, e.Timestamp, e.RetryCount)
	if err != nil {
		return fmt.Errorf("store/postgres: append history: %w", err)
	}
	return nil
}

// JobsAssignedTo implements retry.JobStore for worker-failure reassignment.
func (s *Store) JobsAssignedTo(ctx context.Context, workerID string, statuses []domain.JobStatus) ([]*domain.Job, error) {
	wanted := make([]string, len(statuses))
	for i, st := range statuses {
		wanted[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, jobSelectBase+` WHERE binding_worker_id = $1 AND status = ANY($2)`, workerID, wanted)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: jobs assigned to: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// RunningLongerThan implements retry.JobStore for the stuck-job sweep.
func (s *Store) RunningLongerThan(ctx context.Context, threshold time.Duration) ([]*domain.Job, error) {
	cutoff := time.Now().Add(-threshold)
	rows, err := s.pool.Query(ctx, jobSelectBase+` WHERE status = $1 AND started_at < $2`, string(domain.JobStatusRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: running longer than: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DueScheduledJobs returns every SCHEDULED job whose scheduled_at has
// arrived, for the control loop's scheduled-scan sweep (§4.H).
func (s *Store) DueScheduledJobs(ctx context.Context, before time.Time) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, jobSelectBase+` WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2`,
		string(domain.JobStatusScheduled), before)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: due scheduled jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// SaveEdge implements graph.EdgeStore.
func (s *Store) SaveEdge(ctx context.Context, childKey, parentKey int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_dependencies (child_key, parent_key) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, childKey, parentKey)
	if err != nil {
		return fmt.Errorf("store/postgres: save edge: %w", err)
	}
	return nil
}

// DeleteEdge implements graph.EdgeStore.
func (s *Store) DeleteEdge(ctx context.Context, childKey, parentKey int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM job_dependencies WHERE child_key = $1 AND parent_key = $2`, childKey, parentKey)
	if err != nil {
		return fmt.Errorf("store/postgres: delete edge: %w", err)
	}
	return nil
}

// FindCircularPaths implements graph.StorageCycleChecker, walking the
// persisted edge table with a recursive CTE as the third cycle-detection
// source (§4.C). It scans every edge for a path that returns to its own
// start, independent of the in-memory adjacency maps graph.Graph keeps.
func (s *Store) FindCircularPaths(ctx context.Context) ([][]int64, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE path(start_key, current_key, trail, cyclic) AS (
			SELECT child_key, parent_key, ARRAY[child_key, parent_key], false
			FROM job_dependencies
			UNION ALL
			SELECT p.start_key, d.parent_key, p.trail || d.parent_key, d.parent_key = p.start_key
			FROM path p
			JOIN job_dependencies d ON d.child_key = p.current_key
			WHERE NOT p.cyclic AND (d.parent_key = p.start_key OR d.parent_key != ALL(p.trail))
		)
		SELECT DISTINCT trail FROM path WHERE cyclic`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: find circular paths: %w", err)
	}
	defer rows.Close()

	var paths [][]int64
	for rows.Next() {
		var trail []int64
		if err := rows.Scan(&trail); err != nil {
			return nil, fmt.Errorf("store/postgres: scan circular path: %w", err)
		}
		paths = append(paths, trail)
	}
	return paths, rows.Err()
}

// IsPending implements graph.StatusLookup.
func (s *Store) IsPending(jobKey int64) bool {
	ctx := context.Background()
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE key = $1`, jobKey).Scan(&status)
	if err != nil {
		return false
	}
	return domain.JobStatus(status) == domain.JobStatusPending
}

// SaveWorker implements fleet.WorkerStore.
func (s *Store) SaveWorker(ctx context.Context, w *domain.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (id, name, host, port, max_concurrent_jobs, current_job_count, status,
			last_heartbeat, total_processed, total_succeeded, total_failed, avg_exec_time_ms,
			priority_thresh, load_factor, capabilities, version, cpu_usage, memory_usage, error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, host = EXCLUDED.host, port = EXCLUDED.port,
			max_concurrent_jobs = EXCLUDED.max_concurrent_jobs, current_job_count = EXCLUDED.current_job_count,
			status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat,
			total_processed = EXCLUDED.total_processed, total_succeeded = EXCLUDED.total_succeeded,
			total_failed = EXCLUDED.total_failed, avg_exec_time_ms = EXCLUDED.avg_exec_time_ms,
			priority_thresh = EXCLUDED.priority_thresh, load_factor = EXCLUDED.load_factor,
			capabilities = EXCLUDED.capabilities, version = EXCLUDED.version,
			cpu_usage = EXCLUDED.cpu_usage, memory_usage = EXCLUDED.memory_usage, error_count = EXCLUDED.error_count`,
		w.ID, w.Name, w.Host, w.Port, w.MaxConcurrentJobs, w.CurrentJobCount, string(w.Status),
		w.LastHeartbeat, w.TotalProcessed, w.TotalSucceeded, w.TotalFailed, w.AvgExecTime.Milliseconds(),
		w.PriorityThresh, w.LoadFactor, w.Capabilities, w.Version, w.CPUUsage, w.MemoryUsage, w.ErrorCount)
	if err != nil {
		return fmt.Errorf("store/postgres: save worker: %w", err)
	}

	for jobID := range w.AssignedJobs {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO worker_assignments (worker_id, job_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			w.ID, jobID); err != nil {
			return fmt.Errorf("store/postgres: save worker assignment: %w", err)
		}
	}
	return nil
}

// GetWorker implements fleet.WorkerStore.
func (s *Store) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	w, err := s.scanWorker(ctx, `WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWorkerNotFound
	}
	return w, err
}

// ListWorkers implements fleet.WorkerStore and dispatch.WorkerSource.
func (s *Store) ListWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := s.pool.Query(ctx, workerSelectBase)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: list workers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Worker
	for rows.Next() {
		w, err := scanWorkerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, w := range out {
		if err := s.loadAssignments(ctx, w); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteWorkerAssignments implements fleet.WorkerStore.
func (s *Store) DeleteWorkerAssignments(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM worker_assignments WHERE worker_id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("store/postgres: delete worker assignments: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE workers SET current_job_count = 0 WHERE id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("store/postgres: reset worker job count: %w", err)
	}
	return nil
}

// ActiveWorkers implements dispatch.WorkerSource.
func (s *Store) ActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return s.ListWorkers(ctx)
}

// IsBlacklisted implements dispatch.WorkerSource.
func (s *Store) IsBlacklisted(ctx context.Context, workerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM worker_blacklist WHERE worker_id = $1)`, workerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store/postgres: is blacklisted: %w", err)
	}
	return exists, nil
}

// Blacklist adds workerID to the demotion set (§4.F).
func (s *Store) Blacklist(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO worker_blacklist (worker_id) VALUES ($1) ON CONFLICT DO NOTHING`, workerID)
	return err
}

// Unblacklist removes workerID from the demotion set.
func (s *Store) Unblacklist(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM worker_blacklist WHERE worker_id = $1`, workerID)
	return err
}

// BindJob implements dispatch.Binder inside a single transaction so the
// job and worker rows move together.
func (s *Store) BindJob(ctx context.Context, job *domain.Job, worker *domain.Worker) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store/postgres: begin bind tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE workers SET current_job_count = current_job_count + 1
		WHERE id = $1 AND current_job_count < max_concurrent_jobs`, worker.ID)
	if err != nil {
		return fmt.Errorf("store/postgres: reserve worker capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store/postgres: worker %s has no available capacity", worker.ID)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO worker_assignments (worker_id, job_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		worker.ID, job.ID); err != nil {
		return fmt.Errorf("store/postgres: insert assignment: %w", err)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE jobs SET binding_worker_id = $1, binding_name = $2, binding_host = $3, binding_port = $4,
			binding_assigned_at = $5, status = $6, started_at = $5, updated_at = $5
		WHERE key = $7`,
		worker.ID, worker.Name, worker.Host, worker.Port, now, string(domain.JobStatusRunning), job.Key)
	if err != nil {
		return fmt.Errorf("store/postgres: bind job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store/postgres: commit bind tx: %w", err)
	}

	job.Binding = &domain.WorkerBinding{WorkerID: worker.ID, Name: worker.Name, Host: worker.Host, Port: worker.Port, AssignedAt: now}
	job.Status = domain.JobStatusRunning
	job.StartedAt = now
	return nil
}

// UnbindJob implements dispatch.Binder, the rollback half of Assign.
func (s *Store) UnbindJob(ctx context.Context, job *domain.Job, worker *domain.Worker) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store/postgres: begin unbind tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM worker_assignments WHERE worker_id = $1 AND job_id = $2`, worker.ID, job.ID); err != nil {
		return fmt.Errorf("store/postgres: delete assignment: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE workers SET current_job_count = GREATEST(current_job_count - 1, 0) WHERE id = $1`, worker.ID); err != nil {
		return fmt.Errorf("store/postgres: release worker capacity: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET binding_worker_id = NULL, binding_name = NULL, binding_host = NULL,
			binding_port = NULL, binding_assigned_at = NULL WHERE key = $1`, job.Key); err != nil {
		return fmt.Errorf("store/postgres: unbind job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store/postgres: commit unbind tx: %w", err)
	}
	job.Binding = nil
	return nil
}

// Put implements retry.DeadLetterStore.
func (s *Store) Put(ctx context.Context, entry domain.DeadLetterEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter_queue (job_key, job_name, job_type, last_worker_id, retry_count,
			failure_reason, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_key) DO UPDATE SET
			job_name = EXCLUDED.job_name, job_type = EXCLUDED.job_type,
			last_worker_id = EXCLUDED.last_worker_id, retry_count = EXCLUDED.retry_count,
			failure_reason = EXCLUDED.failure_reason, error_message = EXCLUDED.error_message,
			created_at = EXCLUDED.created_at`,
		entry.JobKey, entry.JobName, entry.JobType, entry.LastWorkerID, entry.RetryCount,
		entry.FailureReason, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("store/postgres: put dead letter: %w", err)
	}
	return nil
}

// Remove implements retry.DeadLetterStore.
func (s *Store) Remove(ctx context.Context, jobKey int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE job_key = $1`, jobKey)
	if err != nil {
		return fmt.Errorf("store/postgres: remove dead letter: %w", err)
	}
	return nil
}

// Get implements retry.DeadLetterStore.
func (s *Store) Get(ctx context.Context, jobKey int64) (*domain.DeadLetterEntry, bool, error) {
	var e domain.DeadLetterEntry
	err := s.pool.QueryRow(ctx, `
		SELECT job_key, job_name, job_type, last_worker_id, retry_count, failure_reason, error_message, created_at
		FROM dead_letter_queue WHERE job_key = $1`, jobKey).Scan(
		&e.JobKey, &e.JobName, &e.JobType, &e.LastWorkerID, &e.RetryCount, &e.FailureReason, &e.ErrorMessage, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store/postgres: get dead letter: %w", err)
	}
	return &e, true, nil
}

// TryAcquireLease implements store.LeaseStore.
func (s *Store) TryAcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_leases (name, holder, expires_at) VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE scheduler_leases.holder = $2 OR scheduler_leases.expires_at < now()`,
		name, holder, fmt.Sprintf("%d microseconds", ttl.Microseconds()))
	if err != nil {
		return false, fmt.Errorf("store/postgres: acquire lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease implements store.LeaseStore.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduler_leases WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("store/postgres: release lease: %w", err)
	}
	return nil
}

// SubscribeToCancellations implements store.CancellationSubscriber over a
// dedicated LISTEN connection. Grounded on
// SubscribeToCancellations (internal/infrastructure/persistence/postgres/coordinator.go).
func (s *Store) SubscribeToCancellations(ctx context.Context) (<-chan string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN job_cancellations"); err != nil {
		conn.Release()
		return nil, fmt.Errorf("store/postgres: listen: %w", err)
	}

	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		defer conn.Release()
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN job_cancellations")
		}()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "cancellation listener error, retrying", "error", err)
				continue
			}
			select {
			case ch <- notification.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// NotifyCancellation implements store.CancellationSubscriber.
func (s *Store) NotifyCancellation(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify('job_cancellations', $1)`, jobID); err != nil {
		slog.WarnContext(ctx, "failed to send cancellation notification", "job_id", jobID, "error", err)
		return err
	}
	return nil
}

func (s *Store) loadAssignments(ctx context.Context, w *domain.Worker) error {
	rows, err := s.pool.Query(ctx, `SELECT job_id FROM worker_assignments WHERE worker_id = $1`, w.ID)
	if err != nil {
		return fmt.Errorf("store/postgres: load assignments: %w", err)
	}
	defer rows.Close()

	w.AssignedJobs = make(map[string]struct{})
	for rows.Next() {
		var jobID string
		if err := rows.Scan(&jobID); err != nil {
			return err
		}
		w.AssignedJobs[jobID] = struct{}{}
	}
	return rows.Err()
}

func (s *Store) scanWorker(ctx context.Context, where string, args ...any) (*domain.Worker, error) {
	row := s.pool.QueryRow(ctx, workerSelectBase+" "+where, args...)
	w, err := scanWorkerRowScanner(row)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scan worker: %w", err)
	}
	if err := s.loadAssignments(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func jsonb(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
