package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/mono/internal/domain"
)

const jobColumns = `key, id, name, type, parameters, priority, max_retries, retry_count,
	scheduled_at, tags, binding_worker_id, binding_name, binding_host, binding_port,
	binding_assigned_at, created_at, queued_at, started_at, completed_at, updated_at,
	error_message, result, status`

const jobSelectBase = `SELECT ` + jobColumns + ` FROM jobs`
const jobSelectByKey = jobSelectBase + ` WHERE key = $1`
const jobSelectByID = jobSelectBase + ` WHERE id = $1`

const workerColumns = `id, name, host, port, max_concurrent_jobs, current_job_count, status,
	last_heartbeat, total_processed, total_succeeded, total_failed, avg_exec_time_ms,
	priority_thresh, load_factor, capabilities, version, cpu_usage, memory_usage, error_count`

const workerSelectBase = `SELECT ` + workerColumns + ` FROM workers`

// jobRow holds the nullable scan destinations for a jobs row before it is
// converted into a domain.Job.
type jobRow struct {
	key, priority, maxRetries, retryCount int64
	id, name, typ, status, errorMessage   string
	parameters, result                    []byte
	scheduledAt, createdAt, queuedAt      *time.Time
	startedAt, completedAt, updatedAt     *time.Time
	tags                                  []string
	bindingWorkerID, bindingName          *string
	bindingHost                           *string
	bindingPort                           *int
	bindingAssignedAt                     *time.Time
}

func (r *jobRow) scanArgs() []any {
	return []any{
		&r.key, &r.id, &r.name, &r.typ, &r.parameters, &r.priority, &r.maxRetries, &r.retryCount,
		&r.scheduledAt, &r.tags, &r.bindingWorkerID, &r.bindingName, &r.bindingHost, &r.bindingPort,
		&r.bindingAssignedAt, &r.createdAt, &r.queuedAt, &r.startedAt, &r.completedAt, &r.updatedAt,
		&r.errorMessage, &r.result, &r.status,
	}
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	j := &domain.Job{
		Key:          r.key,
		ID:           r.id,
		Name:         r.name,
		Type:         r.typ,
		Priority:     int(r.priority),
		MaxRetries:   int(r.maxRetries),
		RetryCount:   int(r.retryCount),
		Tags:         r.tags,
		ErrorMessage: r.errorMessage,
		Status:       domain.JobStatus(r.status),
	}
	if r.parameters != nil {
		if err := json.Unmarshal(r.parameters, &j.Parameters); err != nil {
			return nil, fmt.Errorf("store/postgres: unmarshal parameters: %w", err)
		}
	}
	if r.result != nil {
		if err := json.Unmarshal(r.result, &j.Result); err != nil {
			return nil, fmt.Errorf("store/postgres: unmarshal result: %w", err)
		}
	}
	setTime(&j.ScheduledAt, r.scheduledAt)
	setTime(&j.CreatedAt, r.createdAt)
	setTime(&j.QueuedAt, r.queuedAt)
	setTime(&j.StartedAt, r.startedAt)
	setTime(&j.CompletedAt, r.completedAt)
	setTime(&j.UpdatedAt, r.updatedAt)

	if r.bindingWorkerID != nil {
		j.Binding = &domain.WorkerBinding{WorkerID: *r.bindingWorkerID}
		if r.bindingName != nil {
			j.Binding.Name = *r.bindingName
		}
		if r.bindingHost != nil {
			j.Binding.Host = *r.bindingHost
		}
		if r.bindingPort != nil {
			j.Binding.Port = *r.bindingPort
		}
		if r.bindingAssignedAt != nil {
			j.Binding.AssignedAt = *r.bindingAssignedAt
		}
	}
	return j, nil
}

func setTime(dst *time.Time, src *time.Time) {
	if src != nil {
		*dst = *src
	}
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var out []*domain.Job
	for rows.Next() {
		var r jobRow
		if err := rows.Scan(r.scanArgs()...); err != nil {
			return nil, fmt.Errorf("store/postgres: scan job: %w", err)
		}
		j, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkerRowScanner(row rowScanner) (*domain.Worker, error) {
	var w domain.Worker
	var status string
	var avgExecMs int64
	if err := row.Scan(
		&w.ID, &w.Name, &w.Host, &w.Port, &w.MaxConcurrentJobs, &w.CurrentJobCount, &status,
		&w.LastHeartbeat, &w.TotalProcessed, &w.TotalSucceeded, &w.TotalFailed, &avgExecMs,
		&w.PriorityThresh, &w.LoadFactor, &w.Capabilities, &w.Version, &w.CPUUsage, &w.MemoryUsage, &w.ErrorCount,
	); err != nil {
		return nil, err
	}
	w.Status = domain.WorkerStatus(status)
	w.AvgExecTime = time.Duration(avgExecMs) * time.Millisecond
	return &w, nil
}

func scanWorkerRow(rows pgx.Rows) (*domain.Worker, error) {
	return scanWorkerRowScanner(rows)
}
