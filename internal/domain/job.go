package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the closed set of lifecycle states a Job moves through.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusScheduled JobStatus = "SCHEDULED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// NewJobStatus validates and creates a JobStatus.
func NewJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(s))
	switch status {
	case JobStatusPending, JobStatusScheduled, JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: invalid job status %q", ErrInvalidID, s)
	}
}

// Priority bands used by the priority queue's base score (§4.D).
const (
	PriorityHigh   = 500
	PriorityMedium = 250
	PriorityLow    = 0
)

// WorkerBinding records which worker a job is currently assigned to.
type WorkerBinding struct {
	WorkerID   string
	Name       string
	Host       string
	Port       int
	AssignedAt time.Time
}

// Job is the aggregate mutated exclusively by the scheduler core; external
// clients observe it only through read APIs (out of scope here, per §1).
type Job struct {
	Key        int64
	ID         string
	Name       string
	Type       string
	Parameters map[string]any

	Priority     int
	MaxRetries   int
	RetryCount   int
	ScheduledAt  time.Time
	Tags         []string
	Binding      *WorkerBinding
	CreatedAt    time.Time
	QueuedAt     time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	UpdatedAt    time.Time
	ErrorMessage string
	Result       map[string]any
	Status       JobStatus
}

// Reference encodes the `<numeric-key>:<string-id>` job reference string
// used as the element stored in the priority-queue sorted sets (§4.D).
func (j *Job) Reference() string {
	return fmt.Sprintf("%d:%s", j.Key, j.ID)
}

// ParseJobReference splits a reference string back into its parts.
func ParseJobReference(ref string) (key int64, id string, ok bool) {
	idx := strings.IndexByte(ref, ':')
	if idx < 0 {
		return 0, "", false
	}
	var k int64
	if _, err := fmt.Sscanf(ref[:idx], "%d", &k); err != nil {
		return 0, "", false
	}
	return k, ref[idx+1:], true
}

// JoinTags returns the comma-joined tag list as stored, for persistence layers
// that store tags as a flat string column.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// SplitTags parses a comma-joined tag string back into a slice.
func SplitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasTag reports whether the job carries the given tag.
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsHighPriority reports whether the job qualifies for high-priority
// treatment (§4.F admission and strategy rules use the 500 threshold).
func (j *Job) IsHighPriority() bool {
	return j.Priority >= PriorityHigh
}

// ResourceClass resolves the job's resource class per §4.J: parameter
// "resourceType", then job type, then a "resource:<class>" tag.
func (j *Job) ResourceClass() (string, bool) {
	if j.Parameters != nil {
		if v, ok := j.Parameters["resourceType"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	if j.Type != "" {
		return j.Type, true
	}
	for _, t := range j.Tags {
		if strings.HasPrefix(t, "resource:") {
			return strings.TrimPrefix(t, "resource:"), true
		}
	}
	return "", false
}
