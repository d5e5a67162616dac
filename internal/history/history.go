// Package history implements the execution history and metrics component
// (§3, §4.H cleanup, §9 open question on BatchJobStatistics): an
// append-only ring buffer bounded at 10,000 entries and a 30-day window,
// plus true batch-job statistics computed from the retained entries
// rather than the source's static-zero stub.
package history

import (
	"sync"
	"time"

	"github.com/rezkam/mono/internal/domain"
)

// Config bounds the in-memory ring buffer (§3's stated defaults).
type Config struct {
	MaxEntries int
	Window     time.Duration
}

// DefaultConfig matches §3's stated defaults.
func DefaultConfig() Config {
	return Config{MaxEntries: 10_000, Window: 30 * 24 * time.Hour}
}

// Recorder is the append-only, bounded execution-history ring buffer.
type Recorder struct {
	mu      sync.RWMutex
	cfg     Config
	entries []domain.ExecutionHistoryEntry
	nextID  int64
	now     func() time.Time

	counters map[domain.HistoryEventKind]int64
}

// New builds an empty Recorder.
func New(cfg Config, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{cfg: cfg, now: now, counters: make(map[domain.HistoryEventKind]int64)}
}

// Append records an entry, evicting the oldest entry if the buffer is at
// capacity (§3: "bounded in memory, oldest evicted").
func (r *Recorder) Append(e domain.ExecutionHistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}

	r.entries = append(r.entries, e)
	r.counters[e.Kind]++

	if len(r.entries) > r.cfg.MaxEntries {
		evicted := r.entries[0]
		r.entries = r.entries[1:]
		r.counters[evicted.Kind]--
	}
}

// Cleanup drops entries older than the configured retention window
// (§4.H's hourly cleanup of execution history older than 30 days).
func (r *Recorder) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.cfg.Window)
	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.Timestamp.Before(cutoff) {
			r.counters[e.Kind]--
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed
}

// Recent returns the n most recently appended entries, newest first.
func (r *Recorder) Recent(n int) []domain.ExecutionHistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]domain.ExecutionHistoryEntry, n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[len(r.entries)-1-i]
	}
	return out
}

// ForJob returns every retained entry for the given job-key, oldest first.
func (r *Recorder) ForJob(jobKey int64) []domain.ExecutionHistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ExecutionHistoryEntry
	for _, e := range r.entries {
		if e.JobKey != nil && *e.JobKey == jobKey {
			out = append(out, e)
		}
	}
	return out
}

// BatchJobStatistics is the true statistics contract resolving §9's open
// question about the source's static-zero BatchJobStatistics stub: counts
// are derived from the retained execution-history window rather than
// hardcoded.
type BatchJobStatistics struct {
	TotalFailures       int64
	TotalDeadLettered   int64
	TotalWorkerFailures int64
	TotalReassignments  int64
	TotalTimeouts       int64
	TotalRetries        int64
	TotalRecoveries     int64
	WindowStart         time.Time
	WindowEnd           time.Time
}

// Snapshot computes BatchJobStatistics over the currently-retained window.
func (r *Recorder) Snapshot() BatchJobStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := BatchJobStatistics{
		TotalFailures:       r.counters[domain.EventJobFailed],
		TotalDeadLettered:   r.counters[domain.EventMovedToDLQ],
		TotalWorkerFailures: r.counters[domain.EventWorkerFailed],
		TotalReassignments:  r.counters[domain.EventJobReassigned],
		TotalTimeouts:       r.counters[domain.EventJobTimeout],
		TotalRetries:        r.counters[domain.EventJobRetry],
		TotalRecoveries:     r.counters[domain.EventJobRecovered],
	}
	if len(r.entries) > 0 {
		stats.WindowStart = r.entries[0].Timestamp
		stats.WindowEnd = r.entries[len(r.entries)-1].Timestamp
	}
	return stats
}

// Len reports the number of entries currently retained.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
