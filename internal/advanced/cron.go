// Package advanced implements the §4.J advanced-scheduling components:
// cron-like triggers, resource admission control, and priority
// inheritance. Cron parsing is grounded on
// _examples/other_examples/9068a877_minisource-scheduler, which resolves
// §9's open question (the source's cron parser is a stub that always
// returns now+1h) by parsing a real cron grammar via robfig/cron/v3.
package advanced

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rezkam/mono/internal/domain"
)

// CronSchedule is a named cron trigger (§4.J): an expression, timezone,
// enabled flag, job template, and the computed next/last run times.
type CronSchedule struct {
	ID         string
	Expression string
	Timezone   string
	Enabled    bool

	JobTemplate domain.Job
	Parameters  map[string]any

	NextRun time.Time
	LastRun time.Time
}

// CronEvaluator parses schedules with the standard five-field grammar, an
// optional leading seconds field, and predefined descriptors (@hourly,
// @daily, ...), matching the minisource-scheduler example's parser
// configuration.
type CronEvaluator struct {
	parser cron.Parser
}

// NewCronEvaluator builds a CronEvaluator.
func NewCronEvaluator() *CronEvaluator {
	return &CronEvaluator{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ComputeNextRun parses expr (optionally localized to timezone) and
// returns the next run time strictly after from.
func (e *CronEvaluator) ComputeNextRun(expr, timezone string, from time.Time) (time.Time, error) {
	schedule, err := e.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("advanced: parse cron expression %q: %w", expr, err)
	}

	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	return schedule.Next(from.In(loc)), nil
}

// DueSchedules filters schedules whose NextRun has arrived, for the
// per-minute cron evaluation tick (§4.H, §4.J).
func DueSchedules(schedules []*CronSchedule, now time.Time) []*CronSchedule {
	var due []*CronSchedule
	for _, s := range schedules {
		if s.Enabled && !s.NextRun.After(now) {
			due = append(due, s)
		}
	}
	return due
}

// MaterializeJob builds a new Job from a schedule's template, tagged
// `scheduled` and `cron:<schedule-id>` per §4.J.
func MaterializeJob(s *CronSchedule, now time.Time, newID func() string) domain.Job {
	j := s.JobTemplate
	j.ID = newID()
	j.CreatedAt = now
	j.ScheduledAt = now
	j.Status = domain.JobStatusPending
	j.Tags = append(append([]string(nil), j.Tags...), "scheduled", "cron:"+s.ID)
	if s.Parameters != nil {
		params := make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			params[k] = v
		}
		j.Parameters = params
	}
	return j
}

// Advance evaluates the due schedules against now, materializes a job for
// each, recomputes NextRun, and returns the materialized jobs. A schedule
// whose expression fails to parse is skipped, not aborted.
func (e *CronEvaluator) Advance(schedules []*CronSchedule, now time.Time, newID func() string) []domain.Job {
	var jobs []domain.Job
	for _, s := range DueSchedules(schedules, now) {
		next, err := e.ComputeNextRun(s.Expression, s.Timezone, now)
		if err != nil {
			continue
		}
		jobs = append(jobs, MaterializeJob(s, now, newID))
		s.LastRun = now
		s.NextRun = next
	}
	return jobs
}
