package models

import (
	"fmt"
	"time"
)

// RunStatus represents the outcome of a refresh run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // RunStatusRunning indicates the run has not finished yet
	RunStatusCompleted RunStatus = "completed" // RunStatusCompleted indicates every record was processed
	RunStatusDegraded  RunStatus = "degraded"  // RunStatusDegraded indicates rate limiting stopped statistic refreshes
	RunStatusFailed    RunStatus = "failed"    // RunStatusFailed indicates a fatal error aborted the run
)

// RunSummary records what a single refresh run did. It is logged at the end of the
// run and appended to the run journal.
type RunSummary struct {
	ID         string    `json:"id" db:"id"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
	Status     RunStatus `json:"status" db:"status"`

	Records            int `json:"records" db:"records"`
	Added              int `json:"added" db:"added"`
	Pruned             int `json:"pruned" db:"pruned"`
	Refreshed          int `json:"refreshed" db:"refreshed"`
	SkippedFresh       int `json:"skipped_fresh" db:"skipped_fresh"`
	SkippedRateLimited int `json:"skipped_rate_limited" db:"skipped_rate_limited"`
	AnomaliesExcluded  int `json:"anomalies_excluded" db:"anomalies_excluded"`

	RateLimited   bool   `json:"rate_limited" db:"rate_limited"`
	RateLimitedAt string `json:"rate_limited_at,omitempty" db:"rate_limited_at"`
	Error         string `json:"error,omitempty" db:"error"`
}

// NewRunSummary starts a summary for a run whose reference instant is startedAt.
func NewRunSummary(id string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		ID:        id,
		StartedAt: startedAt.UTC(),
		Status:    RunStatusRunning,
	}
}

// MarkRateLimited records the ticker whose history fetch tripped rate limiting.
func (s *RunSummary) MarkRateLimited(fullTicker string) {
	if s.RateLimited {
		return
	}
	s.RateLimited = true
	s.RateLimitedAt = fullTicker
}

// Finish sets the final status from the run outcome.
func (s *RunSummary) Finish(finishedAt time.Time, err error) {
	s.FinishedAt = finishedAt.UTC()
	switch {
	case err != nil:
		s.Status = RunStatusFailed
		s.Error = err.Error()
	case s.RateLimited:
		s.Status = RunStatusDegraded
	default:
		s.Status = RunStatusCompleted
	}
}

// Duration returns how long the run took, or zero while it is running.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// String returns a one-line description of the run.
func (s *RunSummary) String() string {
	return fmt.Sprintf("Run{ID: %s, Status: %s, Records: %d, Refreshed: %d, Fresh: %d, RateLimited: %d}",
		s.ID, s.Status, s.Records, s.Refreshed, s.SkippedFresh, s.SkippedRateLimited)
}
