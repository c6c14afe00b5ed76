// Package window classifies timestamps into the trailing windows used for
// statistics: the 24-48 hour "yesterday" band, the last 7 days and the last 30 days.
//
// All checks are relative to a single reference instant captured once per run, so
// every classification within a run observes the same "now".
package window

import (
	"time"

	"github.com/guregu/null/v6"
)

// Window lengths in milliseconds.
const (
	DayMs   int64 = 24 * 60 * 60 * 1000
	WeekMs        = 7 * DayMs
	MonthMs       = 30 * DayMs
)

// DefaultStaleAfter is the age at which a record's statistics need refreshing.
const DefaultStaleAfter = 24 * time.Hour

// Classifier answers window membership questions against a fixed reference instant.
type Classifier struct {
	now        int64
	staleAfter time.Duration
}

// NewClassifier captures now as the reference instant.
func NewClassifier(now time.Time) Classifier {
	return Classifier{now: now.UnixMilli(), staleAfter: DefaultStaleAfter}
}

// WithStaleAfter returns a copy using a different staleness threshold.
func (c Classifier) WithStaleAfter(d time.Duration) Classifier {
	if d > 0 {
		c.staleAfter = d
	}
	return c
}

// Now returns the reference instant.
func (c Classifier) Now() time.Time {
	return time.UnixMilli(c.now).UTC()
}

func (c Classifier) age(epochMs int64) int64 {
	return c.now - epochMs
}

// Last24h reports whether epochMs is at most one day old.
func (c Classifier) Last24h(epochMs int64) bool {
	return c.age(epochMs) <= DayMs
}

// Last48To24h reports whether epochMs is more than one and at most two days old.
func (c Classifier) Last48To24h(epochMs int64) bool {
	age := c.age(epochMs)
	return age > DayMs && age <= 2*DayMs
}

// Last7Days reports whether epochMs is at most seven days old.
func (c Classifier) Last7Days(epochMs int64) bool {
	return c.age(epochMs) <= WeekMs
}

// Last30Days reports whether epochMs is at most thirty days old.
func (c Classifier) Last30Days(epochMs int64) bool {
	return c.age(epochMs) <= MonthMs
}

// IsStale reports whether a refresh timestamp is absent or at least the staleness
// threshold old. A timestamp exactly at the threshold is stale.
func (c Classifier) IsStale(ts null.Time) bool {
	if !ts.Valid {
		return true
	}
	return c.age(ts.Time.UnixMilli()) >= c.staleAfter.Milliseconds()
}
