// Package timer derives elapsed and remaining time of a section attempt from
// its persisted start timestamp. Nothing here keeps a running timer: every
// caller evaluates expiry independently by comparing against the origin, so
// concurrent evaluations always agree.
package timer

import "time"

// Source tells where the elapsed value came from.
type Source string

const (
	SourceServer Source = "SERVER"
	// SourceClient is only used when the start timestamp is missing.
	SourceClient Source = "CLIENT"
	SourceNone   Source = "NONE"
)

// Reading is the result of evaluating a section timer at a point in time.
type Reading struct {
	ElapsedSeconds   int           `json:"elapsed_seconds"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Expired          bool          `json:"expired"`
	Source           Source        `json:"source"`
	Duration         time.Duration `json:"-"`
}

// Evaluate computes the timer state of a section with the given duration.
// startedAt is authoritative; clientElapsed is consulted only when startedAt
// is nil. An attempt without any origin is never expired.
func Evaluate(startedAt *time.Time, duration time.Duration, now time.Time, clientElapsed int) Reading {
	var (
		elapsed time.Duration
		src     = SourceNone
	)

	switch {
	case startedAt != nil:
		elapsed = now.Sub(*startedAt)
		src = SourceServer
	case clientElapsed > 0:
		elapsed = time.Duration(clientElapsed) * time.Second
		src = SourceClient
	}
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := duration - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return Reading{
		ElapsedSeconds:   int(elapsed / time.Second),
		RemainingSeconds: int(remaining / time.Second),
		Expired:          src != SourceNone && elapsed >= duration,
		Source:           src,
		Duration:         duration,
	}
}

// ClampedSeconds is the elapsed time capped at the section duration; this is
// the only value ever persisted as time spent.
func (r Reading) ClampedSeconds() int {
	limit := int(r.Duration / time.Second)
	if r.ElapsedSeconds > limit {
		return limit
	}
	return r.ElapsedSeconds
}
