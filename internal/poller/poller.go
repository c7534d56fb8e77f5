// Package poller waits for a document to reach a terminal outcome by querying
// its status at a fixed cadence.
package poller

import (
	"context"
	"time"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/shared/telemetry"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// Outcome is how a poll ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeTimeout means the attempt budget ran out. The document may still complete.
	OutcomeTimeout Outcome = "timeout"
)

// Snapshot is one observation of a document.
type Snapshot struct {
	Status        documents.Status
	Content       *documents.Content
	FailureReason string
}

// Source reads the current state of a document.
type Source interface {
	Status(ctx context.Context, documentID string) (Snapshot, error)
}

// Poller queries Source once per Interval, at most MaxAttempts times.
// It never writes.
type Poller struct {
	Source      Source
	Interval    time.Duration
	MaxAttempts int
}

// New returns a Poller with the default cadence.
func New(src Source) *Poller {
	return &Poller{Source: src, Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Poll waits for documentID to complete or fail. Query errors are logged and
// use up an attempt. Canceling ctx stops polling and returns ctx.Err().
func (p *Poller) Poll(ctx context.Context, documentID string) (Outcome, error) {
	outcome, _, err := p.PollSnapshot(ctx, documentID)
	return outcome, err
}

// PollSnapshot is Poll that also returns the last successful observation.
func (p *Poller) PollSnapshot(ctx context.Context, documentID string) (Outcome, Snapshot, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Snapshot
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", last, ctx.Err()
		case <-ticker.C:
		}

		snap, err := p.Source.Status(ctx, documentID)
		if err != nil {
			if ctx.Err() != nil {
				return "", last, ctx.Err()
			}
			telemetry.Warn("poll.query_failed", map[string]any{
				"document_id": documentID,
				"attempt":     attempt,
				"error":       err,
			})
			continue
		}
		last = snap
		if !snap.Content.Empty() {
			return OutcomeCompleted, snap, nil
		}
		if snap.Status == documents.StatusFailed {
			return OutcomeFailed, snap, nil
		}
	}
	return OutcomeTimeout, last, nil
}
