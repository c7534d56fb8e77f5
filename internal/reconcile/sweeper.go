// Package reconcile fails image documents whose extraction worker never reported back.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/shared/metrics"
	"docparse-backend/internal/shared/telemetry"
)

const (
	// TimeoutReason is recorded on documents failed by the sweep.
	TimeoutReason = "extraction timed out"

	defaultStaleAfter  = 15 * time.Minute
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// Querier lists documents.
type Querier interface {
	Query(ctx context.Context, f documents.Filter) ([]documents.Document, error)
}

// Failer moves a processing document to failed.
type Failer interface {
	MarkFailed(ctx context.Context, id string, actor documents.Actor, reason string) (documents.Document, error)
}

// Sweeper finds image documents stuck in processing and fails them as the
// reconciler actor. A worker result that lands first wins; the sweep skips it.
type Sweeper struct {
	Docs        Querier
	Svc         Failer
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
	Now         func() time.Time
}

// NewSweeper constructs a Sweeper over svc's repository.
func NewSweeper(svc *documents.Service, staleAfter time.Duration) *Sweeper {
	return &Sweeper{Docs: svc.Repo, Svc: svc, StaleAfter: staleAfter}
}

// Sweep fails every stale processing image and returns how many it moved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter())
	batch := s.batchSize()
	total := 0

	for {
		docs, err := s.Docs.Query(ctx, documents.Filter{
			Status:        documents.StatusProcessing,
			Category:      documents.CategoryImage,
			CreatedBefore: cutoff,
			Limit:         batch,
		})
		if err != nil {
			return total, err
		}
		if len(docs) == 0 {
			break
		}

		var swept atomic.Int64
		var skipped atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency())
		for _, doc := range docs {
			doc := doc
			g.Go(func() error {
				_, err := s.Svc.MarkFailed(gctx, doc.ID, documents.ActorReconciler, TimeoutReason)
				switch {
				case err == nil:
					swept.Add(1)
				case errors.Is(err, documents.ErrInvalidTransition), errors.Is(err, documents.ErrNotFound):
					skipped.Add(1)
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					telemetry.Error("reconcile.mark_failed", map[string]any{
						"document_id": doc.ID,
						"error":       err,
					})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}

		moved := int(swept.Load())
		total += moved
		metrics.AddReconciled(moved)

		// Rows that keep failing would be returned again; stop instead of spinning.
		if len(docs) < batch || moved+int(skipped.Load()) == 0 {
			break
		}
	}

	if total > 0 {
		telemetry.Info("reconcile.swept", map[string]any{
			"count":       total,
			"stale_after": s.staleAfter().String(),
		})
	}
	return total, nil
}

// Run sweeps once per interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			telemetry.Error("reconcile.sweep_failed", map[string]any{"error": err})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) staleAfter() time.Duration {
	if s.StaleAfter <= 0 {
		return defaultStaleAfter
	}
	return s.StaleAfter
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize <= 0 {
		return defaultBatchSize
	}
	return s.BatchSize
}

func (s *Sweeper) concurrency() int {
	if s.Concurrency <= 0 {
		return defaultConcurrency
	}
	return s.Concurrency
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
