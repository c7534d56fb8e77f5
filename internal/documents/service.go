package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docparse-backend/internal/shared/metrics"
	"docparse-backend/internal/shared/telemetry"
)

// Service contains business logic for reading and resolving documents.
type Service struct {
	Repo Repo
	Now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Result is an extraction outcome reported for a processing document.
type Result struct {
	Status  Status
	Content *Content
	Reason  string
}

// Get returns a document owned by ownerID. Documents of other owners are
// reported as not found.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Document, error) {
	if ownerID == "" || strings.TrimSpace(id) == "" {
		return Document{}, ErrInvalidInput
	}
	doc, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.OwnerID != ownerID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// List returns the owner's documents, newest first.
func (s *Service) List(ctx context.Context, ownerID string, status Status, limit, offset int) ([]Document, error) {
	if ownerID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.Query(ctx, Filter{OwnerID: ownerID, Status: status, Limit: limit, Offset: offset})
}

// Stats summarizes the owner's documents.
func (s *Service) Stats(ctx context.Context, ownerID string) (Stats, error) {
	if ownerID == "" {
		return Stats{}, ErrInvalidInput
	}
	return s.Repo.Stats(ctx, ownerID)
}

// ApplyResult records the external worker's terminal outcome for an image document.
func (s *Service) ApplyResult(ctx context.Context, id string, res Result) (Document, error) {
	if res.Status == StatusFailed && strings.TrimSpace(res.Reason) == "" {
		res.Reason = "extraction failed"
	}
	if res.Status == StatusCompleted {
		res.Reason = ""
	}
	return s.transition(ctx, id, TransitionRequest{
		To:      res.Status,
		Actor:   ActorWorker,
		Content: res.Content,
		Reason:  res.Reason,
	})
}

// MarkFailed moves a processing document to failed on behalf of actor.
func (s *Service) MarkFailed(ctx context.Context, id string, actor Actor, reason string) (Document, error) {
	return s.transition(ctx, id, TransitionRequest{
		To:     StatusFailed,
		Actor:  actor,
		Reason: reason,
	})
}

func (s *Service) transition(ctx context.Context, id string, req TransitionRequest) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, ErrInvalidInput
	}
	req.At = s.now()
	if err := req.Validate(); err != nil {
		return Document{}, err
	}

	doc, err := s.Repo.Transition(ctx, id, req)
	if err != nil {
		fields := map[string]any{
			"document_id":       id,
			"actor":             string(req.Actor),
			"status_transition": fmt.Sprintf("%s->%s", StatusProcessing, req.To),
			"error":             err,
		}
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
			telemetry.Warn("document.transition_rejected", fields)
		} else {
			telemetry.Error("document.transition_failed", fields)
		}
		return Document{}, err
	}

	metrics.IncTransition(string(req.To))
	fields := map[string]any{
		"document_id":       doc.ID,
		"owner_id":          doc.OwnerID,
		"actor":             string(req.Actor),
		"status_transition": fmt.Sprintf("%s->%s", StatusProcessing, doc.Status),
	}
	if req.Reason != "" {
		fields["reason"] = req.Reason
	}
	telemetry.Info("document.transition", fields)
	return doc, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
