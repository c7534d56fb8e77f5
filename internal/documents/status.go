package documents

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a document. Only processing is non-terminal.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a stored or wire value into a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	return s == StatusProcessing && next.Terminal()
}

// Actor identifies who performed a status transition.
type Actor string

const (
	ActorGateway    Actor = "gateway"
	ActorWorker     Actor = "worker"
	ActorReconciler Actor = "reconciler"
)

// ParseActor converts a stored value into an Actor.
func ParseActor(raw string) (Actor, error) {
	switch a := Actor(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActorGateway, ActorWorker, ActorReconciler:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown actor %q", ErrInvalidInput, raw)
	}
}

// Category is the coarse format family of a document. The image category is
// the one the per-owner quota applies to.
type Category string

const (
	CategoryPDF   Category = "pdf"
	CategoryDOCX  Category = "docx"
	CategoryImage Category = "image"
)

// ParseCategory converts a stored value into a Category.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryPDF, CategoryDOCX, CategoryImage:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidInput, raw)
	}
}
