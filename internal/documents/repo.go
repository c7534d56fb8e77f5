package documents

import (
	"context"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Repo defines persistence operations for documents.
type Repo interface {
	// Insert stores a new document. A second image for the same owner yields ErrImageQuota.
	Insert(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	// Transition moves a processing document to a terminal status. It fails with
	// ErrInvalidTransition when the document is no longer processing.
	Transition(ctx context.Context, id string, req TransitionRequest) (Document, error)
	Query(ctx context.Context, f Filter) ([]Document, error)
	HasImage(ctx context.Context, ownerID string) (bool, error)
	Stats(ctx context.Context, ownerID string) (Stats, error)
}

// Filter narrows Query results. Zero values mean "any".
type Filter struct {
	OwnerID       string
	Status        Status
	Category      Category
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// normalized clamps paging values.
func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) matches(doc Document) bool {
	if f.OwnerID != "" && doc.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && doc.Status != f.Status {
		return false
	}
	if f.Category != "" && doc.Category != f.Category {
		return false
	}
	if !f.CreatedBefore.IsZero() && !doc.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Stats summarizes an owner's documents.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"byStatus"`
	ByCategory map[Category]int `json:"byCategory"`
}

func newStats() Stats {
	return Stats{
		ByStatus:   map[Status]int{StatusProcessing: 0, StatusCompleted: 0, StatusFailed: 0},
		ByCategory: map[Category]int{CategoryPDF: 0, CategoryDOCX: 0, CategoryImage: 0},
	}
}
