package documents

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Document
	images map[string]string // ownerID -> image document ID
	paths  map[string]struct{}
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Document),
		images: make(map[string]string),
		paths:  make(map[string]struct{}),
	}
}

// Insert stores a new document, enforcing one image per owner under the lock.
func (r *MemoryRepo) Insert(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[doc.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := r.paths[doc.ArtifactPath]; ok {
		return ErrDuplicate
	}
	if doc.Category == CategoryImage {
		if _, ok := r.images[doc.OwnerID]; ok {
			return ErrImageQuota
		}
		r.images[doc.OwnerID] = doc.ID
	}
	r.byID[doc.ID] = cloneDocument(doc)
	r.paths[doc.ArtifactPath] = struct{}{}
	return nil
}

// GetByID returns a document by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.byID[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Transition applies req if the document is still processing.
func (r *MemoryRepo) Transition(ctx context.Context, id string, req TransitionRequest) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	next, err := doc.Apply(req)
	if err != nil {
		return Document{}, err
	}
	r.byID[id] = next
	return cloneDocument(next), nil
}

// Query returns matching documents, newest first, honoring limit/offset.
func (r *MemoryRepo) Query(ctx context.Context, f Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f = f.normalized()

	r.mu.RLock()
	docs := make([]Document, 0, len(r.byID))
	for _, doc := range r.byID {
		if f.matches(doc) {
			docs = append(docs, cloneDocument(doc))
		}
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if f.Offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return docs[f.Offset:end], nil
}

// HasImage reports whether the owner already has an image document.
func (r *MemoryRepo) HasImage(ctx context.Context, ownerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.images[ownerID]
	return ok, nil
}

// Stats counts the owner's documents by status and category.
func (r *MemoryRepo) Stats(ctx context.Context, ownerID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	stats := newStats()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, doc := range r.byID {
		if doc.OwnerID != ownerID {
			continue
		}
		stats.Total++
		stats.ByStatus[doc.Status]++
		stats.ByCategory[doc.Category]++
	}
	return stats, nil
}

func cloneDocument(doc Document) Document {
	if doc.Content != nil {
		content := *doc.Content
		content.Fields = append([]Field(nil), doc.Content.Fields...)
		doc.Content = &content
	}
	doc.Transitions = append([]Transition(nil), doc.Transitions...)
	return doc
}

var _ Repo = (*MemoryRepo)(nil)
