package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const imageQuotaCollection = "image_quota"

// FirestoreRepo implements Repo on Cloud Firestore. The one-image rule is kept
// by an image_quota/{ownerId} marker created in the same transaction as the
// image document.
type FirestoreRepo struct {
	Client     *firestore.Client
	Collection string
}

type fsTransition struct {
	From   string    `firestore:"from"`
	To     string    `firestore:"to"`
	Actor  string    `firestore:"actor"`
	Reason string    `firestore:"reason,omitempty"`
	At     time.Time `firestore:"at"`
}

type fsDocument struct {
	OwnerID       string         `firestore:"ownerId"`
	ArtifactPath  string         `firestore:"artifactPath"`
	MediaType     string         `firestore:"mediaType"`
	Category      string         `firestore:"category"`
	Status        string         `firestore:"status"`
	Content       *Content       `firestore:"extractedContent"`
	OriginalName  string         `firestore:"originalName"`
	SizeBytes     int64          `firestore:"sizeBytes"`
	Checksum      string         `firestore:"checksum,omitempty"`
	FailureReason string         `firestore:"failureReason,omitempty"`
	Transitions   []fsTransition `firestore:"transitions"`
	CreatedAt     time.Time      `firestore:"createdAt"`
	UpdatedAt     time.Time      `firestore:"updatedAt"`
}

// NewFirestoreRepo connects to Firestore for the given project.
func NewFirestoreRepo(ctx context.Context, projectID, collection string) (*FirestoreRepo, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreRepo{Client: client, Collection: collection}, nil
}

// Insert creates the document, and for images the owner's quota marker, atomically.
func (r *FirestoreRepo) Insert(ctx context.Context, doc Document) error {
	docRef := r.Client.Collection(r.Collection).Doc(doc.ID)
	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if doc.Category == CategoryImage {
			quotaRef := r.Client.Collection(imageQuotaCollection).Doc(doc.OwnerID)
			if _, err := tx.Get(quotaRef); err == nil {
				return ErrImageQuota
			} else if status.Code(err) != codes.NotFound {
				return err
			}
			if err := tx.Create(quotaRef, map[string]any{
				"documentId": doc.ID,
				"createdAt":  doc.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return tx.Create(docRef, toFirestore(doc))
	})
	if err != nil {
		if errors.Is(err, ErrImageQuota) {
			return ErrImageQuota
		}
		if status.Code(err) == codes.AlreadyExists {
			return ErrDuplicate
		}
		return fmt.Errorf("firestore insert %s: %w", doc.ID, err)
	}
	return nil
}

// GetByID fetches a document by ID.
func (r *FirestoreRepo) GetByID(ctx context.Context, id string) (Document, error) {
	snap, err := r.Client.Collection(r.Collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return fromSnapshot(snap)
}

// Transition applies req inside a transaction so concurrent writers cannot
// both leave processing.
func (r *FirestoreRepo) Transition(ctx context.Context, id string, req TransitionRequest) (Document, error) {
	docRef := r.Client.Collection(r.Collection).Doc(id)
	var out Document
	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		current, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		next, err := current.Apply(req)
		if err != nil {
			return err
		}
		out = next
		return tx.Set(docRef, toFirestore(next))
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

// Query lists documents newest-first.
func (r *FirestoreRepo) Query(ctx context.Context, f Filter) ([]Document, error) {
	f = f.normalized()
	q := r.Client.Collection(r.Collection).Query
	if f.OwnerID != "" {
		q = q.Where("ownerId", "==", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("status", "==", string(f.Status))
	}
	if f.Category != "" {
		q = q.Where("category", "==", string(f.Category))
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("createdAt", "<", f.CreatedBefore)
	}
	q = q.OrderBy("createdAt", firestore.Desc).Offset(f.Offset).Limit(f.Limit)

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []Document{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		doc, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// HasImage reports whether the owner's quota marker exists.
func (r *FirestoreRepo) HasImage(ctx context.Context, ownerID string) (bool, error) {
	_, err := r.Client.Collection(imageQuotaCollection).Doc(ownerID).Get(ctx)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, err
}

// Stats counts the owner's documents by status and category.
func (r *FirestoreRepo) Stats(ctx context.Context, ownerID string) (Stats, error) {
	iter := r.Client.Collection(r.Collection).
		Where("ownerId", "==", ownerID).
		Select("status", "category").
		Documents(ctx)
	defer iter.Stop()

	stats := newStats()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Stats{}, err
		}
		var row struct {
			Status   string `firestore:"status"`
			Category string `firestore:"category"`
		}
		if err := snap.DataTo(&row); err != nil {
			return Stats{}, err
		}
		stats.Total++
		stats.ByStatus[Status(row.Status)]++
		stats.ByCategory[Category(row.Category)]++
	}
	return stats, nil
}

// Close releases the Firestore client.
func (r *FirestoreRepo) Close() error {
	return r.Client.Close()
}

func toFirestore(doc Document) fsDocument {
	out := fsDocument{
		OwnerID:       doc.OwnerID,
		ArtifactPath:  doc.ArtifactPath,
		MediaType:     doc.MediaType,
		Category:      string(doc.Category),
		Status:        string(doc.Status),
		Content:       doc.Content,
		OriginalName:  doc.OriginalName,
		SizeBytes:     doc.SizeBytes,
		Checksum:      doc.Checksum,
		FailureReason: doc.FailureReason,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	for _, t := range doc.Transitions {
		out.Transitions = append(out.Transitions, fsTransition{
			From:   string(t.From),
			To:     string(t.To),
			Actor:  string(t.Actor),
			Reason: t.Reason,
			At:     t.At,
		})
	}
	return out
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (Document, error) {
	var raw fsDocument
	if err := snap.DataTo(&raw); err != nil {
		return Document{}, fmt.Errorf("decode firestore document %s: %w", snap.Ref.ID, err)
	}
	doc := Document{
		ID:            snap.Ref.ID,
		OwnerID:       raw.OwnerID,
		ArtifactPath:  raw.ArtifactPath,
		MediaType:     raw.MediaType,
		Category:      Category(raw.Category),
		Status:        Status(raw.Status),
		Content:       raw.Content,
		OriginalName:  raw.OriginalName,
		SizeBytes:     raw.SizeBytes,
		Checksum:      raw.Checksum,
		FailureReason: raw.FailureReason,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
	}
	for _, t := range raw.Transitions {
		doc.Transitions = append(doc.Transitions, Transition{
			From:   Status(t.From),
			To:     Status(t.To),
			Actor:  Actor(t.Actor),
			Reason: t.Reason,
			At:     t.At,
		})
	}
	return doc, nil
}

var _ Repo = (*FirestoreRepo)(nil)
