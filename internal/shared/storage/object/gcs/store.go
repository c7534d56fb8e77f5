package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"docparse-backend/internal/shared/storage/object"
)

// Store implements ObjectStore on a Google Cloud Storage bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// New creates a GCS-backed store using application default credentials.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

// Put writes the object only if it does not already exist.
func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return 0, err
	}

	w := s.bucket.Object(clean).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	written, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return 0, fmt.Errorf("%w: %s", object.ErrAlreadyExists, clean)
		}
		return 0, fmt.Errorf("write gcs object gs://%s/%s: %w", s.name, clean, err)
	}
	// The upload is finalized, and the precondition evaluated, on Close.
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return 0, fmt.Errorf("%w: %s", object.ErrAlreadyExists, clean)
		}
		return 0, fmt.Errorf("finalize gcs object gs://%s/%s: %w", s.name, clean, err)
	}
	return written, nil
}

// Open returns a reader for the object.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return nil, err
	}
	rc, err := s.bucket.Object(clean).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", object.ErrNotFound, clean)
		}
		return nil, fmt.Errorf("read gcs object gs://%s/%s: %w", s.name, clean, err)
	}
	return rc, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

var _ object.ObjectStore = (*Store)(nil)
