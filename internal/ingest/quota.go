package ingest

import (
	"context"
	"fmt"
)

// ImageChecker reports whether an owner already has an image document.
type ImageChecker interface {
	HasImage(ctx context.Context, ownerID string) (bool, error)
}

// QuotaGuard enforces one image document per owner before any upload.
// The metadata store's uniqueness rule remains authoritative under races.
type QuotaGuard struct {
	Images ImageChecker
}

// Check fails with ErrQuotaExceeded when an image owner already holds one.
// Non-image formats always pass.
func (q QuotaGuard) Check(ctx context.Context, ownerID string, format Format) error {
	if format != FormatImage {
		return nil
	}
	has, err := q.Images.HasImage(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("%w: check image quota: %w", ErrMetadata, err)
	}
	if has {
		return ErrQuotaExceeded
	}
	return nil
}
