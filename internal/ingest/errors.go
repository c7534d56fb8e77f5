package ingest

import (
	"errors"

	"docparse-backend/internal/extract"
)

var (
	ErrMissingOwner    = errors.New("owner is required")
	ErrNoFile          = errors.New("no file uploaded")
	ErrMultipleFiles   = errors.New("only one file can be uploaded at a time")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file exceeds the maximum upload size")
	ErrQuotaExceeded   = errors.New("image quota exceeded")
	ErrParse           = extract.ErrParse
	ErrStorage         = errors.New("artifact storage failed")
	ErrMetadata        = errors.New("metadata persistence failed")
)

// Reason returns the metric label for an ingestion error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingOwner), errors.Is(err, ErrNoFile), errors.Is(err, ErrMultipleFiles):
		return "validation"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrMetadata):
		return "metadata"
	default:
		return "internal"
	}
}
