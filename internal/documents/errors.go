package documents

import "errors"

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrImageQuota is returned by Insert when the owner already has an image document.
	ErrImageQuota = errors.New("owner already has an image document")
	ErrDuplicate  = errors.New("document already exists")
)
