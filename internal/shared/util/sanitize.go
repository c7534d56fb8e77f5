package util

import (
	"errors"
	"strings"
)

// ErrInvalidName is returned for names that are empty or attempt traversal.
var ErrInvalidName = errors.New("invalid file name")

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", ErrInvalidName
	}
	return s, nil
}

// PathSegment makes an identifier safe to use as one segment of a storage key.
// Separators become underscores; "." and ".." are rejected.
func PathSegment(id string) (string, error) {
	s := strings.TrimSpace(id)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || s == "." || s == ".." {
		return "", ErrInvalidName
	}
	return s, nil
}
