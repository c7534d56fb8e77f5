package util

import (
	"errors"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: " a/b\\c.docx ", want: "a_b_c.docx"},
		{in: "../../etc/passwd", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeFileName(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("SanitizeFileName(%q): expected ErrInvalidName, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("SanitizeFileName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestPathSegment(t *testing.T) {
	if got, err := PathSegment("guest:abc"); err != nil || got != "guest:abc" {
		t.Fatalf("unexpected %q %v", got, err)
	}
	if got, _ := PathSegment("a/b"); got != "a_b" {
		t.Fatalf("expected separator replaced, got %q", got)
	}
	if _, err := PathSegment(".."); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
