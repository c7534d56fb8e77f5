package documents

import (
	"errors"
	"testing"
	"time"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s->%s: got %v want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus(" Completed ")
	if err != nil || got != StatusCompleted {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := ParseStatus("done"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestContentEmpty(t *testing.T) {
	var nilContent *Content
	tests := []struct {
		name    string
		content *Content
		want    bool
	}{
		{"nil", nilContent, true},
		{"zero", &Content{}, true},
		{"whitespace text", &Content{Text: "  \n"}, true},
		{"original name only", &Content{OriginalName: "a.pdf"}, true},
		{"text", &Content{Text: "Hello"}, false},
		{"html", &Content{HTML: "<p>x</p>"}, false},
		{"fields", &Content{Fields: []Field{{Label: "total", Value: "42"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.content.Empty(); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestTransitionRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     TransitionRequest
		wantErr error
	}{
		{"completed with content", TransitionRequest{To: StatusCompleted, Actor: ActorWorker, Content: &Content{Text: "x"}}, nil},
		{"completed without content", TransitionRequest{To: StatusCompleted, Actor: ActorWorker}, ErrInvalidInput},
		{"failed with content", TransitionRequest{To: StatusFailed, Actor: ActorWorker, Content: &Content{Text: "x"}}, ErrInvalidInput},
		{"failed", TransitionRequest{To: StatusFailed, Actor: ActorReconciler, Reason: "timeout"}, nil},
		{"back to processing", TransitionRequest{To: StatusProcessing, Actor: ActorWorker}, ErrInvalidTransition},
		{"unknown actor", TransitionRequest{To: StatusFailed, Actor: "cron"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDocumentApplyAppendsTaggedTransition(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := Document{ID: "d1", Status: StatusProcessing}

	next, err := doc.Apply(TransitionRequest{To: StatusCompleted, Actor: ActorWorker, Content: &Content{Text: "hi"}, At: at})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Status != StatusCompleted || next.Content == nil || next.Content.Text != "hi" {
		t.Fatalf("unexpected document %+v", next)
	}
	if len(next.Transitions) != 1 {
		t.Fatalf("expected one transition, got %d", len(next.Transitions))
	}
	got := next.Transitions[0]
	if got.From != StatusProcessing || got.To != StatusCompleted || got.Actor != ActorWorker || !got.At.Equal(at) {
		t.Fatalf("unexpected transition %+v", got)
	}
	if len(doc.Transitions) != 0 || doc.Status != StatusProcessing {
		t.Fatalf("receiver mutated: %+v", doc)
	}

	if _, err := next.Apply(TransitionRequest{To: StatusFailed, Actor: ActorReconciler, Reason: "late"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestDocumentApplyCopiesFields(t *testing.T) {
	doc := Document{ID: "d1", Status: StatusProcessing}
	fields := []Field{{Label: "total", Value: "12.50"}}

	next, err := doc.Apply(TransitionRequest{To: StatusCompleted, Actor: ActorWorker, Content: &Content{Fields: fields}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	fields[0].Value = "changed"
	if got := next.Content.Fields[0].Value; got != "12.50" {
		t.Fatalf("document shares the caller's fields: got %q", got)
	}
}
