package documents

import (
	"fmt"
	"strings"
	"time"
)

// Field is one labelled value extracted from an image by the worker.
type Field struct {
	Label string `json:"label" firestore:"label"`
	Value string `json:"value" firestore:"value"`
}

// Content is the extracted payload of a document. Exactly one of Text, HTML or
// Fields is expected to be populated, depending on the category.
type Content struct {
	Text         string  `json:"text,omitempty" firestore:"text,omitempty"`
	HTML         string  `json:"html,omitempty" firestore:"html,omitempty"`
	Fields       []Field `json:"fields,omitempty" firestore:"fields,omitempty"`
	OriginalName string  `json:"originalName,omitempty" firestore:"originalName,omitempty"`
}

// Empty reports whether the content carries nothing a consumer could use.
func (c *Content) Empty() bool {
	if c == nil {
		return true
	}
	if strings.TrimSpace(c.Text) != "" || strings.TrimSpace(c.HTML) != "" {
		return false
	}
	for _, f := range c.Fields {
		if strings.TrimSpace(f.Value) != "" || strings.TrimSpace(f.Label) != "" {
			return false
		}
	}
	return true
}

// Transition is one entry of a document's status log.
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Actor  Actor     `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Document represents an ingested upload owned by a user.
type Document struct {
	ID            string
	OwnerID       string
	ArtifactPath  string
	MediaType     string
	Category      Category
	Status        Status
	Content       *Content
	OriginalName  string
	SizeBytes     int64
	Checksum      string
	FailureReason string
	Transitions   []Transition
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Apply validates req against the document's current status and returns the
// resulting document. The receiver is not modified.
func (d Document) Apply(req TransitionRequest) (Document, error) {
	if err := req.Validate(); err != nil {
		return Document{}, err
	}
	if !d.Status.CanTransition(req.To) {
		return Document{}, ErrInvalidTransition
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next := d
	next.Transitions = append(append([]Transition(nil), d.Transitions...), Transition{
		From:   d.Status,
		To:     req.To,
		Actor:  req.Actor,
		Reason: req.Reason,
		At:     at,
	})
	next.Status = req.To
	next.UpdatedAt = at
	if req.To == StatusCompleted {
		content := *req.Content
		content.Fields = append([]Field(nil), req.Content.Fields...)
		next.Content = &content
		next.FailureReason = ""
	} else {
		next.Content = nil
		next.FailureReason = req.Reason
	}
	return next, nil
}

// TransitionRequest asks the store to move a processing document to a terminal status.
type TransitionRequest struct {
	To      Status
	Actor   Actor
	Content *Content
	Reason  string
	At      time.Time
}

// Validate checks the request shape: completed carries content, failed carries none.
func (r TransitionRequest) Validate() error {
	if !r.To.Terminal() {
		return ErrInvalidTransition
	}
	if _, err := ParseActor(string(r.Actor)); err != nil {
		return err
	}
	switch r.To {
	case StatusCompleted:
		if r.Content.Empty() {
			return fmt.Errorf("%w: completed transition requires extracted content", ErrInvalidInput)
		}
	case StatusFailed:
		if r.Content != nil {
			return fmt.Errorf("%w: failed transition must not carry content", ErrInvalidInput)
		}
	}
	return nil
}
