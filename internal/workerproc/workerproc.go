package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/queue"
	"docparse-backend/internal/shared/telemetry"
)

// ResultApplier records a worker's extraction outcome.
type ResultApplier interface {
	ApplyResult(ctx context.Context, id string, res documents.Result) (documents.Document, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingDocumentID indicates a message missing the document id.
type ErrMissingDocumentID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingDocumentID) Error() string { return "missing document id" }

// ErrInvalidResult indicates a completion whose status or content cannot be applied.
type ErrInvalidResult struct {
	DocumentID string
	Err        error
}

func (e ErrInvalidResult) Error() string {
	if e.Err == nil {
		return "invalid result"
	}
	return "invalid result: " + e.Err.Error()
}

func (e ErrInvalidResult) Unwrap() error { return e.Err }

// ErrProcess indicates applying the result failed after successful parsing.
type ErrProcess struct {
	DocumentID string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "apply result"
	}
	return "apply result: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Permanent reports whether redelivering the message cannot succeed.
func Permanent(err error) bool {
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrMissingDocumentID, ErrInvalidResult:
		return true
	}
	return errors.Is(err, documents.ErrNotFound) || errors.Is(err, documents.ErrInvalidInput)
}

// ParseMessage validates and decodes the completion payload.
func ParseMessage(body string) (queue.Completion, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Completion{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeCompletion([]byte(body))
	if err != nil {
		return queue.Completion{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		return msg, meta, ErrMissingDocumentID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// ToResult converts a completion into a terminal documents.Result.
func ToResult(msg queue.Completion) (documents.Result, error) {
	status, err := documents.ParseStatus(msg.Status)
	if err != nil {
		return documents.Result{}, ErrInvalidResult{DocumentID: msg.DocumentID, Err: err}
	}
	if !status.Terminal() {
		return documents.Result{}, ErrInvalidResult{DocumentID: msg.DocumentID, Err: documents.ErrInvalidTransition}
	}
	return documents.Result{Status: status, Content: msg.Content, Reason: msg.Reason}, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Completion) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Completion, bool) {
	if ctx == nil {
		return queue.Completion{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Completion)
	return msg, ok
}

// HandleMessage parses, validates, and applies a completion payload.
// A completion for a document that is already terminal is acknowledged:
// the first terminal write wins and redeliveries are dropped.
func HandleMessage(ctx context.Context, applier ResultApplier, body string) error {
	if applier == nil {
		return errors.New("document service not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	if strings.TrimSpace(msg.DocumentID) == "" {
		return ErrMissingDocumentID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	res, err := ToResult(msg)
	if err != nil {
		return err
	}

	if _, err := applier.ApplyResult(ctx, msg.DocumentID, res); err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) {
			telemetry.Warn("worker.completion.stale", map[string]any{
				"document_id": msg.DocumentID,
				"request_id":  msg.RequestID,
				"status":      msg.Status,
			})
			return nil
		}
		return ErrProcess{DocumentID: msg.DocumentID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
