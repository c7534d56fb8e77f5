package queue

import "context"

// Trigger hands a stored artifact to the external extraction worker.
// Delivery is at-most-once from the caller's point of view; a failed Invoke
// never rolls back the document row.
type Trigger interface {
	Invoke(ctx context.Context, job Job) error
}

// Noop is a Trigger that drops jobs. Used when no worker is configured.
type Noop struct{}

// Invoke implements Trigger.
func (Noop) Invoke(ctx context.Context, job Job) error {
	return ctx.Err()
}

var _ Trigger = Noop{}
