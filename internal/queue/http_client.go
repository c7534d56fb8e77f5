package queue

import (
	"context"
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

const (
	// JobEventType is the CloudEvents type of an extraction job.
	JobEventType = "com.docparse.document.extract"
	jobSource    = "docparse-backend/ingest"
)

// CloudEventTrigger posts extraction jobs to a worker webhook as CloudEvents
// in binary mode. The shared worker token is sent as X-Worker-Token.
type CloudEventTrigger struct {
	client cloudevents.Client
	target string
}

// NewCloudEventTrigger constructs a webhook trigger for target.
func NewCloudEventTrigger(target, token string) (*CloudEventTrigger, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("WORKER_WEBHOOK_URL is required")
	}
	opts := []cehttp.Option{}
	if token != "" {
		opts = append(opts, cehttp.WithHeader("X-Worker-Token", token))
	}
	client, err := cloudevents.NewClientHTTP(opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudevents client: %w", err)
	}
	return &CloudEventTrigger{client: client, target: target}, nil
}

// Invoke sends the job and treats any non-2xx answer as a failure.
func (h *CloudEventTrigger) Invoke(ctx context.Context, job Job) error {
	event := cloudevents.NewEvent()
	event.SetID(job.DocumentID)
	event.SetSource(jobSource)
	event.SetType(JobEventType)
	event.SetSubject(job.ArtifactPath)
	if err := event.SetData(cloudevents.ApplicationJSON, job); err != nil {
		return fmt.Errorf("encode cloudevent: %w", err)
	}

	res := h.client.Send(cloudevents.ContextWithTarget(ctx, h.target), event)
	if !cloudevents.IsACK(res) {
		return fmt.Errorf("send cloudevent: %w", res)
	}
	return nil
}

var _ Trigger = (*CloudEventTrigger)(nil)
