package queue

import (
	"context"
	"fmt"
	"strings"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// WorkflowsTrigger starts a Cloud Workflows execution per job.
type WorkflowsTrigger struct {
	parent string
	create func(ctx context.Context, req *executionspb.CreateExecutionRequest) error
	closer func() error
}

// NewWorkflowsTrigger constructs a trigger for
// projects/{project}/locations/{location}/workflows/{workflow}.
func NewWorkflowsTrigger(ctx context.Context, project, location, workflow string) (*WorkflowsTrigger, error) {
	if strings.TrimSpace(project) == "" || strings.TrimSpace(workflow) == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID and WORKFLOW_ID are required")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflows executions client: %w", err)
	}
	return &WorkflowsTrigger{
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", project, location, workflow),
		create: func(ctx context.Context, req *executionspb.CreateExecutionRequest) error {
			_, err := client.CreateExecution(ctx, req)
			return err
		},
		closer: client.Close,
	}, nil
}

// Invoke starts an execution with the job as its argument.
func (w *WorkflowsTrigger) Invoke(ctx context.Context, job Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode workflow argument: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: w.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	if err := w.create(ctx, req); err != nil {
		return fmt.Errorf("create workflow execution: %w", err)
	}
	return nil
}

// Close releases the executions client.
func (w *WorkflowsTrigger) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer()
}

var _ Trigger = (*WorkflowsTrigger)(nil)
