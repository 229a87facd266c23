package workflows

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"

	"ragfolio/internal/ingest"
)

// Starter is the part of the Temporal client the dispatcher uses.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
}

// Dispatcher queues ingestion as a Temporal workflow per document.
type Dispatcher struct {
	client         Starter
	taskQueue      string
	timeoutSeconds int
}

func NewDispatcher(c Starter, taskQueue string, timeoutSeconds int) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue, timeoutSeconds: timeoutSeconds}
}

var _ ingest.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(ctx context.Context, docID string) error {
	_, err := d.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       WorkflowID(docID),
		TaskQueue:                                d.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, DocumentIngestWorkflow, DocumentIngestInput{DocumentID: docID, TimeoutSeconds: d.timeoutSeconds})
	if err != nil {
		return fmt.Errorf("start ingest workflow: %w", err)
	}
	return nil
}
