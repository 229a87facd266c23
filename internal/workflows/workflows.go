package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"ragfolio/internal/activities"
	"ragfolio/internal/ingest"
	"ragfolio/internal/models"
)

const QueryGetIngestStatus = "GetIngestStatus"

const defaultIngestTimeout = 15 * time.Minute

func WorkflowID(documentID string) string {
	return "ingest-" + documentID
}

// DocumentIngestWorkflow runs one document's ingestion. Activities are not
// retried: a failed run leaves the document FAILED and the user reprocesses.
// The workflow itself always completes with a result.
func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (ingest.Result, error) {
	status := IngestStatus{
		DocumentID:  input.DocumentID,
		CurrentStep: "queued",
		Status:      models.StatusUploaded,
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (IngestStatus, error) {
		return status, nil
	}); err != nil {
		return status.result(), nil
	}
	logger := workflow.GetLogger(ctx)

	noRetry := &temporal.RetryPolicy{MaximumAttempts: 1}
	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         noRetry,
	})
	runTimeout := defaultIngestTimeout
	if input.TimeoutSeconds > 0 {
		runTimeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: runTimeout,
		RetryPolicy:         noRetry,
	})

	status.CurrentStep = "begin"
	var begin activities.BeginIngestOutput
	if err := workflow.ExecuteActivity(shortCtx, "BeginIngestActivity", activities.BeginIngestInput{DocumentID: input.DocumentID}).Get(ctx, &begin); err != nil {
		logger.Error("begin ingest failed", "document_id", input.DocumentID, "error", err)
		status.CurrentStep = "done"
		status.FailReason = fmt.Sprintf("begin ingest: %v", err)
		return status.result(), nil
	}
	status.TenantID = begin.TenantID
	status.Status = begin.Status
	if !begin.Started {
		status.CurrentStep = "skipped"
		status.FailReason = begin.Reason
		return status.result(), nil
	}

	status.CurrentStep = "run"
	var res ingest.Result
	err := workflow.ExecuteActivity(runCtx, "RunIngestActivity", activities.RunIngestInput{DocumentID: input.DocumentID}).Get(ctx, &res)
	if err != nil {
		logger.Error("run ingest failed", "document_id", input.DocumentID, "error", err)
		status.CurrentStep = "fail"
		reason := fmt.Sprintf("ingestion did not finish: %v", err)
		if ferr := workflow.ExecuteActivity(shortCtx, "FailIngestActivity", activities.FailIngestInput{
			DocumentID: input.DocumentID,
			Reason:     reason,
		}).Get(ctx, &res); ferr != nil {
			logger.Error("mark failed failed", "document_id", input.DocumentID, "error", ferr)
			res = ingest.Result{DocumentID: input.DocumentID, Status: models.StatusFailed, Error: reason}
		}
	}
	status.CurrentStep = "done"
	status.Status = res.Status
	status.ChunkCount = res.ChunkCount
	status.FailReason = res.Error
	return status.result(), nil
}
