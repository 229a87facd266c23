package activities

import (
	"context"
	"errors"
	"fmt"

	"ragfolio/internal/ingest"
	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

type DocumentGetter interface {
	Get(ctx context.Context, tenantID, docID string) (models.Document, error)
}

type Activities struct {
	proc *ingest.Processor
	docs DocumentGetter
}

func New(proc *ingest.Processor, docs DocumentGetter) *Activities {
	return &Activities{proc: proc, docs: docs}
}

func (a *Activities) BeginIngestActivity(ctx context.Context, in BeginIngestInput) (BeginIngestOutput, error) {
	doc, err := a.proc.Begin(ctx, in.DocumentID)
	if errors.Is(err, util.ErrInvalidTransition) || errors.Is(err, util.ErrNotFound) {
		out := BeginIngestOutput{DocumentID: in.DocumentID, Reason: err.Error()}
		if cur, gerr := a.docs.Get(ctx, "", in.DocumentID); gerr == nil {
			out.TenantID = cur.TenantID
			out.Status = cur.Status
		}
		return out, nil
	}
	if err != nil {
		return BeginIngestOutput{}, fmt.Errorf("begin ingest: %w", err)
	}
	return BeginIngestOutput{DocumentID: doc.ID, TenantID: doc.TenantID, Status: doc.Status, Started: true}, nil
}

// RunIngestActivity extracts, chunks and embeds a PROCESSING document. Its
// failures land on the document row; the activity itself only errors when
// the document cannot be loaded.
func (a *Activities) RunIngestActivity(ctx context.Context, in RunIngestInput) (ingest.Result, error) {
	doc, err := a.docs.Get(ctx, "", in.DocumentID)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("load document: %w", err)
	}
	if doc.Status != models.StatusProcessing {
		return ingest.Result{DocumentID: doc.ID, Status: doc.Status, ChunkCount: doc.ChunkCount}, nil
	}
	return a.proc.Run(ctx, doc), nil
}

func (a *Activities) FailIngestActivity(ctx context.Context, in FailIngestInput) (ingest.Result, error) {
	return a.proc.FailByID(ctx, in.DocumentID, in.Reason), nil
}
