package workflows

import (
	"ragfolio/internal/ingest"
	"ragfolio/internal/models"
)

type DocumentIngestInput struct {
	DocumentID     string `json:"document_id"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type IngestStatus struct {
	DocumentID  string                `json:"document_id"`
	TenantID    string                `json:"tenant_id,omitempty"`
	CurrentStep string                `json:"current_step"`
	Status      models.DocumentStatus `json:"status"`
	ChunkCount  int                   `json:"chunk_count"`
	FailReason  string                `json:"fail_reason,omitempty"`
}

func (s IngestStatus) result() ingest.Result {
	return ingest.Result{DocumentID: s.DocumentID, Status: s.Status, ChunkCount: s.ChunkCount, Error: s.FailReason}
}
