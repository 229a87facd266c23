package activities

import "ragfolio/internal/models"

type BeginIngestInput struct {
	DocumentID string `json:"document_id"`
}

type BeginIngestOutput struct {
	DocumentID string                `json:"document_id"`
	TenantID   string                `json:"tenant_id"`
	Status     models.DocumentStatus `json:"status"`
	// Started is false when the document was not UPLOADED, e.g. a duplicate
	// dispatch; the workflow then stops without touching it.
	Started bool   `json:"started"`
	Reason  string `json:"reason,omitempty"`
}

type RunIngestInput struct {
	DocumentID string `json:"document_id"`
}

type FailIngestInput struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}
