package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"ragfolio/internal/models"
)

type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) InsertEvent(ctx context.Context, ev models.AuditEvent) error {
	var details *string
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		s := string(raw)
		details = &s
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO audit_logs (tenant_id, user_id, action, resource_type, resource_id, details, created_at)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6::jsonb, $7)`,
		ev.TenantID, ev.UserID, ev.Action, ev.ResourceType, ev.ResourceID, details, ev.At)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepo) InsertCall(ctx context.Context, rec models.LLMCallLog) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls (tenant_id, operation, provider_name, model, status, error_type, latency_ms, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8)`,
		rec.TenantID, rec.Operation, rec.Provider, rec.Model, rec.Status, rec.ErrorType, rec.Latency.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
