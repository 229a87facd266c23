package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ragfolio/internal/config"
	"ragfolio/internal/models"
	"ragfolio/internal/quota"
)

const quotaColumns = `tenant_id, current_documents, max_documents, current_storage_bytes, max_storage_bytes,
current_chat_sessions, max_chat_sessions, current_chunks, max_chunks,
api_calls_today, max_api_calls_per_day, api_calls_reset_at, updated_at`

// QuotaRepo implements quota.Store on Postgres. Every mutation is a single
// conditional statement, so concurrent requests cannot both pass a check.
type QuotaRepo struct {
	db       *DB
	defaults config.QuotaDefaults
}

func NewQuotaRepo(db *DB, defaults config.QuotaDefaults) *QuotaRepo {
	return &QuotaRepo{db: db, defaults: defaults}
}

var _ quota.Store = (*QuotaRepo)(nil)

func (r *QuotaRepo) ensure(ctx context.Context, q dbtx, tenantID string) error {
	_, err := q.Exec(ctx, `
INSERT INTO quotas(tenant_id, max_documents, max_storage_bytes, max_chat_sessions, max_chunks, max_api_calls_per_day)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID, r.defaults.MaxDocuments, r.defaults.MaxStorageBytes, r.defaults.MaxChatSessions,
		r.defaults.MaxChunks, r.defaults.MaxAPICallsDaily)
	if err != nil {
		return fmt.Errorf("ensure quota row: %w", err)
	}
	return nil
}

func (r *QuotaRepo) GetOrCreate(ctx context.Context, tenantID string) (models.Quota, error) {
	if err := r.ensure(ctx, r.db.Pool, tenantID); err != nil {
		return models.Quota{}, err
	}
	return r.get(ctx, r.db.Pool, tenantID)
}

func (r *QuotaRepo) get(ctx context.Context, q dbtx, tenantID string) (models.Quota, error) {
	out, err := scanQuota(q.QueryRow(ctx, `SELECT `+quotaColumns+` FROM quotas WHERE tenant_id = $1`, tenantID))
	if err != nil {
		return models.Quota{}, fmt.Errorf("get quota: %w", err)
	}
	return out, nil
}

// Reserve only checks counters the delta grows; a counter already over its
// limit does not block other resources.
func (r *QuotaRepo) Reserve(ctx context.Context, tenantID string, d quota.Delta) (models.Quota, bool, error) {
	if err := r.ensure(ctx, r.db.Pool, tenantID); err != nil {
		return models.Quota{}, false, err
	}
	q, err := scanQuota(r.db.Pool.QueryRow(ctx, `
UPDATE quotas SET
  current_documents = current_documents + $2,
  current_storage_bytes = current_storage_bytes + $3,
  current_chat_sessions = current_chat_sessions + $4,
  current_chunks = current_chunks + $5,
  updated_at = NOW()
WHERE tenant_id = $1
  AND ($2 <= 0 OR current_documents + $2 <= max_documents)
  AND ($3 <= 0 OR current_storage_bytes + $3 <= max_storage_bytes)
  AND ($4 <= 0 OR current_chat_sessions + $4 <= max_chat_sessions)
  AND ($5 <= 0 OR current_chunks + $5 <= max_chunks)
RETURNING `+quotaColumns,
		tenantID, d.Documents, d.StorageBytes, d.ChatSessions, d.Chunks))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := r.get(ctx, r.db.Pool, tenantID)
		return cur, false, gerr
	}
	if err != nil {
		return models.Quota{}, false, fmt.Errorf("reserve quota: %w", err)
	}
	return q, true, nil
}

func (r *QuotaRepo) Add(ctx context.Context, tenantID string, d quota.Delta) (models.Quota, error) {
	return r.add(ctx, r.db.Pool, tenantID, d)
}

func (r *QuotaRepo) add(ctx context.Context, q dbtx, tenantID string, d quota.Delta) (models.Quota, error) {
	if err := r.ensure(ctx, q, tenantID); err != nil {
		return models.Quota{}, err
	}
	out, err := scanQuota(q.QueryRow(ctx, `
UPDATE quotas SET
  current_documents = GREATEST(0, current_documents + $2),
  current_storage_bytes = GREATEST(0, current_storage_bytes + $3),
  current_chat_sessions = GREATEST(0, current_chat_sessions + $4),
  current_chunks = GREATEST(0, current_chunks + $5),
  updated_at = NOW()
WHERE tenant_id = $1
RETURNING `+quotaColumns,
		tenantID, d.Documents, d.StorageBytes, d.ChatSessions, d.Chunks))
	if err != nil {
		return models.Quota{}, fmt.Errorf("add quota delta: %w", err)
	}
	return out, nil
}

func (r *QuotaRepo) Overwrite(ctx context.Context, tenantID string, u quota.Usage) (models.Quota, error) {
	if err := r.ensure(ctx, r.db.Pool, tenantID); err != nil {
		return models.Quota{}, err
	}
	out, err := scanQuota(r.db.Pool.QueryRow(ctx, `
UPDATE quotas SET
  current_documents = $2,
  current_storage_bytes = $3,
  current_chat_sessions = $4,
  current_chunks = $5,
  updated_at = NOW()
WHERE tenant_id = $1
RETURNING `+quotaColumns,
		tenantID, u.Documents, u.StorageBytes, u.ChatSessions, u.Chunks))
	if err != nil {
		return models.Quota{}, fmt.Errorf("overwrite quota: %w", err)
	}
	return out, nil
}

// Usage derives counters from ground truth: ready documents, and bytes and
// chunks of every live document.
func (r *QuotaRepo) Usage(ctx context.Context, tenantID string) (quota.Usage, error) {
	var u quota.Usage
	err := r.db.Pool.QueryRow(ctx, `
SELECT
  COUNT(*) FILTER (WHERE status = 'READY'),
  COALESCE(SUM(file_size), 0)::bigint,
  COALESCE(SUM(chunk_count), 0)::bigint
FROM documents
WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&u.Documents, &u.StorageBytes, &u.Chunks)
	if err != nil {
		return quota.Usage{}, fmt.Errorf("count document usage: %w", err)
	}
	err = r.db.Pool.QueryRow(ctx, `
SELECT COUNT(*) FROM chat_sessions WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&u.ChatSessions)
	if err != nil {
		return quota.Usage{}, fmt.Errorf("count chat sessions: %w", err)
	}
	return u, nil
}

func (r *QuotaRepo) ConsumeAPICall(ctx context.Context, tenantID string, now time.Time) (models.Quota, bool, error) {
	if err := r.ensure(ctx, r.db.Pool, tenantID); err != nil {
		return models.Quota{}, false, err
	}
	next := quota.NextReset(now)
	var (
		q  models.Quota
		ok bool
	)
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
UPDATE quotas SET api_calls_today = 0, api_calls_reset_at = $2
WHERE tenant_id = $1 AND (api_calls_reset_at IS NULL OR api_calls_reset_at <= $3)`, tenantID, next, now)
		if err != nil {
			return fmt.Errorf("reset api calls: %w", err)
		}
		q, err = scanQuota(tx.QueryRow(ctx, `
UPDATE quotas SET api_calls_today = api_calls_today + 1, updated_at = NOW()
WHERE tenant_id = $1 AND (max_api_calls_per_day IS NULL OR api_calls_today < max_api_calls_per_day)
RETURNING `+quotaColumns, tenantID))
		if errors.Is(err, pgx.ErrNoRows) {
			q, err = r.get(ctx, tx, tenantID)
			return err
		}
		if err != nil {
			return fmt.Errorf("count api call: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return models.Quota{}, false, err
	}
	return q, ok, nil
}

func scanQuota(row pgx.Row) (models.Quota, error) {
	var q models.Quota
	err := row.Scan(&q.TenantID, &q.CurrentDocuments, &q.MaxDocuments, &q.CurrentStorageBytes, &q.MaxStorageBytes,
		&q.CurrentChatSessions, &q.MaxChatSessions, &q.CurrentChunks, &q.MaxChunks,
		&q.APICallsToday, &q.MaxAPICallsPerDay, &q.APICallsResetAt, &q.UpdatedAt)
	return q, err
}
