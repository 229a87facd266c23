package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

const keyColumns = `id::text, tenant_id, provider, label, key_preview, sealed, is_active, COALESCE(created_by,''), created_at, last_used_at`

type KeyRepo struct {
	db *DB
}

func NewKeyRepo(db *DB) *KeyRepo {
	return &KeyRepo{db: db}
}

// Create stores a sealed key. When activate is set, any other active key of
// the tenant is deactivated in the same transaction.
func (r *KeyRepo) Create(ctx context.Context, k models.LLMKey, activate bool) (models.LLMKey, error) {
	var out models.LLMKey
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if activate {
			if _, err := tx.Exec(ctx, `UPDATE llm_api_keys SET is_active = false WHERE tenant_id = $1 AND is_active`, k.TenantID); err != nil {
				return fmt.Errorf("deactivate keys: %w", err)
			}
		}
		var err error
		out, err = scanKey(tx.QueryRow(ctx, `
INSERT INTO llm_api_keys (id, tenant_id, provider, label, key_preview, sealed, is_active, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''))
RETURNING `+keyColumns, k.ID, k.TenantID, k.Provider, k.Label, k.KeyPreview, k.Sealed, activate, k.CreatedBy))
		if err != nil {
			return fmt.Errorf("insert api key: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.LLMKey{}, err
	}
	return out, nil
}

func (r *KeyRepo) List(ctx context.Context, tenantID string) ([]models.LLMKey, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+keyColumns+` FROM llm_api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	var out []models.LLMKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return out, nil
}

func (r *KeyRepo) Active(ctx context.Context, tenantID string) (models.LLMKey, error) {
	k, err := scanKey(r.db.Pool.QueryRow(ctx, `
SELECT `+keyColumns+` FROM llm_api_keys WHERE tenant_id = $1 AND is_active`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LLMKey{}, fmt.Errorf("active api key: %w", util.ErrNotFound)
	}
	if err != nil {
		return models.LLMKey{}, fmt.Errorf("get active api key: %w", err)
	}
	return k, nil
}

func (r *KeyRepo) Activate(ctx context.Context, tenantID, id string) (models.LLMKey, error) {
	var out models.LLMKey
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE llm_api_keys SET is_active = false WHERE tenant_id = $1 AND is_active`, tenantID); err != nil {
			return fmt.Errorf("deactivate keys: %w", err)
		}
		var err error
		out, err = scanKey(tx.QueryRow(ctx, `
UPDATE llm_api_keys SET is_active = true WHERE id = $1 AND tenant_id = $2
RETURNING `+keyColumns, id, tenantID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("api key %s: %w", id, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("activate api key: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.LLMKey{}, err
	}
	return out, nil
}

func (r *KeyRepo) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM llm_api_keys WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, util.ErrNotFound)
	}
	return nil
}

func (r *KeyRepo) TouchLastUsed(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx, `UPDATE llm_api_keys SET last_used_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func scanKey(row pgx.Row) (models.LLMKey, error) {
	var k models.LLMKey
	err := row.Scan(&k.ID, &k.TenantID, &k.Provider, &k.Label, &k.KeyPreview, &k.Sealed, &k.IsActive, &k.CreatedBy, &k.CreatedAt, &k.LastUsedAt)
	return k, err
}
