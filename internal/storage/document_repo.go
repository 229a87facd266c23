package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"ragfolio/internal/models"
	"ragfolio/internal/quota"
	"ragfolio/internal/util"
)

const documentColumns = `id::text, tenant_id, COALESCE(uploaded_by,''), file_name, file_type, file_size, checksum, locator,
status, error_message, chunk_count, uploaded_at, updated_at, processed_at, deleted_at`

// TransitionEffects are the side effects applied together with a status
// change, inside the same transaction.
type TransitionEffects struct {
	ErrorMessage     *string
	Chunks           []models.Chunk
	InsertChunks     bool
	DeleteChunks     bool
	SetProcessedAt   bool
	ClearProcessedAt bool
}

type ListFilter struct {
	Status *models.DocumentStatus
	Search string
	Offset int
	Limit  int
}

type DocumentRepo struct {
	db          *DB
	quotas      *QuotaRepo
	withVectors bool
}

func NewDocumentRepo(db *DB, quotas *QuotaRepo, withVectors bool) *DocumentRepo {
	return &DocumentRepo{db: db, quotas: quotas, withVectors: withVectors}
}

func (r *DocumentRepo) Create(ctx context.Context, d models.Document) (models.Document, error) {
	out, err := scanDocument(r.db.Pool.QueryRow(ctx, `
INSERT INTO documents (id, tenant_id, uploaded_by, file_name, file_type, file_size, checksum, locator, status)
VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, $8, $9)
RETURNING `+documentColumns,
		d.ID, d.TenantID, d.UploadedBy, d.FileName, d.FileType, d.FileSize, d.Checksum, d.Locator, models.StatusUploaded))
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return out, nil
}

// Get loads a live document by id. An empty tenantID skips the tenant check
// and is only used by background ingestion.
func (r *DocumentRepo) Get(ctx context.Context, tenantID, docID string) (models.Document, error) {
	out, err := scanDocument(r.db.Pool.QueryRow(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1 AND ($2::text = '' OR tenant_id = $2) AND deleted_at IS NULL`, docID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", docID, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) List(ctx context.Context, tenantID string, f ListFilter) ([]models.Document, int, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	where := `tenant_id = $1 AND deleted_at IS NULL
  AND ($2::text IS NULL OR status = $2)
  AND ($3::text = '' OR file_name ILIKE '%' || $3 || '%')`
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, tenantID, status, f.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE `+where+`
ORDER BY uploaded_at DESC
OFFSET $4 LIMIT $5`, tenantID, status, f.Search, f.Offset, f.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0, f.Limit)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return out, total, nil
}

func (r *DocumentRepo) Stats(ctx context.Context, tenantID string) (models.DocumentStats, error) {
	var s models.DocumentStats
	err := r.db.Pool.QueryRow(ctx, `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE status = 'UPLOADED'),
  COUNT(*) FILTER (WHERE status = 'PROCESSING'),
  COUNT(*) FILTER (WHERE status = 'READY'),
  COUNT(*) FILTER (WHERE status = 'FAILED'),
  COALESCE(SUM(chunk_count), 0)::bigint,
  COALESCE(SUM(file_size), 0)::bigint
FROM documents
WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(
		&s.Total, &s.Uploaded, &s.Processing, &s.Ready, &s.Failed, &s.TotalChunks, &s.TotalBytes)
	if err != nil {
		return models.DocumentStats{}, fmt.Errorf("document stats: %w", err)
	}
	return s, nil
}

// ApplyTransition moves a document from one of the from states to to and
// applies eff atomically. Chunk quota follows inserted and deleted chunks.
func (r *DocumentRepo) ApplyTransition(ctx context.Context, docID string, from []models.DocumentStatus, to models.DocumentStatus, eff TransitionEffects) (models.Document, error) {
	var out models.Document
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var (
			tenantID string
			current  models.DocumentStatus
		)
		err := tx.QueryRow(ctx, `
SELECT tenant_id, status FROM documents WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, docID).Scan(&tenantID, &current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", docID, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if !slices.Contains(from, current) {
			return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, current, to)
		}

		var chunkDelta int64
		if eff.DeleteChunks {
			n, err := deleteChunks(ctx, tx, docID)
			if err != nil {
				return err
			}
			chunkDelta -= n
		}
		if eff.InsertChunks {
			if err := insertChunks(ctx, tx, docID, eff.Chunks, r.withVectors); err != nil {
				return err
			}
			chunkDelta += int64(len(eff.Chunks))
		}

		var chunkCount *int
		switch {
		case eff.InsertChunks:
			n := len(eff.Chunks)
			chunkCount = &n
		case eff.DeleteChunks:
			n := 0
			chunkCount = &n
		}
		out, err = scanDocument(tx.QueryRow(ctx, `
UPDATE documents SET
  status = $2,
  error_message = $3,
  chunk_count = COALESCE($4, chunk_count),
  processed_at = CASE WHEN $5 THEN NOW() WHEN $6 THEN NULL ELSE processed_at END,
  updated_at = NOW()
WHERE id = $1
RETURNING `+documentColumns,
			docID, to, eff.ErrorMessage, chunkCount, eff.SetProcessedAt, eff.ClearProcessedAt))
		if err != nil {
			return fmt.Errorf("update document status: %w", err)
		}
		if chunkDelta != 0 {
			if _, err := r.quotas.add(ctx, tx, tenantID, quota.Delta{Chunks: chunkDelta}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Document{}, err
	}
	return out, nil
}

// SoftDelete hides the document and removes its chunks. It returns the
// document as it was and how many chunks were removed.
func (r *DocumentRepo) SoftDelete(ctx context.Context, tenantID, docID string) (models.Document, int64, error) {
	var (
		doc     models.Document
		removed int64
	)
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		doc, err = scanDocument(tx.QueryRow(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
FOR UPDATE`, docID, tenantID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", docID, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		removed, err = deleteChunks(ctx, tx, docID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE documents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, docID); err != nil {
			return fmt.Errorf("soft delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Document{}, 0, err
	}
	return doc, removed, nil
}

// ListStale returns documents that have been in status since before cutoff.
func (r *DocumentRepo) ListStale(ctx context.Context, status models.DocumentStatus, cutoff time.Time, limit int) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE status = $1 AND deleted_at IS NULL AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3`, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale documents: %w", err)
	}
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale documents: %w", err)
	}
	return out, nil
}

// ListIDsByStatus supports bulk reprocessing from the CLI.
func (r *DocumentRepo) ListIDsByStatus(ctx context.Context, tenantID string, status models.DocumentStatus) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text FROM documents
WHERE tenant_id = $1 AND status = $2 AND deleted_at IS NULL
ORDER BY uploaded_at ASC`, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect document ids: %w", err)
	}
	return ids, nil
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.UploadedBy, &d.FileName, &d.FileType, &d.FileSize, &d.Checksum, &d.Locator,
		&d.Status, &d.ErrorMessage, &d.ChunkCount, &d.UploadedAt, &d.UpdatedAt, &d.ProcessedAt, &d.DeletedAt)
	return d, err
}
