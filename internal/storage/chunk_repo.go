package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"ragfolio/internal/models"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// insertChunks writes a document's chunks in one batch. The embedding column
// only exists when pgvector is installed, so it is skipped otherwise.
func insertChunks(ctx context.Context, tx pgx.Tx, docID string, chunks []models.Chunk, withVectors bool) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		if withVectors && len(c.Embedding) > 0 {
			batch.Queue(`
INSERT INTO chunks (id, document_id, chunk_index, text, char_start, char_end, page_number, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::vector)`,
				id, docID, c.ChunkIndex, c.Text, c.CharStart, c.CharEnd, c.Page, pgvector.NewVector(c.Embedding))
			continue
		}
		batch.Queue(`
INSERT INTO chunks (id, document_id, chunk_index, text, char_start, char_end, page_number)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, docID, c.ChunkIndex, c.Text, c.CharStart, c.CharEnd, c.Page)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert chunk %d: %w", chunks[i].ChunkIndex, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close chunk batch: %w", err)
	}
	return nil
}

func deleteChunks(ctx context.Context, tx pgx.Tx, docID string) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, docID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text, document_id::text, chunk_index, text, char_start, char_end, page_number
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by document: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.CharStart, &c.CharEnd, &c.Page); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
