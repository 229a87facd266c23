package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"ragfolio/internal/models"
)

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type RowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Retriever returns a tenant's chunks nearest to a query vector.
type Retriever interface {
	Search(ctx context.Context, queryVec []float32, tenantID string, limit int, minScore float64) ([]models.ChunkResult, error)
	Available() bool
}

type Limits struct {
	Default int
	Max     int
}

// Probe reports whether the vector extension is installed.
func Probe(ctx context.Context, q RowQueryer) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&ok); err != nil {
		return false, fmt.Errorf("probe vector extension: %w", err)
	}
	return ok, nil
}

// NewRetriever returns the pgvector retriever, or a NullRetriever when the
// extension is not available.
func NewRetriever(q Queryer, available bool, limits Limits) Retriever {
	if !available {
		return NullRetriever{}
	}
	return &Searcher{q: q, limits: limits}
}

type Searcher struct {
	q      Queryer
	limits Limits
}

func (s *Searcher) Available() bool { return true }

func (s *Searcher) Search(ctx context.Context, queryVec []float32, tenantID string, limit int, minScore float64) ([]models.ChunkResult, error) {
	limit = ClampLimit(limit, s.limits)
	rows, err := s.q.Query(ctx, `
SELECT c.id::text,
       c.document_id::text,
       d.file_name,
       c.chunk_index,
       c.text,
       1 - (c.embedding <=> $2::text::vector) AS score
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.tenant_id = $1
  AND d.status = 'READY'
  AND d.deleted_at IS NULL
  AND c.embedding IS NOT NULL
ORDER BY c.embedding <=> $2::text::vector
LIMIT $3`, tenantID, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.ChunkResult, 0, limit)
	for rows.Next() {
		var r models.ChunkResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.FileName, &r.ChunkIndex, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return FilterByScore(results, minScore), nil
}

// ClampLimit applies the default to non-positive limits and caps at the max.
func ClampLimit(limit int, l Limits) int {
	if limit <= 0 {
		limit = l.Default
	}
	if limit <= 0 {
		limit = 5
	}
	if l.Max > 0 && limit > l.Max {
		limit = l.Max
	}
	return limit
}

// FilterByScore keeps ranked results scoring at least minScore.
func FilterByScore(results []models.ChunkResult, minScore float64) []models.ChunkResult {
	out := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// NullRetriever stands in when vector search is unavailable.
type NullRetriever struct{}

func (NullRetriever) Available() bool { return false }

func (NullRetriever) Search(context.Context, []float32, string, int, float64) ([]models.ChunkResult, error) {
	return []models.ChunkResult{}, nil
}
