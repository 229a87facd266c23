package ingest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"ragfolio/internal/embedding"
	"ragfolio/internal/models"
	"ragfolio/internal/providers"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"
)

type memStore struct {
	mu     sync.Mutex
	docs   map[string]models.Document
	chunks map[string][]models.Chunk
}

func newMemStore(docs ...models.Document) *memStore {
	s := &memStore{docs: map[string]models.Document{}, chunks: map[string][]models.Chunk{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memStore) ApplyTransition(ctx context.Context, docID string, from []models.DocumentStatus, to models.DocumentStatus, eff storage.TransitionEffects) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", docID, util.ErrNotFound)
	}
	if !slices.Contains(from, d.Status) {
		return models.Document{}, fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, d.Status, to)
	}
	if eff.DeleteChunks {
		delete(s.chunks, docID)
		d.ChunkCount = 0
	}
	if eff.InsertChunks {
		s.chunks[docID] = append([]models.Chunk(nil), eff.Chunks...)
		d.ChunkCount = len(eff.Chunks)
	}
	now := time.Now().UTC()
	d.Status = to
	d.ErrorMessage = eff.ErrorMessage
	if eff.SetProcessedAt {
		d.ProcessedAt = &now
	}
	if eff.ClearProcessedAt {
		d.ProcessedAt = nil
	}
	d.UpdatedAt = now
	s.docs[docID] = d
	return d, nil
}

func (s *memStore) Get(_ context.Context, tenantID, docID string) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok || (tenantID != "" && d.TenantID != tenantID) {
		return models.Document{}, util.ErrNotFound
	}
	return d, nil
}

func (s *memStore) ListStale(_ context.Context, status models.DocumentStatus, cutoff time.Time, limit int) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		if d.Status == status && d.UpdatedAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) doc(id string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *memStore) chunksOf(id string) []models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[id]
}

type memObjects map[string][]byte

func (m memObjects) Read(_ context.Context, locator string) ([]byte, error) {
	data, ok := m[locator]
	if !ok {
		return nil, util.ErrNotFound
	}
	return data, nil
}

// blockingObjects holds every read until ctx is done.
type blockingObjects struct{}

func (blockingObjects) Read(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixedEmbedders struct {
	err error
}

func (f fixedEmbedders) ForTenant(context.Context, string) (*embedding.Embedder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return embedding.New(providers.NewMockProvider(8), 4, 8), nil
}
