package quota

import (
	"context"
	"sync"
	"time"

	"ragfolio/internal/config"
	"ragfolio/internal/models"
)

// MemoryStore keeps quotas in process. Usage reports whatever was last set
// with SetUsage.
type MemoryStore struct {
	defaults config.QuotaDefaults

	mu     sync.Mutex
	quotas map[string]*models.Quota
	usage  map[string]Usage
}

func NewMemoryStore(defaults config.QuotaDefaults) *MemoryStore {
	return &MemoryStore{defaults: defaults, quotas: map[string]*models.Quota{}, usage: map[string]Usage{}}
}

func (s *MemoryStore) SetUsage(tenantID string, u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[tenantID] = u
}

// Mutate edits a tenant's row in place, e.g. to set limits in tests.
func (s *MemoryStore) Mutate(tenantID string, fn func(q *models.Quota)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.row(tenantID))
}

func (s *MemoryStore) row(tenantID string) *models.Quota {
	q, ok := s.quotas[tenantID]
	if !ok {
		q = &models.Quota{
			TenantID:          tenantID,
			MaxDocuments:      s.defaults.MaxDocuments,
			MaxStorageBytes:   s.defaults.MaxStorageBytes,
			MaxChatSessions:   s.defaults.MaxChatSessions,
			MaxChunks:         s.defaults.MaxChunks,
			MaxAPICallsPerDay: s.defaults.MaxAPICallsDaily,
			UpdatedAt:         time.Now().UTC(),
		}
		s.quotas[tenantID] = q
	}
	return q
}

func (s *MemoryStore) GetOrCreate(_ context.Context, tenantID string) (models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.row(tenantID), nil
}

func (s *MemoryStore) Reserve(_ context.Context, tenantID string, d Delta) (models.Quota, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.row(tenantID)
	if exceeds(q.CurrentDocuments, d.Documents, q.MaxDocuments) ||
		exceeds(q.CurrentStorageBytes, d.StorageBytes, q.MaxStorageBytes) ||
		exceeds(q.CurrentChatSessions, d.ChatSessions, q.MaxChatSessions) ||
		exceeds(q.CurrentChunks, d.Chunks, q.MaxChunks) {
		return *q, false, nil
	}
	add(q, d)
	return *q, true, nil
}

func (s *MemoryStore) Add(_ context.Context, tenantID string, d Delta) (models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.row(tenantID)
	add(q, d)
	return *q, nil
}

func (s *MemoryStore) Overwrite(_ context.Context, tenantID string, u Usage) (models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.row(tenantID)
	q.CurrentDocuments = u.Documents
	q.CurrentStorageBytes = u.StorageBytes
	q.CurrentChatSessions = u.ChatSessions
	q.CurrentChunks = u.Chunks
	q.UpdatedAt = time.Now().UTC()
	return *q, nil
}

func (s *MemoryStore) Usage(_ context.Context, tenantID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[tenantID], nil
}

func (s *MemoryStore) ConsumeAPICall(_ context.Context, tenantID string, now time.Time) (models.Quota, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.row(tenantID)
	if q.APICallsResetAt == nil || !now.Before(*q.APICallsResetAt) {
		next := NextReset(now)
		q.APICallsToday = 0
		q.APICallsResetAt = &next
	}
	if q.MaxAPICallsPerDay != nil && q.APICallsToday >= *q.MaxAPICallsPerDay {
		return *q, false, nil
	}
	q.APICallsToday++
	return *q, true, nil
}

func add(q *models.Quota, d Delta) {
	q.CurrentDocuments = clamp(q.CurrentDocuments + d.Documents)
	q.CurrentStorageBytes = clamp(q.CurrentStorageBytes + d.StorageBytes)
	q.CurrentChatSessions = clamp(q.CurrentChatSessions + d.ChatSessions)
	q.CurrentChunks = clamp(q.CurrentChunks + d.Chunks)
	q.UpdatedAt = time.Now().UTC()
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func exceeds(current, delta, limit int64) bool {
	return delta > 0 && current+delta > limit
}
