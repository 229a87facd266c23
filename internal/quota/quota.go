// Package quota admits and accounts per-tenant resource usage.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

type Resource string

const (
	Documents    Resource = "documents"
	Storage      Resource = "storage"
	ChatSessions Resource = "chat_sessions"
	Chunks       Resource = "chunks"
	APICalls     Resource = "api_calls"
)

const gib = 1024 * 1024 * 1024

// Delta holds signed changes to the tracked counters.
type Delta struct {
	Documents    int64
	StorageBytes int64
	ChatSessions int64
	Chunks       int64
}

func (d Delta) Negate() Delta {
	return Delta{
		Documents:    -d.Documents,
		StorageBytes: -d.StorageBytes,
		ChatSessions: -d.ChatSessions,
		Chunks:       -d.Chunks,
	}
}

func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Usage is ground truth derived from the tenant's documents and sessions.
type Usage struct {
	Documents    int64
	StorageBytes int64
	ChatSessions int64
	Chunks       int64
}

// Store persists quota rows. Every method creates the tenant's row with
// default limits when it does not exist yet.
type Store interface {
	GetOrCreate(ctx context.Context, tenantID string) (models.Quota, error)
	// Reserve applies d only if no counter would exceed its max; ok is false
	// and nothing changes otherwise. The returned quota is the row after the
	// attempt.
	Reserve(ctx context.Context, tenantID string, d Delta) (q models.Quota, ok bool, err error)
	// Add applies d with every counter clamped at zero.
	Add(ctx context.Context, tenantID string, d Delta) (models.Quota, error)
	Overwrite(ctx context.Context, tenantID string, u Usage) (models.Quota, error)
	Usage(ctx context.Context, tenantID string) (Usage, error)
	// ConsumeAPICall increments the daily counter, first resetting it when
	// the reset time has passed. ok is false when the daily limit is reached.
	ConsumeAPICall(ctx context.Context, tenantID string, now time.Time) (q models.Quota, ok bool, err error)
}

type Guard struct {
	store Store
	log   *slog.Logger
}

func NewGuard(store Store, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{store: store, log: log.With("component", "quota")}
}

// Check reports whether delta more units of r fit under the tenant's limit.
func (g *Guard) Check(ctx context.Context, tenantID string, r Resource, delta int64) (bool, string, error) {
	q, err := g.store.GetOrCreate(ctx, tenantID)
	if err != nil {
		return false, "", fmt.Errorf("load quota: %w", err)
	}
	ok, reason := Evaluate(q, r, delta)
	return ok, reason, nil
}

// Evaluate is false exactly when current + delta exceeds max.
func Evaluate(q models.Quota, r Resource, delta int64) (bool, string) {
	var current, limit int64
	switch r {
	case Documents:
		current, limit = q.CurrentDocuments, q.MaxDocuments
	case Storage:
		current, limit = q.CurrentStorageBytes, q.MaxStorageBytes
	case ChatSessions:
		current, limit = q.CurrentChatSessions, q.MaxChatSessions
	case Chunks:
		current, limit = q.CurrentChunks, q.MaxChunks
	case APICalls:
		if q.MaxAPICallsPerDay == nil {
			return true, ""
		}
		current, limit = q.APICallsToday, *q.MaxAPICallsPerDay
	default:
		return false, fmt.Sprintf("Unknown quota resource %q", r)
	}
	if current+delta > limit {
		return false, limitReason(r, limit)
	}
	return true, ""
}

func limitReason(r Resource, limit int64) string {
	switch r {
	case Documents:
		return fmt.Sprintf("Document limit reached (%d)", limit)
	case Storage:
		return fmt.Sprintf("Storage limit reached (%.2f GB)", float64(limit)/gib)
	case ChatSessions:
		return fmt.Sprintf("Chat session limit reached (%d)", limit)
	case Chunks:
		return fmt.Sprintf("Chunk limit reached (%d)", limit)
	case APICalls:
		return fmt.Sprintf("Daily API call limit reached (%d)", limit)
	}
	return "Quota limit reached"
}

// Apply mutates counters after the resource change is durable.
func (g *Guard) Apply(ctx context.Context, tenantID string, d Delta) (models.Quota, error) {
	if d.IsZero() {
		return g.store.GetOrCreate(ctx, tenantID)
	}
	q, err := g.store.Add(ctx, tenantID, d)
	if err != nil {
		return models.Quota{}, fmt.Errorf("apply quota delta: %w", err)
	}
	return q, nil
}

// Reserve atomically admits d against every limit at once. A refusal is an
// *util.AdmissionError naming the first exceeded resource.
func (g *Guard) Reserve(ctx context.Context, tenantID string, d Delta) (models.Quota, error) {
	q, ok, err := g.store.Reserve(ctx, tenantID, d)
	if err != nil {
		return models.Quota{}, fmt.Errorf("reserve quota: %w", err)
	}
	if ok {
		return q, nil
	}
	rejected := &util.AdmissionError{Resource: "quota", Reason: "Quota limit reached"}
	for _, c := range []struct {
		r     Resource
		delta int64
	}{
		{Documents, d.Documents},
		{Storage, d.StorageBytes},
		{ChatSessions, d.ChatSessions},
		{Chunks, d.Chunks},
	} {
		if c.delta <= 0 {
			continue
		}
		if fits, reason := Evaluate(q, c.r, c.delta); !fits {
			rejected = &util.AdmissionError{Resource: string(c.r), Reason: reason}
			break
		}
	}
	g.log.Info("quota reservation refused", "tenant_id", tenantID, "resource", rejected.Resource, "reason", rejected.Reason)
	return q, rejected
}

// Release gives back a reservation whose resource was never created.
func (g *Guard) Release(ctx context.Context, tenantID string, d Delta) error {
	_, err := g.Apply(ctx, tenantID, d.Negate())
	return err
}

func (g *Guard) Snapshot(ctx context.Context, tenantID string) (models.Quota, error) {
	q, err := g.store.GetOrCreate(ctx, tenantID)
	if err != nil {
		return models.Quota{}, fmt.Errorf("load quota: %w", err)
	}
	return q, nil
}

// Recalculate overwrites the counters with values derived from ground truth.
func (g *Guard) Recalculate(ctx context.Context, tenantID string) (models.Quota, error) {
	u, err := g.store.Usage(ctx, tenantID)
	if err != nil {
		return models.Quota{}, fmt.Errorf("compute usage: %w", err)
	}
	q, err := g.store.Overwrite(ctx, tenantID, u)
	if err != nil {
		return models.Quota{}, fmt.Errorf("overwrite quota: %w", err)
	}
	g.log.Info("quota recalculated", "tenant_id", tenantID,
		"documents", u.Documents, "storage_bytes", u.StorageBytes, "chat_sessions", u.ChatSessions, "chunks", u.Chunks)
	return q, nil
}

func (g *Guard) ConsumeAPICall(ctx context.Context, tenantID string, now time.Time) error {
	q, ok, err := g.store.ConsumeAPICall(ctx, tenantID, now)
	if err != nil {
		return fmt.Errorf("consume api call: %w", err)
	}
	if !ok {
		limit := int64(0)
		if q.MaxAPICallsPerDay != nil {
			limit = *q.MaxAPICallsPerDay
		}
		return &util.AdmissionError{Resource: string(APICalls), Reason: limitReason(APICalls, limit)}
	}
	return nil
}

// NextReset is the start of the UTC day after now.
func NextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
