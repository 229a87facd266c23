// Package ingest drives documents through UPLOADED, PROCESSING, READY and
// FAILED.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ragfolio/internal/models"
	"ragfolio/internal/storage"
)

type Transition string

const (
	Start    Transition = "start"
	Complete Transition = "complete"
	Fail     Transition = "fail"
	Reset    Transition = "reset"
)

type rule struct {
	from []models.DocumentStatus
	to   models.DocumentStatus
}

var transitions = map[Transition]rule{
	Start:    {from: []models.DocumentStatus{models.StatusUploaded}, to: models.StatusProcessing},
	Complete: {from: []models.DocumentStatus{models.StatusProcessing}, to: models.StatusReady},
	Fail:     {from: []models.DocumentStatus{models.StatusProcessing}, to: models.StatusFailed},
	Reset:    {from: []models.DocumentStatus{models.StatusReady, models.StatusFailed}, to: models.StatusUploaded},
}

// Allowed reports whether t may fire from status s.
func Allowed(t Transition, s models.DocumentStatus) bool {
	r, ok := transitions[t]
	if !ok {
		return false
	}
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// Effects carries the inputs a transition needs: chunks for complete and the
// message for fail.
type Effects struct {
	Chunks       []models.Chunk
	ErrorMessage string
}

// Store is the persistence the machine and processor need.
type Store interface {
	ApplyTransition(ctx context.Context, docID string, from []models.DocumentStatus, to models.DocumentStatus, eff storage.TransitionEffects) (models.Document, error)
	Get(ctx context.Context, tenantID, docID string) (models.Document, error)
	ListStale(ctx context.Context, status models.DocumentStatus, cutoff time.Time, limit int) ([]models.Document, error)
}

type Machine struct {
	store Store
	log   *slog.Logger
}

func NewMachine(store Store, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{store: store, log: log.With("component", "ingest")}
}

// Apply runs one transition with its side effects in a single database
// transaction. A document no longer in an allowed source state yields
// util.ErrInvalidTransition.
func (m *Machine) Apply(ctx context.Context, docID string, t Transition, eff Effects) (models.Document, error) {
	r, ok := transitions[t]
	if !ok {
		return models.Document{}, fmt.Errorf("unknown transition %q", t)
	}
	var se storage.TransitionEffects
	switch t {
	case Complete:
		se.Chunks = eff.Chunks
		se.InsertChunks = true
		se.SetProcessedAt = true
	case Fail:
		msg := eff.ErrorMessage
		se.ErrorMessage = &msg
	case Reset:
		se.DeleteChunks = true
		se.ClearProcessedAt = true
	}
	doc, err := m.store.ApplyTransition(ctx, docID, r.from, r.to, se)
	if err != nil {
		return models.Document{}, fmt.Errorf("%s document %s: %w", t, docID, err)
	}
	m.log.Debug("document transition", "document_id", docID, "transition", string(t), "status", string(doc.Status))
	return doc, nil
}
