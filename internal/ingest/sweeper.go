package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ragfolio/internal/audit"
	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

const TimedOutMessage = "processing timed out"

// Sweeper fails documents left in PROCESSING by a worker that died and, when
// it has a dispatcher, queues documents whose dispatch never happened.
type Sweeper struct {
	proc       *Processor
	store      Store
	dispatcher Dispatcher
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	log        *slog.Logger
}

func NewSweeper(proc *Processor, store Store, staleAfter time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		proc:       proc,
		store:      store,
		staleAfter: staleAfter,
		batch:      100,
		now:        time.Now,
		log:        log.With("component", "sweeper"),
	}
}

func (s *Sweeper) WithDispatcher(d Dispatcher) *Sweeper {
	s.dispatcher = d
	return s
}

// Sweep fails every stale document once and returns how many it changed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	docs, err := s.store.ListStale(ctx, models.StatusProcessing, cutoff, s.batch)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, d := range docs {
		if _, err := s.proc.machine.Apply(ctx, d.ID, Fail, Effects{ErrorMessage: TimedOutMessage}); err != nil {
			if errors.Is(err, util.ErrInvalidTransition) {
				continue
			}
			s.log.Error("sweep document failed", "document_id", d.ID, "error", err)
			continue
		}
		failed++
		s.proc.audit.Emit(models.AuditEvent{
			TenantID: d.TenantID, Action: audit.ActionDocProcessFail,
			ResourceType: "document", ResourceID: d.ID,
			Details: map[string]any{"error": TimedOutMessage},
		})
		s.log.Warn("stale document marked failed", "document_id", d.ID, "tenant_id", d.TenantID, "processing_since", d.UpdatedAt)
	}
	return failed, nil
}

// Requeue dispatches documents still UPLOADED after the stale window. Begin
// only starts UPLOADED documents, so a duplicate dispatch is a no-op.
func (s *Sweeper) Requeue(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-s.staleAfter)
	docs, err := s.store.ListStale(ctx, models.StatusUploaded, cutoff, s.batch)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, d := range docs {
		if err := s.dispatcher.Dispatch(ctx, d.ID); err != nil {
			s.log.Warn("requeue document failed", "document_id", d.ID, "error", err)
			continue
		}
		queued++
		s.log.Info("document requeued", "document_id", d.ID, "tenant_id", d.TenantID, "uploaded_at", d.UploadedAt)
	}
	return queued, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "error", err)
			}
			if _, err := s.Requeue(ctx); err != nil {
				s.log.Error("requeue failed", "error", err)
			}
		}
	}
}
