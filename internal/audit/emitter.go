// Package audit records tenant actions and provider calls off the request
// path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ragfolio/internal/models"
)

const (
	ActionDocUpload          = "DOC_UPLOAD"
	ActionDocDelete          = "DOC_DELETE"
	ActionDocReprocess       = "DOC_REPROCESS"
	ActionDocProcessStart    = "DOC_PROCESS_START"
	ActionDocProcessComplete = "DOC_PROCESS_COMPLETE"
	ActionDocProcessFail     = "DOC_PROCESS_FAIL"
	ActionChatCreate         = "CHAT_CREATE"
	ActionChatDelete         = "CHAT_DELETE"
	ActionKeyAdd             = "API_KEY_ADD"
	ActionKeyActivate        = "API_KEY_ACTIVATE"
	ActionKeyDelete          = "API_KEY_DELETE"
	ActionQuotaRecalculate   = "QUOTA_RECALCULATE"
)

// Sink accepts events without blocking the caller.
type Sink interface {
	Emit(ev models.AuditEvent)
}

type Writer interface {
	InsertEvent(ctx context.Context, ev models.AuditEvent) error
	InsertCall(ctx context.Context, rec models.LLMCallLog) error
}

type item struct {
	event *models.AuditEvent
	call  *models.LLMCallLog
}

// Emitter queues events on a buffered channel drained by one goroutine.
// When the buffer is full the event is dropped and counted.
type Emitter struct {
	w   Writer
	log *slog.Logger
	ch  chan item

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

func NewEmitter(w Writer, buffer int, log *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Emitter{
		w:    w,
		log:  log.With("component", "audit"),
		ch:   make(chan item, buffer),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) Emit(ev models.AuditEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	e.enqueue(item{event: &ev})
}

// RecordCall lets the emitter serve as the provider call recorder.
func (e *Emitter) RecordCall(_ context.Context, rec models.LLMCallLog) {
	e.enqueue(item{call: &rec})
}

func (e *Emitter) enqueue(it item) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.ch <- it:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			e.log.Warn("audit buffer full, dropping events", "dropped_total", n)
		}
	}
}

func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()
	<-e.done
}

func (e *Emitter) run() {
	defer close(e.done)
	for it := range e.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case it.event != nil:
			err = e.w.InsertEvent(ctx, *it.event)
			if err != nil {
				e.log.Error("write audit event failed", "action", it.event.Action, "tenant_id", it.event.TenantID, "error", err)
			}
		case it.call != nil:
			err = e.w.InsertCall(ctx, *it.call)
			if err != nil {
				e.log.Error("write llm call failed", "operation", it.call.Operation, "tenant_id", it.call.TenantID, "error", err)
			}
		}
		cancel()
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(models.AuditEvent) {}

// Memory keeps events in order; used by tests and the CLI dry runs.
type Memory struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (m *Memory) Emit(ev models.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *Memory) Events() []models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditEvent(nil), m.events...)
}

func (m *Memory) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Action)
	}
	return out
}
