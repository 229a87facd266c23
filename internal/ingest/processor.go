package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ragfolio/internal/audit"
	"ragfolio/internal/embedding"
	"ragfolio/internal/extract"
	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

const StrategySentence = "sentence"

const recordTimeout = 10 * time.Second

// Result describes how one ingestion run ended.
type Result struct {
	DocumentID string                `json:"document_id"`
	Status     models.DocumentStatus `json:"status"`
	ChunkCount int                   `json:"chunk_count"`
	Error      string                `json:"error,omitempty"`
}

type ObjectReader interface {
	Read(ctx context.Context, locator string) ([]byte, error)
}

type EmbedderSource interface {
	ForTenant(ctx context.Context, tenantID string) (*embedding.Embedder, error)
}

type ChunkConfig struct {
	Options  util.ChunkOptions
	Strategy string
}

type Processor struct {
	machine   *Machine
	store     Store
	objects   ObjectReader
	embedders EmbedderSource
	chunking  ChunkConfig
	audit     audit.Sink
	log       *slog.Logger
}

func NewProcessor(machine *Machine, store Store, objects ObjectReader, embedders EmbedderSource, chunking ChunkConfig, sink audit.Sink, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Processor{
		machine:   machine,
		store:     store,
		objects:   objects,
		embedders: embedders,
		chunking:  chunking,
		audit:     sink,
		log:       log.With("component", "processor"),
	}
}

// Process ingests one document end to end. It never returns an error: the
// outcome is in the Result and on the document row.
func (p *Processor) Process(ctx context.Context, docID string) Result {
	doc, err := p.Begin(ctx, docID)
	if err != nil {
		return p.current(ctx, docID, err)
	}
	return p.Run(ctx, doc)
}

// Begin commits the start transition before any work happens.
func (p *Processor) Begin(ctx context.Context, docID string) (models.Document, error) {
	doc, err := p.machine.Apply(ctx, docID, Start, Effects{})
	if err != nil {
		p.log.Warn("cannot start processing", "document_id", docID, "error", err)
		return models.Document{}, err
	}
	p.audit.Emit(models.AuditEvent{
		TenantID: doc.TenantID, Action: audit.ActionDocProcessStart,
		ResourceType: "document", ResourceID: doc.ID,
	})
	p.log.Info("processing started", "document_id", doc.ID, "tenant_id", doc.TenantID, "file_type", string(doc.FileType))
	return doc, nil
}

// Run does the work for a document already in PROCESSING and applies
// complete or fail.
func (p *Processor) Run(ctx context.Context, doc models.Document) Result {
	started := time.Now()
	chunks, err := p.build(ctx, doc)
	if err != nil {
		return p.Fail(ctx, doc, err.Error())
	}
	done, err := p.machine.Apply(ctx, doc.ID, Complete, Effects{Chunks: chunks})
	if err != nil {
		return p.Fail(ctx, doc, err.Error())
	}
	p.audit.Emit(models.AuditEvent{
		TenantID: doc.TenantID, Action: audit.ActionDocProcessComplete,
		ResourceType: "document", ResourceID: doc.ID,
		Details: map[string]any{"chunk_count": done.ChunkCount},
	})
	p.log.Info("processing completed", "document_id", doc.ID, "chunks", done.ChunkCount, "duration", time.Since(started))
	return Result{DocumentID: doc.ID, Status: done.Status, ChunkCount: done.ChunkCount}
}

// Fail marks a PROCESSING document FAILED with msg. The transition is written
// even when ctx is already done, e.g. after a task timeout.
func (p *Processor) Fail(ctx context.Context, doc models.Document, msg string) Result {
	p.log.Error("processing failed", "document_id", doc.ID, "tenant_id", doc.TenantID, "error", msg)
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := p.machine.Apply(recordCtx, doc.ID, Fail, Effects{ErrorMessage: msg}); err != nil {
		p.log.Error("cannot record failure", "document_id", doc.ID, "error", err)
	}
	p.audit.Emit(models.AuditEvent{
		TenantID: doc.TenantID, Action: audit.ActionDocProcessFail,
		ResourceType: "document", ResourceID: doc.ID,
		Details: map[string]any{"error": msg},
	})
	return Result{DocumentID: doc.ID, Status: models.StatusFailed, Error: msg}
}

// FailByID is used when only the id is known, e.g. after an activity
// timed out.
func (p *Processor) FailByID(ctx context.Context, docID, msg string) Result {
	doc, err := p.store.Get(ctx, "", docID)
	if err != nil {
		return Result{DocumentID: docID, Error: err.Error()}
	}
	if doc.Status != models.StatusProcessing {
		return Result{DocumentID: docID, Status: doc.Status, ChunkCount: doc.ChunkCount, Error: msg}
	}
	return p.Fail(ctx, doc, msg)
}

func (p *Processor) build(ctx context.Context, doc models.Document) ([]models.Chunk, error) {
	data, err := p.objects.Read(ctx, doc.Locator)
	if err != nil {
		return nil, fmt.Errorf("read document bytes: %w", err)
	}
	res, err := extract.Extract(ctx, data, doc.FileType)
	if err != nil {
		return nil, err
	}
	pieces := p.chunk(res)
	if len(pieces) == 0 {
		return nil, util.ErrNoChunks
	}
	embedder, err := p.embedders.ForTenant(ctx, doc.TenantID)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(pieces))
	for i, c := range pieces {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Embedding:  vectors[i],
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
			Page:       c.Page,
		}
	}
	return chunks, nil
}

func (p *Processor) chunk(res extract.Result) []util.TextChunk {
	var pieces []util.TextChunk
	if p.chunking.Strategy == StrategySentence {
		pieces = util.ChunkSentences(res.Text, p.chunking.Options)
	} else {
		pieces = util.ChunkText(res.Text, p.chunking.Options)
	}
	for i := range pieces {
		if pieces[i].Page == nil && pieces[i].CharStart != nil {
			pieces[i].Page = res.PageAt(*pieces[i].CharStart)
		}
	}
	return pieces
}

// current reports the document as it is after a transition was refused.
func (p *Processor) current(ctx context.Context, docID string, cause error) Result {
	r := Result{DocumentID: docID, Error: cause.Error()}
	if doc, err := p.store.Get(ctx, "", docID); err == nil {
		r.Status = doc.Status
		r.ChunkCount = doc.ChunkCount
	}
	return r
}
