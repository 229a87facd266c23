// Package documents admits, lists and removes tenant documents and hands new
// uploads to ingestion.
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ragfolio/internal/audit"
	"ragfolio/internal/ingest"
	"ragfolio/internal/models"
	"ragfolio/internal/quota"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"
)

type Store interface {
	Create(ctx context.Context, d models.Document) (models.Document, error)
	Get(ctx context.Context, tenantID, docID string) (models.Document, error)
	List(ctx context.Context, tenantID string, f storage.ListFilter) ([]models.Document, int, error)
	Stats(ctx context.Context, tenantID string) (models.DocumentStats, error)
	SoftDelete(ctx context.Context, tenantID, docID string) (models.Document, int64, error)
}

type Objects interface {
	Save(ctx context.Context, tenantID, fileName string, data []byte) (string, error)
	Delete(ctx context.Context, locator string) (bool, error)
}

type UploadInput struct {
	TenantID string
	UserID   string
	FileName string
	Data     []byte
}

type Page struct {
	Documents []models.Document `json:"documents"`
	Total     int               `json:"total"`
	Offset    int               `json:"offset"`
	Limit     int               `json:"limit"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	store      Store
	objects    Objects
	machine    *ingest.Machine
	guard      *quota.Guard
	dispatcher ingest.Dispatcher
	audit      audit.Sink
	maxBytes   int64
	log        *slog.Logger
}

func NewService(store Store, objects Objects, machine *ingest.Machine, guard *quota.Guard, dispatcher ingest.Dispatcher, sink audit.Sink, maxBytes int64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		store:      store,
		objects:    objects,
		machine:    machine,
		guard:      guard,
		dispatcher: dispatcher,
		audit:      sink,
		maxBytes:   maxBytes,
		log:        log.With("component", "documents"),
	}
}

// TypeOf maps a file name to a supported document type by extension.
func TypeOf(fileName string) (models.DocumentType, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".txt":
		return models.DocumentTXT, nil
	case ".pdf":
		return models.DocumentPDF, nil
	case ".docx":
		return models.DocumentDOCX, nil
	}
	return "", &util.AdmissionError{
		Resource: "file_type",
		Kind:     util.ErrUnsupportedType,
		Reason:   fmt.Sprintf("Unsupported file type %q. Allowed: .txt, .pdf, .docx", filepath.Ext(fileName)),
	}
}

// Upload admits a file, stores it and queues ingestion. The document exists
// as UPLOADED even if dispatch fails; the sweeper requeues it later.
func (s *Service) Upload(ctx context.Context, in UploadInput) (models.Document, error) {
	name := filepath.Base(strings.TrimSpace(in.FileName))
	docType, err := TypeOf(name)
	if err != nil {
		return models.Document{}, err
	}
	size := int64(len(in.Data))
	if size == 0 {
		return models.Document{}, &util.AdmissionError{Resource: "file_size", Reason: "Uploaded file is empty", Kind: util.ErrEmptyUpload}
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return models.Document{}, &util.AdmissionError{
			Resource: "file_size",
			Reason:   fmt.Sprintf("File exceeds the %d MB upload limit", s.maxBytes>>20),
			Kind:     util.ErrFileTooLarge,
		}
	}

	reservation := quota.Delta{Documents: 1, StorageBytes: size}
	if _, err := s.guard.Reserve(ctx, in.TenantID, reservation); err != nil {
		return models.Document{}, err
	}
	release := func(cause error) error {
		if err := s.guard.Release(ctx, in.TenantID, reservation); err != nil {
			s.log.Error("release quota reservation", "tenant_id", in.TenantID, "error", err)
		}
		return cause
	}

	locator, err := s.objects.Save(ctx, in.TenantID, name, in.Data)
	if err != nil {
		return models.Document{}, release(fmt.Errorf("save upload: %w", err))
	}
	doc, err := s.store.Create(ctx, models.Document{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		UploadedBy: in.UserID,
		FileName:   name,
		FileType:   docType,
		FileSize:   size,
		Checksum:   util.SHA256Hex(in.Data),
		Locator:    locator,
		Status:     models.StatusUploaded,
	})
	if err != nil {
		if _, derr := s.objects.Delete(ctx, locator); derr != nil {
			s.log.Warn("remove orphaned upload", "locator", locator, "error", derr)
		}
		return models.Document{}, release(err)
	}

	s.audit.Emit(models.AuditEvent{
		TenantID: in.TenantID, UserID: in.UserID, Action: audit.ActionDocUpload,
		ResourceType: "document", ResourceID: doc.ID,
		Details: map[string]any{"file_name": name, "file_size": size},
	})
	s.log.Info("document uploaded", "tenant_id", in.TenantID, "document_id", doc.ID, "file_type", string(docType), "bytes", size)
	s.dispatch(ctx, doc)
	return doc, nil
}

func (s *Service) dispatch(ctx context.Context, doc models.Document) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, doc.ID); err != nil {
		s.log.Error("dispatch ingestion", "document_id", doc.ID, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, tenantID, docID string) (models.Document, error) {
	return s.store.Get(ctx, tenantID, docID)
}

func (s *Service) List(ctx context.Context, tenantID string, f storage.ListFilter) (Page, error) {
	if f.Offset < 0 {
		f.Offset = 0
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultPageSize
	case f.Limit > maxPageSize:
		f.Limit = maxPageSize
	}
	f.Search = strings.TrimSpace(f.Search)
	docs, total, err := s.store.List(ctx, tenantID, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Documents: docs, Total: total, Offset: f.Offset, Limit: f.Limit}, nil
}

func (s *Service) Stats(ctx context.Context, tenantID string) (models.DocumentStats, error) {
	return s.store.Stats(ctx, tenantID)
}

// Delete soft-deletes the document with its chunks, removes the stored bytes
// and gives the document, its bytes and its chunks back to the quota.
func (s *Service) Delete(ctx context.Context, tenantID, userID, docID string) error {
	doc, removed, err := s.store.SoftDelete(ctx, tenantID, docID)
	if err != nil {
		return err
	}
	if _, err := s.objects.Delete(ctx, doc.Locator); err != nil {
		s.log.Warn("remove stored file", "document_id", docID, "error", err)
	}
	if _, err := s.guard.Apply(ctx, tenantID, quota.Delta{Documents: 1, StorageBytes: doc.FileSize, Chunks: removed}.Negate()); err != nil {
		s.log.Error("release document quota", "tenant_id", tenantID, "document_id", docID, "error", err)
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: tenantID, UserID: userID, Action: audit.ActionDocDelete,
		ResourceType: "document", ResourceID: docID,
		Details: map[string]any{"file_name": doc.FileName, "chunks_removed": removed},
	})
	return nil
}

// Reprocess resets a READY or FAILED document to UPLOADED, dropping its
// chunks, and queues it again.
func (s *Service) Reprocess(ctx context.Context, tenantID, userID, docID string) (models.Document, error) {
	if _, err := s.store.Get(ctx, tenantID, docID); err != nil {
		return models.Document{}, err
	}
	doc, err := s.machine.Apply(ctx, docID, ingest.Reset, ingest.Effects{})
	if err != nil {
		return models.Document{}, err
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: tenantID, UserID: userID, Action: audit.ActionDocReprocess,
		ResourceType: "document", ResourceID: docID,
	})
	s.dispatch(ctx, doc)
	return doc, nil
}
