package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ragfolio/internal/audit"
	"ragfolio/internal/chat"
	"ragfolio/internal/credentials"
	"ragfolio/internal/documents"
	"ragfolio/internal/models"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"
)

const (
	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-ID"
	// multipart framing allowance on top of the file itself
	uploadOverhead = 1 << 20
)

type DocumentService interface {
	Upload(ctx context.Context, in documents.UploadInput) (models.Document, error)
	Get(ctx context.Context, tenantID, docID string) (models.Document, error)
	List(ctx context.Context, tenantID string, f storage.ListFilter) (documents.Page, error)
	Stats(ctx context.Context, tenantID string) (models.DocumentStats, error)
	Delete(ctx context.Context, tenantID, userID, docID string) error
	Reprocess(ctx context.Context, tenantID, userID, docID string) (models.Document, error)
}

type ChatService interface {
	CreateSession(ctx context.Context, tenantID, userID, title string) (models.ChatSession, error)
	GetSession(ctx context.Context, tenantID, id string) (models.ChatSession, error)
	ListSessions(ctx context.Context, tenantID string, offset, limit int) (chat.SessionPage, error)
	RenameSession(ctx context.Context, tenantID, id, title string) (models.ChatSession, error)
	DeleteSession(ctx context.Context, tenantID, userID, id string) error
	Messages(ctx context.Context, tenantID, sessionID string) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, tenantID, sessionID, content string) (chat.Exchange, error)
}

type KeyService interface {
	Add(ctx context.Context, in credentials.AddInput) (models.LLMKey, error)
	List(ctx context.Context, tenantID string) ([]models.LLMKey, error)
	Activate(ctx context.Context, tenantID, userID, id string) (models.LLMKey, error)
	Delete(ctx context.Context, tenantID, userID, id string) error
}

type QuotaService interface {
	Snapshot(ctx context.Context, tenantID string) (models.Quota, error)
	Recalculate(ctx context.Context, tenantID string) (models.Quota, error)
}

type Deps struct {
	Documents      DocumentService
	Chat           ChatService
	Keys           KeyService
	Quotas         QuotaService
	Audit          audit.Sink
	VectorSearch   bool
	MaxUploadBytes int64
	Log            *slog.Logger
}

type Server struct {
	docs         DocumentService
	chat         ChatService
	keys         KeyService
	quotas       QuotaService
	audit        audit.Sink
	vectorSearch bool
	maxUpload    int64
	log          *slog.Logger
}

func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	sink := d.Audit
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Server{
		docs:         d.Documents,
		chat:         d.Chat,
		keys:         d.Keys,
		quotas:       d.Quotas,
		audit:        sink,
		vectorSearch: d.VectorSearch,
		maxUpload:    d.MaxUploadBytes,
		log:          log.With("component", "api"),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/documents", s.tenant(s.handleDocuments))
	mux.HandleFunc("/documents/stats", s.tenant(s.handleDocumentStats))
	mux.HandleFunc("/documents/{id}", s.tenant(s.handleDocument))
	mux.HandleFunc("/documents/{id}/reprocess", s.tenant(s.handleReprocess))
	mux.HandleFunc("/quota", s.tenant(s.handleQuota))
	mux.HandleFunc("/quota/recalculate", s.tenant(s.handleQuotaRecalculate))
	mux.HandleFunc("/chat/sessions", s.tenant(s.handleSessions))
	mux.HandleFunc("/chat/sessions/{id}", s.tenant(s.handleSession))
	mux.HandleFunc("/chat/sessions/{id}/messages", s.tenant(s.handleMessages))
	mux.HandleFunc("/llm-keys", s.tenant(s.handleKeys))
	mux.HandleFunc("/llm-keys/{id}", s.tenant(s.handleKey))
	mux.HandleFunc("/llm-keys/{id}/activate", s.tenant(s.handleKeyActivate))
	return withCORS(mux)
}

type caller struct {
	tenantID string
	userID   string
}

type tenantHandler func(w http.ResponseWriter, r *http.Request, c caller)

// tenant trusts the identity headers set by the gateway in front of the API.
func (s *Server) tenant(h tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := caller{
			tenantID: strings.TrimSpace(r.Header.Get(tenantHeader)),
			userID:   strings.TrimSpace(r.Header.Get(userHeader)),
		}
		if c.tenantID == "" {
			writeErr(w, http.StatusBadRequest, invalid("X-Tenant-ID header is required"))
			return
		}
		h(w, r, c)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "vector_search": s.vectorSearch})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, c caller) {
	switch r.Method {
	case http.MethodGet:
		f, err := listFilter(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		page, err := s.docs.List(r.Context(), c.tenantID, f)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		s.handleUpload(w, r, c)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, c caller) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+uploadOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, http.StatusRequestEntityTooLarge, util.ErrFileTooLarge)
			return
		}
		writeErr(w, http.StatusBadRequest, invalid("Malformed multipart upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, invalid("No file was provided"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, invalid("Could not read uploaded file"))
		return
	}
	doc, err := s.docs.Upload(r.Context(), documents.UploadInput{
		TenantID: c.tenantID,
		UserID:   c.userID,
		FileName: header.Filename,
		Data:     data,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request, c caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, err := s.docs.Stats(r.Context(), c.tenantID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, c caller) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		doc, err := s.docs.Get(r.Context(), c.tenantID, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.docs.Delete(r.Context(), c.tenantID, c.userID, id); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request, c caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	doc, err := s.docs.Reprocess(r.Context(), c.tenantID, c.userID, r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request, c caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, err := s.quotas.Snapshot(r.Context(), c.tenantID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleQuotaRecalculate(w http.ResponseWriter, r *http.Request, c caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	q, err := s.quotas.Recalculate(r.Context(), c.tenantID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: c.tenantID, UserID: c.userID, Action: audit.ActionQuotaRecalculate,
		ResourceType: "quota", ResourceID: c.tenantID,
	})
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, c caller) {
	switch r.Method {
	case http.MethodGet:
		offset, limit, err := paging(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		page, err := s.chat.ListSessions(r.Context(), c.tenantID, offset, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeOptional(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		sess, err := s.chat.CreateSession(r.Context(), c.tenantID, c.userID, req.Title)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, c caller) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		sess, err := s.chat.GetSession(r.Context(), c.tenantID, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		msgs, err := s.chat.Messages(r.Context(), c.tenantID, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": msgs})
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, invalid("Malformed JSON request body"))
			return
		}
		sess, err := s.chat.RenameSession(r.Context(), c.tenantID, id, req.Title)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := s.chat.DeleteSession(r.Context(), c.tenantID, c.userID, id); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, c caller) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.chat.Messages(r.Context(), c.tenantID, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	case http.MethodPost:
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, invalid("Malformed JSON request body"))
			return
		}
		started := time.Now()
		ex, err := s.chat.SendMessage(r.Context(), c.tenantID, id, req.Content)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.log.Debug("chat message handled", "tenant_id", c.tenantID, "session_id", id, "duration", time.Since(started))
		writeJSON(w, http.StatusOK, ex)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request, c caller) {
	switch r.Method {
	case http.MethodGet:
		keys, err := s.keys.List(r.Context(), c.tenantID)
		if err != nil {
			s.fail(w, err)
			return
		}
		if keys == nil {
			keys = []models.LLMKey{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
	case http.MethodPost:
		var req struct {
			Provider string `json:"provider"`
			Label    string `json:"label"`
			APIKey   string `json:"api_key"`
			Activate *bool  `json:"activate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, invalid("Malformed JSON request body"))
			return
		}
		activate := req.Activate == nil || *req.Activate
		k, err := s.keys.Add(r.Context(), credentials.AddInput{
			TenantID: c.tenantID,
			UserID:   c.userID,
			Provider: req.Provider,
			Label:    req.Label,
			APIKey:   req.APIKey,
			Activate: activate,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, k)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request, c caller) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.keys.Delete(r.Context(), c.tenantID, c.userID, r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeyActivate(w http.ResponseWriter, r *http.Request, c caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	k, err := s.keys.Activate(r.Context(), c.tenantID, c.userID, r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

// fail maps a service error to its status and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Error("request failed", "status", code, "error", err)
	}
	writeErr(w, code, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, util.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, util.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, util.ErrAdmission), errors.Is(err, util.ErrNoCredential):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrCapabilityUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func listFilter(r *http.Request) (storage.ListFilter, error) {
	offset, limit, err := paging(r)
	if err != nil {
		return storage.ListFilter{}, err
	}
	f := storage.ListFilter{Offset: offset, Limit: limit, Search: r.URL.Query().Get("search")}
	if raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
		st := models.DocumentStatus(raw)
		switch st {
		case models.StatusUploaded, models.StatusProcessing, models.StatusReady, models.StatusFailed:
			f.Status = &st
		default:
			return storage.ListFilter{}, invalid(fmt.Sprintf("Unknown status %q", raw))
		}
	}
	return f, nil
}

func paging(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, invalid("offset must be a non-negative integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, invalid("limit must be a positive integer")
		}
	}
	return offset, limit, nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return invalid("Malformed JSON request body")
	}
	return nil
}

func invalid(reason string) error {
	return &util.AdmissionError{Resource: "request", Reason: reason, Kind: util.ErrInvalidInput}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "RF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		code = "RF-API-5020"
		msg = "Upstream model provider unavailable. Retry shortly."
	case status == http.StatusServiceUnavailable:
		code = "RF-API-5030"
		msg = "Vector search is not available on this deployment."
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "RF-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "RF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "RF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "RF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "RF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "RF-API-4009"
		msg = "Operation conflicts with the document's current status."
	case status == http.StatusMethodNotAllowed:
		code = "RF-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestEntityTooLarge:
		code = "RF-API-4013"
		msg = "Uploaded file is too large."
	case status == http.StatusUnsupportedMediaType:
		code = "RF-API-4015"
		msg = "Unsupported file type. Allowed: .txt, .pdf, .docx."
	case status == http.StatusTooManyRequests:
		code = "RF-API-4029"
		msg = "Quota limit reached."
	}

	// For 4xx, surface only reasons written for users.
	if status >= 400 && status < 500 {
		var adm *util.AdmissionError
		switch {
		case errors.As(err, &adm):
			msg = adm.Reason
		case errors.Is(err, util.ErrNoCredential):
			msg = "No active API key configured. Add one under LLM keys."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
