// Package chat runs tenant chat sessions on top of the RAG orchestrator.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragfolio/internal/audit"
	"ragfolio/internal/models"
	"ragfolio/internal/quota"
	"ragfolio/internal/rag"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"
)

type Store interface {
	CreateSession(ctx context.Context, s models.ChatSession) (models.ChatSession, error)
	GetSession(ctx context.Context, tenantID, id string) (models.ChatSession, error)
	ListSessions(ctx context.Context, tenantID string, offset, limit int) ([]models.ChatSession, int, error)
	RenameSession(ctx context.Context, tenantID, id, title string) (models.ChatSession, error)
	SetTitleIfDefault(ctx context.Context, id, title string) error
	SoftDeleteSession(ctx context.Context, tenantID, id string) error
	AppendMessage(ctx context.Context, m models.ChatMessage) (models.ChatMessage, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	Messages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

type Answerer interface {
	Answer(ctx context.Context, tenantID, query string, history []models.ChatMessage) (rag.Answer, error)
	Summarize(ctx context.Context, tenantID, text string) (string, error)
}

type Exchange struct {
	UserMessage      models.ChatMessage `json:"user_message"`
	AssistantMessage models.ChatMessage `json:"assistant_message"`
}

type SessionPage struct {
	Sessions []models.ChatSession `json:"sessions"`
	Total    int                  `json:"total"`
	Offset   int                  `json:"offset"`
	Limit    int                  `json:"limit"`
}

const maxTitleRunes = 200

type Service struct {
	store        Store
	answerer     Answerer
	guard        *quota.Guard
	audit        audit.Sink
	historyTurns int
	now          func() time.Time
	log          *slog.Logger
}

func NewService(store Store, answerer Answerer, guard *quota.Guard, sink audit.Sink, historyTurns int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if historyTurns <= 0 {
		historyTurns = 10
	}
	return &Service{
		store:        store,
		answerer:     answerer,
		guard:        guard,
		audit:        sink,
		historyTurns: historyTurns,
		now:          time.Now,
		log:          log.With("component", "chat"),
	}
}

func (s *Service) CreateSession(ctx context.Context, tenantID, userID, title string) (models.ChatSession, error) {
	reservation := quota.Delta{ChatSessions: 1}
	if _, err := s.guard.Reserve(ctx, tenantID, reservation); err != nil {
		return models.ChatSession{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = storage.DefaultSessionTitle
	}
	sess, err := s.store.CreateSession(ctx, models.ChatSession{TenantID: tenantID, UserID: userID, Title: util.CleanTitle(title, maxTitleRunes)})
	if err != nil {
		if rerr := s.guard.Release(ctx, tenantID, reservation); rerr != nil {
			s.log.Error("release chat session reservation", "tenant_id", tenantID, "error", rerr)
		}
		return models.ChatSession{}, err
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: tenantID, UserID: userID, Action: audit.ActionChatCreate,
		ResourceType: "chat_session", ResourceID: sess.ID,
	})
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, tenantID, id string) (models.ChatSession, error) {
	return s.store.GetSession(ctx, tenantID, id)
}

func (s *Service) ListSessions(ctx context.Context, tenantID string, offset, limit int) (SessionPage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	sessions, total, err := s.store.ListSessions(ctx, tenantID, offset, limit)
	if err != nil {
		return SessionPage{}, err
	}
	return SessionPage{Sessions: sessions, Total: total, Offset: offset, Limit: limit}, nil
}

func (s *Service) RenameSession(ctx context.Context, tenantID, id, title string) (models.ChatSession, error) {
	title = util.CleanTitle(title, maxTitleRunes)
	if title == "" {
		return models.ChatSession{}, &util.AdmissionError{Resource: "chat_session", Reason: "Title is required", Kind: util.ErrInvalidInput}
	}
	return s.store.RenameSession(ctx, tenantID, id, title)
}

func (s *Service) DeleteSession(ctx context.Context, tenantID, userID, id string) error {
	if err := s.store.SoftDeleteSession(ctx, tenantID, id); err != nil {
		return err
	}
	if _, err := s.guard.Apply(ctx, tenantID, quota.Delta{ChatSessions: -1}); err != nil {
		s.log.Error("release chat session quota", "tenant_id", tenantID, "session_id", id, "error", err)
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: tenantID, UserID: userID, Action: audit.ActionChatDelete,
		ResourceType: "chat_session", ResourceID: id,
	})
	return nil
}

func (s *Service) Messages(ctx context.Context, tenantID, sessionID string) ([]models.ChatMessage, error) {
	if _, err := s.store.GetSession(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// SendMessage stores the user's question, answers it from the tenant's
// documents and stores the reply with its sources. The user message stays
// stored when answering fails.
func (s *Service) SendMessage(ctx context.Context, tenantID, sessionID, content string) (Exchange, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Exchange{}, &util.AdmissionError{Resource: "chat_message", Reason: "Message content is required", Kind: util.ErrInvalidInput}
	}
	sess, err := s.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return Exchange{}, err
	}
	if err := s.guard.ConsumeAPICall(ctx, tenantID, s.now()); err != nil {
		return Exchange{}, err
	}

	history, err := s.store.RecentMessages(ctx, sessionID, s.historyTurns)
	if err != nil {
		return Exchange{}, err
	}
	userMsg, err := s.store.AppendMessage(ctx, models.ChatMessage{SessionID: sessionID, Role: models.RoleUser, Content: content})
	if err != nil {
		return Exchange{}, err
	}

	started := s.now()
	answer, err := s.answerer.Answer(ctx, tenantID, content, history)
	if err != nil {
		s.log.Error("answer failed", "tenant_id", tenantID, "session_id", sessionID, "error", err)
		return Exchange{}, fmt.Errorf("answer message: %w", err)
	}
	reply, err := s.store.AppendMessage(ctx, models.ChatMessage{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   answer.Content,
		Sources:   answer.Sources,
	})
	if err != nil {
		return Exchange{}, err
	}
	s.log.Info("message answered", "tenant_id", tenantID, "session_id", sessionID, "sources", len(answer.Sources), "duration", s.now().Sub(started))

	if sess.Title == storage.DefaultSessionTitle {
		s.autoTitle(ctx, tenantID, sessionID, content)
	}
	return Exchange{UserMessage: userMsg, AssistantMessage: reply}, nil
}

func (s *Service) autoTitle(ctx context.Context, tenantID, sessionID, content string) {
	title, err := s.answerer.Summarize(ctx, tenantID, content)
	if err != nil {
		s.log.Warn("generate chat title", "session_id", sessionID, "error", err)
		return
	}
	if title == "" {
		return
	}
	if err := s.store.SetTitleIfDefault(ctx, sessionID, title); err != nil {
		s.log.Warn("store chat title", "session_id", sessionID, "error", err)
	}
}
