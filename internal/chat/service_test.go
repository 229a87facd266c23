package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ragfolio/internal/audit"
	"ragfolio/internal/config"
	"ragfolio/internal/logging"
	"ragfolio/internal/models"
	"ragfolio/internal/quota"
	"ragfolio/internal/rag"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]models.ChatSession
	messages map[string][]models.ChatMessage
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]models.ChatSession{}, messages: map[string][]models.ChatMessage{}}
}

func (s *memStore) CreateSession(_ context.Context, sess models.ChatSession) (models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sess.ID = fmt.Sprintf("s%d", s.seq)
	if sess.Title == "" {
		sess.Title = storage.DefaultSessionTitle
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memStore) GetSession(_ context.Context, tenantID, id string) (models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.TenantID != tenantID || sess.DeletedAt != nil {
		return models.ChatSession{}, fmt.Errorf("chat session %s: %w", id, util.ErrNotFound)
	}
	return sess, nil
}

func (s *memStore) ListSessions(_ context.Context, tenantID string, offset, limit int) ([]models.ChatSession, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatSession
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.DeletedAt == nil {
			out = append(out, sess)
		}
	}
	return out, len(out), nil
}

func (s *memStore) RenameSession(ctx context.Context, tenantID, id, title string) (models.ChatSession, error) {
	sess, err := s.GetSession(ctx, tenantID, id)
	if err != nil {
		return sess, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Title = title
	s.sessions[id] = sess
	return sess, nil
}

func (s *memStore) SetTitleIfDefault(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess.Title == storage.DefaultSessionTitle {
		sess.Title = title
		s.sessions[id] = sess
	}
	return nil
}

func (s *memStore) SoftDeleteSession(ctx context.Context, tenantID, id string) error {
	sess, err := s.GetSession(ctx, tenantID, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess.DeletedAt = &now
	s.sessions[id] = sess
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, m models.ChatMessage) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.ID = fmt.Sprintf("m%d", s.seq)
	m.CreatedAt = time.Now()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	sess := s.sessions[m.SessionID]
	sess.MessageCount++
	s.sessions[m.SessionID] = sess
	return m, nil
}

func (s *memStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ChatMessage(nil), msgs...), nil
}

func (s *memStore) Messages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages[sessionID]...), nil
}

type stubAnswerer struct {
	answerErr    error
	summarizeErr error
	histories    [][]models.ChatMessage
}

func (a *stubAnswerer) Answer(_ context.Context, _ string, query string, history []models.ChatMessage) (rag.Answer, error) {
	a.histories = append(a.histories, history)
	if a.answerErr != nil {
		return rag.Answer{}, a.answerErr
	}
	return rag.Answer{
		Content: "answer to " + query,
		Sources: []models.MessageSource{{DocumentID: "d1", ChunkID: "c1", FileName: "faq.txt", RelevanceScore: 0.8, TextPreview: "Refunds..."}},
	}, nil
}

func (a *stubAnswerer) Summarize(context.Context, string, string) (string, error) {
	if a.summarizeErr != nil {
		return "", a.summarizeErr
	}
	return "Refund Policy Question", nil
}

type harness struct {
	svc    *Service
	store  *memStore
	ans    *stubAnswerer
	quotas *quota.MemoryStore
	audit  *audit.Memory
}

func newHarness(t *testing.T, defaults config.QuotaDefaults) harness {
	t.Helper()
	store := newMemStore()
	ans := &stubAnswerer{}
	quotas := quota.NewMemoryStore(defaults)
	sink := &audit.Memory{}
	log := logging.Discard()
	svc := NewService(store, ans, quota.NewGuard(quotas, log), sink, 10, log)
	return harness{svc: svc, store: store, ans: ans, quotas: quotas, audit: sink}
}

func defaults() config.QuotaDefaults {
	return config.QuotaDefaults{MaxDocuments: 10, MaxStorageBytes: 1 << 20, MaxChatSessions: 2, MaxChunks: 100}
}

func TestCreateSessionReservesQuota(t *testing.T) {
	h := newHarness(t, defaults())
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "u1", "")
	require.NoError(t, err)
	require.Equal(t, storage.DefaultSessionTitle, sess.Title)
	_, err = h.svc.CreateSession(ctx, "t1", "u1", "  Second  ")
	require.NoError(t, err)

	_, err = h.svc.CreateSession(ctx, "t1", "u1", "")
	require.ErrorIs(t, err, util.ErrQuotaExceeded)
	require.EqualError(t, err, "Chat session limit reached (2)")

	require.NoError(t, h.svc.DeleteSession(ctx, "t1", "u1", sess.ID))
	_, err = h.svc.CreateSession(ctx, "t1", "u1", "")
	require.NoError(t, err)

	q, _ := h.quotas.GetOrCreate(ctx, "t1")
	require.Equal(t, int64(2), q.CurrentChatSessions)
	require.Equal(t, []string{audit.ActionChatCreate, audit.ActionChatCreate, audit.ActionChatDelete, audit.ActionChatCreate}, h.audit.Actions())
}

func TestDeleteUnknownSessionKeepsQuota(t *testing.T) {
	h := newHarness(t, defaults())
	ctx := context.Background()
	_, err := h.svc.CreateSession(ctx, "t1", "", "")
	require.NoError(t, err)
	require.ErrorIs(t, h.svc.DeleteSession(ctx, "t1", "", "missing"), util.ErrNotFound)
	q, _ := h.quotas.GetOrCreate(ctx, "t1")
	require.Equal(t, int64(1), q.CurrentChatSessions)
}

func TestSendMessageStoresExchangeAndTitlesSession(t *testing.T) {
	h := newHarness(t, defaults())
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "u1", "")
	require.NoError(t, err)

	ex, err := h.svc.SendMessage(ctx, "t1", sess.ID, " How do refunds work? ")
	require.NoError(t, err)
	require.Equal(t, "How do refunds work?", ex.UserMessage.Content)
	require.Equal(t, models.RoleAssistant, ex.AssistantMessage.Role)
	require.Equal(t, "answer to How do refunds work?", ex.AssistantMessage.Content)
	require.Len(t, ex.AssistantMessage.Sources, 1)
	require.Empty(t, h.ans.histories[0])

	got, err := h.svc.GetSession(ctx, "t1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.MessageCount)
	require.Equal(t, "Refund Policy Question", got.Title)

	_, err = h.svc.SendMessage(ctx, "t1", sess.ID, "And for annual plans?")
	require.NoError(t, err)
	require.Len(t, h.ans.histories[1], 2)
	require.Equal(t, models.RoleUser, h.ans.histories[1][0].Role)

	msgs, err := h.svc.Messages(ctx, "t1", sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
}

func TestSendMessageUsesTenPriorMessages(t *testing.T) {
	h := newHarness(t, defaults())
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "", "")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := h.svc.SendMessage(ctx, "t1", sess.ID, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	last := h.ans.histories[len(h.ans.histories)-1]
	require.Len(t, last, 10)
	require.Equal(t, "q0", last[0].Content)
	require.Equal(t, "answer to q4", last[9].Content)
}

func TestSendMessageKeepsUserTitle(t *testing.T) {
	h := newHarness(t, defaults())
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "", "Billing")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, "t1", sess.ID, "hi")
	require.NoError(t, err)
	got, _ := h.svc.GetSession(ctx, "t1", sess.ID)
	require.Equal(t, "Billing", got.Title)
}

func TestSendMessageTitleFailureIsNotAnError(t *testing.T) {
	h := newHarness(t, defaults())
	h.ans.summarizeErr = errors.New("rate limited")
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "", "")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, "t1", sess.ID, "hi")
	require.NoError(t, err)
	got, _ := h.svc.GetSession(ctx, "t1", sess.ID)
	require.Equal(t, storage.DefaultSessionTitle, got.Title)
}

func TestSendMessageAnswerFailureKeepsUserMessage(t *testing.T) {
	h := newHarness(t, defaults())
	h.ans.answerErr = fmt.Errorf("%w: upstream 500", util.ErrProvider)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "", "")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, "t1", sess.ID, "hi")
	require.ErrorIs(t, err, util.ErrProvider)
	got, _ := h.svc.GetSession(ctx, "t1", sess.ID)
	require.Equal(t, 1, got.MessageCount)
}

func TestSendMessageDailyLimit(t *testing.T) {
	d := defaults()
	limit := int64(1)
	d.MaxAPICallsDaily = &limit
	h := newHarness(t, d)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, "t1", "", "")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, "t1", sess.ID, "one")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, "t1", sess.ID, "two")
	require.ErrorIs(t, err, util.ErrQuotaExceeded)
	require.EqualError(t, err, "Daily API call limit reached (1)")
	got, _ := h.svc.GetSession(ctx, "t1", sess.ID)
	require.Equal(t, 2, got.MessageCount)
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t, defaults())
	ctx := context.Background()
	_, err := h.svc.SendMessage(ctx, "t1", "s1", "   ")
	require.ErrorIs(t, err, util.ErrInvalidInput)
	_, err = h.svc.SendMessage(ctx, "t1", "nope", "hi")
	require.ErrorIs(t, err, util.ErrNotFound)

	sess, err := h.svc.CreateSession(ctx, "t1", "", "")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, "t2", sess.ID, "hi")
	require.ErrorIs(t, err, util.ErrNotFound)
	_, err = h.svc.RenameSession(ctx, "t1", sess.ID, " \n ")
	require.ErrorIs(t, err, util.ErrInvalidInput)
}
