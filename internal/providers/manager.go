package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ragfolio/internal/config"
	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

type Credential struct {
	KeyID    string
	Provider string
	APIKey   string
}

// CredentialSource returns the tenant's active provider key, or an error
// wrapping util.ErrNoCredential when there is none.
type CredentialSource interface {
	Active(ctx context.Context, tenantID string) (Credential, error)
}

type CallRecorder interface {
	RecordCall(ctx context.Context, rec models.LLMCallLog)
}

type Bundle struct {
	Ref   ProviderRef
	LLM   LLMProvider
	Embed EmbeddingProvider
}

type Manager struct {
	cfg      config.Config
	creds    CredentialSource
	recorder CallRecorder
	log      *slog.Logger

	mu    sync.Mutex
	cache map[string]LLMEmbedProvider
}

type ManagerOption func(*Manager)

func WithRecorder(r CallRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l.With("component", "providers") }
}

func NewManager(cfg config.Config, creds CredentialSource, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:   cfg,
		creds: creds,
		log:   slog.Default().With("component", "providers"),
		cache: map[string]LLMEmbedProvider{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ForTenant resolves the providers backing one tenant's calls. A tenant
// without an active key falls back to the configured default provider, if
// any.
func (m *Manager) ForTenant(ctx context.Context, tenantID string) (Bundle, error) {
	ref, apiKey, err := m.resolve(ctx, tenantID)
	if err != nil {
		return Bundle{}, err
	}
	p, err := m.provider(ref, apiKey)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", util.ErrProvider, err)
	}
	r := &recorded{inner: p, tenantID: tenantID, recorder: m.recorder, log: m.log}
	return Bundle{Ref: ref, LLM: r, Embed: r}, nil
}

func (m *Manager) resolve(ctx context.Context, tenantID string) (ProviderRef, string, error) {
	if m.creds != nil {
		cred, err := m.creds.Active(ctx, tenantID)
		if err == nil {
			return ProviderRef{Raw: cred.Provider, Name: ParseProviderRef(cred.Provider).Name, KeyAlias: cred.KeyID}, cred.APIKey, nil
		}
		if !errors.Is(err, util.ErrNoCredential) {
			return ProviderRef{}, "", fmt.Errorf("%w: load credential: %w", util.ErrProvider, err)
		}
	}
	if m.cfg.DefaultProvider == "" {
		return ProviderRef{}, "", util.ErrNoCredential
	}
	ref := ParseProviderRef(m.cfg.DefaultProvider)
	return ref, resolveEnvKey(ref), nil
}

func (m *Manager) provider(ref ProviderRef, apiKey string) (LLMEmbedProvider, error) {
	cacheKey := ref.Name + "|" + ref.KeyAlias + "|" + util.SHA256Hex([]byte(apiKey))
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.cache[cacheKey]; ok {
		return p, nil
	}
	p, err := m.build(ref, apiKey)
	if err != nil {
		return nil, err
	}
	m.cache[cacheKey] = p
	return p, nil
}

func (m *Manager) build(ref ProviderRef, apiKey string) (LLMEmbedProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(m.cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(OpenAIOptions{
			KeyAlias:   ref.KeyAlias,
			APIKey:     apiKey,
			ChatModel:  m.cfg.ChatModel,
			EmbedModel: m.cfg.EmbedModel,
		})
	case "groq":
		return NewGroqProvider(ref.KeyAlias, apiKey, "")
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias, m.cfg.OllamaBaseURL, "")
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}

// recorded reports every call to the recorder with its latency and the
// classified error type.
type recorded struct {
	inner    LLMEmbedProvider
	tenantID string
	recorder CallRecorder
	log      *slog.Logger
}

func (r *recorded) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	start := time.Now()
	out, info, err := r.inner.Embed(ctx, req)
	r.record(ctx, req.Operation, info, start, err)
	return out, info, err
}

func (r *recorded) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	start := time.Now()
	out, info, err := r.inner.Generate(ctx, req)
	r.record(ctx, req.Operation, info, start, err)
	return out, info, err
}

func (r *recorded) record(ctx context.Context, op string, info ProviderInfo, start time.Time, err error) {
	rec := models.LLMCallLog{
		TenantID:  r.tenantID,
		Operation: op,
		Provider:  info.Name,
		Model:     info.Model,
		Status:    "ok",
		Latency:   time.Since(start),
		CreatedAt: start,
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = string(ClassifyError(err))
		r.log.Warn("provider call failed", "tenant_id", r.tenantID, "operation", op, "provider", info.Name, "error_type", rec.ErrorType, "error", err)
	}
	if r.recorder != nil {
		r.recorder.RecordCall(ctx, rec)
	}
}
