// Package credentials manages per-tenant provider keys.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"ragfolio/internal/audit"
	"ragfolio/internal/models"
	"ragfolio/internal/providers"
	"ragfolio/internal/secrets"
	"ragfolio/internal/util"
)

type KeyStore interface {
	Create(ctx context.Context, k models.LLMKey, activate bool) (models.LLMKey, error)
	List(ctx context.Context, tenantID string) ([]models.LLMKey, error)
	Active(ctx context.Context, tenantID string) (models.LLMKey, error)
	Activate(ctx context.Context, tenantID, id string) (models.LLMKey, error)
	Delete(ctx context.Context, tenantID, id string) error
	TouchLastUsed(ctx context.Context, id string) error
}

var supported = map[string]bool{"openai": true, "groq": true, "ollama": true, "mock": true}

type AddInput struct {
	TenantID string
	UserID   string
	Provider string
	Label    string
	APIKey   string
	Activate bool
}

type Service struct {
	store KeyStore
	box   *secrets.Box
	audit audit.Sink
	log   *slog.Logger
}

func NewService(store KeyStore, box *secrets.Box, sink audit.Sink, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, box: box, audit: sink, log: log.With("component", "credentials")}
}

var _ providers.CredentialSource = (*Service)(nil)

func (s *Service) Add(ctx context.Context, in AddInput) (models.LLMKey, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if !supported[provider] {
		return models.LLMKey{}, &util.AdmissionError{Resource: "llm_key", Reason: fmt.Sprintf("Unsupported provider %q", in.Provider), Kind: util.ErrInvalidInput}
	}
	key := strings.TrimSpace(in.APIKey)
	if key == "" && provider != "ollama" && provider != "mock" {
		return models.LLMKey{}, &util.AdmissionError{Resource: "llm_key", Reason: "API key is required", Kind: util.ErrInvalidInput}
	}
	if s.box == nil {
		return models.LLMKey{}, secrets.ErrNoSecret
	}
	sealed, err := s.box.Seal([]byte(key))
	if err != nil {
		return models.LLMKey{}, fmt.Errorf("seal api key: %w", err)
	}
	out, err := s.store.Create(ctx, models.LLMKey{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		Provider:   provider,
		Label:      strings.TrimSpace(in.Label),
		KeyPreview: util.MaskSecret(key),
		Sealed:     sealed,
		CreatedBy:  in.UserID,
	}, in.Activate)
	if err != nil {
		return models.LLMKey{}, err
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: in.TenantID, UserID: in.UserID, Action: audit.ActionKeyAdd,
		ResourceType: "llm_key", ResourceID: out.ID,
		Details: map[string]any{"provider": provider, "active": out.IsActive},
	})
	return out, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]models.LLMKey, error) {
	return s.store.List(ctx, tenantID)
}

func (s *Service) Activate(ctx context.Context, tenantID, userID, id string) (models.LLMKey, error) {
	out, err := s.store.Activate(ctx, tenantID, id)
	if err != nil {
		return models.LLMKey{}, err
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: tenantID, UserID: userID, Action: audit.ActionKeyActivate,
		ResourceType: "llm_key", ResourceID: id,
	})
	return out, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, userID, id string) error {
	if err := s.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	s.audit.Emit(models.AuditEvent{
		TenantID: tenantID, UserID: userID, Action: audit.ActionKeyDelete,
		ResourceType: "llm_key", ResourceID: id,
	})
	return nil
}

// Active decrypts the tenant's active key.
func (s *Service) Active(ctx context.Context, tenantID string) (providers.Credential, error) {
	k, err := s.store.Active(ctx, tenantID)
	if errors.Is(err, util.ErrNotFound) {
		return providers.Credential{}, util.ErrNoCredential
	}
	if err != nil {
		return providers.Credential{}, err
	}
	if s.box == nil {
		return providers.Credential{}, secrets.ErrNoSecret
	}
	plain, err := s.box.Open(k.Sealed)
	if err != nil {
		return providers.Credential{}, fmt.Errorf("open api key %s: %w", k.ID, err)
	}
	if err := s.store.TouchLastUsed(ctx, k.ID); err != nil {
		s.log.Warn("touch api key failed", "key_id", k.ID, "error", err)
	}
	return providers.Credential{KeyID: k.ID, Provider: k.Provider, APIKey: string(plain)}, nil
}
