package providers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ragfolio/internal/config"
	"ragfolio/internal/models"
	"ragfolio/internal/util"

	"github.com/stretchr/testify/require"
)

type fakeCreds struct {
	byTenant map[string]Credential
	err      error
}

func (f fakeCreds) Active(_ context.Context, tenantID string) (Credential, error) {
	if f.err != nil {
		return Credential{}, f.err
	}
	c, ok := f.byTenant[tenantID]
	if !ok {
		return Credential{}, util.ErrNoCredential
	}
	return c, nil
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []models.LLMCallLog
}

func (c *captureRecorder) RecordCall(_ context.Context, rec models.LLMCallLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func TestManagerUsesTenantCredential(t *testing.T) {
	rec := &captureRecorder{}
	m := NewManager(config.Config{EmbedDim: 8}, fakeCreds{byTenant: map[string]Credential{
		"t1": {KeyID: "k1", Provider: "mock", APIKey: "unused"},
	}}, WithRecorder(rec))

	b, err := m.ForTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "mock", b.Ref.Name)

	vecs, _, err := b.Embed.Embed(context.Background(), EmbedRequest{Operation: "embed_query", Inputs: []string{"q"}})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], 8)

	require.Len(t, rec.recs, 1)
	require.Equal(t, "t1", rec.recs[0].TenantID)
	require.Equal(t, "embed_query", rec.recs[0].Operation)
	require.Equal(t, "ok", rec.recs[0].Status)
}

func TestManagerMissingCredentialIsProviderError(t *testing.T) {
	m := NewManager(config.Config{EmbedDim: 8}, fakeCreds{})
	_, err := m.ForTenant(context.Background(), "nobody")
	require.ErrorIs(t, err, util.ErrNoCredential)
	require.ErrorIs(t, err, util.ErrProvider)
}

func TestManagerFallsBackToDefaultProvider(t *testing.T) {
	m := NewManager(config.Config{EmbedDim: 8, DefaultProvider: "mock"}, fakeCreds{})
	b, err := m.ForTenant(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, "mock", b.Ref.Name)
}

func TestManagerCredentialLookupFailure(t *testing.T) {
	m := NewManager(config.Config{DefaultProvider: "mock"}, fakeCreds{err: errors.New("db down")})
	_, err := m.ForTenant(context.Background(), "t1")
	require.ErrorIs(t, err, util.ErrProvider)
	require.NotErrorIs(t, err, util.ErrNoCredential)
}

func TestManagerRejectsUnknownProvider(t *testing.T) {
	m := NewManager(config.Config{}, fakeCreds{byTenant: map[string]Credential{"t1": {Provider: "acme", APIKey: "x"}}})
	_, err := m.ForTenant(context.Background(), "t1")
	require.ErrorIs(t, err, util.ErrProvider)
	require.Contains(t, err.Error(), "unsupported provider")
}

func TestManagerOpenAIWithoutKeyFails(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	m := NewManager(config.Config{DefaultProvider: "openai"}, nil)
	_, err := m.ForTenant(context.Background(), "t1")
	require.ErrorIs(t, err, util.ErrProvider)
}

func TestManagerCachesProviders(t *testing.T) {
	m := NewManager(config.Config{EmbedDim: 4, DefaultProvider: "mock"}, nil)
	_, err := m.ForTenant(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.ForTenant(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, m.cache, 1)
}
