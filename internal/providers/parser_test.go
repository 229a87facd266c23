package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProviderRef(t *testing.T) {
	ref := ParseProviderRef(" OpenAI:team-a ")
	require.Equal(t, "openai", ref.Name)
	require.Equal(t, "team-a", ref.KeyAlias)

	ref = ParseProviderRef("mock")
	require.Equal(t, "mock", ref.Name)
	require.Empty(t, ref.KeyAlias)
}

func TestResolveEnvKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "global")
	t.Setenv("RAGFOLIO_OPENAI_KEY_TEAM_A", "team")
	require.Equal(t, "team", resolveEnvKey(ParseProviderRef("openai:team-a")))
	require.Equal(t, "global", resolveEnvKey(ParseProviderRef("openai")))
}
