package providers

import (
	"os"
	"strings"
)

type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

// ParseProviderRef parses "name" or "name:alias".
func ParseProviderRef(raw string) ProviderRef {
	raw = strings.TrimSpace(raw)
	ref := ProviderRef{Raw: raw, Name: raw}
	if strings.Contains(raw, ":") {
		x := strings.SplitN(raw, ":", 2)
		ref.Name = strings.TrimSpace(x[0])
		ref.KeyAlias = strings.TrimSpace(x[1])
	}
	ref.Name = strings.ToLower(ref.Name)
	return ref
}

// resolveEnvKey finds a deployment-wide key for a fallback provider, trying
// RAGFOLIO_<NAME>_KEY_<ALIAS> before <NAME>_API_KEY.
func resolveEnvKey(ref ProviderRef) string {
	name := sanitizeEnvToken(ref.Name)
	if ref.KeyAlias != "" {
		if k := os.Getenv("RAGFOLIO_" + name + "_KEY_" + sanitizeEnvToken(ref.KeyAlias)); k != "" {
			return k
		}
	}
	return os.Getenv(name + "_API_KEY")
}
