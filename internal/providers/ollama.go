package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// NewOllamaProvider supports local embeddings and chat via Ollama. The alias
// selects the embedding model, e.g. ollama:nomic.
func NewOllamaProvider(alias, baseURL, chatModel string) (LLMEmbedProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if chatModel == "" {
		chatModel = "llama3.1"
	}
	embedModel := resolveOllamaEmbedModel(alias)
	chat, err := ollama.New(ollama.WithModel(chatModel), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama chat client: %w", err)
	}
	embedClient, err := ollama.New(ollama.WithModel(embedModel), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama embed client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(embedClient)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &chainProvider{
		name:       "ollama",
		keyAlias:   alias,
		chatModel:  chatModel,
		embedModel: embedModel,
		llm:        chat,
		embedder:   emb,
		dimFix:     true,
	}, nil
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		key := "RAGFOLIO_OLLAMA_EMBED_MODEL_" + sanitizeEnvToken(alias)
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// ollama:mxbai-embed-large names the model directly.
		if strings.ContainsAny(alias, "-/.") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("RAGFOLIO_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

func sanitizeEnvToken(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
