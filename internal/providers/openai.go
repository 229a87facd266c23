package providers

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

type OpenAIOptions struct {
	Name       string
	KeyAlias   string
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
	// NoEmbeddings is set for OpenAI-compatible backends without an
	// embeddings endpoint.
	NoEmbeddings bool
}

func NewOpenAIProvider(o OpenAIOptions) (LLMEmbedProvider, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("openai key missing for alias %q", o.KeyAlias)
	}
	if o.Name == "" {
		o.Name = "openai"
	}
	if o.ChatModel == "" {
		o.ChatModel = "gpt-4o-mini"
	}
	if o.EmbedModel == "" {
		o.EmbedModel = "text-embedding-ada-002"
	}
	opts := []openai.Option{
		openai.WithToken(o.APIKey),
		openai.WithModel(o.ChatModel),
		openai.WithEmbeddingModel(o.EmbedModel),
	}
	if o.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(o.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", o.Name, err)
	}
	p := &chainProvider{
		name:       o.Name,
		keyAlias:   o.KeyAlias,
		chatModel:  o.ChatModel,
		embedModel: o.EmbedModel,
		llm:        client,
	}
	if !o.NoEmbeddings {
		emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
		if err != nil {
			return nil, fmt.Errorf("create %s embedder: %w", o.Name, err)
		}
		p.embedder = emb
	}
	return p, nil
}
