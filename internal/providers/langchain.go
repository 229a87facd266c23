package providers

import (
	"context"
	"fmt"
	"strings"

	"ragfolio/internal/util"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// chainProvider adapts a langchaingo model to the provider interfaces. A nil
// embedder means the backend cannot embed.
type chainProvider struct {
	name       string
	keyAlias   string
	chatModel  string
	embedModel string
	llm        llms.Model
	embedder   embeddings.Embedder
	dimFix     bool
}

func (p *chainProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: p.name, Model: model, Key: p.keyAlias}
}

func (p *chainProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := p.info(p.embedModel)
	if p.embedder == nil {
		return nil, info, fmt.Errorf("%w: %s does not support embeddings", util.ErrProvider, p.name)
	}
	if len(req.Inputs) == 0 {
		return nil, info, nil
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, req.Inputs)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s embedding request failed: %w", util.ErrProvider, p.name, err)
	}
	if p.dimFix {
		for i := range vecs {
			vecs[i] = matchDimension(vecs[i], req.Dimension)
		}
	}
	return vecs, info, nil
}

func (p *chainProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := p.info(p.chatModel)
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := p.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("%w: %s generate request failed: %w", util.ErrProvider, p.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return GenerateResponse{}, info, fmt.Errorf("%w: %s returned empty choices", util.ErrProvider, p.name)
	}
	return GenerateResponse{Text: strings.TrimSpace(resp.Choices[0].Content)}, info, nil
}

func toMessageContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	return out
}

func chatMessageType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
