// Package rag answers questions from a tenant's documents.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ragfolio/internal/embedding"
	"ragfolio/internal/models"
	"ragfolio/internal/providers"
	"ragfolio/internal/util"
	"ragfolio/internal/vector"
)

const (
	NoContextReply = "I couldn't find relevant information in the documents to answer your question."

	systemPrompt = `You are a helpful assistant that answers questions based on the provided context from documents.
Use the context to answer the user's question. If the context doesn't contain enough information,
say so. Cite the document names when referencing specific information.`

	summaryPrompt = "Summarize the following message in 3-5 words to be used as a chat title. Do not wrap in quotes."

	contextHeader  = "Context from documents:\n"
	contextTrailer = "\n\nBased on the above context, answer the user's question:"
	partSeparator  = "\n\n---\n\n"

	previewRunes  = 200
	maxTitleRunes = 80
)

type Answer struct {
	Content string                 `json:"content"`
	Sources []models.MessageSource `json:"sources"`
}

type EmbedderSource interface {
	ForTenant(ctx context.Context, tenantID string) (*embedding.Embedder, error)
}

type LLMSource interface {
	ForTenant(ctx context.Context, tenantID string) (providers.Bundle, error)
}

type Options struct {
	Limit        int
	MinScore     float64
	HistoryTurns int
	Temperature  float64
}

func DefaultOptions() Options {
	return Options{Limit: 5, MinScore: 0.7, HistoryTurns: 10, Temperature: 0.7}
}

type Orchestrator struct {
	embedders EmbedderSource
	llms      LLMSource
	retriever vector.Retriever
	opts      Options
	log       *slog.Logger
}

func NewOrchestrator(embedders EmbedderSource, llms LLMSource, retriever vector.Retriever, opts Options, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{embedders: embedders, llms: llms, retriever: retriever, opts: opts, log: log.With("component", "rag")}
}

// Answer embeds the query, retrieves context and generates a grounded
// reply. With no relevant chunks the canned reply is returned and no model
// is called.
func (o *Orchestrator) Answer(ctx context.Context, tenantID, query string, history []models.ChatMessage) (Answer, error) {
	embedder, err := o.embedders.ForTenant(ctx, tenantID)
	if err != nil {
		return Answer{}, err
	}
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return Answer{}, fmt.Errorf("embed query: %w", err)
	}
	results, err := o.retriever.Search(ctx, vec, tenantID, o.opts.Limit, o.opts.MinScore)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve context: %w", err)
	}
	if len(results) == 0 {
		o.log.Info("no relevant chunks", "tenant_id", tenantID, "vector_search", o.retriever.Available())
		return Answer{Content: NoContextReply, Sources: []models.MessageSource{}}, nil
	}

	bundle, err := o.llms.ForTenant(ctx, tenantID)
	if err != nil {
		return Answer{}, err
	}
	resp, _, err := bundle.LLM.Generate(ctx, providers.GenerateRequest{
		Operation:   "chat",
		Messages:    BuildMessages(query, history, results, o.opts.HistoryTurns),
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("%w: generate answer: %w", util.ErrProvider, err)
	}
	return Answer{Content: strings.TrimSpace(resp.Text), Sources: Sources(results)}, nil
}

// Summarize produces a short chat title for text.
func (o *Orchestrator) Summarize(ctx context.Context, tenantID, text string) (string, error) {
	bundle, err := o.llms.ForTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	resp, _, err := bundle.LLM.Generate(ctx, providers.GenerateRequest{
		Operation: "summarize_title",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: summaryPrompt},
			{Role: providers.RoleUser, Content: text},
		},
		Temperature: 0.5,
		MaxTokens:   20,
	})
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %w", util.ErrProvider, err)
	}
	return util.CleanTitle(resp.Text, maxTitleRunes), nil
}

// BuildMessages orders the prompt: system, recent history, context, query.
func BuildMessages(query string, history []models.ChatMessage, results []models.ChunkResult, turns int) []providers.Message {
	if turns > 0 && len(history) > turns {
		history = history[len(history)-turns:]
	}
	msgs := make([]providers.Message, 0, len(history)+3)
	msgs = append(msgs, providers.Message{Role: providers.RoleSystem, Content: systemPrompt})
	for _, h := range history {
		role := providers.RoleUser
		if h.Role == models.RoleAssistant {
			role = providers.RoleAssistant
		}
		msgs = append(msgs, providers.Message{Role: role, Content: h.Content})
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, "["+r.FileName+"]\n"+r.Text)
	}
	msgs = append(msgs,
		providers.Message{Role: providers.RoleUser, Content: contextHeader + strings.Join(parts, partSeparator) + contextTrailer},
		providers.Message{Role: providers.RoleUser, Content: query},
	)
	return msgs
}

func Sources(results []models.ChunkResult) []models.MessageSource {
	out := make([]models.MessageSource, 0, len(results))
	for _, r := range results {
		out = append(out, models.MessageSource{
			DocumentID:     r.DocumentID,
			FileName:       r.FileName,
			ChunkID:        r.ChunkID,
			RelevanceScore: r.Score,
			TextPreview:    util.Preview(r.Text, previewRunes),
		})
	}
	return out
}
