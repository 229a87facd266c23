// Package embedding turns chunk and query text into vectors through a
// provider, batching inputs and pacing calls.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"ragfolio/internal/providers"
	"ragfolio/internal/util"

	"golang.org/x/time/rate"
)

type Embedder struct {
	provider  providers.EmbeddingProvider
	batchSize int
	dim       int
	limiter   *rate.Limiter
}

type Option func(*Embedder)

// WithRateLimit paces provider calls to rps requests per second. Zero or
// negative disables pacing.
func WithRateLimit(rps float64) Option {
	return func(e *Embedder) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLimiter shares one limiter across embedders of the same deployment.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Embedder) { e.limiter = l }
}

func New(provider providers.EmbeddingProvider, batchSize, dim int, opts ...Option) *Embedder {
	if batchSize <= 0 {
		batchSize = 100
	}
	e := &Embedder{provider: provider, batchSize: batchSize, dim: dim}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.call(ctx, "embed_query", []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text in input order. Any failed batch
// fails the whole call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.call(ctx, "embed_chunks", texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) call(ctx context.Context, op string, inputs []string) ([][]float32, error) {
	if e.provider == nil {
		return nil, util.ErrNoCredential
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: wait for provider slot: %w", util.ErrProvider, err)
		}
	}
	vecs, _, err := e.provider.Embed(ctx, providers.EmbedRequest{Operation: op, Inputs: inputs, Dimension: e.dim})
	if err != nil {
		return nil, wrapProvider(err)
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d inputs", util.ErrProvider, len(vecs), len(inputs))
	}
	for i, v := range vecs {
		if e.dim > 0 && len(v) != e.dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", util.ErrProvider, i, len(v), e.dim)
		}
	}
	return vecs, nil
}

func wrapProvider(err error) error {
	if errors.Is(err, util.ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", util.ErrProvider, err)
}
