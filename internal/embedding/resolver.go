package embedding

import (
	"context"

	"ragfolio/internal/providers"

	"golang.org/x/time/rate"
)

type BundleSource interface {
	ForTenant(ctx context.Context, tenantID string) (providers.Bundle, error)
}

// Resolver builds tenant-scoped embedders that share one pacing limiter.
type Resolver struct {
	source    BundleSource
	batchSize int
	dim       int
	limiter   *rate.Limiter
}

func NewResolver(source BundleSource, batchSize, dim int, rps float64) *Resolver {
	r := &Resolver{source: source, batchSize: batchSize, dim: dim}
	if rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return r
}

func (r *Resolver) ForTenant(ctx context.Context, tenantID string) (*Embedder, error) {
	b, err := r.source.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return New(b.Embed, r.batchSize, r.dim, WithLimiter(r.limiter)), nil
}
