package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimited throttles calls to an embedding backend.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit caps p at perSecond requests with the given burst.
func WithRateLimit(p Provider, perSecond float64, burst int) Provider {
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

func (r *rateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.Provider.EmbedQuery(ctx, text)
}
