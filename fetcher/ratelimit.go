package fetcher

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/matt-ramotar/storex/config"
)

// RateLimited wraps a Fetcher with two token buckets, one per urgency
// class (§4.7: "urgency ∈ {Normal, High}"), so UrgencyNormal and
// UrgencyHigh requests draw on separate budgets. The bucket is chosen
// from Request.Urgency alone; readstore.Store sends every fetch,
// MustBeFresh ones included, with the zero value UrgencyNormal.
type RateLimited[Network any] struct {
	next   Fetcher[Network]
	normal *rate.Limiter
	high   *rate.Limiter
}

// NewRateLimited constructs a RateLimited wrapper around next, paced
// by cfg (config.DefaultConfig().FetchRateLimit's documented
// defaults).
func NewRateLimited[Network any](next Fetcher[Network], cfg config.RateLimitConfig) *RateLimited[Network] {
	return &RateLimited[Network]{
		next:   next,
		normal: rate.NewLimiter(rate.Limit(cfg.NormalPerSecond), cfg.Burst),
		high:   rate.NewLimiter(rate.Limit(cfg.HighPerSecond), cfg.Burst),
	}
}

// Fetch blocks until the urgency-appropriate bucket admits the call,
// then delegates to the wrapped Fetcher. A context cancelled while
// waiting surfaces as an Error result rather than blocking forever.
func (r *RateLimited[Network]) Fetch(ctx context.Context, req Request) <-chan Result[Network] {
	limiter := r.normal
	if req.Urgency == UrgencyHigh {
		limiter = r.high
	}

	if err := limiter.Wait(ctx); err != nil {
		out := make(chan Result[Network], 1)
		out <- Result[Network]{Kind: Error, Err: err, Final: true}
		close(out)
		return out
	}
	return r.next.Fetch(ctx, req)
}
