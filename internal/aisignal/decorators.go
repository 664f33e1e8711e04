package aisignal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxdesk/internal/classify"
	"github.com/MrWong99/voxdesk/internal/resilience"
)

// Disabled is the analyzer used when no language model is configured. Every
// call fails with [ErrDisabled].
type Disabled struct{}

var _ classify.Analyzer = Disabled{}

// Analyze implements [classify.Analyzer].
func (Disabled) Analyze(context.Context, string) (*classify.Signal, error) {
	return nil, ErrDisabled
}

// Cached memoises successful signals by the SHA-256 of the input text.
// Failures are never cached.
type Cached struct {
	next  classify.Analyzer
	cache *cache.Cache
}

var _ classify.Analyzer = (*Cached)(nil)

// NewCached wraps next with a cache whose entries expire after ttl.
func NewCached(next classify.Analyzer, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

// Analyze implements [classify.Analyzer].
func (c *Cached) Analyze(ctx context.Context, text string) (*classify.Signal, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		sig := *v.(*classify.Signal)
		return &sig, nil
	}
	sig, err := c.next.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, sig)
	cp := *sig
	return &cp, nil
}

// Len returns the number of cached signals, including expired ones not yet
// evicted.
func (c *Cached) Len() int { return c.cache.ItemCount() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RateLimited bounds the request rate towards the model. A caller whose
// deadline would pass while waiting for a token gets
// [context.DeadlineExceeded], which degrades the signal like any other
// timeout.
type RateLimited struct {
	next    classify.Analyzer
	limiter *rate.Limiter
}

var _ classify.Analyzer = (*RateLimited)(nil)

// NewRateLimited allows perSecond requests per second with the given burst.
func NewRateLimited(next classify.Analyzer, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Analyze implements [classify.Analyzer].
func (r *RateLimited) Analyze(ctx context.Context, text string) (*classify.Signal, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("aisignal: rate limited: %w", context.DeadlineExceeded)
	}
	return r.next.Analyze(ctx, text)
}

// Breaker fails fast while the model backend keeps failing. Invalid
// responses do not trip it: the backend answered, the answer was just
// unusable.
type Breaker struct {
	next    classify.Analyzer
	breaker *resilience.CircuitBreaker
}

var _ classify.Analyzer = (*Breaker)(nil)

// NewBreaker wraps next in a circuit breaker configured by cfg. cfg.IsFailure
// is overridden.
func NewBreaker(next classify.Analyzer, cfg resilience.CircuitBreakerConfig) *Breaker {
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrInvalidResponse)
	}
	return &Breaker{next: next, breaker: resilience.NewCircuitBreaker(cfg)}
}

// Analyze implements [classify.Analyzer].
func (b *Breaker) Analyze(ctx context.Context, text string) (*classify.Signal, error) {
	var sig *classify.Signal
	err := b.breaker.Execute(func() error {
		var err error
		sig, err = b.next.Analyze(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// State reports the breaker state.
func (b *Breaker) State() resilience.State { return b.breaker.State() }
