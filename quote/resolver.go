package quote

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver runs the ordered fallback chain and caches the winning answer.
// Fallback through the chain IS the retry strategy: no source is retried
// within a single resolution.
type Resolver struct {
	sources      []Source
	solUsd       *SolUsdResolver
	ttl          time.Duration
	grace        time.Duration
	supplyTokens float64
	callTimeout  time.Duration
	now          func() time.Time

	cached atomic.Pointer[Valuation]
	group  singleflight.Group
}

func NewResolver(sources []Source, solUsd *SolUsdResolver, ttl time.Duration, graceFactor int, supplyTokens float64, callTimeout time.Duration) *Resolver {
	if graceFactor <= 0 {
		graceFactor = 10
	}
	return &Resolver{
		sources:      sources,
		solUsd:       solUsd,
		ttl:          ttl,
		grace:        time.Duration(graceFactor) * ttl,
		supplyTokens: supplyTokens,
		callTimeout:  callTimeout,
		now:          time.Now,
	}
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the current valuation. Calls within the TTL return the
// cached entry without touching the network, and concurrent cache misses
// collapse into one pass over the sources. On total failure a cached value
// younger than the grace period is returned; past that, the zero sentinel.
func (r *Resolver) Resolve(ctx context.Context) Valuation {
	if v := r.fresh(r.ttl); v != nil {
		return *v
	}

	out, _, _ := r.group.Do("token", func() (any, error) {
		if v := r.fresh(r.ttl); v != nil {
			return *v, nil
		}
		return r.resolve(ctx), nil
	})
	return out.(Valuation)
}

func (r *Resolver) fresh(maxAge time.Duration) *Valuation {
	v := r.cached.Load()
	if v != nil && r.now().Sub(v.FetchedAt) < maxAge {
		return v
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context) Valuation {
	solUsd := r.solUsd.Resolve(ctx)

	for _, src := range r.sources {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		q, err := src.Fetch(callCtx, solUsd)
		cancel()

		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			log.Printf("quote: source %s failed: %v", src.Name(), err)
			continue
		}

		v := Valuation{
			PriceSol:     q.PriceSol,
			PriceUsd:     q.PriceUsd,
			MarketCapUsd: q.PriceUsd * r.supplyTokens,
			SolUsd:       solUsd,
			Source:       src.Name(),
			Listed:       q.Listed,
			FetchedAt:    r.now(),
		}
		// Whole-entry swap: readers never observe a torn valuation.
		r.cached.Store(&v)
		return v
	}

	if v := r.fresh(r.grace); v != nil {
		log.Printf("quote: all sources failed, serving cached value from %s", v.FetchedAt.Format(time.RFC3339))
		return *v
	}

	return Valuation{Source: SourceNone, FetchedAt: r.now()}
}
