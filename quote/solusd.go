package quote

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// wrapped SOL mint on the primary aggregator
const solMint = "So11111111111111111111111111111111111111112"

type solUsdEntry struct {
	value     float64
	fetchedAt time.Time
}

// SolUsdResolver resolves the SOL/USD rate with its own cache. Unlike the
// token resolver it never returns a sentinel: every derived USD figure needs
// a rate, so on total failure it falls back to the last known value at any
// age, then to a configured constant. A visibly stale number beats a zero
// that poisons every division downstream.
type SolUsdResolver struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	fallback   float64
	now        func() time.Time

	cached atomic.Pointer[solUsdEntry]
	group  singleflight.Group
}

func NewSolUsdResolver(baseURL string, httpClient *http.Client, ttl time.Duration, fallback float64) *SolUsdResolver {
	return &SolUsdResolver{
		baseURL:    baseURL,
		httpClient: httpClient,
		ttl:        ttl,
		fallback:   fallback,
		now:        time.Now,
	}
}

func (r *SolUsdResolver) WithClock(now func() time.Time) *SolUsdResolver {
	r.now = now
	return r
}

// Resolve returns the current SOL/USD rate. Calls within the TTL hit the
// cache; concurrent misses collapse to one fetch.
func (r *SolUsdResolver) Resolve(ctx context.Context) float64 {
	if e := r.cached.Load(); e != nil && r.now().Sub(e.fetchedAt) < r.ttl {
		return e.value
	}

	v, _, _ := r.group.Do("solusd", func() (any, error) {
		if e := r.cached.Load(); e != nil && r.now().Sub(e.fetchedAt) < r.ttl {
			return e.value, nil
		}

		value, err := r.fetch(ctx)
		if err != nil {
			log.Printf("quote: sol/usd fetch failed: %v", err)
			if e := r.cached.Load(); e != nil {
				return e.value, nil
			}
			return r.fallback, nil
		}

		r.cached.Store(&solUsdEntry{value: value, fetchedAt: r.now()})
		return value, nil
	})
	return v.(float64)
}

func (r *SolUsdResolver) fetch(ctx context.Context) (float64, error) {
	var body struct {
		Pairs []struct {
			PriceUsd string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := getJSON(ctx, r.httpClient, r.baseURL+"/"+solMint, &body); err != nil {
		return 0, err
	}
	if len(body.Pairs) == 0 {
		return 0, fmt.Errorf("no pairs for sol")
	}
	value, err := strconv.ParseFloat(body.Pairs[0].PriceUsd, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("malformed sol price %q", body.Pairs[0].PriceUsd)
	}
	return value, nil
}
