package quote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"burnflow/chain"
)

type stubChain struct {
	chain.Client
	state    chain.CurveState
	stateErr error
}

func (s *stubChain) CurveState(context.Context) (chain.CurveState, error) {
	return s.state, s.stateErr
}

func TestCurveSource_PreListingPrice(t *testing.T) {
	src := NewCurveSource(&stubChain{state: chain.CurveState{
		Listed:               false,
		VirtualSolReserves:   30_000_000_000,     // 30 SOL
		VirtualTokenReserves: 1_000_000_000_000,  // 1M tokens at 6 decimals
	}}, 6)

	q, err := src.Fetch(context.Background(), 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.Listed {
		t.Errorf("expected pre-listing quote")
	}
	// 30 SOL / 1M tokens
	want := 0.00003
	if q.PriceSol < want*0.999 || q.PriceSol > want*1.001 {
		t.Errorf("expected priceSol ~%v, got %v", want, q.PriceSol)
	}
	if q.PriceUsd < want*100*0.999 || q.PriceUsd > want*100*1.001 {
		t.Errorf("expected priceUsd ~%v, got %v", want*100, q.PriceUsd)
	}
}

func TestCurveSource_SkipsOnceListed(t *testing.T) {
	src := NewCurveSource(&stubChain{state: chain.CurveState{Listed: true}}, 6)

	_, err := src.Fetch(context.Background(), 100)
	if !errors.Is(err, errSkip) {
		t.Fatalf("expected errSkip, got %v", err)
	}
}

func TestPrimarySource_ParsesStringPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[{"priceUsd":"0.0125"}]}`))
	}))
	defer srv.Close()

	src := NewPrimarySource(srv.URL, "mint", srv.Client())
	q, err := src.Fetch(context.Background(), 125)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.PriceUsd != 0.0125 {
		t.Errorf("expected 0.0125, got %v", q.PriceUsd)
	}
	if q.PriceSol != 0.0001 {
		t.Errorf("expected priceSol 0.0001, got %v", q.PriceSol)
	}
}

func TestPrimarySource_MalformedPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[{"priceUsd":"not-a-number"}]}`))
	}))
	defer srv.Close()

	src := NewPrimarySource(srv.URL, "mint", srv.Client())
	if _, err := src.Fetch(context.Background(), 125); err == nil {
		t.Fatalf("expected error for malformed price")
	}
}

func TestSecondarySource_PicksMaxLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pools":[
            {"priceUsd":1,"liquidityUsd":100},
            {"priceUsd":2,"liquidityUsd":500},
            {"priceUsd":3,"liquidityUsd":250}
        ]}`))
	}))
	defer srv.Close()

	src := NewSecondarySource(srv.URL, "mint", srv.Client())
	q, err := src.Fetch(context.Background(), 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.PriceUsd != 2 {
		t.Fatalf("expected price from deepest pool (2), got %v", q.PriceUsd)
	}
}

func TestSecondarySource_TieKeepsFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pools":[
            {"priceUsd":7,"liquidityUsd":500},
            {"priceUsd":9,"liquidityUsd":500}
        ]}`))
	}))
	defer srv.Close()

	src := NewSecondarySource(srv.URL, "mint", srv.Client())
	q, err := src.Fetch(context.Background(), 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.PriceUsd != 7 {
		t.Fatalf("expected first pool on tie, got %v", q.PriceUsd)
	}
}

func TestSecondarySource_NoUsablePools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pools":[{"priceUsd":0,"liquidityUsd":100}]}`))
	}))
	defer srv.Close()

	src := NewSecondarySource(srv.URL, "mint", srv.Client())
	if _, err := src.Fetch(context.Background(), 100); err == nil {
		t.Fatalf("expected error when no pool has a positive price")
	}
}

func TestSolUsdResolver_FallbackConstant(t *testing.T) {
	client := &http.Client{Timeout: 50 * time.Millisecond}
	r := NewSolUsdResolver("http://127.0.0.1:1", client, time.Minute, 150)

	if got := r.Resolve(context.Background()); got != 150 {
		t.Fatalf("expected fallback 150, got %v", got)
	}
}

func TestSolUsdResolver_CachesWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"pairs":[{"priceUsd":"142.5"}]}`))
	}))
	defer srv.Close()

	r := NewSolUsdResolver(srv.URL, srv.Client(), time.Minute, 150)

	if got := r.Resolve(context.Background()); got != 142.5 {
		t.Fatalf("expected 142.5, got %v", got)
	}
	if got := r.Resolve(context.Background()); got != 142.5 {
		t.Fatalf("expected cached 142.5, got %v", got)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
}

func TestSolUsdResolver_LastKnownBeatsFallback(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"pairs":[{"priceUsd":"142.5"}]}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	now, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := NewSolUsdResolver(srv.URL, srv.Client(), time.Minute, 150).WithClock(now)

	if got := r.Resolve(context.Background()); got != 142.5 {
		t.Fatalf("expected 142.5, got %v", got)
	}

	advance(2 * time.Minute)
	if got := r.Resolve(context.Background()); got != 142.5 {
		t.Fatalf("expected last known value 142.5 over fallback, got %v", got)
	}
}
