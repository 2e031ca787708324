package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"burnflow/chain"
)

// CurveSource prices the token analytically from the launch platform's
// bonding-curve reserves. Pre-listing it is authoritative; once the curve
// completes it steps aside.
type CurveSource struct {
	client   chain.Client
	decimals uint64
}

func NewCurveSource(client chain.Client, decimals uint64) *CurveSource {
	return &CurveSource{client: client, decimals: decimals}
}

func (s *CurveSource) Name() string { return SourceCurve }

func (s *CurveSource) Fetch(ctx context.Context, solUsd float64) (Quote, error) {
	state, err := s.client.CurveState(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: curve state: %w", err)
	}
	if state.Listed {
		return Quote{}, errSkip
	}
	if state.VirtualTokenReserves == 0 {
		return Quote{}, fmt.Errorf("quote: curve has zero token reserves")
	}

	solReserves := float64(state.VirtualSolReserves) / 1e9
	tokenReserves := float64(state.VirtualTokenReserves) / math.Pow10(int(s.decimals))
	priceSol := solReserves / tokenReserves

	return Quote{
		PriceSol: priceSol,
		PriceUsd: priceSol * solUsd,
		Listed:   false,
	}, nil
}

// PrimarySource queries the main aggregator API. Response shape:
// {"pairs":[{"priceUsd":"0.0123"}]}. Prices arrive as strings.
type PrimarySource struct {
	baseURL    string
	mint       string
	httpClient *http.Client
}

func NewPrimarySource(baseURL, mint string, httpClient *http.Client) *PrimarySource {
	return &PrimarySource{baseURL: baseURL, mint: mint, httpClient: httpClient}
}

func (s *PrimarySource) Name() string { return SourcePrimary }

func (s *PrimarySource) Fetch(ctx context.Context, solUsd float64) (Quote, error) {
	var body struct {
		Pairs []struct {
			PriceUsd string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := getJSON(ctx, s.httpClient, s.baseURL+"/"+s.mint, &body); err != nil {
		return Quote{}, fmt.Errorf("quote: primary: %w", err)
	}
	if len(body.Pairs) == 0 {
		return Quote{}, fmt.Errorf("quote: primary returned no pairs")
	}

	priceUsd, err := strconv.ParseFloat(body.Pairs[0].PriceUsd, 64)
	if err != nil || priceUsd <= 0 {
		return Quote{}, fmt.Errorf("quote: primary malformed price %q", body.Pairs[0].PriceUsd)
	}

	return Quote{
		PriceUsd: priceUsd,
		PriceSol: safeDiv(priceUsd, solUsd),
		Listed:   true,
	}, nil
}

// SecondarySource queries the fallback aggregator, which reports every venue
// the token trades on. The venue with the deepest liquidity wins; ties keep
// the first one encountered.
type SecondarySource struct {
	baseURL    string
	mint       string
	httpClient *http.Client
}

func NewSecondarySource(baseURL, mint string, httpClient *http.Client) *SecondarySource {
	return &SecondarySource{baseURL: baseURL, mint: mint, httpClient: httpClient}
}

func (s *SecondarySource) Name() string { return SourceSecondary }

func (s *SecondarySource) Fetch(ctx context.Context, solUsd float64) (Quote, error) {
	var body struct {
		Pools []struct {
			PriceUsd     float64 `json:"priceUsd"`
			LiquidityUsd float64 `json:"liquidityUsd"`
		} `json:"pools"`
	}
	if err := getJSON(ctx, s.httpClient, s.baseURL+"/"+s.mint+"/pools", &body); err != nil {
		return Quote{}, fmt.Errorf("quote: secondary: %w", err)
	}

	best := -1
	for i, pool := range body.Pools {
		if pool.PriceUsd <= 0 {
			continue
		}
		if best == -1 || pool.LiquidityUsd > body.Pools[best].LiquidityUsd {
			best = i
		}
	}
	if best == -1 {
		return Quote{}, fmt.Errorf("quote: secondary returned no usable pools")
	}

	priceUsd := body.Pools[best].PriceUsd
	return Quote{
		PriceUsd: priceUsd,
		PriceSol: safeDiv(priceUsd, solUsd),
		Listed:   true,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
