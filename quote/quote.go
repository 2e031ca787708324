package quote

import (
	"context"
	"errors"
	"time"
)

// Source names, reported on every Valuation.
const (
	SourceCurve     = "curve"
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceNone      = "none"
)

// Valuation is a resolved price snapshot for the token. A Source of "none"
// is a sentinel meaning no source answered: callers must make no threshold
// decision from it, and must never read its zeros as real prices.
type Valuation struct {
	PriceSol     float64
	PriceUsd     float64
	MarketCapUsd float64
	SolUsd       float64
	Source       string
	Listed       bool
	FetchedAt    time.Time
}

// Usable reports whether this valuation may drive decisions.
func (v Valuation) Usable() bool {
	return v.Source != SourceNone && v.Source != ""
}

// Quote is one source's raw answer, normalized to both denominations by the
// source itself using the SOL/USD rate the resolver hands it.
type Quote struct {
	PriceSol float64
	PriceUsd float64
	Listed   bool
}

// errSkip tells the resolver a source does not apply right now (e.g. the
// curve once the token has listed). Distinct from a failure.
var errSkip = errors.New("quote: source not applicable")

// Source is one price strategy. Sources are tried in order; each call is
// bounded by the context deadline the resolver sets.
type Source interface {
	Name() string
	Fetch(ctx context.Context, solUsd float64) (Quote, error)
}
