package milestone

import (
	"context"
	"fmt"
	"log"
	"time"

	"burnflow/chain"
	"burnflow/ledger"
	"burnflow/quote"
)

// ChainClient is the slice of the remote ledger a milestone burn needs.
type ChainClient interface {
	TokenBalance(ctx context.Context) (uint64, error)
	BurnTokens(ctx context.Context, quantity uint64) (chain.SubmitResult, error)
	VerifyFinalized(ctx context.Context, signature string) (chain.VerifyResult, error)
}

// Store reads schedule state and manages the milestone slot.
type Store interface {
	DueMilestones(ctx context.Context, marketCapUsd float64) ([]ledger.Milestone, error)
	ReadSlot(ctx context.Context, kind ledger.BurnKind) (*ledger.Slot, error)
	WriteSlot(ctx context.Context, slot ledger.Slot) error
	ClearSlot(ctx context.Context, kind ledger.BurnKind) error
}

// Ledger is the transactional surface of the operation ledger.
type Ledger interface {
	ClaimMilestone(ctx context.Context, marketCapUsd float64, slot ledger.Slot) (bool, error)
	FinalizeMilestone(ctx context.Context, res ledger.MilestoneResult) error
}

// PriceSource supplies the current valuation.
type PriceSource interface {
	Resolve(ctx context.Context) quote.Valuation
}

// Config is the milestone tuning surface.
type Config struct {
	// Cooldown separates successive burns within one tick so the node never
	// sees two destructive actions against the same balance back to back.
	Cooldown time.Duration
}

// Service burns the pre-committed reserve quantity each time the market cap
// crosses a scheduled level. One burn per level, ever.
type Service struct {
	chain  ChainClient
	store  Store
	ledger Ledger
	prices PriceSource
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewService(chainClient ChainClient, store Store, led Ledger, prices PriceSource, cfg Config) *Service {
	return &Service{
		chain:  chainClient,
		store:  store,
		ledger: led,
		prices: prices,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
}

// WithSleep replaces the cooldown sleep, for tests.
func (s *Service) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Service {
	s.sleep = sleep
	return s
}

// Tick resolves the market cap and processes every due milestone in
// ascending trigger order, strictly sequentially. A slot left over from an
// interrupted burn is settled first: the level behind it is still marked
// incomplete, so processing due levels over an unresolved slot would burn
// that level a second time.
func (s *Service) Tick(ctx context.Context) error {
	leftover, err := s.store.ReadSlot(ctx, ledger.BurnKindMilestone)
	if err != nil {
		return err
	}
	if leftover != nil {
		if err := s.Recover(ctx); err != nil {
			return err
		}
		leftover, err = s.store.ReadSlot(ctx, ledger.BurnKindMilestone)
		if err != nil {
			return err
		}
		if leftover != nil {
			log.Printf("milestone: slot for %.0f still unresolved, skipping tick", leftover.MilestoneCap)
			return nil
		}
	}

	valuation := s.prices.Resolve(ctx)
	if !valuation.Usable() {
		// Sentinel valuation: "unknown" never means "zero". No burn decision.
		log.Printf("milestone: no usable valuation, skipping tick")
		return nil
	}

	due, err := s.store.DueMilestones(ctx, valuation.MarketCapUsd)
	if err != nil {
		return err
	}

	for i, m := range due {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.Cooldown); err != nil {
				return err
			}
		}
		if err := s.processOne(ctx, m, valuation); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, m ledger.Milestone, valuation quote.Valuation) error {
	balance, err := s.chain.TokenBalance(ctx)
	if err != nil {
		return fmt.Errorf("milestone: reserve balance: %w", err)
	}
	if balance < m.BurnQuantity {
		// Funding problem, not a retry candidate. Operators top up the
		// reserve; the next tick picks the milestone up again.
		log.Printf("milestone: reserve holds %d, need %d for %.0f; skipping", balance, m.BurnQuantity, m.MarketCapUsd)
		return nil
	}

	price := ledger.PriceSnapshot{
		PriceSol: valuation.PriceSol,
		SolUsd:   valuation.SolUsd,
		PriceUsd: valuation.PriceUsd,
	}
	slot := ledger.Slot{
		Kind:         ledger.BurnKindMilestone,
		Stage:        ledger.StageStarted,
		MilestoneCap: m.MarketCapUsd,
		Price:        price,
	}

	// Re-checked under a row lock: a concurrent recovery pass may have
	// completed this milestone between DueMilestones and here.
	claimed, err := s.ledger.ClaimMilestone(ctx, m.MarketCapUsd, slot)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("milestone: %.0f already completed, skipping", m.MarketCapUsd)
		return nil
	}

	burn, err := s.chain.BurnTokens(ctx, m.BurnQuantity)
	if err != nil {
		return s.fail(ctx, slot, fmt.Errorf("milestone: burn for %.0f: %w", m.MarketCapUsd, err))
	}

	slot.Stage = ledger.StageBurnFinalized
	slot.BurnSignature = burn.Signature
	slot.BurnQuantity = m.BurnQuantity
	if err := s.store.WriteSlot(ctx, slot); err != nil {
		return err
	}

	if err := s.ledger.FinalizeMilestone(ctx, ledger.MilestoneResult{
		MarketCapUsd: m.MarketCapUsd,
		Quantity:     m.BurnQuantity,
		Signature:    burn.Signature,
		Price:        price,
	}); err != nil {
		return err
	}

	log.Printf("milestone: burned %d tokens for the %.0f level, signature %s", m.BurnQuantity, m.MarketCapUsd, burn.Signature)
	return nil
}

func (s *Service) fail(ctx context.Context, slot ledger.Slot, cause error) error {
	slot.LastError = cause.Error()
	if writeErr := s.store.WriteSlot(ctx, slot); writeErr != nil {
		log.Printf("milestone: persist failure checkpoint: %v", writeErr)
	}
	return cause
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
