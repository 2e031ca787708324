package buyback

import (
	"context"
	"fmt"
	"log"

	"burnflow/chain"
	"burnflow/ledger"
	"burnflow/quote"
)

// ChainClient is the slice of the remote ledger the buyback cycle needs.
type ChainClient interface {
	ClaimableFees(ctx context.Context) (uint64, error)
	SolBalance(ctx context.Context) (uint64, error)
	SweepFees(ctx context.Context) (chain.SubmitResult, error)
	SwapSolForToken(ctx context.Context, lamports uint64) (chain.SubmitResult, error)
	BurnTokens(ctx context.Context, quantity uint64) (chain.SubmitResult, error)
	VerifyFinalized(ctx context.Context, signature string) (chain.VerifyResult, error)
}

// SlotStore is the durable checkpoint surface used between steps.
type SlotStore interface {
	ReadSlot(ctx context.Context, kind ledger.BurnKind) (*ledger.Slot, error)
	WriteSlot(ctx context.Context, slot ledger.Slot) error
	ClearSlot(ctx context.Context, kind ledger.BurnKind) error
	HasBurnWithSignature(ctx context.Context, signature string) (bool, error)
}

// Finalizer records the permanent burn and clears the slot atomically.
type Finalizer interface {
	FinalizeBuyback(ctx context.Context, res ledger.BuybackResult) error
}

// PriceSource supplies the valuation snapshot stored on the record.
type PriceSource interface {
	Resolve(ctx context.Context) quote.Valuation
}

// Config is the tuning surface for one buyback cycle.
type Config struct {
	// SweepThresholdLamports is the minimum claimable fee balance that makes
	// a cycle worth running. Below it a tick is a free no-op.
	SweepThresholdLamports uint64
	// SwapFeeReserveLamports is held back from the swept amount to pay for
	// the swap and burn transactions themselves.
	SwapFeeReserveLamports uint64
	// BurnMarginBps of the acquired tokens stay unburned as a safety margin.
	BurnMarginBps uint64
}

// Service drives the collect → swap → burn cycle, persisting a checkpoint
// after every remote call. It assumes the caller (the scheduler) guarantees
// non-reentrant ticks.
type Service struct {
	chain  ChainClient
	store  SlotStore
	fin    Finalizer
	prices PriceSource
	cfg    Config
}

func NewService(chainClient ChainClient, store SlotStore, fin Finalizer, prices PriceSource, cfg Config) *Service {
	return &Service{
		chain:  chainClient,
		store:  store,
		fin:    fin,
		prices: prices,
		cfg:    cfg,
	}
}

// Tick runs one buyback cycle. A slot left over from an interrupted
// predecessor is resolved first; while its verification stays ambiguous the
// tick is skipped, because starting a fresh cycle would overwrite the slot
// and lose the old burn signature for good.
func (s *Service) Tick(ctx context.Context) error {
	leftover, err := s.store.ReadSlot(ctx, ledger.BurnKindBuyback)
	if err != nil {
		return err
	}
	if leftover != nil {
		if err := s.Recover(ctx); err != nil {
			return err
		}
		leftover, err = s.store.ReadSlot(ctx, ledger.BurnKindBuyback)
		if err != nil {
			return err
		}
		if leftover != nil {
			log.Printf("buyback: slot at stage %s still unresolved, skipping tick", leftover.Stage)
			return nil
		}
	}

	claimable, err := s.chain.ClaimableFees(ctx)
	if err != nil {
		return fmt.Errorf("buyback: query claimable fees: %w", err)
	}
	if claimable < s.cfg.SweepThresholdLamports {
		return nil
	}

	valuation := s.prices.Resolve(ctx)
	price := ledger.PriceSnapshot{
		PriceSol: valuation.PriceSol,
		SolUsd:   valuation.SolUsd,
		PriceUsd: valuation.PriceUsd,
	}

	slot := ledger.Slot{
		Kind:  ledger.BurnKindBuyback,
		Stage: ledger.StageStarted,
		Price: price,
	}
	if err := s.store.WriteSlot(ctx, slot); err != nil {
		return err
	}

	// The swept amount is measured as a wallet balance delta, not taken from
	// the requested or node-reported figure: the platform may deliver more
	// or less than the claimable estimate.
	balanceBefore, err := s.chain.SolBalance(ctx)
	if err != nil {
		return s.fail(ctx, slot, fmt.Errorf("buyback: balance before sweep: %w", err))
	}

	sweep, err := s.chain.SweepFees(ctx)
	if err != nil {
		return s.fail(ctx, slot, fmt.Errorf("buyback: sweep fees: %w", err))
	}

	balanceAfter, err := s.chain.SolBalance(ctx)
	if err != nil {
		return s.fail(ctx, slot, fmt.Errorf("buyback: balance after sweep: %w", err))
	}
	if balanceAfter <= balanceBefore {
		return s.fail(ctx, slot, fmt.Errorf("buyback: sweep %s delivered nothing", sweep.Signature))
	}
	collected := balanceAfter - balanceBefore

	slot.Stage = ledger.StageFeesCollected
	slot.SweepSignature = sweep.Signature
	slot.LamportsCollected = collected
	if err := s.store.WriteSlot(ctx, slot); err != nil {
		return err
	}

	if collected <= s.cfg.SwapFeeReserveLamports {
		return s.fail(ctx, slot, fmt.Errorf("buyback: collected %d lamports does not cover the %d fee reserve", collected, s.cfg.SwapFeeReserveLamports))
	}
	spend := collected - s.cfg.SwapFeeReserveLamports

	swap, err := s.chain.SwapSolForToken(ctx, spend)
	if err != nil {
		return s.fail(ctx, slot, fmt.Errorf("buyback: swap: %w", err))
	}
	if swap.ObservedQuantity == 0 {
		return s.fail(ctx, slot, fmt.Errorf("buyback: swap %s reported zero fill", swap.Signature))
	}

	slot.Stage = ledger.StageTokensAcquired
	slot.SwapSignature = swap.Signature
	slot.TokensAcquired = swap.ObservedQuantity
	if err := s.store.WriteSlot(ctx, slot); err != nil {
		return err
	}

	return s.burnAndFinalize(ctx, slot, spend)
}

// burnAndFinalize runs the final stage from a slot at StageTokensAcquired.
// Shared by Tick and recovery's resume path. The burn quantity is a margined
// fraction of the swap's observed fill.
func (s *Service) burnAndFinalize(ctx context.Context, slot ledger.Slot, lamportsSpent uint64) error {
	burnQty := marginedQuantity(slot.TokensAcquired, s.cfg.BurnMarginBps)
	if burnQty == 0 {
		return s.fail(ctx, slot, fmt.Errorf("buyback: margin leaves nothing to burn from %d", slot.TokensAcquired))
	}

	burn, err := s.chain.BurnTokens(ctx, burnQty)
	if err != nil {
		return s.fail(ctx, slot, fmt.Errorf("buyback: burn: %w", err))
	}

	slot.Stage = ledger.StageBurnFinalized
	slot.BurnSignature = burn.Signature
	slot.BurnQuantity = burnQty
	slot.LastError = ""
	if err := s.store.WriteSlot(ctx, slot); err != nil {
		return err
	}

	if err := s.fin.FinalizeBuyback(ctx, ledger.BuybackResult{
		Quantity:       burnQty,
		Signature:      burn.Signature,
		Price:          slot.Price,
		LamportsSpent:  lamportsSpent,
		TokensAcquired: slot.TokensAcquired,
	}); err != nil {
		return err
	}

	log.Printf("buyback: burned %d tokens, signature %s", burnQty, burn.Signature)
	return nil
}

// fail checkpoints the error on the slot at its last completed stage and
// surfaces it. The next recovery pass decides what happens to the attempt;
// the failing tick never retries by itself.
func (s *Service) fail(ctx context.Context, slot ledger.Slot, cause error) error {
	slot.LastError = cause.Error()
	if writeErr := s.store.WriteSlot(ctx, slot); writeErr != nil {
		log.Printf("buyback: persist failure checkpoint: %v", writeErr)
	}
	return cause
}

func marginedQuantity(acquired, marginBps uint64) uint64 {
	return acquired - acquired*marginBps/10_000
}

func (s *Service) spentFromSlot(slot ledger.Slot) uint64 {
	if slot.LamportsCollected > s.cfg.SwapFeeReserveLamports {
		return slot.LamportsCollected - s.cfg.SwapFeeReserveLamports
	}
	return 0
}
