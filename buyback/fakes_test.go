package buyback

import (
	"context"
	"errors"
	"fmt"

	"burnflow/chain"
	"burnflow/ledger"
	"burnflow/quote"
)

type fakeChain struct {
	claimable uint64

	balances  []uint64 // consumed by successive SolBalance calls
	balanceAt int

	sweep    chain.SubmitResult
	sweepErr error

	swap         chain.SubmitResult
	swapErr      error
	swapLamports uint64

	burn         chain.SubmitResult
	burnErr      error
	burnQuantity uint64
	burnCalls    int

	verdicts  map[string]chain.VerifyResult
	verifyErr error
}

func (f *fakeChain) ClaimableFees(context.Context) (uint64, error) { return f.claimable, nil }

func (f *fakeChain) SolBalance(context.Context) (uint64, error) {
	if f.balanceAt >= len(f.balances) {
		return 0, errors.New("fakeChain: no balance scripted")
	}
	v := f.balances[f.balanceAt]
	f.balanceAt++
	return v, nil
}

func (f *fakeChain) SweepFees(context.Context) (chain.SubmitResult, error) {
	if f.sweepErr != nil {
		return chain.SubmitResult{}, f.sweepErr
	}
	return f.sweep, nil
}

func (f *fakeChain) SwapSolForToken(_ context.Context, lamports uint64) (chain.SubmitResult, error) {
	if f.swapErr != nil {
		return chain.SubmitResult{}, f.swapErr
	}
	f.swapLamports = lamports
	return f.swap, nil
}

func (f *fakeChain) BurnTokens(_ context.Context, quantity uint64) (chain.SubmitResult, error) {
	if f.burnErr != nil {
		return chain.SubmitResult{}, f.burnErr
	}
	f.burnQuantity = quantity
	f.burnCalls++
	return f.burn, nil
}

func (f *fakeChain) VerifyFinalized(_ context.Context, signature string) (chain.VerifyResult, error) {
	if f.verifyErr != nil {
		return chain.VerifyResult{}, f.verifyErr
	}
	res, ok := f.verdicts[signature]
	if !ok {
		return chain.VerifyResult{Verified: false, Err: "not found"}, nil
	}
	return res, nil
}

type fakeStore struct {
	slots    map[ledger.BurnKind]*ledger.Slot
	writes   int
	stageLog []ledger.Stage
	recorded map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots:    make(map[ledger.BurnKind]*ledger.Slot),
		recorded: make(map[string]bool),
	}
}

func (f *fakeStore) ReadSlot(_ context.Context, kind ledger.BurnKind) (*ledger.Slot, error) {
	if s, ok := f.slots[kind]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) WriteSlot(_ context.Context, slot ledger.Slot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	f.writes++
	f.stageLog = append(f.stageLog, slot.Stage)
	copied := slot
	f.slots[slot.Kind] = &copied
	return nil
}

func (f *fakeStore) ClearSlot(_ context.Context, kind ledger.BurnKind) error {
	delete(f.slots, kind)
	return nil
}

func (f *fakeStore) HasBurnWithSignature(_ context.Context, signature string) (bool, error) {
	return f.recorded[signature], nil
}

func (f *fakeStore) slot(kind ledger.BurnKind) *ledger.Slot {
	return f.slots[kind]
}

// fakeFinalizer mimics the ledger service: it records the burn (deduped by
// signature) and clears the slot in the same step.
type fakeFinalizer struct {
	store           *fakeStore
	results         []ledger.BuybackResult
	alreadyRecorded map[string]bool
	err             error
}

func (f *fakeFinalizer) FinalizeBuyback(ctx context.Context, res ledger.BuybackResult) error {
	if f.err != nil {
		return f.err
	}
	if res.Signature == "" {
		return fmt.Errorf("fakeFinalizer: missing signature")
	}
	if !f.alreadyRecorded[res.Signature] && !f.store.recorded[res.Signature] {
		f.results = append(f.results, res)
	}
	f.store.recorded[res.Signature] = true
	return f.store.ClearSlot(ctx, ledger.BurnKindBuyback)
}

type fakePrices struct {
	v quote.Valuation
}

func (f *fakePrices) Resolve(context.Context) quote.Valuation { return f.v }
