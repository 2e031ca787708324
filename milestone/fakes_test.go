package milestone

import (
	"context"
	"fmt"

	"burnflow/chain"
	"burnflow/ledger"
	"burnflow/quote"
)

type fakeChain struct {
	balance    uint64
	balanceErr error

	burn         chain.SubmitResult
	burnErr      error
	burnCalls    int
	burnedTotals []uint64

	verdicts  map[string]chain.VerifyResult
	verifyErr error
}

func (f *fakeChain) TokenBalance(context.Context) (uint64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeChain) BurnTokens(_ context.Context, quantity uint64) (chain.SubmitResult, error) {
	if f.burnErr != nil {
		return chain.SubmitResult{}, f.burnErr
	}
	f.burnCalls++
	f.burnedTotals = append(f.burnedTotals, quantity)
	if f.burn.Signature == "" {
		return chain.SubmitResult{Signature: fmt.Sprintf("burn-%d", f.burnCalls)}, nil
	}
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
	milestones []ledger.Milestone
	slots      map[ledger.BurnKind]*ledger.Slot
	writes     int
}

func newFakeStore(milestones ...ledger.Milestone) *fakeStore {
	return &fakeStore{
		milestones: milestones,
		slots:      make(map[ledger.BurnKind]*ledger.Slot),
	}
}

func (f *fakeStore) DueMilestones(_ context.Context, marketCapUsd float64) ([]ledger.Milestone, error) {
	var due []ledger.Milestone
	for _, m := range f.milestones {
		if !m.Completed && m.MarketCapUsd <= marketCapUsd {
			due = append(due, m)
		}
	}
	return due, nil
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
	copied := slot
	f.slots[slot.Kind] = &copied
	return nil
}

func (f *fakeStore) ClearSlot(_ context.Context, kind ledger.BurnKind) error {
	delete(f.slots, kind)
	return nil
}

func (f *fakeStore) slot(kind ledger.BurnKind) *ledger.Slot {
	return f.slots[kind]
}

func (f *fakeStore) complete(marketCapUsd float64) {
	for i := range f.milestones {
		if f.milestones[i].MarketCapUsd == marketCapUsd {
			f.milestones[i].Completed = true
		}
	}
}

// fakeLedger mimics the transactional ledger service: claiming checks the
// completion flag and persists the slot atomically, finalizing records the
// burn, flips the flag, and clears the slot.
type fakeLedger struct {
	store    *fakeStore
	results  []ledger.MilestoneResult
	claimErr error
}

func (f *fakeLedger) ClaimMilestone(ctx context.Context, marketCapUsd float64, slot ledger.Slot) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	for _, m := range f.store.milestones {
		if m.MarketCapUsd == marketCapUsd {
			if m.Completed {
				return false, nil
			}
			if err := f.store.WriteSlot(ctx, slot); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, ledger.ErrMilestoneNotFound
}

func (f *fakeLedger) FinalizeMilestone(ctx context.Context, res ledger.MilestoneResult) error {
	if res.Signature == "" {
		return fmt.Errorf("fakeLedger: missing signature")
	}
	f.results = append(f.results, res)
	f.store.complete(res.MarketCapUsd)
	return f.store.ClearSlot(ctx, ledger.BurnKindMilestone)
}

type fakePrices struct {
	v quote.Valuation
}

func (f *fakePrices) Resolve(context.Context) quote.Valuation { return f.v }

func usableValuation(marketCapUsd float64) quote.Valuation {
	return quote.Valuation{
		PriceSol:     0.0001,
		PriceUsd:     0.01,
		MarketCapUsd: marketCapUsd,
		SolUsd:       100,
		Source:       quote.SourcePrimary,
		Listed:       true,
	}
}
