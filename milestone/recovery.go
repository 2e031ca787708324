package milestone

import (
	"context"
	"log"

	"burnflow/ledger"
)

// Recover resolves an interrupted milestone burn left behind by a crash.
// Milestone slots only ever sit at two stages: started (claimed but no burn
// submitted) and burn_finalized (burn submitted, record missing). Idempotent;
// it runs once at startup, and Tick runs it again whenever a leftover slot
// is found.
func (s *Service) Recover(ctx context.Context) error {
	slot, err := s.store.ReadSlot(ctx, ledger.BurnKindMilestone)
	if err != nil {
		return err
	}
	if slot == nil {
		return nil
	}

	switch slot.Stage {
	case ledger.StageBurnFinalized:
		res, err := s.chain.VerifyFinalized(ctx, slot.BurnSignature)
		if err != nil {
			// Ambiguous. The slot stays put; a later pass decides.
			log.Printf("milestone: recovery verification of %s inconclusive: %v", slot.BurnSignature, err)
			return nil
		}
		if !res.Verified {
			// The burn never landed. The milestone is still open; the next
			// tick re-claims it and burns again.
			log.Printf("milestone: recovery clearing slot for %.0f, burn %s did not finalize (%s)", slot.MilestoneCap, slot.BurnSignature, res.Err)
			return s.store.ClearSlot(ctx, ledger.BurnKindMilestone)
		}
		log.Printf("milestone: recovery confirming finalized burn %s for %.0f", slot.BurnSignature, slot.MilestoneCap)
		return s.ledger.FinalizeMilestone(ctx, ledger.MilestoneResult{
			MarketCapUsd: slot.MilestoneCap,
			Quantity:     slot.BurnQuantity,
			Signature:    slot.BurnSignature,
			Price:        slot.Price,
		})

	default: // started: nothing irreversible happened
		log.Printf("milestone: recovery clearing claimed-but-unburned slot for %.0f", slot.MilestoneCap)
		return s.store.ClearSlot(ctx, ledger.BurnKindMilestone)
	}
}
