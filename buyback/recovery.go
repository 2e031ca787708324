package buyback

import (
	"context"
	"log"

	"burnflow/ledger"
)

// Verdict is the outcome of verifying one signature against the chain.
type Verdict int

const (
	// VerdictFinalized: the action landed and finalized successfully.
	VerdictFinalized Verdict = iota
	// VerdictFailed: the chain reports the action failed or was never seen.
	VerdictFailed
	// VerdictUnknown: verification itself failed; no conclusion possible.
	VerdictUnknown
)

// RecoveryAction is the closed set of things recovery may do with a slot.
type RecoveryAction int

const (
	// RecoveryNoOp: no slot, nothing interrupted.
	RecoveryNoOp RecoveryAction = iota
	// RecoveryMarkComplete: the burn finalized; record it (if recovery from
	// an earlier pass hasn't already) and clear the slot.
	RecoveryMarkComplete
	// RecoveryResumeBurn: the swap finalized but the burn was never sent;
	// resume from the burn step using the persisted observed quantity.
	RecoveryResumeBurn
	// RecoveryClear: nothing irreversible is outstanding; drop the slot and
	// let the next natural cycle pick up whatever funds remain.
	RecoveryClear
	// RecoveryRetryLater: verification was ambiguous; leave the slot exactly
	// as it is and try again on the next startup or tick.
	RecoveryRetryLater
)

// Plan decides what recovery should do with an interrupted slot. It is a
// pure function of the slot and the verification verdicts, so crash matrices
// are testable without any I/O.
//
// The asymmetry between stages is deliberate: a known burn signature is
// verified rather than retried (a duplicate burn is the one unrecoverable
// mistake), while a slot that never got past collection is simply dropped:
// swept fees sit in the operating wallet indistinguishable from idle balance
// and will be swept into the next cycle.
func Plan(slot *ledger.Slot, verdictFor func(signature string) Verdict) RecoveryAction {
	if slot == nil {
		return RecoveryNoOp
	}

	switch slot.Stage {
	case ledger.StageBurnFinalized:
		switch verdictFor(slot.BurnSignature) {
		case VerdictFinalized:
			return RecoveryMarkComplete
		case VerdictFailed:
			return RecoveryClear
		default:
			return RecoveryRetryLater
		}
	case ledger.StageTokensAcquired:
		switch verdictFor(slot.SwapSignature) {
		case VerdictFinalized:
			return RecoveryResumeBurn
		case VerdictFailed:
			return RecoveryClear
		default:
			return RecoveryRetryLater
		}
	case ledger.StageFeesCollected, ledger.StageStarted:
		return RecoveryClear
	default:
		return RecoveryRetryLater
	}
}

// Recover inspects the durable slot and resolves any interrupted buyback.
// It is idempotent: running it any number of times with no intervening ticks
// converges to the same ledger state. It runs once at startup, and Tick runs
// it again whenever a leftover slot is found.
func (s *Service) Recover(ctx context.Context) error {
	slot, err := s.store.ReadSlot(ctx, ledger.BurnKindBuyback)
	if err != nil {
		return err
	}

	verdictFor := func(signature string) Verdict {
		res, err := s.chain.VerifyFinalized(ctx, signature)
		if err != nil {
			log.Printf("buyback: recovery verification of %s inconclusive: %v", signature, err)
			return VerdictUnknown
		}
		if res.Verified {
			return VerdictFinalized
		}
		return VerdictFailed
	}

	switch Plan(slot, verdictFor) {
	case RecoveryNoOp:
		return nil

	case RecoveryMarkComplete:
		// A concurrent pass may have recorded the burn already; checking
		// first avoids a conflicting insert attempt.
		recorded, err := s.store.HasBurnWithSignature(ctx, slot.BurnSignature)
		if err != nil {
			return err
		}
		if recorded {
			log.Printf("buyback: burn %s already recorded, clearing slot", slot.BurnSignature)
			return s.store.ClearSlot(ctx, ledger.BurnKindBuyback)
		}
		log.Printf("buyback: recovery confirming finalized burn %s", slot.BurnSignature)
		return s.fin.FinalizeBuyback(ctx, ledger.BuybackResult{
			Quantity:       slot.BurnQuantity,
			Signature:      slot.BurnSignature,
			Price:          slot.Price,
			LamportsSpent:  s.spentFromSlot(*slot),
			TokensAcquired: slot.TokensAcquired,
		})

	case RecoveryResumeBurn:
		log.Printf("buyback: recovery resuming burn after verified swap %s", slot.SwapSignature)
		return s.burnAndFinalize(ctx, *slot, s.spentFromSlot(*slot))

	case RecoveryClear:
		log.Printf("buyback: recovery clearing slot at stage %s (last error: %q)", slot.Stage, slot.LastError)
		return s.store.ClearSlot(ctx, ledger.BurnKindBuyback)

	default: // RecoveryRetryLater
		log.Printf("buyback: recovery leaving slot at stage %s untouched pending verification", slot.Stage)
		return nil
	}
}
