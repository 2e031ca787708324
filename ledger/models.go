package ledger

import (
	"fmt"
	"time"
)

// BurnKind distinguishes the two scheduled policies. Each kind owns exactly
// one operation slot.
type BurnKind string

const (
	BurnKindBuyback   BurnKind = "buyback"
	BurnKindMilestone BurnKind = "milestone"
)

// PriceSnapshot captures pricing at the moment a burn is recorded. Immutable
// once written.
type PriceSnapshot struct {
	PriceSol float64
	SolUsd   float64
	PriceUsd float64
}

// BurnRecord is the permanent, append-only trace of one finalized burn. The
// chain signature is globally unique; that uniqueness is the de-duplication
// invariant for the whole system.
type BurnRecord struct {
	ID             string
	Kind           BurnKind
	Quantity       uint64
	Signature      string
	Price          PriceSnapshot
	MilestoneCap   *float64
	LamportsSpent  *uint64
	TokensAcquired *uint64
	Seq            int64
	CreatedAt      time.Time
}

// Milestone is a configured market-cap level that authorizes exactly one
// burn. Completion transitions false→true once and never reverts.
type Milestone struct {
	MarketCapUsd  float64
	BurnQuantity  uint64
	ShareOfSupply float64
	Completed     bool
	CompletedAt   *time.Time
	Signature     *string
}

// SeedMilestone carries the config-derived fields for initial seeding.
type SeedMilestone struct {
	MarketCapUsd  float64
	BurnQuantity  uint64
	ShareOfSupply float64
}

// Stage enumerates the checkpoints of an in-flight operation. Buybacks pass
// through all four; milestone burns use only Started and BurnFinalized.
type Stage string

const (
	StageStarted        Stage = "started"
	StageFeesCollected  Stage = "fees_collected"
	StageTokensAcquired Stage = "tokens_acquired"
	StageBurnFinalized  Stage = "burn_finalized"
)

// Slot is the single mutable in-flight-operation record for one kind. It is
// written after every remote call so a crash at any point leaves enough state
// to resume or verify. Fields beyond the reached stage stay zero.
type Slot struct {
	Kind              BurnKind
	Stage             Stage
	SweepSignature    string
	LamportsCollected uint64
	SwapSignature     string
	TokensAcquired    uint64
	BurnSignature     string
	BurnQuantity      uint64
	MilestoneCap      float64
	Price             PriceSnapshot
	LastError         string
	UpdatedAt         time.Time
}

// Validate rejects slots whose stage claims progress the signatures don't
// back up. WriteSlot refuses them so an illegal checkpoint can never be
// persisted.
func (s Slot) Validate() error {
	switch s.Kind {
	case BurnKindBuyback, BurnKindMilestone:
	default:
		return fmt.Errorf("ledger: unknown slot kind %q", s.Kind)
	}

	switch s.Stage {
	case StageStarted:
	case StageFeesCollected:
		if s.Kind != BurnKindBuyback {
			return fmt.Errorf("ledger: stage %s is buyback-only", s.Stage)
		}
		if s.SweepSignature == "" {
			return fmt.Errorf("ledger: stage %s requires a sweep signature", s.Stage)
		}
	case StageTokensAcquired:
		if s.Kind != BurnKindBuyback {
			return fmt.Errorf("ledger: stage %s is buyback-only", s.Stage)
		}
		if s.SweepSignature == "" || s.SwapSignature == "" {
			return fmt.Errorf("ledger: stage %s requires sweep and swap signatures", s.Stage)
		}
	case StageBurnFinalized:
		if s.BurnSignature == "" {
			return fmt.Errorf("ledger: stage %s requires a burn signature", s.Stage)
		}
		if s.Kind == BurnKindBuyback && s.SwapSignature == "" {
			return fmt.Errorf("ledger: buyback at stage %s requires a swap signature", s.Stage)
		}
	default:
		return fmt.Errorf("ledger: unknown stage %q", s.Stage)
	}

	return nil
}

// KindStats aggregates burn records per kind.
type KindStats struct {
	Count    int
	Quantity uint64
}

// Stats is the dashboard aggregate view.
type Stats struct {
	TotalBurned uint64
	ByKind      map[BurnKind]KindStats
	Last24h     uint64
	Recent      []BurnRecord
}

// MilestoneStatus is the dashboard milestone view.
type MilestoneStatus struct {
	Items        []Milestone
	MarketCapUsd float64
	NextDue      *Milestone
}
