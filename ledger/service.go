package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service composes repository calls into the transactional operations the
// orchestrators and the dashboard need.
type Service struct {
	pool  TxBeginner
	repo  Repository
	now   func() time.Time
	idGen func() string
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		now:   time.Now,
		idGen: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// BuybackResult describes a finalized buyback burn ready to be recorded.
type BuybackResult struct {
	Quantity       uint64
	Signature      string
	Price          PriceSnapshot
	LamportsSpent  uint64
	TokensAcquired uint64
}

// FinalizeBuyback writes the permanent record and clears the buyback slot in
// one transaction. A duplicate signature means a previous pass (usually
// recovery) already recorded this burn; the record insert becomes a no-op and
// the slot is still cleared.
func (s *Service) FinalizeBuyback(ctx context.Context, res BuybackResult) error {
	if res.Signature == "" {
		return fmt.Errorf("ledger: finalize buyback without signature")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin buyback finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := BurnRecord{
		ID:             s.idGen(),
		Kind:           BurnKindBuyback,
		Quantity:       res.Quantity,
		Signature:      res.Signature,
		Price:          res.Price,
		LamportsSpent:  &res.LamportsSpent,
		TokensAcquired: &res.TokensAcquired,
	}
	if _, err := s.repo.InsertBurn(ctx, tx, rec); err != nil && !errors.Is(err, ErrDuplicateSignature) {
		return err
	}

	if err := s.repo.ClearSlotTx(ctx, tx, BurnKindBuyback); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit buyback finalize: %w", err)
	}
	return nil
}

// MilestoneResult describes a finalized milestone burn.
type MilestoneResult struct {
	MarketCapUsd float64
	Quantity     uint64
	Signature    string
	Price        PriceSnapshot
}

// FinalizeMilestone records the burn, marks the milestone completed, and
// clears the milestone slot in one transaction. Both the record insert and
// the completion flag are idempotent, so replaying after a crash between the
// chain confirmation and this commit converges to the same state.
func (s *Service) FinalizeMilestone(ctx context.Context, res MilestoneResult) error {
	if res.Signature == "" {
		return fmt.Errorf("ledger: finalize milestone without signature")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin milestone finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := BurnRecord{
		ID:           s.idGen(),
		Kind:         BurnKindMilestone,
		Quantity:     res.Quantity,
		Signature:    res.Signature,
		Price:        res.Price,
		MilestoneCap: &res.MarketCapUsd,
	}
	if _, err := s.repo.InsertBurn(ctx, tx, rec); err != nil && !errors.Is(err, ErrDuplicateSignature) {
		return err
	}

	if err := s.repo.CompleteMilestone(ctx, tx, res.MarketCapUsd, res.Signature); err != nil {
		return err
	}

	if err := s.repo.ClearSlotTx(ctx, tx, BurnKindMilestone); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit milestone finalize: %w", err)
	}
	return nil
}

// ClaimMilestone re-checks a milestone under a row lock and persists the
// milestone slot while the lock is held. It returns false when the milestone
// was completed by another pass in the meantime.
func (s *Service) ClaimMilestone(ctx context.Context, marketCapUsd float64, slot Slot) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger: begin milestone claim: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.GetMilestoneForUpdate(ctx, tx, marketCapUsd)
	if err != nil {
		return false, err
	}
	if m.Completed {
		return false, nil
	}

	if err := s.repo.WriteSlotTx(ctx, tx, slot); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ledger: commit milestone claim: %w", err)
	}
	return true, nil
}

// Stats assembles the aggregate dashboard view.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.repo.TotalBurned(ctx)
	if err != nil {
		return Stats{}, err
	}
	byKind, err := s.repo.BurnsByKind(ctx)
	if err != nil {
		return Stats{}, err
	}
	last24h, err := s.repo.BurnedSince(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return Stats{}, err
	}
	recent, err := s.repo.RecentBurns(ctx, 20)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalBurned: total,
		ByKind:      byKind,
		Last24h:     last24h,
		Recent:      recent,
	}, nil
}

// MilestoneStatus reports the full schedule plus the next incomplete
// milestone above the current market cap.
func (s *Service) MilestoneStatus(ctx context.Context, marketCapUsd float64) (MilestoneStatus, error) {
	items, err := s.repo.Milestones(ctx)
	if err != nil {
		return MilestoneStatus{}, err
	}

	status := MilestoneStatus{
		Items:        items,
		MarketCapUsd: marketCapUsd,
	}
	for i := range items {
		if !items[i].Completed {
			status.NextDue = &items[i]
			break
		}
	}
	return status, nil
}
