package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateSignature is returned when a burn record with the same
	// chain signature already exists. Callers treat it as confirmation that
	// the burn was recorded by an earlier pass, not as a failure.
	ErrDuplicateSignature = errors.New("ledger: duplicate signature")
	// ErrMilestoneNotFound signals an unknown milestone trigger value.
	ErrMilestoneNotFound = errors.New("ledger: milestone not found")
)

// Repository is the durable operation ledger. Every mutation is committed
// before the call returns; nothing here survives only in memory.
type Repository interface {
	InsertBurn(ctx context.Context, tx pgx.Tx, rec BurnRecord) (BurnRecord, error)
	HasBurnWithSignature(ctx context.Context, signature string) (bool, error)
	TotalBurned(ctx context.Context) (uint64, error)
	BurnsByKind(ctx context.Context) (map[BurnKind]KindStats, error)
	BurnedSince(ctx context.Context, since time.Time) (uint64, error)
	RecentBurns(ctx context.Context, limit int) ([]BurnRecord, error)

	SeedMilestones(ctx context.Context, seeds []SeedMilestone) error
	Milestones(ctx context.Context) ([]Milestone, error)
	DueMilestones(ctx context.Context, marketCapUsd float64) ([]Milestone, error)
	GetMilestoneForUpdate(ctx context.Context, tx pgx.Tx, marketCapUsd float64) (Milestone, error)
	CompleteMilestone(ctx context.Context, tx pgx.Tx, marketCapUsd float64, signature string) error

	ReadSlot(ctx context.Context, kind BurnKind) (*Slot, error)
	WriteSlot(ctx context.Context, slot Slot) error
	WriteSlotTx(ctx context.Context, tx pgx.Tx, slot Slot) error
	ClearSlot(ctx context.Context, kind BurnKind) error
	ClearSlotTx(ctx context.Context, tx pgx.Tx, kind BurnKind) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const burnColumns = `id, kind, quantity, signature, price_sol, sol_usd, price_usd,
        milestone_cap, lamports_spent, tokens_acquired, seq, created_at`

func (r *PGRepository) InsertBurn(ctx context.Context, tx pgx.Tx, rec BurnRecord) (BurnRecord, error) {
	const query = `
        INSERT INTO burn_records (id, kind, quantity, signature, price_sol, sol_usd, price_usd,
            milestone_cap, lamports_spent, tokens_acquired)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING ` + burnColumns

	row := tx.QueryRow(ctx, query,
		rec.ID,
		rec.Kind,
		rec.Quantity,
		rec.Signature,
		rec.Price.PriceSol,
		rec.Price.SolUsd,
		rec.Price.PriceUsd,
		rec.MilestoneCap,
		rec.LamportsSpent,
		rec.TokensAcquired,
	)

	created, err := scanBurn(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return BurnRecord{}, ErrDuplicateSignature
		}
		return BurnRecord{}, fmt.Errorf("ledger: insert burn: %w", err)
	}
	return created, nil
}

func (r *PGRepository) HasBurnWithSignature(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM burn_records WHERE signature = $1)`, signature,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: check signature: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) TotalBurned(ctx context.Context) (uint64, error) {
	var total uint64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::bigint FROM burn_records`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: total burned: %w", err)
	}
	return total, nil
}

func (r *PGRepository) BurnsByKind(ctx context.Context) (map[BurnKind]KindStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, COUNT(*), COALESCE(SUM(quantity), 0)::bigint FROM burn_records GROUP BY kind`,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: burns by kind: %w", err)
	}
	defer rows.Close()

	out := make(map[BurnKind]KindStats, 2)
	for rows.Next() {
		var kind BurnKind
		var stats KindStats
		if err := rows.Scan(&kind, &stats.Count, &stats.Quantity); err != nil {
			return nil, fmt.Errorf("ledger: scan kind stats: %w", err)
		}
		out[kind] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate kind stats: %w", err)
	}
	return out, nil
}

func (r *PGRepository) BurnedSince(ctx context.Context, since time.Time) (uint64, error) {
	var total uint64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::bigint FROM burn_records WHERE created_at >= $1`, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: burned since: %w", err)
	}
	return total, nil
}

func (r *PGRepository) RecentBurns(ctx context.Context, limit int) ([]BurnRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+burnColumns+` FROM burn_records ORDER BY seq DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent burns: %w", err)
	}
	defer rows.Close()

	out := make([]BurnRecord, 0, limit)
	for rows.Next() {
		rec, err := scanBurn(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan burn: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate burns: %w", err)
	}
	return out, nil
}

// SeedMilestones inserts schedule entries that are not yet present. Existing
// rows are left untouched so a completed milestone is never reset by a
// restart or a schedule reload.
func (r *PGRepository) SeedMilestones(ctx context.Context, seeds []SeedMilestone) error {
	const query = `
        INSERT INTO milestones (market_cap_usd, burn_quantity, share_of_supply)
        VALUES ($1, $2, $3)
        ON CONFLICT (market_cap_usd) DO NOTHING
    `
	for _, seed := range seeds {
		if _, err := r.pool.Exec(ctx, query, seed.MarketCapUsd, seed.BurnQuantity, seed.ShareOfSupply); err != nil {
			return fmt.Errorf("ledger: seed milestone %v: %w", seed.MarketCapUsd, err)
		}
	}
	return nil
}

const milestoneColumns = `market_cap_usd, burn_quantity, share_of_supply, completed, completed_at, signature`

func (r *PGRepository) Milestones(ctx context.Context) ([]Milestone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones ORDER BY market_cap_usd ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list milestones: %w", err)
	}
	defer rows.Close()
	return collectMilestones(rows)
}

// DueMilestones returns incomplete milestones whose trigger is at or below
// the given market cap, ascending. Ascending order is load-bearing: lower
// milestones burn first.
func (r *PGRepository) DueMilestones(ctx context.Context, marketCapUsd float64) ([]Milestone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones
         WHERE completed = FALSE AND market_cap_usd <= $1
         ORDER BY market_cap_usd ASC`, marketCapUsd,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: due milestones: %w", err)
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func (r *PGRepository) GetMilestoneForUpdate(ctx context.Context, tx pgx.Tx, marketCapUsd float64) (Milestone, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE market_cap_usd = $1 FOR UPDATE`, marketCapUsd,
	)
	m, err := scanMilestone(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrMilestoneNotFound
		}
		return Milestone{}, fmt.Errorf("ledger: get milestone for update: %w", err)
	}
	return m, nil
}

// CompleteMilestone flips the completion flag exactly once. Re-completing an
// already completed milestone is a no-op, never an overwrite.
func (r *PGRepository) CompleteMilestone(ctx context.Context, tx pgx.Tx, marketCapUsd float64, signature string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE milestones
        SET completed = TRUE, completed_at = now(), signature = $2
        WHERE market_cap_usd = $1 AND completed = FALSE
    `, marketCapUsd, signature)
	if err != nil {
		return fmt.Errorf("ledger: complete milestone %v: %w", marketCapUsd, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM milestones WHERE market_cap_usd = $1)`, marketCapUsd,
		).Scan(&exists); err != nil {
			return fmt.Errorf("ledger: verify milestone %v: %w", marketCapUsd, err)
		}
		if !exists {
			return ErrMilestoneNotFound
		}
	}
	return nil
}

const slotColumns = `kind, stage, sweep_signature, lamports_collected, swap_signature, tokens_acquired,
        burn_signature, burn_quantity, milestone_cap, price_sol, sol_usd, price_usd, last_error, updated_at`

func (r *PGRepository) ReadSlot(ctx context.Context, kind BurnKind) (*Slot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM operation_slots WHERE kind = $1`, kind,
	)

	var s Slot
	err := row.Scan(
		&s.Kind,
		&s.Stage,
		&s.SweepSignature,
		&s.LamportsCollected,
		&s.SwapSignature,
		&s.TokensAcquired,
		&s.BurnSignature,
		&s.BurnQuantity,
		&s.MilestoneCap,
		&s.Price.PriceSol,
		&s.Price.SolUsd,
		&s.Price.PriceUsd,
		&s.LastError,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: read slot %s: %w", kind, err)
	}
	return &s, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WriteSlot upserts the whole slot row in one statement. The slot is always
// replaced wholesale; partial-field updates would allow a torn checkpoint.
func (r *PGRepository) WriteSlot(ctx context.Context, slot Slot) error {
	return r.writeSlot(ctx, r.pool, slot)
}

// WriteSlotTx is WriteSlot inside a caller-owned transaction, used when the
// slot write must share the row lock taken by a milestone claim.
func (r *PGRepository) WriteSlotTx(ctx context.Context, tx pgx.Tx, slot Slot) error {
	return r.writeSlot(ctx, tx, slot)
}

func (r *PGRepository) writeSlot(ctx context.Context, db execer, slot Slot) error {
	if err := slot.Validate(); err != nil {
		return err
	}

	const query = `
        INSERT INTO operation_slots (kind, stage, sweep_signature, lamports_collected, swap_signature,
            tokens_acquired, burn_signature, burn_quantity, milestone_cap, price_sol, sol_usd, price_usd,
            last_error, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
        ON CONFLICT (kind) DO UPDATE SET
            stage = EXCLUDED.stage,
            sweep_signature = EXCLUDED.sweep_signature,
            lamports_collected = EXCLUDED.lamports_collected,
            swap_signature = EXCLUDED.swap_signature,
            tokens_acquired = EXCLUDED.tokens_acquired,
            burn_signature = EXCLUDED.burn_signature,
            burn_quantity = EXCLUDED.burn_quantity,
            milestone_cap = EXCLUDED.milestone_cap,
            price_sol = EXCLUDED.price_sol,
            sol_usd = EXCLUDED.sol_usd,
            price_usd = EXCLUDED.price_usd,
            last_error = EXCLUDED.last_error,
            updated_at = now()
    `

	_, err := db.Exec(ctx, query,
		slot.Kind,
		slot.Stage,
		slot.SweepSignature,
		slot.LamportsCollected,
		slot.SwapSignature,
		slot.TokensAcquired,
		slot.BurnSignature,
		slot.BurnQuantity,
		slot.MilestoneCap,
		slot.Price.PriceSol,
		slot.Price.SolUsd,
		slot.Price.PriceUsd,
		slot.LastError,
	)
	if err != nil {
		return fmt.Errorf("ledger: write slot %s: %w", slot.Kind, err)
	}
	return nil
}

func (r *PGRepository) ClearSlot(ctx context.Context, kind BurnKind) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM operation_slots WHERE kind = $1`, kind); err != nil {
		return fmt.Errorf("ledger: clear slot %s: %w", kind, err)
	}
	return nil
}

func (r *PGRepository) ClearSlotTx(ctx context.Context, tx pgx.Tx, kind BurnKind) error {
	if _, err := tx.Exec(ctx, `DELETE FROM operation_slots WHERE kind = $1`, kind); err != nil {
		return fmt.Errorf("ledger: clear slot %s: %w", kind, err)
	}
	return nil
}

func scanBurn(row pgx.Row) (BurnRecord, error) {
	var rec BurnRecord
	return rec, row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.Quantity,
		&rec.Signature,
		&rec.Price.PriceSol,
		&rec.Price.SolUsd,
		&rec.Price.PriceUsd,
		&rec.MilestoneCap,
		&rec.LamportsSpent,
		&rec.TokensAcquired,
		&rec.Seq,
		&rec.CreatedAt,
	)
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var m Milestone
	return m, row.Scan(
		&m.MarketCapUsd,
		&m.BurnQuantity,
		&m.ShareOfSupply,
		&m.Completed,
		&m.CompletedAt,
		&m.Signature,
	)
}

func collectMilestones(rows pgx.Rows) ([]Milestone, error) {
	out := make([]Milestone, 0, 8)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan milestone: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate milestones: %w", err)
	}
	return out, nil
}
