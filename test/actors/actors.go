package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder hammers the burn ledger with the same signature from many
// goroutines. Exactly one insert may land; every other attempt must hit the
// unique constraint and nothing else.
func Recorder(ctx context.Context, pool *pgxpool.Pool, signature string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO burn_records (kind, quantity, signature, lamports_spent, tokens_acquired)
                                  VALUES ('buyback', 990000, $1, 20000000, 1000000)`, signature)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// expected under contention
			} else {
				return fmt.Errorf("recorder insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Completer races to complete one milestone: lock the row, flip the flag if
// still open, and record the burn in the same transaction. Under contention
// only the first transaction records; the rest see completed = TRUE.
func Completer(ctx context.Context, pool *pgxpool.Pool, marketCapUsd float64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var completed bool
		err = tx.QueryRow(ctx, `SELECT completed FROM milestones WHERE market_cap_usd = $1 FOR UPDATE`, marketCapUsd).Scan(&completed)
		if err == nil && !completed {
			sig := fmt.Sprintf("milestone-%v", marketCapUsd)
			_, err = tx.Exec(ctx, `INSERT INTO burn_records (kind, quantity, signature, milestone_cap)
                                   VALUES ('milestone', 800, $1, $2)`, sig, marketCapUsd)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE milestones SET completed = TRUE, completed_at = NOW(), signature = $2
                                       WHERE market_cap_usd = $1 AND completed = FALSE`, marketCapUsd, sig)
			}
			if err == nil {
				_ = tx.Commit(ctx)
				time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
				continue
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Checkpointer walks a buyback slot through its stages over and over,
// replacing the whole row each write, then clears it. Interleaved with chaos
// kills this exercises the upsert path recovery depends on.
func Checkpointer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++
		sweep := fmt.Sprintf("sweep-%d", n)
		swap := fmt.Sprintf("swap-%d", n)
		burn := fmt.Sprintf("burn-%d", n)

		steps := []struct {
			stage string
			args  []any
		}{
			{"started", []any{"", "", ""}},
			{"fees_collected", []any{sweep, "", ""}},
			{"tokens_acquired", []any{sweep, swap, ""}},
			{"burn_finalized", []any{sweep, swap, burn}},
		}
		for _, st := range steps {
			_, err := pool.Exec(ctx, `INSERT INTO operation_slots (kind, stage, sweep_signature, swap_signature, burn_signature, lamports_collected, tokens_acquired, burn_quantity)
                                      VALUES ('buyback', $1, $2, $3, $4, 25000000, 1000000, 990000)
                                      ON CONFLICT (kind) DO UPDATE SET
                                          stage = EXCLUDED.stage,
                                          sweep_signature = EXCLUDED.sweep_signature,
                                          swap_signature = EXCLUDED.swap_signature,
                                          burn_signature = EXCLUDED.burn_signature,
                                          updated_at = NOW()`,
				st.stage, st.args[0], st.args[1], st.args[2])
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("checkpointer write %s: %w", st.stage, err)
			}
			time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
		}
		if _, err := pool.Exec(ctx, `DELETE FROM operation_slots WHERE kind = 'buyback'`); err != nil && ctx.Err() == nil {
			return fmt.Errorf("checkpointer clear: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
	}
}

// Reader runs the dashboard aggregates while writers churn, to shake out
// read/write interleavings.
func Reader(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM burn_records`)
		_, _ = pool.Exec(ctx, `SELECT kind, COUNT(*), COALESCE(SUM(quantity), 0) FROM burn_records GROUP BY kind`)
		_, _ = pool.Exec(ctx, `SELECT market_cap_usd FROM milestones WHERE completed = FALSE ORDER BY market_cap_usd ASC`)
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}
