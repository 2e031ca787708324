package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each must return zero rows on a healthy
// ledger; any row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_signature_unique",
			SQL: `SELECT signature, COUNT(*) FROM burn_records
                  GROUP BY signature HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_milestone_burned_once",
			SQL: `SELECT milestone_cap, COUNT(*) FROM burn_records
                  WHERE kind = 'milestone' AND milestone_cap IS NOT NULL
                  GROUP BY milestone_cap HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_completed_milestone_has_record",
			SQL: `SELECT m.market_cap_usd FROM milestones m
                  WHERE m.completed = TRUE
                    AND (m.signature IS NULL
                         OR NOT EXISTS (SELECT 1 FROM burn_records b
                                        WHERE b.signature = m.signature AND b.kind = 'milestone'))`,
		},
		{
			Name: "O4_completed_milestone_stamped",
			SQL:  `SELECT market_cap_usd FROM milestones WHERE completed = TRUE AND completed_at IS NULL`,
		},
		{
			Name: "O5_slot_stage_backed_by_signatures",
			SQL: `SELECT kind, stage FROM operation_slots
                  WHERE (stage IN ('fees_collected', 'tokens_acquired') AND (kind <> 'buyback' OR sweep_signature = ''))
                     OR (stage = 'tokens_acquired' AND swap_signature = '')
                     OR (stage = 'burn_finalized' AND burn_signature = '')
                     OR (stage = 'burn_finalized' AND kind = 'buyback' AND swap_signature = '')`,
		},
		{
			Name: "O6_buyback_record_complete",
			SQL: `SELECT id FROM burn_records
                  WHERE kind = 'buyback' AND (lamports_spent IS NULL OR tokens_acquired IS NULL)`,
		},
		{
			Name: "O7_milestone_record_has_cap",
			SQL:  `SELECT id FROM burn_records WHERE kind = 'milestone' AND milestone_cap IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
