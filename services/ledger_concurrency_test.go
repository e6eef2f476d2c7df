package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gold-accrual-engine/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerConcurrentWriters(t *testing.T) {
	ctx := context.Background()

	t.Run("should not lose accruals or spends made in parallel", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")

		const workers = 40
		var spent atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					_, err := env.ledgers.ApplyAccrual(ctx, "addrA", time.Hour, 10)
					assert.NoError(t, err)
					return
				}
				_, err := env.ledgers.Spend(ctx, "addrA", decimal.NewFromInt(3), "upgrade")
				switch {
				case err == nil:
					spent.Add(3)
				case errors.Is(err, apperrors.ErrInsufficientGold):
				default:
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		l := env.ledger(t, "addrA")
		assert.True(t, decimal.NewFromInt(workers/2*10).Equal(l.TotalCumulativeGold), "earned %s", l.TotalCumulativeGold)
		assert.True(t, decimal.NewFromInt(spent.Load()).Equal(l.TotalGoldSpent), "spent %s", l.TotalGoldSpent)
		assert.True(t, l.TotalCumulativeGold.Sub(l.TotalGoldSpent).Equal(l.AccumulatedGold), "balance %s", l.AccumulatedGold)
	})

	t.Run("should keep the balance consistent while restores and snapshot runs interleave", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1", "a2")
		env.run(t)
		env.clock.Advance(6 * time.Hour)
		snaps := env.snapshots(t, "addrA")
		require.Len(t, snaps, 1)

		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				switch i % 4 {
				case 0:
					_, err = env.ledgers.ApplyAccrual(ctx, "addrA", 30*time.Minute, 40)
				case 1:
					_, err = env.ledgers.Spend(ctx, "addrA", decimal.NewFromInt(5), "craft")
				case 2:
					_, err = env.restorer.Restore(ctx, RestoreRequest{SnapshotID: snaps[0].ID, WalletAddress: "addrA"})
				default:
					_, err = env.runner.RunSnapshotCycle(ctx, "manual")
				}
				if err != nil && !errors.Is(err, apperrors.ErrInsufficientGold) && !errors.Is(err, apperrors.ErrRunInProgress) {
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		l := env.ledger(t, "addrA")
		assert.True(t, l.TotalCumulativeGold.Sub(l.TotalGoldSpent).Equal(l.AccumulatedGold),
			"earned %s spent %s balance %s", l.TotalCumulativeGold, l.TotalGoldSpent, l.AccumulatedGold)
		assert.False(t, l.AccumulatedGold.IsNegative())
	})
}
