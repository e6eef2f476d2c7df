package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/models"
	"gold-accrual-engine/rates"
	"gold-accrual-engine/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countNotifications(t *testing.T, env *testEnv, kind string) int {
	t.Helper()
	list, err := env.notify.List(context.Background(), false, 100)
	require.NoError(t, err)
	n := 0
	for _, item := range list {
		if item.Type == kind {
			n++
		}
	}
	return n
}

// noNotifications fails every notification write, inside transactions too.
type noNotifications struct{ repository.Store }

func (s noNotifications) Notifications() repository.NotificationStore {
	return failingNotificationStore{s.Store.Notifications()}
}

func (s noNotifications) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.InTx(ctx, func(tx repository.Store) error { return fn(noNotifications{tx}) })
}

type failingNotificationStore struct{ repository.NotificationStore }

func (failingNotificationStore) Create(context.Context, *models.AdminNotification) error {
	return errors.New("notifications table unavailable")
}

func TestSnapshotRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("should isolate a failing wallet from the rest of the run", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA", "addrB", "addrC")
		env.source.set("addrA", "a1")
		env.source.set("addrB", "b1", "b2")
		env.source.fail("addrC", errors.New("indexer down"))

		run := env.run(t)

		assert.Equal(t, 3, run.TotalWallets)
		assert.Equal(t, 3, run.TotalWalletsConsidered)
		assert.Equal(t, 2, run.UpdatedCount)
		assert.Equal(t, 1, run.ErrorCount)
		assert.Equal(t, models.RunPartial, run.Status)
		require.Len(t, run.Errors, 1)
		assert.Contains(t, run.Errors[0], "addrC")

		assert.Len(t, env.snapshots(t, "addrA"), 1)
		assert.Len(t, env.snapshots(t, "addrB"), 1)
		assert.Empty(t, env.snapshots(t, "addrC"))

		c := env.ledger(t, "addrC")
		assert.Equal(t, 1, c.ConsecutiveSnapshotFailures)
		assert.Nil(t, c.LastSnapshotTime)

		b := env.ledger(t, "addrB")
		assert.Len(t, b.OwnedMeks, 2)
		assert.Equal(t, 200.0, b.AggregateRatePerHour)
	})

	t.Run("should accrue the window at the rate of continuously held assets", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1")

		env.run(t)
		l := env.ledger(t, "addrA")
		assert.True(t, l.AccumulatedGold.IsZero())
		assert.Equal(t, 100.0, l.AggregateRatePerHour)

		env.clock.Advance(6 * time.Hour)
		run := env.run(t)
		assert.Equal(t, models.RunSuccess, run.Status)

		l = env.ledger(t, "addrA")
		assert.True(t, l.AccumulatedGold.Equal(decimal.NewFromInt(600)), l.AccumulatedGold.String())
		assert.True(t, l.TotalCumulativeGold.Equal(decimal.NewFromInt(600)))
		assert.Equal(t, t0.Add(6*time.Hour), *l.LastSnapshotTime)

		snaps := env.snapshots(t, "addrA")
		require.Len(t, snaps, 2)
		assert.True(t, snaps[1].AccumulatedGold.Equal(decimal.NewFromInt(600)))
		assert.Equal(t, run.ID, *snaps[1].RunID)
		assert.Equal(t, models.VerificationVerified, snaps[1].VerificationStatus)
	})

	t.Run("should not credit assets that left the wallet during the window", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1", "a2")
		env.run(t)

		env.clock.Advance(6 * time.Hour)
		env.source.set("addrA", "a1", "a3")
		env.run(t)

		l := env.ledger(t, "addrA")
		assert.True(t, l.AccumulatedGold.Equal(decimal.NewFromInt(600)), l.AccumulatedGold.String())
		assert.Equal(t, 200.0, l.AggregateRatePerHour)
		_, ok := l.FindMek("a2")
		assert.False(t, ok)
	})

	t.Run("should leave gold untouched when the fetch fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1")
		env.run(t)

		env.clock.Advance(6 * time.Hour)
		env.source.fail("addrA", errors.New("503 from indexer"))
		run := env.run(t)

		assert.Equal(t, models.RunFailed, run.Status)
		assert.Equal(t, 0, run.UpdatedCount)
		assert.Equal(t, 1, run.ErrorCount)

		l := env.ledger(t, "addrA")
		assert.True(t, l.AccumulatedGold.IsZero())
		assert.True(t, l.TotalCumulativeGold.IsZero())
		assert.Equal(t, 1, l.ConsecutiveSnapshotFailures)
		assert.Equal(t, t0, *l.LastSnapshotTime)
		assert.Len(t, env.snapshots(t, "addrA"), 1)
		assert.Equal(t, 1, countNotifications(t, env, models.NotificationSnapshotRunFailed))
	})

	t.Run("should count a hung fetch as a failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.Opts.FetchTimeout = 20 * time.Millisecond
		env.connect(t, "addrA", "addrB")
		env.source.hang("addrA")
		env.source.set("addrB", "b1")

		run := env.run(t)

		assert.Equal(t, 1, run.UpdatedCount)
		assert.Equal(t, 1, run.ErrorCount)
		assert.Equal(t, 1, env.ledger(t, "addrA").ConsecutiveSnapshotFailures)
	})

	t.Run("should reject an empty asset list for a wallet that holds assets", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA", "addrEmpty")
		env.source.set("addrA", "a1", "a2")
		env.source.set("addrEmpty")
		env.run(t)

		env.clock.Advance(6 * time.Hour)
		env.source.set("addrA")
		run := env.run(t)

		assert.Equal(t, 1, run.ErrorCount)
		assert.Equal(t, 1, run.UpdatedCount)

		l := env.ledger(t, "addrA")
		assert.Len(t, l.OwnedMeks, 2)
		assert.Equal(t, 1, l.ConsecutiveSnapshotFailures)
		assert.True(t, l.AccumulatedGold.IsZero())

		assert.Len(t, env.snapshots(t, "addrEmpty"), 2)
	})

	t.Run("should reject malformed asset lists", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.assets["addrA"] = []models.AssetRef{
			{AssetID: "a1", Rank: 10},
			{AssetID: "a1", Rank: 10},
		}

		run := env.run(t)

		assert.Equal(t, 1, run.ErrorCount)
		assert.Equal(t, 1, env.ledger(t, "addrA").ConsecutiveSnapshotFailures)
		assert.Empty(t, env.snapshots(t, "addrA"))
	})

	t.Run("should snapshot unverified wallets without accruing", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.Opts.RequireVerification = true
		env.connect(t, "addrA")
		env.source.set("addrA", "a1")
		env.run(t)

		env.clock.Advance(6 * time.Hour)
		env.run(t)

		l := env.ledger(t, "addrA")
		assert.True(t, l.AccumulatedGold.IsZero())
		assert.Equal(t, t0.Add(6*time.Hour), *l.LastSnapshotTime)
		snaps := env.snapshots(t, "addrA")
		require.Len(t, snaps, 2)
		assert.Equal(t, models.VerificationUnverified, snaps[1].VerificationStatus)

		_, err := env.ledgers.MarkVerified(ctx, "addrA", true)
		require.NoError(t, err)
		env.clock.Advance(6 * time.Hour)
		env.run(t)

		assert.True(t, env.ledger(t, "addrA").AccumulatedGold.Equal(decimal.NewFromInt(600)))
	})

	t.Run("should skip wallets that are not yet due", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1")
		env.run(t)

		env.clock.Advance(time.Hour)
		run := env.run(t)

		assert.Equal(t, 0, run.TotalWalletsConsidered)
		assert.Equal(t, 1, run.SkippedCount)
		assert.Equal(t, models.RunSuccess, run.Status)
		assert.Len(t, env.snapshots(t, "addrA"), 1)
		assert.True(t, env.ledger(t, "addrA").AccumulatedGold.IsZero())

		env.clock.Advance(5*time.Hour - 4*time.Minute)
		run = env.run(t)
		assert.Equal(t, 1, run.UpdatedCount)
	})

	t.Run("should notify once when failures reach the threshold", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.fail("addrA", errors.New("timeout"))

		for i := 0; i < 5; i++ {
			env.run(t)
			env.clock.Advance(6 * time.Hour)
		}

		assert.Equal(t, 5, env.ledger(t, "addrA").ConsecutiveSnapshotFailures)
		assert.Equal(t, 1, countNotifications(t, env, models.NotificationSnapshotFailureThreshold))
		assert.Equal(t, 5, countNotifications(t, env, models.NotificationSnapshotRunFailed))
	})

	t.Run("should count failures even when notifications cannot be stored", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.fail("addrA", errors.New("timeout"))

		broken := noNotifications{env.store}
		env.ledgers.Store = broken
		env.notify.Store = broken

		for i := 0; i < 4; i++ {
			env.run(t)
			env.clock.Advance(6 * time.Hour)
		}

		l := env.ledger(t, "addrA")
		assert.Equal(t, 4, l.ConsecutiveSnapshotFailures)
		assert.Nil(t, l.LastSnapshotTime)
	})

	t.Run("should carry level and boost across snapshots", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1", "a2")
		env.run(t)

		_, err := env.ledgers.withLedger(ctx, "addrA", func(_ repository.Store, l *models.WalletLedger) error {
			l.OwnedMeks[0].Level = 5
			l.OwnedMeks[0].LevelBoost = 10
			l.OwnedMeks[0].Rate = 110
			l.AggregateRatePerHour = 210
			return nil
		})
		require.NoError(t, err)

		env.clock.Advance(6 * time.Hour)
		env.source.set("addrA", "a1", "a3")
		env.run(t)

		l := env.ledger(t, "addrA")
		a1, ok := l.FindMek("a1")
		require.True(t, ok)
		assert.Equal(t, 5, a1.Level)
		assert.Equal(t, 110.0, a1.Rate)
		a3, ok := l.FindMek("a3")
		require.True(t, ok)
		assert.Equal(t, 1, a3.Level)
		assert.Equal(t, 210.0, l.AggregateRatePerHour)
		assert.True(t, l.AccumulatedGold.Equal(decimal.NewFromInt(660)), l.AccumulatedGold.String())
	})

	t.Run("should price new assets with the saved rate config", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.rates.Save(ctx, rates.Params{Curve: rates.Linear, MinRate: 40, MaxRate: 40, TotalAssets: 4000}, "admin")
		require.NoError(t, err)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1")

		env.run(t)

		assert.Equal(t, 40.0, env.ledger(t, "addrA").AggregateRatePerHour)
	})

	t.Run("should refuse to start while a run is in progress", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.Opts.FetchTimeout = time.Minute
		env.connect(t, "addrA")
		env.source.hang("addrA")

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan *models.SnapshotRunLog, 1)
		go func() {
			run, _ := env.runner.RunSnapshotCycle(runCtx, models.TriggerScheduled)
			done <- run
		}()

		require.Eventually(t, func() bool {
			env.source.mu.Lock()
			defer env.source.mu.Unlock()
			return env.source.calls["addrA"] == 1
		}, time.Second, 5*time.Millisecond)

		_, err := env.runner.RunSnapshotCycle(ctx, models.TriggerManual)
		assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

		cancel()
		run := <-done
		require.NotNil(t, run)
		assert.Equal(t, 0, env.ledger(t, "addrA").ConsecutiveSnapshotFailures)

		last, err := env.runner.LastRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, run.ID, last.ID)
	})
}

func TestIsDue(t *testing.T) {
	r := &SnapshotRunner{Opts: RunnerOptions{Interval: 6 * time.Hour, DueSlack: 5 * time.Minute}}

	t.Run("should treat a never snapshotted wallet as due", func(t *testing.T) {
		assert.True(t, r.IsDue(&models.WalletLedger{}, t0))
	})

	t.Run("should apply the slack before the interval", func(t *testing.T) {
		last := t0
		l := &models.WalletLedger{LastSnapshotTime: &last}
		assert.False(t, r.IsDue(l, t0.Add(5*time.Hour)))
		assert.False(t, r.IsDue(l, t0.Add(6*time.Hour-5*time.Minute)))
		assert.True(t, r.IsDue(l, t0.Add(6*time.Hour-4*time.Minute)))
	})
}

func TestRunStatus(t *testing.T) {
	t.Run("should classify runs by outcome", func(t *testing.T) {
		assert.Equal(t, models.RunSuccess, runStatus(0, 0))
		assert.Equal(t, models.RunSuccess, runStatus(3, 0))
		assert.Equal(t, models.RunPartial, runStatus(2, 1))
		assert.Equal(t, models.RunFailed, runStatus(0, 2))
	})
}
