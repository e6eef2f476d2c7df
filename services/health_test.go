package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/config"
	"gold-accrual-engine/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapAt(id string, at time.Time, rate float64, assetIDs ...string) models.OwnershipSnapshot {
	meks := make([]models.SnapshotMek, 0, len(assetIDs))
	for _, a := range assetIDs {
		meks = append(meks, models.SnapshotMek{AssetID: a, Rate: rate / float64(len(assetIDs))})
	}
	return models.OwnershipSnapshot{
		ID:                   id,
		WalletAddress:        "addrA",
		SnapshotTime:         at,
		Meks:                 meks,
		AssetCount:           len(meks),
		AggregateRatePerHour: rate,
		VerificationStatus:   models.VerificationVerified,
	}
}

func TestHealthReport(t *testing.T) {
	ctx := context.Background()

	t.Run("should be critical with wallets never snapshotted and no runs", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA", "addrB")

		report, err := env.auditor.Report(ctx)
		require.NoError(t, err)

		assert.Equal(t, HealthCritical, report.Status)
		assert.Equal(t, 2, report.TotalWallets)
		assert.Equal(t, 2, report.ActiveWallets)
		assert.Len(t, report.NeverSnapshotted, 2)
		assert.Nil(t, report.LastSuccessfulRun)
		assert.Contains(t, report.Issues, "no successful snapshot run recorded")
	})

	t.Run("should be healthy right after a clean run", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "a1")
		env.run(t)

		env.clock.Advance(time.Hour)
		report, err := env.auditor.Report(ctx)
		require.NoError(t, err)

		assert.Equal(t, HealthHealthy, report.Status)
		assert.Empty(t, report.Issues)
		require.NotNil(t, report.LastRun)
		assert.Equal(t, 1.0, report.LastRun.HoursSince)
		assert.Len(t, report.RecentRuns, 1)
	})

	t.Run("should flag active wallets with old snapshots as stale", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA", "addrIdle")
		env.source.set("addrA", "a1")
		env.source.set("addrIdle", "i1")
		env.run(t)

		env.clock.Advance(20 * 24 * time.Hour)
		_, err := env.ledgers.Touch(ctx, "addrA", time.Time{})
		require.NoError(t, err)

		report, err := env.auditor.Report(ctx)
		require.NoError(t, err)

		require.Len(t, report.StaleWallets, 1)
		assert.Equal(t, "addrA", report.StaleWallets[0].WalletAddress)
		require.NotNil(t, report.StaleWallets[0].HoursSinceLastSnapshot)
		assert.Equal(t, 480.0, *report.StaleWallets[0].HoursSinceLastSnapshot)
		assert.Equal(t, 1, report.ActiveWallets)
		assert.Equal(t, HealthCritical, report.Status)
	})

	t.Run("should list wallets at the failure threshold", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA", "addrB")
		env.source.set("addrB", "b1")
		env.source.fail("addrA", errors.New("down"))

		for i := 0; i < 3; i++ {
			env.run(t)
			env.clock.Advance(6 * time.Hour)
		}

		report, err := env.auditor.Report(ctx)
		require.NoError(t, err)

		require.Len(t, report.FailingWallets, 1)
		assert.Equal(t, "addrA", report.FailingWallets[0].WalletAddress)
		assert.Equal(t, 3, report.FailingWallets[0].ConsecutiveFailures)
	})

	t.Run("should count a partial run as the last successful one", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA", "addrB")
		env.source.set("addrA", "a1")
		env.source.fail("addrB", errors.New("down"))
		run := env.run(t)
		require.Equal(t, models.RunPartial, run.Status)

		report, err := env.auditor.Report(ctx)
		require.NoError(t, err)

		require.NotNil(t, report.LastSuccessfulRun)
		assert.Equal(t, run.ID, report.LastSuccessfulRun.Run.ID)
	})
}

func TestHealthStatus(t *testing.T) {
	opts := config.Defaults().Health
	a := &HealthAuditor{Opts: opts}
	now := t0.Add(24 * time.Hour)

	recent := &RunAge{Run: models.SnapshotRunLog{Timestamp: now.Add(-time.Hour)}, HoursSince: 1}
	old := &RunAge{Run: models.SnapshotRunLog{Timestamp: now.Add(-8 * time.Hour)}, HoursSince: 8}

	issues := func(n int) []WalletIssue { return make([]WalletIssue, n) }

	t.Run("should be healthy with a recent run and no issues", func(t *testing.T) {
		status, _ := a.status(&HealthReport{LastSuccessfulRun: recent}, now)
		assert.Equal(t, HealthHealthy, status)
	})

	t.Run("should be critical when the last successful run is too old", func(t *testing.T) {
		status, msgs := a.status(&HealthReport{LastSuccessfulRun: old}, now)
		assert.Equal(t, HealthCritical, status)
		assert.Len(t, msgs, 1)
	})

	t.Run("should be critical above the failing limit", func(t *testing.T) {
		status, _ := a.status(&HealthReport{LastSuccessfulRun: recent, FailingWallets: issues(opts.MaxFailing)}, now)
		assert.Equal(t, HealthHealthy, status)

		status, _ = a.status(&HealthReport{LastSuccessfulRun: recent, FailingWallets: issues(opts.MaxFailing + 1)}, now)
		assert.Equal(t, HealthCritical, status)
	})

	t.Run("should warn above the stale limit or with never snapshotted wallets", func(t *testing.T) {
		status, _ := a.status(&HealthReport{LastSuccessfulRun: recent, StaleWallets: issues(opts.MaxStale)}, now)
		assert.Equal(t, HealthHealthy, status)

		status, _ = a.status(&HealthReport{LastSuccessfulRun: recent, StaleWallets: issues(opts.MaxStale + 1)}, now)
		assert.Equal(t, HealthWarning, status)

		status, _ = a.status(&HealthReport{LastSuccessfulRun: recent, NeverSnapshotted: issues(1)}, now)
		assert.Equal(t, HealthWarning, status)
	})

	t.Run("should let critical win over warning", func(t *testing.T) {
		status, msgs := a.status(&HealthReport{NeverSnapshotted: issues(2)}, now)
		assert.Equal(t, HealthCritical, status)
		assert.Len(t, msgs, 2)
	})
}

func TestDetectGaps(t *testing.T) {
	t.Run("should report only intervals longer than the threshold", func(t *testing.T) {
		snaps := []models.OwnershipSnapshot{
			snapAt("s3", t0.Add(15*time.Hour), 200, "a1", "a2"),
			snapAt("s1", t0, 100, "a1"),
			snapAt("s2", t0.Add(6*time.Hour), 100, "a1"),
		}

		gaps := DetectGaps(snaps, 8*time.Hour)

		require.Len(t, gaps, 1)
		assert.Equal(t, "s2", gaps[0].FromSnapshotID)
		assert.Equal(t, "s3", gaps[0].ToSnapshotID)
		assert.InDelta(t, 9.0, gaps[0].GapHours, 0.001)
		assert.True(t, gaps[0].AssetCountChanged)
		assert.True(t, gaps[0].RateChanged)
	})

	t.Run("should not report an interval exactly at the threshold", func(t *testing.T) {
		snaps := []models.OwnershipSnapshot{
			snapAt("s1", t0, 100, "a1"),
			snapAt("s2", t0.Add(8*time.Hour), 100, "a1"),
		}
		assert.Empty(t, DetectGaps(snaps, 8*time.Hour))
	})

	t.Run("should handle empty and single snapshot histories", func(t *testing.T) {
		assert.Empty(t, DetectGaps(nil, 8*time.Hour))
		assert.Empty(t, DetectGaps([]models.OwnershipSnapshot{snapAt("s1", t0, 1, "a1")}, 8*time.Hour))
	})
}

func TestDetectTransfers(t *testing.T) {
	t.Run("should report assets added and removed between snapshots", func(t *testing.T) {
		snaps := []models.OwnershipSnapshot{
			snapAt("s1", t0, 300, "A", "B", "C"),
			snapAt("s2", t0.Add(6*time.Hour), 300, "A", "B", "C"),
			snapAt("s3", t0.Add(12*time.Hour), 200, "A", "B"),
			snapAt("s4", t0.Add(18*time.Hour), 300, "A", "B", "D"),
		}

		events := DetectTransfers(snaps)

		require.Len(t, events, 2)
		assert.Equal(t, "s3", events[0].ToSnapshotID)
		assert.Empty(t, events[0].Added)
		require.Len(t, events[0].Removed, 1)
		assert.Equal(t, "C", events[0].Removed[0].AssetID)
		assert.Equal(t, -100.0, events[0].RateDelta)

		require.Len(t, events[1].Added, 1)
		assert.Equal(t, "D", events[1].Added[0].AssetID)
		assert.Equal(t, t0.Add(18*time.Hour), events[1].DetectedAt)
	})
}

func TestWalletAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("should return not found for unknown wallets", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.auditor.WalletHealth(ctx, "ghost")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		_, err = env.auditor.Timeline(ctx, "ghost")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		_, err = env.auditor.ReconstructEarnings(ctx, "ghost")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("should combine classification with gap and transfer analysis", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "A", "B", "C")
		env.run(t)
		env.clock.Advance(10 * time.Hour)
		env.source.set("addrA", "A", "B")
		env.run(t)

		wh, err := env.auditor.WalletHealth(ctx, "addrA")
		require.NoError(t, err)

		assert.Equal(t, 2, wh.SnapshotCount)
		assert.Len(t, wh.Gaps, 1)
		require.Len(t, wh.Transfers, 1)
		assert.Equal(t, "C", wh.Transfers[0].Removed[0].AssetID)
		assert.False(t, wh.Failing)
	})

	t.Run("should flag a ledger whose newest snapshot is missing", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "A")
		env.run(t)

		wh, err := env.auditor.WalletHealth(ctx, "addrA")
		require.NoError(t, err)
		assert.Empty(t, wh.IntegrityIssues)

		env.clock.Advance(6 * time.Hour)
		env.run(t)
		snaps := env.snapshots(t, "addrA")
		require.Len(t, snaps, 2)
		require.NoError(t, env.restorer.DeleteSnapshot(ctx, snaps[1].ID, "admin-1"))

		wh, err = env.auditor.WalletHealth(ctx, "addrA")
		require.NoError(t, err)
		require.Len(t, wh.IntegrityIssues, 1)
		assert.Contains(t, wh.IntegrityIssues[0], "precedes ledger last snapshot time")

		require.NoError(t, env.restorer.DeleteSnapshot(ctx, snaps[0].ID, "admin-1"))
		wh, err = env.auditor.WalletHealth(ctx, "addrA")
		require.NoError(t, err)
		require.Len(t, wh.IntegrityIssues, 1)
		assert.Contains(t, wh.IntegrityIssues[0], "none is stored")
	})

	t.Run("should reconstruct the ledger from history with no drift", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "A", "B", "C")
		env.run(t)

		env.clock.Advance(6 * time.Hour)
		env.run(t)
		env.clock.Advance(6 * time.Hour)
		env.source.set("addrA", "A", "B")
		env.run(t)
		env.clock.Advance(7 * time.Hour)
		env.source.set("addrA", "A", "D")
		env.run(t)

		_, err := env.ledgers.Spend(ctx, "addrA", decimal.NewFromInt(100), "upgrade")
		require.NoError(t, err)

		rec, err := env.auditor.ReconstructEarnings(ctx, "addrA")
		require.NoError(t, err)

		// 6h x 300 + 6h x 200 + 7h x 100
		assert.True(t, rec.HistoryGold.Equal(decimal.NewFromInt(3700)), rec.HistoryGold.String())
		assert.True(t, rec.LedgerGold.Equal(decimal.NewFromInt(3700)), rec.LedgerGold.String())
		assert.True(t, rec.Drift.IsZero())
		assert.Len(t, rec.Windows, 3)
	})

	t.Run("should surface gold credited outside snapshot history as drift", func(t *testing.T) {
		env := newTestEnv(t)
		env.connect(t, "addrA")
		env.source.set("addrA", "A")
		env.run(t)
		env.clock.Advance(6 * time.Hour)
		env.run(t)

		_, err := env.ledgers.ApplyAccrual(ctx, "addrA", time.Hour, 50)
		require.NoError(t, err)

		rec, err := env.auditor.ReconstructEarnings(ctx, "addrA")
		require.NoError(t, err)
		assert.True(t, rec.Drift.Equal(decimal.NewFromInt(50)), rec.Drift.String())
	})
}
