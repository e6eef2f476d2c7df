package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/rates"
	"gold-accrual-engine/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OwnershipSource reports what a wallet currently holds. It is the single
// source of truth for ownership.
type OwnershipSource interface {
	FetchOwnedAssets(ctx context.Context, wallet string) ([]models.AssetRef, error)
}

type RunnerOptions struct {
	Interval            time.Duration
	DueSlack            time.Duration
	FetchTimeout        time.Duration
	Concurrency         int
	RequireVerification bool
	FailingThreshold    int
}

// maxRunErrors caps the error messages kept on a run log.
const maxRunErrors = 20

type SnapshotRunner struct {
	Store   repository.Store
	Ledgers *LedgerService
	Source  OwnershipSource
	Rates   *RateConfigService
	Notify  *NotificationService
	Opts    RunnerOptions
	Now     func() time.Time

	running atomic.Bool
}

func NewSnapshotRunner(
	store repository.Store,
	ledgers *LedgerService,
	source OwnershipSource,
	rateConfigs *RateConfigService,
	notify *NotificationService,
	opts RunnerOptions,
) *SnapshotRunner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FailingThreshold <= 0 {
		opts.FailingThreshold = 3
	}
	return &SnapshotRunner{
		Store:   store,
		Ledgers: ledgers,
		Source:  source,
		Rates:   rateConfigs,
		Notify:  notify,
		Opts:    opts,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// IsDue reports whether l should be snapshotted at now.
func (r *SnapshotRunner) IsDue(l *models.WalletLedger, now time.Time) bool {
	if l.LastSnapshotTime == nil {
		return true
	}
	return now.Sub(*l.LastSnapshotTime) > r.Opts.Interval-r.Opts.DueSlack
}

// RunSnapshotCycle snapshots every due wallet and writes one run log. Per
// wallet failures are counted, never returned; the error is reserved for
// run-level faults such as an unreadable ledger list or an unwritable log.
func (r *SnapshotRunner) RunSnapshotCycle(ctx context.Context, trigger string) (*models.SnapshotRunLog, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.CodeRunInProgress, "a snapshot run is already in progress", nil)
	}
	defer r.running.Store(false)

	if trigger == "" {
		trigger = models.TriggerScheduled
	}
	started := r.Now()
	run := &models.SnapshotRunLog{
		ID:        uuid.NewString(),
		Timestamp: started,
		Trigger:   trigger,
	}
	log := logger.WithFields(logrus.Fields{"run_id": run.ID, "trigger": trigger})

	ledgers, err := r.Store.Ledgers().List(ctx)
	if err != nil {
		run.Status = models.RunFailed
		run.Errors = []string{fmt.Sprintf("list ledgers: %v", err)}
		r.finish(ctx, run)
		return run, fmt.Errorf("snapshot run %s: %w", run.ID, err)
	}

	params := r.Rates.Active(ctx)

	var due []string
	for i := range ledgers {
		if r.IsDue(&ledgers[i], started) {
			due = append(due, ledgers[i].WalletAddress)
		}
	}
	run.TotalWallets = len(ledgers)
	run.TotalWalletsConsidered = len(due)
	run.SkippedCount = len(ledgers) - len(due)

	log.WithFields(logrus.Fields{
		"total": len(ledgers),
		"due":   len(due),
		"curve": params.Curve,
	}).Info("📸 [SNAPSHOT] Starting snapshot run")

	var mu sync.Mutex
	var fetchFailures int
	var g errgroup.Group
	g.SetLimit(r.Opts.Concurrency)
	for _, wallet := range due {
		wallet := wallet
		g.Go(func() error {
			err := r.snapshotWallet(ctx, run.ID, wallet, params)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				run.UpdatedCount++
				return nil
			}
			run.ErrorCount++
			if errors.Is(err, apperrors.ErrOwnershipFetch) {
				fetchFailures++
			}
			if len(run.Errors) < maxRunErrors {
				run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", wallet, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if fetchFailures > 0 {
		log.WithFields(logrus.Fields{"fetch_failures": fetchFailures, "due": len(due)}).
			Warn("⚠️ [SNAPSHOT] Ownership indexer failed for some wallets")
	}

	run.Status = runStatus(run.UpdatedCount, run.ErrorCount)
	if err := r.finish(ctx, run); err != nil {
		return run, err
	}

	if run.Status == models.RunFailed && r.Notify != nil {
		if err := r.Notify.Notify(context.WithoutCancel(ctx), nil, r.Notify.runFailed(run)); err != nil {
			log.WithError(err).Error("❌ [SNAPSHOT] Failed to store run failure notification")
		}
	}
	return run, nil
}

func (r *SnapshotRunner) finish(ctx context.Context, run *models.SnapshotRunLog) error {
	run.FinishedAt = r.Now()
	run.DurationMs = run.FinishedAt.Sub(run.Timestamp).Milliseconds()

	fields := logrus.Fields{
		"run_id":      run.ID,
		"status":      run.Status,
		"considered":  run.TotalWalletsConsidered,
		"updated":     run.UpdatedCount,
		"errors":      run.ErrorCount,
		"skipped":     run.SkippedCount,
		"duration_ms": run.DurationMs,
	}

	// the run log must land even when the run was cancelled mid-way
	if err := r.Store.RunLogs().Append(context.WithoutCancel(ctx), run); err != nil {
		logger.WithFields(fields).WithError(err).Error("❌ [SNAPSHOT] Failed to write run log")
		return fmt.Errorf("write run log %s: %w", run.ID, err)
	}

	entry := logger.WithFields(fields)
	switch run.Status {
	case models.RunSuccess:
		entry.Info("✅ [SNAPSHOT] Snapshot run complete")
	default:
		entry.Warn("⚠️ [SNAPSHOT] Snapshot run finished with errors")
	}
	return nil
}

func runStatus(updated, failed int) models.RunStatus {
	switch {
	case updated == 0 && failed > 0:
		return models.RunFailed
	case failed > 0:
		return models.RunPartial
	default:
		return models.RunSuccess
	}
}

// snapshotWallet runs one wallet through fetch, accrue, snapshot. A nil
// return means the wallet got a new snapshot.
func (r *SnapshotRunner) snapshotWallet(ctx context.Context, runID, wallet string, params rates.Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := r.Ledgers.Locks.Lock(wallet)
	defer unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, r.Opts.FetchTimeout)
	assets, fetchErr := r.Source.FetchOwnedAssets(fetchCtx, wallet)
	cancel()
	if fetchErr == nil {
		fetchErr = validateAssets(assets)
	}

	// shutdown is not the wallet's fault, leave its failure counter alone
	if err := ctx.Err(); err != nil {
		return err
	}

	log := logger.WithFields(logrus.Fields{"run_id": runID, "wallet": wallet})

	var walletErr error
	var crossedThreshold bool
	updated, err := r.Ledgers.lockedUpdate(ctx, wallet, func(tx repository.Store, l *models.WalletLedger) error {
		if fetchErr == nil && len(assets) == 0 && len(l.OwnedMeks) > 0 {
			fetchErr = fmt.Errorf("indexer returned 0 assets for a wallet holding %d", len(l.OwnedMeks))
		}

		if fetchErr != nil {
			walletErr = apperrors.OwnershipFetch(wallet, fetchErr)
			failures := recordFailure(l)
			log.WithFields(logrus.Fields{"failures": failures}).
				WithError(fetchErr).
				Warn("⚠️ [SNAPSHOT] Ownership fetch failed, no accrual this cycle")

			crossedThreshold = failures == r.Opts.FailingThreshold
			return nil
		}

		now := r.Now()
		if l.LastSnapshotTime != nil && now.Before(*l.LastSnapshotTime) {
			return apperrors.OutOfOrderSnapshot(wallet, now, *l.LastSnapshotTime)
		}

		status := models.VerificationVerified
		var gained string
		if r.Opts.RequireVerification && !l.IsVerified {
			status = models.VerificationUnverified
		} else {
			baseline := l.CreatedAt
			if l.LastSnapshotTime != nil {
				baseline = *l.LastSnapshotTime
			}
			gained = applyAccrual(l, now.Sub(baseline), continuousRate(l.OwnedMeks, assets)).String()
		}

		l.OwnedMeks = rebuildMeks(l.OwnedMeks, assets, params)
		l.AggregateRatePerHour = aggregateRate(l.OwnedMeks)
		if err := recordSuccess(l, now); err != nil {
			return err
		}

		snap := snapshotOf(l, now, runID, status)
		if err := tx.Snapshots().Append(ctx, snap); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"snapshot_id": snap.ID,
			"assets":      snap.AssetCount,
			"rate":        snap.AggregateRatePerHour,
			"gained":      gained,
			"status":      status,
		}).Debug("📸 [SNAPSHOT] Wallet snapshotted")
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrOutOfOrderSnapshot) {
			log.WithError(err).Error("❌ [SNAPSHOT] Rejected out-of-order snapshot")
		} else {
			log.WithError(err).Error("❌ [SNAPSHOT] Failed to update ledger")
		}
		return err
	}

	// the counter is committed before anyone is told about it
	if crossedThreshold && r.Notify != nil {
		if err := r.Notify.Notify(context.WithoutCancel(ctx), nil, r.Notify.failureThreshold(updated)); err != nil {
			log.WithError(err).Error("❌ [SNAPSHOT] Failed to store failure threshold notification")
		}
	}
	return walletErr
}

func validateAssets(assets []models.AssetRef) error {
	seen := make(map[string]bool, len(assets))
	for i, a := range assets {
		if a.AssetID == "" {
			return fmt.Errorf("asset %d has no id", i)
		}
		if a.Rank < 1 {
			return fmt.Errorf("asset %s has invalid rank %d", a.AssetID, a.Rank)
		}
		if seen[a.AssetID] {
			return fmt.Errorf("asset %s listed twice", a.AssetID)
		}
		seen[a.AssetID] = true
	}
	return nil
}

// rebuildMeks replaces the owned list with assets, recomputing base rates
// under params. Level and boost carry over for assets already held; new
// assets start at level 1 with no boost.
func rebuildMeks(current []models.OwnedMek, assets []models.AssetRef, params rates.Params) []models.OwnedMek {
	held := make(map[string]models.OwnedMek, len(current))
	for _, m := range current {
		held[m.AssetID] = m
	}

	out := make([]models.OwnedMek, 0, len(assets))
	for _, a := range assets {
		m := models.OwnedMek{
			AssetID:   a.AssetID,
			AssetName: a.AssetName,
			MekNumber: a.MekNumber,
			Rank:      a.Rank,
			Head:      a.Head,
			Body:      a.Body,
			Item:      a.Item,
			Level:     1,
			BaseRate:  rates.ComputeRate(a.Rank, params),
		}
		if prev, ok := held[a.AssetID]; ok {
			m.Level = prev.Level
			m.LevelBoost = prev.LevelBoost
			if m.AssetName == "" {
				m.AssetName = prev.AssetName
			}
			if m.MekNumber == 0 {
				m.MekNumber = prev.MekNumber
			}
		}
		m.Rate = rates.Effective(m.BaseRate, m.LevelBoost)
		out = append(out, m)
	}
	return out
}

// continuousRate is the rate earned over the closing window: only assets
// held at its start and still reported now count.
func continuousRate(held []models.OwnedMek, now []models.AssetRef) float64 {
	present := make(map[string]bool, len(now))
	for _, a := range now {
		present[a.AssetID] = true
	}
	perAsset := make([]float64, 0, len(held))
	for _, m := range held {
		if present[m.AssetID] {
			perAsset = append(perAsset, m.Rate)
		}
	}
	return rates.Aggregate(perAsset)
}

func aggregateRate(meks []models.OwnedMek) float64 {
	perAsset := make([]float64, 0, len(meks))
	for _, m := range meks {
		perAsset = append(perAsset, m.Rate)
	}
	return rates.Aggregate(perAsset)
}

func snapshotOf(l *models.WalletLedger, at time.Time, runID string, status models.VerificationStatus) *models.OwnershipSnapshot {
	meks := make([]models.SnapshotMek, 0, len(l.OwnedMeks))
	for _, m := range l.OwnedMeks {
		meks = append(meks, m.ToSnapshot())
	}
	var run *string
	if runID != "" {
		run = &runID
	}
	return &models.OwnershipSnapshot{
		ID:                   uuid.NewString(),
		WalletAddress:        l.WalletAddress,
		SnapshotTime:         at,
		RunID:                run,
		Meks:                 meks,
		AssetCount:           len(meks),
		AggregateRatePerHour: l.AggregateRatePerHour,
		AccumulatedGold:      l.AccumulatedGold,
		TotalCumulativeGold:  l.TotalCumulativeGold,
		TotalGoldSpent:       l.TotalGoldSpent,
		LastActiveTime:       l.LastActiveTime,
		VerificationStatus:   status,
	}
}

// LastRun returns the newest run log.
func (r *SnapshotRunner) LastRun(ctx context.Context) (*models.SnapshotRunLog, error) {
	return r.Store.RunLogs().Latest(ctx)
}

func (r *SnapshotRunner) ListRuns(ctx context.Context, limit int) ([]models.SnapshotRunLog, error) {
	return r.Store.RunLogs().List(ctx, limit)
}
