package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/config"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/rates"
	"gold-accrual-engine/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthAuditor is read-only: nothing here writes to the store.
type HealthAuditor struct {
	Store repository.Store
	Opts  config.HealthConfig
	Now   func() time.Time
}

func NewHealthAuditor(store repository.Store, opts config.HealthConfig) *HealthAuditor {
	return &HealthAuditor{
		Store: store,
		Opts:  opts,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

type WalletIssue struct {
	WalletAddress          string     `json:"wallet_address"`
	LastSnapshotTime       *time.Time `json:"last_snapshot_time,omitempty"`
	HoursSinceLastSnapshot *float64   `json:"hours_since_last_snapshot,omitempty"`
	LastActiveTime         time.Time  `json:"last_active_time"`
	ConsecutiveFailures    int        `json:"consecutive_failures"`
	AssetCount             int        `json:"asset_count"`
}

type RunAge struct {
	Run        models.SnapshotRunLog `json:"run"`
	HoursSince float64               `json:"hours_since"`
}

type HealthReport struct {
	Status            HealthStatus            `json:"status"`
	CheckedAt         time.Time               `json:"checked_at"`
	Issues            []string                `json:"issues"`
	LastRun           *RunAge                 `json:"last_run,omitempty"`
	LastSuccessfulRun *RunAge                 `json:"last_successful_run,omitempty"`
	TotalWallets      int                     `json:"total_wallets"`
	ActiveWallets     int                     `json:"active_wallets"`
	StaleWallets      []WalletIssue           `json:"stale_wallets"`
	NeverSnapshotted  []WalletIssue           `json:"never_snapshotted"`
	FailingWallets    []WalletIssue           `json:"failing_wallets"`
	RecentRuns        []models.SnapshotRunLog `json:"recent_runs"`
}

type walletClass struct {
	active  bool
	stale   bool
	never   bool
	failing bool
}

func (a *HealthAuditor) classify(l *models.WalletLedger, now time.Time) walletClass {
	c := walletClass{
		active:  now.Sub(l.LastActiveTime) <= a.Opts.ActiveWindow,
		never:   l.LastSnapshotTime == nil,
		failing: l.ConsecutiveSnapshotFailures >= a.Opts.FailingThreshold,
	}
	c.stale = c.active && !c.never && now.Sub(*l.LastSnapshotTime) > a.Opts.StaleAfter
	return c
}

func issueOf(l *models.WalletLedger, now time.Time) WalletIssue {
	issue := WalletIssue{
		WalletAddress:       l.WalletAddress,
		LastSnapshotTime:    l.LastSnapshotTime,
		LastActiveTime:      l.LastActiveTime,
		ConsecutiveFailures: l.ConsecutiveSnapshotFailures,
		AssetCount:          len(l.OwnedMeks),
	}
	if l.LastSnapshotTime != nil {
		h := hoursBetween(*l.LastSnapshotTime, now)
		issue.HoursSinceLastSnapshot = &h
	}
	return issue
}

func hoursBetween(from, to time.Time) float64 {
	return rates.Round(to.Sub(from).Hours(), rates.RoundTwoDecimal)
}

// Report classifies every wallet and derives the overall system status.
func (a *HealthAuditor) Report(ctx context.Context) (*HealthReport, error) {
	now := a.Now()

	ledgers, err := a.Store.Ledgers().List(ctx)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		CheckedAt:        now,
		TotalWallets:     len(ledgers),
		Issues:           []string{},
		StaleWallets:     []WalletIssue{},
		NeverSnapshotted: []WalletIssue{},
		FailingWallets:   []WalletIssue{},
	}

	for i := range ledgers {
		l := &ledgers[i]
		c := a.classify(l, now)
		if c.active {
			report.ActiveWallets++
		}
		if c.stale {
			report.StaleWallets = append(report.StaleWallets, issueOf(l, now))
		}
		if c.never {
			report.NeverSnapshotted = append(report.NeverSnapshotted, issueOf(l, now))
		}
		if c.failing {
			report.FailingWallets = append(report.FailingWallets, issueOf(l, now))
		}
	}

	if run, err := a.Store.RunLogs().Latest(ctx); err == nil {
		report.LastRun = &RunAge{Run: *run, HoursSince: hoursBetween(run.Timestamp, now)}
	} else if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		return nil, err
	}
	if run, err := a.Store.RunLogs().LatestSuccessful(ctx); err == nil {
		report.LastSuccessfulRun = &RunAge{Run: *run, HoursSince: hoursBetween(run.Timestamp, now)}
	} else if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		return nil, err
	}

	recent, err := a.Store.RunLogs().List(ctx, a.Opts.RecentRuns)
	if err != nil {
		return nil, err
	}
	report.RecentRuns = recent

	report.Status, report.Issues = a.status(report, now)

	logger.WithFields(logrus.Fields{
		"status":  report.Status,
		"stale":   len(report.StaleWallets),
		"never":   len(report.NeverSnapshotted),
		"failing": len(report.FailingWallets),
	}).Debug("🩺 [HEALTH] Health report computed")

	return report, nil
}

func (a *HealthAuditor) status(r *HealthReport, now time.Time) (HealthStatus, []string) {
	issues := []string{}
	critical := false
	warning := false

	switch {
	case r.LastSuccessfulRun == nil:
		critical = true
		issues = append(issues, "no successful snapshot run recorded")
	case now.Sub(r.LastSuccessfulRun.Run.Timestamp) > a.Opts.CriticalRunAge:
		critical = true
		issues = append(issues, fmt.Sprintf(
			"last successful snapshot run was %.1f hours ago", r.LastSuccessfulRun.HoursSince,
		))
	}
	if len(r.FailingWallets) > a.Opts.MaxFailing {
		critical = true
		issues = append(issues, fmt.Sprintf("%d wallets failing snapshots", len(r.FailingWallets)))
	}
	if len(r.StaleWallets) > a.Opts.MaxStale {
		warning = true
		issues = append(issues, fmt.Sprintf("%d active wallets have stale snapshots", len(r.StaleWallets)))
	}
	if len(r.NeverSnapshotted) > 0 {
		warning = true
		issues = append(issues, fmt.Sprintf("%d wallets never snapshotted", len(r.NeverSnapshotted)))
	}

	switch {
	case critical:
		return HealthCritical, issues
	case warning:
		return HealthWarning, issues
	default:
		return HealthHealthy, issues
	}
}

type SnapshotGap struct {
	FromSnapshotID    string    `json:"from_snapshot_id"`
	ToSnapshotID      string    `json:"to_snapshot_id"`
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	GapHours          float64   `json:"gap_hours"`
	AssetCountBefore  int       `json:"asset_count_before"`
	AssetCountAfter   int       `json:"asset_count_after"`
	RateBefore        float64   `json:"rate_before"`
	RateAfter         float64   `json:"rate_after"`
	AssetCountChanged bool      `json:"asset_count_changed"`
	RateChanged       bool      `json:"rate_changed"`
}

type TransferEvent struct {
	FromSnapshotID string               `json:"from_snapshot_id"`
	ToSnapshotID   string               `json:"to_snapshot_id"`
	DetectedAt     time.Time            `json:"detected_at"`
	Added          []models.SnapshotMek `json:"added"`
	Removed        []models.SnapshotMek `json:"removed"`
	RateDelta      float64              `json:"rate_delta"`
}

func sortedByTime(snaps []models.OwnershipSnapshot) []models.OwnershipSnapshot {
	out := append([]models.OwnershipSnapshot(nil), snaps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SnapshotTime.Before(out[j].SnapshotTime) })
	return out
}

// DetectGaps reports every pair of consecutive snapshots further apart
// than threshold.
func DetectGaps(snaps []models.OwnershipSnapshot, threshold time.Duration) []SnapshotGap {
	sorted := sortedByTime(snaps)
	gaps := []SnapshotGap{}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		delta := cur.SnapshotTime.Sub(prev.SnapshotTime)
		if delta <= threshold {
			continue
		}
		gaps = append(gaps, SnapshotGap{
			FromSnapshotID:    prev.ID,
			ToSnapshotID:      cur.ID,
			From:              prev.SnapshotTime,
			To:                cur.SnapshotTime,
			GapHours:          rates.Round(delta.Hours(), rates.RoundTwoDecimal),
			AssetCountBefore:  prev.AssetCount,
			AssetCountAfter:   cur.AssetCount,
			RateBefore:        prev.AggregateRatePerHour,
			RateAfter:         cur.AggregateRatePerHour,
			AssetCountChanged: prev.AssetCount != cur.AssetCount,
			RateChanged:       prev.AggregateRatePerHour != cur.AggregateRatePerHour,
		})
	}
	return gaps
}

// DetectTransfers diffs the asset sets of consecutive snapshots. It is a
// diagnostic and never touches the ledger.
func DetectTransfers(snaps []models.OwnershipSnapshot) []TransferEvent {
	sorted := sortedByTime(snaps)
	events := []TransferEvent{}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		before, after := prev.AssetIDs(), cur.AssetIDs()

		var added, removed []models.SnapshotMek
		for id, m := range after {
			if _, ok := before[id]; !ok {
				added = append(added, m)
			}
		}
		for id, m := range before {
			if _, ok := after[id]; !ok {
				removed = append(removed, m)
			}
		}
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		sort.Slice(added, func(i, j int) bool { return added[i].AssetID < added[j].AssetID })
		sort.Slice(removed, func(i, j int) bool { return removed[i].AssetID < removed[j].AssetID })

		events = append(events, TransferEvent{
			FromSnapshotID: prev.ID,
			ToSnapshotID:   cur.ID,
			DetectedAt:     cur.SnapshotTime,
			Added:          added,
			Removed:        removed,
			RateDelta:      rates.Round(cur.AggregateRatePerHour-prev.AggregateRatePerHour, rates.RoundTwoDecimal),
		})
	}
	return events
}

type WalletHealth struct {
	WalletAddress          string          `json:"wallet_address"`
	Active                 bool            `json:"active"`
	Stale                  bool            `json:"stale"`
	NeverSnapshotted       bool            `json:"never_snapshotted"`
	Failing                bool            `json:"failing"`
	ConsecutiveFailures    int             `json:"consecutive_failures"`
	LastSnapshotTime       *time.Time      `json:"last_snapshot_time,omitempty"`
	HoursSinceLastSnapshot *float64        `json:"hours_since_last_snapshot,omitempty"`
	SnapshotCount          int             `json:"snapshot_count"`
	Gaps                   []SnapshotGap   `json:"gaps"`
	Transfers              []TransferEvent `json:"transfers"`
	IntegrityIssues        []string        `json:"integrity_issues"`
}

// WalletHealth is the single-wallet view of Report plus gap and transfer
// analysis over the wallet's full history.
func (a *HealthAuditor) WalletHealth(ctx context.Context, wallet string) (*WalletHealth, error) {
	l, err := a.Store.Ledgers().Get(ctx, wallet)
	if err != nil {
		return nil, err
	}
	snaps, err := a.Store.Snapshots().ListByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}

	integrity, err := a.snapshotIntegrity(ctx, l)
	if err != nil {
		return nil, err
	}

	now := a.Now()
	c := a.classify(l, now)
	issue := issueOf(l, now)
	return &WalletHealth{
		WalletAddress:          l.WalletAddress,
		Active:                 c.active,
		Stale:                  c.stale,
		NeverSnapshotted:       c.never,
		Failing:                c.failing,
		ConsecutiveFailures:    l.ConsecutiveSnapshotFailures,
		LastSnapshotTime:       l.LastSnapshotTime,
		HoursSinceLastSnapshot: issue.HoursSinceLastSnapshot,
		SnapshotCount:          len(snaps),
		Gaps:                   DetectGaps(snaps, a.Opts.GapThreshold),
		Transfers:              DetectTransfers(snaps),
		IntegrityIssues:        integrity,
	}, nil
}

// snapshotIntegrity checks that the newest stored snapshot does not precede
// the ledger's last snapshot time.
func (a *HealthAuditor) snapshotIntegrity(ctx context.Context, l *models.WalletLedger) ([]string, error) {
	issues := []string{}
	latest, err := a.Store.Snapshots().Latest(ctx, l.WalletAddress)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		if l.LastSnapshotTime != nil {
			issues = append(issues, fmt.Sprintf(
				"ledger records a snapshot at %s but none is stored", l.LastSnapshotTime.UTC().Format(time.RFC3339),
			))
		}
	case err != nil:
		return nil, err
	case l.LastSnapshotTime != nil && latest.SnapshotTime.Before(*l.LastSnapshotTime):
		issues = append(issues, fmt.Sprintf(
			"latest snapshot %s at %s precedes ledger last snapshot time %s",
			latest.ID, latest.SnapshotTime.UTC().Format(time.RFC3339), l.LastSnapshotTime.UTC().Format(time.RFC3339),
		))
	}
	if len(issues) > 0 {
		logger.WithFields(logrus.Fields{"wallet": l.WalletAddress, "issues": issues}).
			Error("❌ [HEALTH] Snapshot history out of step with ledger")
	}
	return issues, nil
}

// Timeline returns a wallet's snapshots oldest first.
func (a *HealthAuditor) Timeline(ctx context.Context, wallet string) ([]models.OwnershipSnapshot, error) {
	if _, err := a.Store.Ledgers().Get(ctx, wallet); err != nil {
		return nil, err
	}
	return a.Store.Snapshots().ListByWallet(ctx, wallet)
}

type EarningsWindow struct {
	From             time.Time       `json:"from"`
	To               time.Time       `json:"to"`
	ContinuousAssets int             `json:"continuous_assets"`
	RatePerHour      float64         `json:"rate_per_hour"`
	Gold             decimal.Decimal `json:"gold"`
}

type EarningsReconstruction struct {
	WalletAddress string           `json:"wallet_address"`
	HistoryGold   decimal.Decimal  `json:"history_gold"`
	LedgerGold    decimal.Decimal  `json:"ledger_gold"`
	Drift         decimal.Decimal  `json:"drift"`
	Windows       []EarningsWindow `json:"windows"`
}

// ReconstructEarnings re-derives gold from snapshot history, crediting a
// window only for assets present at both of its ends. Drift is ledger minus
// history; a large positive drift points at accrual on assets the wallet
// did not keep.
func (a *HealthAuditor) ReconstructEarnings(ctx context.Context, wallet string) (*EarningsReconstruction, error) {
	l, err := a.Store.Ledgers().Get(ctx, wallet)
	if err != nil {
		return nil, err
	}
	snaps, err := a.Store.Snapshots().ListByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	sorted := sortedByTime(snaps)

	out := &EarningsReconstruction{
		WalletAddress: l.WalletAddress,
		HistoryGold:   decimal.Zero,
		LedgerGold:    l.TotalCumulativeGold,
		Windows:       []EarningsWindow{},
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		after := cur.AssetIDs()

		var perAsset []float64
		for _, m := range prev.Meks {
			if _, ok := after[m.AssetID]; ok {
				perAsset = append(perAsset, m.Rate)
			}
		}
		rate := rates.Aggregate(perAsset)
		gold := decimal.Zero
		if cur.VerificationStatus == models.VerificationVerified {
			gold = decimal.NewFromFloat(cur.SnapshotTime.Sub(prev.SnapshotTime).Seconds()).
				Div(secondsPerHour).
				Mul(decimal.NewFromFloat(rate)).
				Round(goldPlaces)
		}
		out.HistoryGold = out.HistoryGold.Add(gold)
		out.Windows = append(out.Windows, EarningsWindow{
			From:             prev.SnapshotTime,
			To:               cur.SnapshotTime,
			ContinuousAssets: len(perAsset),
			RatePerHour:      rate,
			Gold:             gold,
		})
	}
	out.Drift = out.LedgerGold.Sub(out.HistoryGold)
	return out, nil
}
