package services

import (
	"context"
	"strings"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RestorationService rewinds a wallet to a historical snapshot. It is an
// explicit admin action; nothing in the engine calls it on its own.
type RestorationService struct {
	Store   repository.Store
	Ledgers *LedgerService
	Now     func() time.Time
}

func NewRestorationService(store repository.Store, ledgers *LedgerService) *RestorationService {
	return &RestorationService{
		Store:   store,
		Ledgers: ledgers,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

type RestoreRequest struct {
	SnapshotID string `json:"snapshot_id"`
	// WalletAddress, when set, must match the snapshot's wallet.
	WalletAddress string `json:"wallet_address"`
	RequestedBy   string `json:"requested_by"`
}

type RestorationResult struct {
	SnapshotID              string               `json:"snapshot_id"`
	WalletAddress           string               `json:"wallet_address"`
	SnapshotTime            time.Time            `json:"snapshot_time"`
	RestoredAt              time.Time            `json:"restored_at"`
	PreviousAccumulatedGold decimal.Decimal      `json:"previous_accumulated_gold"`
	AssetsRestored          int                  `json:"assets_restored"`
	AssetsRemoved           []string             `json:"assets_removed"`
	AssetsAdded             []string             `json:"assets_added"`
	ProgressionDeleted      int64                `json:"progression_deleted"`
	ProgressionUpserted     int                  `json:"progression_upserted"`
	Ledger                  *models.WalletLedger `json:"ledger"`
}

func (s *RestorationService) Restore(ctx context.Context, req RestoreRequest) (*RestorationResult, error) {
	snapshotID := strings.TrimSpace(req.SnapshotID)
	if _, err := uuid.Parse(snapshotID); err != nil {
		return nil, apperrors.RestorationValidation("malformed snapshot id " + req.SnapshotID)
	}

	snap, err := s.Store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	target := strings.TrimSpace(req.WalletAddress)
	if target != "" && target != snap.WalletAddress {
		return nil, apperrors.RestorationValidation(
			"snapshot " + snap.ID + " belongs to wallet " + snap.WalletAddress + ", not " + target,
		)
	}
	if snap.VerificationStatus == models.VerificationFailed {
		return nil, apperrors.RestorationValidation("snapshot " + snap.ID + " is marked failed and cannot be restored")
	}

	restoredAt := s.Now()
	result := &RestorationResult{
		SnapshotID:    snap.ID,
		WalletAddress: snap.WalletAddress,
		SnapshotTime:  snap.SnapshotTime,
		RestoredAt:    restoredAt,
	}

	ledger, err := s.Ledgers.withLedger(ctx, snap.WalletAddress, func(tx repository.Store, l *models.WalletLedger) error {
		result.PreviousAccumulatedGold = l.AccumulatedGold
		result.AssetsAdded, result.AssetsRemoved = assetDiff(l.OwnedMeks, snap.Meks)

		restoreLedger(l, snap)

		keep := make([]string, 0, len(l.OwnedMeks))
		rows := make([]models.MekProgression, 0, len(l.OwnedMeks))
		for _, m := range l.OwnedMeks {
			keep = append(keep, m.AssetID)
			rows = append(rows, models.MekProgression{
				AssetID:         m.AssetID,
				WalletAddress:   l.WalletAddress,
				AssetName:       m.AssetName,
				CurrentLevel:    m.Level,
				OwnershipStatus: models.VerificationVerified,
				LastVerifiedAt:  &restoredAt,
				RestoredAt:      &restoredAt,
			})
		}

		deleted, err := tx.Progressions().DeleteByWalletExcept(ctx, l.WalletAddress, keep)
		if err != nil {
			return err
		}
		if err := tx.Progressions().Upsert(ctx, rows); err != nil {
			return err
		}
		result.ProgressionDeleted = deleted
		result.ProgressionUpserted = len(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Ledger = ledger
	result.AssetsRestored = len(ledger.OwnedMeks)

	logger.WithFields(logrus.Fields{
		"wallet":        snap.WalletAddress,
		"snapshot_id":   snap.ID,
		"snapshot_time": snap.SnapshotTime,
		"requested_by":  req.RequestedBy,
		"assets":        result.AssetsRestored,
		"removed":       len(result.AssetsRemoved),
		"prog_deleted":  result.ProgressionDeleted,
	}).Warn("⏪ [RESTORE] Wallet restored to snapshot")

	return result, nil
}

// restoreLedger overwrites l with snap. Asset fields the snapshot does not
// carry are taken from the asset as currently held.
func restoreLedger(l *models.WalletLedger, snap *models.OwnershipSnapshot) {
	meks := make([]models.OwnedMek, 0, len(snap.Meks))
	for _, sm := range snap.Meks {
		m := models.OwnedMek{
			AssetID:    sm.AssetID,
			AssetName:  sm.AssetName,
			Rank:       sm.Rank,
			Level:      sm.Level,
			BaseRate:   sm.BaseRate,
			LevelBoost: sm.LevelBoost,
			Rate:       sm.Rate,
		}
		if cur, ok := l.FindMek(sm.AssetID); ok {
			if m.AssetName == "" {
				m.AssetName = cur.AssetName
			}
			m.MekNumber = cur.MekNumber
			m.Head = cur.Head
			m.Body = cur.Body
			m.Item = cur.Item
			if m.Level == 0 {
				m.Level = cur.Level
			}
		}
		if m.Level == 0 {
			m.Level = 1
		}
		if m.BaseRate == 0 && m.LevelBoost == 0 {
			m.BaseRate = m.Rate
		}
		meks = append(meks, m)
	}

	snapshotTime := snap.SnapshotTime
	snapshotID := snap.ID

	l.OwnedMeks = meks
	l.AggregateRatePerHour = snap.AggregateRatePerHour
	l.AccumulatedGold = snap.AccumulatedGold
	l.TotalCumulativeGold = snap.TotalCumulativeGold
	l.TotalGoldSpent = snap.TotalGoldSpent
	if !snap.LastActiveTime.IsZero() {
		l.LastActiveTime = snap.LastActiveTime
	}
	l.LastSnapshotTime = &snapshotTime
	l.LastRestoredSnapshotID = &snapshotID
}

func assetDiff(current []models.OwnedMek, target []models.SnapshotMek) (added, removed []string) {
	have := make(map[string]bool, len(current))
	for _, m := range current {
		have[m.AssetID] = true
	}
	want := make(map[string]bool, len(target))
	for _, m := range target {
		want[m.AssetID] = true
		if !have[m.AssetID] {
			added = append(added, m.AssetID)
		}
	}
	for _, m := range current {
		if !want[m.AssetID] {
			removed = append(removed, m.AssetID)
		}
	}
	return added, removed
}

// DeleteSnapshot removes one snapshot from history. The ledger is left as
// is; only restoration and auditing lose the point.
func (s *RestorationService) DeleteSnapshot(ctx context.Context, id, requestedBy string) error {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.Validation("malformed snapshot id " + id)
	}
	snap, err := s.Store.Snapshots().Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.Snapshots().Delete(ctx, id); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"wallet":       snap.WalletAddress,
		"snapshot_id":  id,
		"requested_by": requestedBy,
	}).Warn("🗑️ [RESTORE] Snapshot deleted")
	return nil
}
