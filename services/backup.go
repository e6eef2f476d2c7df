package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RestoreConfirmCode must accompany every backup restore.
const RestoreConfirmCode = "RESTORE_CONFIRMED_EMERGENCY"

// BackupArchiver ships a finished backup off-site.
type BackupArchiver interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type BackupService struct {
	Store    repository.Store
	Ledgers  *LedgerService
	Notify   *NotificationService
	Archiver BackupArchiver
	Prefix   string
	Now      func() time.Time
}

func NewBackupService(store repository.Store, ledgers *LedgerService, notify *NotificationService, archiver BackupArchiver, prefix string) *BackupService {
	return &BackupService{
		Store:    store,
		Ledgers:  ledgers,
		Notify:   notify,
		Archiver: archiver,
		Prefix:   strings.Trim(prefix, "/"),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateBackupRequest struct {
	Name        string            `json:"name"`
	Type        models.BackupType `json:"backup_type"`
	TriggeredBy string            `json:"triggered_by"`
	Notes       string            `json:"notes"`
}

// CreateBackup copies every ledger's gold figures in one transaction, then
// archives the result when an archiver is configured. An archive failure
// does not undo the stored backup.
func (s *BackupService) CreateBackup(ctx context.Context, req CreateBackupRequest) (*models.GoldBackup, error) {
	if req.Type == "" {
		req.Type = models.BackupManual
	}
	if !req.Type.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown backup type %q", req.Type))
	}
	now := s.Now()
	if strings.TrimSpace(req.Name) == "" {
		req.Name = fmt.Sprintf("%s %s", req.Type, now.Format("2006-01-02 15:04"))
	}

	backup := &models.GoldBackup{
		ID:          uuid.NewString(),
		Name:        req.Name,
		BackupType:  req.Type,
		TriggeredBy: req.TriggeredBy,
		Notes:       req.Notes,
		BackupTime:  now,
		TotalGold:   decimal.Zero,
	}

	err := s.Store.InTx(ctx, func(tx repository.Store) error {
		ledgers, err := tx.Ledgers().List(ctx)
		if err != nil {
			return err
		}
		perHour := decimal.Zero
		for _, l := range ledgers {
			backup.Entries = append(backup.Entries, models.GoldBackupEntry{
				ID:                   uuid.NewString(),
				BackupID:             backup.ID,
				WalletAddress:        l.WalletAddress,
				AccumulatedGold:      l.AccumulatedGold,
				TotalCumulativeGold:  l.TotalCumulativeGold,
				TotalGoldSpent:       l.TotalGoldSpent,
				AggregateRatePerHour: l.AggregateRatePerHour,
				AssetCount:           len(l.OwnedMeks),
				LastSnapshotTime:     l.LastSnapshotTime,
				LastActiveTime:       l.LastActiveTime,
			})
			backup.TotalGold = backup.TotalGold.Add(l.AccumulatedGold)
			perHour = perHour.Add(decimal.NewFromFloat(l.AggregateRatePerHour))
		}
		backup.TotalWallets = len(backup.Entries)
		backup.TotalGoldPerHour = perHour.Round(2).InexactFloat64()
		return tx.Backups().Create(ctx, backup)
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(logrus.Fields{
		"backup_id": backup.ID,
		"type":      backup.BackupType,
		"wallets":   backup.TotalWallets,
		"gold":      backup.TotalGold.String(),
	})
	log.Info("💾 [BACKUP] Gold backup created")

	if s.Archiver != nil {
		if key, err := s.archive(ctx, backup); err != nil {
			log.WithError(err).Error("❌ [BACKUP] Archive upload failed")
			if s.Notify != nil {
				if nerr := s.Notify.Notify(context.WithoutCancel(ctx), nil, s.Notify.backupFailed(backup.Name, err)); nerr != nil {
					log.WithError(nerr).Error("❌ [BACKUP] Failed to store archive failure notification")
				}
			}
		} else {
			backup.ArchiveKey = key
		}
	}

	return backup, nil
}

func (s *BackupService) archiveKey(b *models.GoldBackup) string {
	name := slug.Make(b.Name)
	if name == "" {
		name = string(b.BackupType)
	}
	return fmt.Sprintf("%s/%s-%s.json", s.Prefix, name, b.BackupTime.UTC().Format("20060102T150405Z"))
}

func (s *BackupService) archive(ctx context.Context, b *models.GoldBackup) (string, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	key := s.archiveKey(b)
	if _, err := s.Archiver.Upload(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	if err := s.Store.Backups().SetArchiveKey(ctx, b.ID, key); err != nil {
		return "", err
	}
	return key, nil
}

func (s *BackupService) List(ctx context.Context, limit int) ([]models.GoldBackup, error) {
	return s.Store.Backups().List(ctx, limit)
}

type BackupVerification struct {
	BackupID   string   `json:"backup_id"`
	Valid      bool     `json:"valid"`
	EntryCount int      `json:"entry_count"`
	Issues     []string `json:"issues"`
}

func (s *BackupService) VerifyBackup(ctx context.Context, id string) (*BackupVerification, error) {
	b, err := s.Store.Backups().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return verifyBackup(b), nil
}

func verifyBackup(b *models.GoldBackup) *BackupVerification {
	v := &BackupVerification{BackupID: b.ID, EntryCount: len(b.Entries), Issues: []string{}}

	if len(b.Entries) != b.TotalWallets {
		v.Issues = append(v.Issues, fmt.Sprintf("header lists %d wallets but %d entries exist", b.TotalWallets, len(b.Entries)))
	}

	total := decimal.Zero
	seen := make(map[string]bool, len(b.Entries))
	for _, e := range b.Entries {
		if seen[e.WalletAddress] {
			v.Issues = append(v.Issues, fmt.Sprintf("wallet %s appears twice", e.WalletAddress))
		}
		seen[e.WalletAddress] = true

		if e.AccumulatedGold.IsNegative() || e.TotalCumulativeGold.IsNegative() || e.TotalGoldSpent.IsNegative() {
			v.Issues = append(v.Issues, fmt.Sprintf("wallet %s has negative gold", e.WalletAddress))
		}
		if e.AggregateRatePerHour < 0 || math.IsNaN(e.AggregateRatePerHour) || math.IsInf(e.AggregateRatePerHour, 0) {
			v.Issues = append(v.Issues, fmt.Sprintf("wallet %s has invalid rate %v", e.WalletAddress, e.AggregateRatePerHour))
		}
		if e.AccumulatedGold.GreaterThan(e.TotalCumulativeGold.Sub(e.TotalGoldSpent)) {
			v.Issues = append(v.Issues, fmt.Sprintf("wallet %s holds more gold than it earned minus spent", e.WalletAddress))
		}
		total = total.Add(e.AccumulatedGold)
	}
	if !total.Equal(b.TotalGold) {
		v.Issues = append(v.Issues, fmt.Sprintf("entries sum to %s but header says %s", total, b.TotalGold))
	}

	v.Valid = len(v.Issues) == 0
	return v
}

type BackupRestoreResult struct {
	BackupID string            `json:"backup_id"`
	Restored int               `json:"restored"`
	Skipped  []string          `json:"skipped"`
	Failed   map[string]string `json:"failed"`
}

// RestoreBackup writes a backup's gold figures back onto every ledger that
// still exists. Asset lists and rates stay as they are. Wallets without a
// ledger are skipped and reported. Each wallet is its own transaction.
func (s *BackupService) RestoreBackup(ctx context.Context, id, confirmCode string) (*BackupRestoreResult, error) {
	if confirmCode != RestoreConfirmCode {
		return nil, apperrors.Validation("invalid confirmation code")
	}
	b, err := s.Store.Backups().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v := verifyBackup(b); !v.Valid {
		return nil, apperrors.New(apperrors.CodeBackupIntegrity, strings.Join(v.Issues, "; "), nil)
	}

	result := &BackupRestoreResult{BackupID: b.ID, Skipped: []string{}, Failed: map[string]string{}}
	for _, e := range b.Entries {
		entry := e
		_, err := s.Ledgers.withLedger(ctx, entry.WalletAddress, func(_ repository.Store, l *models.WalletLedger) error {
			l.AccumulatedGold = entry.AccumulatedGold
			l.TotalCumulativeGold = entry.TotalCumulativeGold
			l.TotalGoldSpent = entry.TotalGoldSpent
			l.LastSnapshotTime = entry.LastSnapshotTime
			l.LastActiveTime = entry.LastActiveTime
			return nil
		})
		switch {
		case err == nil:
			result.Restored++
		case apperrors.CodeOf(err) == apperrors.CodeNotFound:
			result.Skipped = append(result.Skipped, entry.WalletAddress)
		default:
			result.Failed[entry.WalletAddress] = err.Error()
		}
	}

	logger.WithFields(logrus.Fields{
		"backup_id": b.ID,
		"restored":  result.Restored,
		"skipped":   len(result.Skipped),
		"failed":    len(result.Failed),
	}).Warn("⏪ [BACKUP] Gold backup restored")

	return result, nil
}
