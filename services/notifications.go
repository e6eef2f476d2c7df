package services

import (
	"context"
	"time"

	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type NotificationService struct {
	Store   repository.Store
	Now     func() time.Time
	printer *message.Printer
}

func NewNotificationService(store repository.Store) *NotificationService {
	return &NotificationService{
		Store:   store,
		Now:     func() time.Time { return time.Now().UTC() },
		printer: message.NewPrinter(language.English),
	}
}

func (s *NotificationService) List(ctx context.Context, unreadOnly bool, limit int) ([]models.AdminNotification, error) {
	return s.Store.Notifications().List(ctx, unreadOnly, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	return s.Store.Notifications().MarkRead(ctx, id, s.Now())
}

// Notify stores n through store, which may be a transaction.
func (s *NotificationService) Notify(ctx context.Context, store repository.Store, n models.AdminNotification) error {
	if store == nil {
		store = s.Store
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.Now()
	}
	if err := store.Notifications().Create(ctx, &n); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"type":     n.Type,
		"severity": n.Severity,
	}).Warn("🔔 [NOTIFY] ", n.Title)
	return nil
}

func (s *NotificationService) failureThreshold(l *models.WalletLedger) models.AdminNotification {
	var lastSnapshot interface{}
	if l.LastSnapshotTime != nil {
		lastSnapshot = l.LastSnapshotTime.UTC().Format(time.RFC3339)
	}
	return models.AdminNotification{
		Type:     models.NotificationSnapshotFailureThreshold,
		Severity: models.SeverityWarning,
		Title:    "Wallet snapshot failing repeatedly",
		Message: s.printer.Sprintf(
			"Wallet %s failed %d consecutive snapshots. It holds %d assets earning %.2f gold/hour with %.2f gold accumulated.",
			l.WalletAddress,
			l.ConsecutiveSnapshotFailures,
			len(l.OwnedMeks),
			l.AggregateRatePerHour,
			l.AccumulatedGold.InexactFloat64(),
		),
		Data: map[string]interface{}{
			"wallet_address":       l.WalletAddress,
			"consecutive_failures": l.ConsecutiveSnapshotFailures,
			"last_snapshot_time":   lastSnapshot,
			"asset_count":          len(l.OwnedMeks),
		},
	}
}

func (s *NotificationService) runFailed(run *models.SnapshotRunLog) models.AdminNotification {
	return models.AdminNotification{
		Type:     models.NotificationSnapshotRunFailed,
		Severity: models.SeverityCritical,
		Title:    "Snapshot run failed for every wallet",
		Message: s.printer.Sprintf(
			"Snapshot run %s attempted %d wallets and updated none.",
			run.ID, run.ErrorCount,
		),
		Data: map[string]interface{}{
			"run_id":      run.ID,
			"error_count": run.ErrorCount,
			"errors":      []string(run.Errors),
		},
	}
}

func (s *NotificationService) backupFailed(name string, err error) models.AdminNotification {
	return models.AdminNotification{
		Type:     models.NotificationBackupFailed,
		Severity: models.SeverityWarning,
		Title:    "Gold backup archive upload failed",
		Message:  s.printer.Sprintf("Backup %q was stored but could not be archived: %v", name, err),
		Data:     map[string]interface{}{"backup_name": name},
	}
}
