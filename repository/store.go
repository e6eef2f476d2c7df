// Package repository holds the persistence boundary of the accrual engine.
// Services depend on the Store interface; GormStore backs it with Postgres.
package repository

import (
	"context"
	"time"

	"gold-accrual-engine/models"
)

type LedgerStore interface {
	Get(ctx context.Context, wallet string) (*models.WalletLedger, error)
	// GetForUpdate locks the row for the rest of the enclosing transaction.
	GetForUpdate(ctx context.Context, wallet string) (*models.WalletLedger, error)
	// CreateIfAbsent inserts l unless a ledger for the wallet exists already.
	CreateIfAbsent(ctx context.Context, l *models.WalletLedger) (bool, error)
	Save(ctx context.Context, l *models.WalletLedger) error
	List(ctx context.Context) ([]models.WalletLedger, error)
	Delete(ctx context.Context, wallet string) error
}

type SnapshotStore interface {
	Append(ctx context.Context, s *models.OwnershipSnapshot) error
	Get(ctx context.Context, id string) (*models.OwnershipSnapshot, error)
	Latest(ctx context.Context, wallet string) (*models.OwnershipSnapshot, error)
	// ListByWallet returns snapshots oldest first.
	ListByWallet(ctx context.Context, wallet string) ([]models.OwnershipSnapshot, error)
	Delete(ctx context.Context, id string) error
}

type RunLogStore interface {
	Append(ctx context.Context, r *models.SnapshotRunLog) error
	// List returns the newest runs first.
	List(ctx context.Context, limit int) ([]models.SnapshotRunLog, error)
	Latest(ctx context.Context) (*models.SnapshotRunLog, error)
	LatestSuccessful(ctx context.Context) (*models.SnapshotRunLog, error)
}

type ProgressionStore interface {
	ListByWallet(ctx context.Context, wallet string) ([]models.MekProgression, error)
	Upsert(ctx context.Context, rows []models.MekProgression) error
	// DeleteByWalletExcept removes the wallet's rows whose asset is not in keep.
	DeleteByWalletExcept(ctx context.Context, wallet string, keep []string) (int64, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.AdminNotification) error
	List(ctx context.Context, unreadOnly bool, limit int) ([]models.AdminNotification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
}

type BackupStore interface {
	// Create persists the header and its entries.
	Create(ctx context.Context, b *models.GoldBackup) error
	// Get loads the header with entries.
	Get(ctx context.Context, id string) (*models.GoldBackup, error)
	List(ctx context.Context, limit int) ([]models.GoldBackup, error)
	SetArchiveKey(ctx context.Context, id, key string) error
}

type RateConfigStore interface {
	Active(ctx context.Context) (*models.RateCurveConfig, error)
	// SaveActive stores c and makes it the only active config.
	SaveActive(ctx context.Context, c *models.RateCurveConfig) error
	List(ctx context.Context, limit int) ([]models.RateCurveConfig, error)
}

type Store interface {
	Ledgers() LedgerStore
	Snapshots() SnapshotStore
	RunLogs() RunLogStore
	Progressions() ProgressionStore
	Notifications() NotificationStore
	Backups() BackupStore
	RateConfigs() RateConfigStore

	// InTx runs fn against a Store bound to one transaction. Returning an
	// error rolls every write back.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

const DefaultListLimit = 50

// ClampLimit is the limit rule every List implementation applies.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
