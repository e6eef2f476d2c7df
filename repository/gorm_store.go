package repository

import (
	"context"
	"errors"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/models"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ledgers() LedgerStore             { return &LedgerRepository{db: s.db} }
func (s *GormStore) Snapshots() SnapshotStore         { return &SnapshotRepository{db: s.db} }
func (s *GormStore) RunLogs() RunLogStore             { return &RunLogRepository{db: s.db} }
func (s *GormStore) Progressions() ProgressionStore   { return &ProgressionRepository{db: s.db} }
func (s *GormStore) Notifications() NotificationStore { return &NotificationRepository{db: s.db} }
func (s *GormStore) Backups() BackupStore             { return &BackupRepository{db: s.db} }
func (s *GormStore) RateConfigs() RateConfigStore     { return &RateConfigRepository{db: s.db} }

func (s *GormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// AutoMigrate creates or updates every table the engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.WalletLedger{},
		&models.OwnershipSnapshot{},
		&models.SnapshotRunLog{},
		&models.MekProgression{},
		&models.AdminNotification{},
		&models.GoldBackup{},
		&models.GoldBackupEntry{},
		&models.RateCurveConfig{},
	)
}

func translate(err error, kind, key, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(kind, key)
	}
	return apperrors.Database(op, err)
}
