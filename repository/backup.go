package repository

import (
	"context"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
)

type BackupRepository struct {
	db *gorm.DB
}

func (r *BackupRepository) Create(ctx context.Context, b *models.GoldBackup) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries := b.Entries
		b.Entries = nil
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		for i := range entries {
			entries[i].BackupID = b.ID
		}
		if len(entries) > 0 {
			if err := tx.CreateInBatches(&entries, 500).Error; err != nil {
				return err
			}
		}
		b.Entries = entries
		return nil
	})
	return translate(err, "backup", b.ID, "create backup")
}

func (r *BackupRepository) Get(ctx context.Context, id string) (*models.GoldBackup, error) {
	var b models.GoldBackup
	err := r.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("wallet_address") }).
		Where("id = ?", id).
		First(&b).Error
	if err != nil {
		return nil, translate(err, "backup", id, "get backup")
	}
	return &b, nil
}

func (r *BackupRepository) List(ctx context.Context, limit int) ([]models.GoldBackup, error) {
	var out []models.GoldBackup
	err := r.db.WithContext(ctx).Order("backup_time DESC").Limit(ClampLimit(limit)).Find(&out).Error
	return out, translate(err, "backups", "", "list backups")
}

func (r *BackupRepository) SetArchiveKey(ctx context.Context, id, key string) error {
	err := r.db.WithContext(ctx).
		Model(&models.GoldBackup{}).
		Where("id = ?", id).
		Update("archive_key", key).Error
	return translate(err, "backup", id, "set archive key")
}
