package repository

import (
	"context"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
)

type SnapshotRepository struct {
	db *gorm.DB
}

func (r *SnapshotRepository) Append(ctx context.Context, s *models.OwnershipSnapshot) error {
	return translate(r.db.WithContext(ctx).Create(s).Error, "snapshot", s.ID, "append snapshot")
}

func (r *SnapshotRepository) Get(ctx context.Context, id string) (*models.OwnershipSnapshot, error) {
	var s models.OwnershipSnapshot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, translate(err, "snapshot", id, "get snapshot")
	}
	return &s, nil
}

func (r *SnapshotRepository) Latest(ctx context.Context, wallet string) (*models.OwnershipSnapshot, error) {
	var s models.OwnershipSnapshot
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("snapshot_time DESC").
		First(&s).Error
	if err != nil {
		return nil, translate(err, "snapshot for wallet", wallet, "latest snapshot")
	}
	return &s, nil
}

func (r *SnapshotRepository) ListByWallet(ctx context.Context, wallet string) ([]models.OwnershipSnapshot, error) {
	var snaps []models.OwnershipSnapshot
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("snapshot_time ASC, created_at ASC").
		Find(&snaps).Error
	return snaps, translate(err, "snapshots", wallet, "list snapshots")
}

func (r *SnapshotRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OwnershipSnapshot{})
	if result.Error != nil {
		return translate(result.Error, "snapshot", id, "delete snapshot")
	}
	if result.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "snapshot", id, "delete snapshot")
	}
	return nil
}
