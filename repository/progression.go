package repository

import (
	"context"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressionRepository struct {
	db *gorm.DB
}

func (r *ProgressionRepository) ListByWallet(ctx context.Context, wallet string) ([]models.MekProgression, error) {
	var rows []models.MekProgression
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("asset_id").
		Find(&rows).Error
	return rows, translate(err, "progression", wallet, "list progression")
}

// Upsert keys on asset_id: a transferred asset moves its row to the new
// wallet and keeps its id.
func (r *ProgressionRepository) Upsert(ctx context.Context, rows []models.MekProgression) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "asset_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"wallet_address",
				"asset_name",
				"current_level",
				"ownership_status",
				"last_verified_at",
				"restored_at",
				"updated_at",
			}),
		}).
		Create(&rows).Error
	return translate(err, "progression", "", "upsert progression")
}

func (r *ProgressionRepository) DeleteByWalletExcept(ctx context.Context, wallet string, keep []string) (int64, error) {
	q := r.db.WithContext(ctx).Where("wallet_address = ?", wallet)
	if len(keep) > 0 {
		q = q.Where("asset_id NOT IN ?", keep)
	}
	result := q.Delete(&models.MekProgression{})
	return result.RowsAffected, translate(result.Error, "progression", wallet, "delete progression")
}
