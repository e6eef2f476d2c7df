package repository

import (
	"context"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
)

type RateConfigRepository struct {
	db *gorm.DB
}

func (r *RateConfigRepository) Active(ctx context.Context) (*models.RateCurveConfig, error) {
	var c models.RateCurveConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, translate(err, "rate config", "active", "active rate config")
	}
	return &c, nil
}

func (r *RateConfigRepository) SaveActive(ctx context.Context, c *models.RateCurveConfig) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.RateCurveConfig{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		c.IsActive = true
		return tx.Create(c).Error
	})
	return translate(err, "rate config", c.ID, "save rate config")
}

func (r *RateConfigRepository) List(ctx context.Context, limit int) ([]models.RateCurveConfig, error) {
	var out []models.RateCurveConfig
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(ClampLimit(limit)).Find(&out).Error
	return out, translate(err, "rate configs", "", "list rate configs")
}
