package repository

import (
	"context"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
)

type RunLogRepository struct {
	db *gorm.DB
}

func (r *RunLogRepository) Append(ctx context.Context, run *models.SnapshotRunLog) error {
	return translate(r.db.WithContext(ctx).Create(run).Error, "run log", run.ID, "append run log")
}

func (r *RunLogRepository) List(ctx context.Context, limit int) ([]models.SnapshotRunLog, error) {
	var runs []models.SnapshotRunLog
	err := r.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(ClampLimit(limit)).
		Find(&runs).Error
	return runs, translate(err, "run logs", "", "list run logs")
}

func (r *RunLogRepository) Latest(ctx context.Context) (*models.SnapshotRunLog, error) {
	var run models.SnapshotRunLog
	if err := r.db.WithContext(ctx).Order("timestamp DESC").First(&run).Error; err != nil {
		return nil, translate(err, "run log", "latest", "latest run log")
	}
	return &run, nil
}

func (r *RunLogRepository) LatestSuccessful(ctx context.Context) (*models.SnapshotRunLog, error) {
	var run models.SnapshotRunLog
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.RunStatus{models.RunSuccess, models.RunPartial}).
		Order("timestamp DESC").
		First(&run).Error
	if err != nil {
		return nil, translate(err, "run log", "latest successful", "latest successful run log")
	}
	return &run, nil
}
