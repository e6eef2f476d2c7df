package repository

import (
	"context"
	"time"

	"gold-accrual-engine/models"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.AdminNotification) error {
	return translate(r.db.WithContext(ctx).Create(n).Error, "notification", n.ID, "create notification")
}

func (r *NotificationRepository) List(ctx context.Context, unreadOnly bool, limit int) ([]models.AdminNotification, error) {
	var out []models.AdminNotification
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(ClampLimit(limit))
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := q.Find(&out).Error
	return out, translate(err, "notifications", "", "list notifications")
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.AdminNotification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if result.Error != nil {
		return translate(result.Error, "notification", id, "mark notification read")
	}
	if result.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "notification", id, "mark notification read")
	}
	return nil
}
