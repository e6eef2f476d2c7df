package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NotificationSnapshotFailureThreshold = "snapshot_failure_threshold"
	NotificationSnapshotRunFailed        = "snapshot_run_failed"
	NotificationBackupFailed             = "backup_failed"

	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

type AdminNotification struct {
	ID       string            `gorm:"primaryKey;type:uuid;not null" json:"id"`
	Type     string            `gorm:"type:varchar(64);not null;index" json:"type"`
	Severity string            `gorm:"type:varchar(16);not null" json:"severity"`
	Title    string            `gorm:"not null" json:"title"`
	Message  string            `gorm:"type:text" json:"message"`
	Data     datatypes.JSONMap `gorm:"type:jsonb" json:"data,omitempty"`
	IsRead   bool              `gorm:"not null;default:false;index" json:"is_read"`
	ReadAt   *time.Time        `json:"read_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (n *AdminNotification) BeforeCreate(tx *gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
