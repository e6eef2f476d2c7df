package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// SnapshotRunLog is written once per snapshot cycle.
type SnapshotRunLog struct {
	ID                     string                      `gorm:"primaryKey;type:uuid;not null" json:"id"`
	Timestamp              time.Time                   `gorm:"not null;index" json:"timestamp"`
	FinishedAt             time.Time                   `json:"finished_at"`
	DurationMs             int64                       `json:"duration_ms"`
	Trigger                string                      `gorm:"type:varchar(16);not null" json:"trigger"`
	TotalWallets           int                         `json:"total_wallets"`
	TotalWalletsConsidered int                         `json:"total_wallets_considered"`
	UpdatedCount           int                         `json:"updated_count"`
	ErrorCount             int                         `json:"error_count"`
	SkippedCount           int                         `json:"skipped_count"`
	Status                 RunStatus                   `gorm:"type:varchar(16);not null;index" json:"status"`
	Errors                 datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"errors,omitempty"`
}

func (r *SnapshotRunLog) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// Successful reports whether the run produced any ledger updates.
func (r *SnapshotRunLog) Successful() bool {
	return r.Status == RunSuccess || r.Status == RunPartial
}
