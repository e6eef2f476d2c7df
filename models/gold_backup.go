package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BackupType string

const (
	BackupAutoDaily    BackupType = "auto_daily"
	BackupManual       BackupType = "manual"
	BackupPreUpdate    BackupType = "pre_update"
	BackupPreMigration BackupType = "pre_migration"
	BackupEmergency    BackupType = "emergency"
)

func (t BackupType) Valid() bool {
	switch t {
	case BackupAutoDaily, BackupManual, BackupPreUpdate, BackupPreMigration, BackupEmergency:
		return true
	}
	return false
}

// GoldBackup is a system-wide copy of every ledger's gold figures.
type GoldBackup struct {
	ID               string          `gorm:"primaryKey;type:uuid;not null" json:"id"`
	Name             string          `gorm:"not null" json:"name"`
	BackupType       BackupType      `gorm:"type:varchar(32);not null;index" json:"backup_type"`
	TriggeredBy      string          `json:"triggered_by"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	BackupTime       time.Time       `gorm:"not null;index" json:"backup_time"`
	TotalWallets     int             `json:"total_wallets"`
	TotalGold        decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"total_gold"`
	TotalGoldPerHour float64         `json:"total_gold_per_hour"`
	ArchiveKey       string          `json:"archive_key,omitempty"`

	Entries []GoldBackupEntry `gorm:"foreignKey:BackupID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (b *GoldBackup) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

type GoldBackupEntry struct {
	ID                   string          `gorm:"primaryKey;type:uuid;not null" json:"id"`
	BackupID             string          `gorm:"type:uuid;not null;index" json:"backup_id"`
	WalletAddress        string          `gorm:"type:varchar(128);not null;index" json:"wallet_address"`
	AccumulatedGold      decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"accumulated_gold"`
	TotalCumulativeGold  decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"total_cumulative_gold"`
	TotalGoldSpent       decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"total_gold_spent"`
	AggregateRatePerHour float64         `json:"aggregate_rate_per_hour"`
	AssetCount           int             `json:"asset_count"`
	LastSnapshotTime     *time.Time      `json:"last_snapshot_time,omitempty"`
	LastActiveTime       time.Time       `json:"last_active_time"`
}

func (e *GoldBackupEntry) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
