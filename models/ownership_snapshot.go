package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationFailed     VerificationStatus = "failed"
)

// OwnershipSnapshot is immutable once written; only an admin may delete it.
type OwnershipSnapshot struct {
	ID            string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	WalletAddress string    `gorm:"type:varchar(128);not null;index:idx_snapshot_wallet_time,priority:1" json:"wallet_address"`
	SnapshotTime  time.Time `gorm:"not null;index:idx_snapshot_wallet_time,priority:2" json:"snapshot_time"`
	RunID         *string   `gorm:"type:uuid;index" json:"run_id,omitempty"`

	Meks                 datatypes.JSONSlice[SnapshotMek] `gorm:"type:jsonb" json:"meks"`
	AssetCount           int                              `gorm:"not null" json:"asset_count"`
	AggregateRatePerHour float64                          `gorm:"not null" json:"aggregate_rate_per_hour"`

	AccumulatedGold     decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"accumulated_gold"`
	TotalCumulativeGold decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"total_cumulative_gold"`
	TotalGoldSpent      decimal.Decimal `gorm:"type:numeric(24,6);not null" json:"total_gold_spent"`
	LastActiveTime      time.Time       `json:"last_active_time"`

	VerificationStatus VerificationStatus `gorm:"type:varchar(16);not null" json:"verification_status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (s *OwnershipSnapshot) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

func (s OwnershipSnapshot) Clone() OwnershipSnapshot {
	out := s
	if s.Meks != nil {
		out.Meks = append(datatypes.JSONSlice[SnapshotMek]{}, s.Meks...)
	}
	if s.RunID != nil {
		id := *s.RunID
		out.RunID = &id
	}
	return out
}

// AssetIDs returns the set of asset ids held at snapshot time.
func (s *OwnershipSnapshot) AssetIDs() map[string]SnapshotMek {
	out := make(map[string]SnapshotMek, len(s.Meks))
	for _, m := range s.Meks {
		out[m.AssetID] = m
	}
	return out
}
