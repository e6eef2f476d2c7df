package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WalletLedger is the live accrual state for one wallet.
// Invariant: AccumulatedGold <= TotalCumulativeGold - TotalGoldSpent.
type WalletLedger struct {
	ID            string `gorm:"primaryKey;type:uuid;not null" json:"id"`
	WalletAddress string `gorm:"type:varchar(128);not null;uniqueIndex" json:"wallet_address"`

	OwnedMeks            datatypes.JSONSlice[OwnedMek] `gorm:"type:jsonb" json:"owned_meks"`
	AggregateRatePerHour float64                       `gorm:"not null;default:0" json:"aggregate_rate_per_hour"`

	AccumulatedGold     decimal.Decimal `gorm:"type:numeric(24,6);not null;default:0" json:"accumulated_gold"`
	TotalCumulativeGold decimal.Decimal `gorm:"type:numeric(24,6);not null;default:0" json:"total_cumulative_gold"`
	TotalGoldSpent      decimal.Decimal `gorm:"type:numeric(24,6);not null;default:0" json:"total_gold_spent"`

	LastActiveTime              time.Time  `gorm:"not null;index" json:"last_active_time"`
	LastSnapshotTime            *time.Time `gorm:"index" json:"last_snapshot_time,omitempty"`
	ConsecutiveSnapshotFailures int        `gorm:"not null;default:0" json:"consecutive_snapshot_failures"`
	IsVerified                  bool       `gorm:"not null;default:false" json:"is_verified"`

	LastRestoredSnapshotID *string `gorm:"type:uuid" json:"last_restored_snapshot_id,omitempty"`

	Timestamps
}

func (l *WalletLedger) BeforeCreate(tx *gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// Clone returns a copy that shares no slices with l.
func (l WalletLedger) Clone() WalletLedger {
	out := l
	if l.OwnedMeks != nil {
		out.OwnedMeks = append(datatypes.JSONSlice[OwnedMek]{}, l.OwnedMeks...)
	}
	if l.LastSnapshotTime != nil {
		t := *l.LastSnapshotTime
		out.LastSnapshotTime = &t
	}
	if l.LastRestoredSnapshotID != nil {
		id := *l.LastRestoredSnapshotID
		out.LastRestoredSnapshotID = &id
	}
	return out
}

// FindMek returns the owned asset with the given id.
func (l *WalletLedger) FindMek(assetID string) (OwnedMek, bool) {
	for _, m := range l.OwnedMeks {
		if m.AssetID == assetID {
			return m, true
		}
	}
	return OwnedMek{}, false
}
