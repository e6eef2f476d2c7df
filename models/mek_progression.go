package models

import (
	"time"

	"gorm.io/gorm"
)

// MekProgression is the per-asset progression row kept alongside the
// ledger. It follows the asset, not the wallet.
type MekProgression struct {
	ID              string             `gorm:"primaryKey;type:uuid;not null" json:"id"`
	AssetID         string             `gorm:"type:varchar(128);not null;uniqueIndex" json:"asset_id"`
	WalletAddress   string             `gorm:"type:varchar(128);not null;index" json:"wallet_address"`
	AssetName       string             `json:"asset_name"`
	CurrentLevel    int                `gorm:"not null;default:1" json:"current_level"`
	OwnershipStatus VerificationStatus `gorm:"type:varchar(16);not null" json:"ownership_status"`
	LastVerifiedAt  *time.Time         `json:"last_verified_at,omitempty"`
	RestoredAt      *time.Time         `json:"restored_at,omitempty"`

	Timestamps
}

func (p *MekProgression) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
