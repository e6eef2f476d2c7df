package models

import (
	"gold-accrual-engine/rates"

	"gorm.io/gorm"
)

// RateCurveConfig is a saved rate curve. At most one row is active.
type RateCurveConfig struct {
	ID          string         `gorm:"primaryKey;type:uuid;not null" json:"id"`
	Curve       rates.Curve    `gorm:"type:varchar(16);not null" json:"curve"`
	MinRate     float64        `gorm:"not null" json:"min_rate"`
	MaxRate     float64        `gorm:"not null" json:"max_rate"`
	Steepness   float64        `gorm:"not null" json:"steepness"`
	MidPoint    float64        `json:"mid_point"`
	TotalAssets int            `gorm:"not null" json:"total_assets"`
	Rounding    rates.Rounding `gorm:"type:varchar(16);not null" json:"rounding"`
	IsActive    bool           `gorm:"not null;default:false;index" json:"is_active"`
	SavedBy     string         `json:"saved_by,omitempty"`

	Timestamps
}

func (c *RateCurveConfig) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

func (c RateCurveConfig) Params() rates.Params {
	return rates.Params{
		Curve:       c.Curve,
		MinRate:     c.MinRate,
		MaxRate:     c.MaxRate,
		Steepness:   c.Steepness,
		MidPoint:    c.MidPoint,
		TotalAssets: c.TotalAssets,
		Rounding:    c.Rounding,
	}
}

func RateCurveConfigFrom(p rates.Params) RateCurveConfig {
	p = p.Resolve()
	return RateCurveConfig{
		Curve:       p.Curve,
		MinRate:     p.MinRate,
		MaxRate:     p.MaxRate,
		Steepness:   p.Steepness,
		MidPoint:    p.MidPoint,
		TotalAssets: p.TotalAssets,
		Rounding:    p.Rounding,
	}
}
