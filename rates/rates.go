// Package rates maps an asset's rank to a gold-per-hour value under a
// configurable curve. Everything here is pure.
package rates

import (
	"math"

	"github.com/shopspring/decimal"
)

type Curve string

const (
	Linear      Curve = "linear"
	Exponential Curve = "exponential"
	Logarithmic Curve = "logarithmic"
	Sigmoid     Curve = "sigmoid"
)

type Rounding string

const (
	RoundWhole      Rounding = "whole"
	RoundOneDecimal Rounding = "1decimal"
	RoundTwoDecimal Rounding = "2decimal"
)

const (
	DefaultTotalAssets = 4000
	DefaultMinRate     = 1.0
	DefaultMaxRate     = 100.0
	DefaultSteepness   = 1.5
	DefaultRounding    = RoundTwoDecimal
)

// Params is one rate-curve configuration. Call Resolve before reading fields
// directly; ComputeRate resolves on its own.
type Params struct {
	Curve       Curve    `json:"curve" mapstructure:"curve"`
	MinRate     float64  `json:"min_rate" mapstructure:"min_rate"`
	MaxRate     float64  `json:"max_rate" mapstructure:"max_rate"`
	Steepness   float64  `json:"steepness" mapstructure:"steepness"`
	MidPoint    float64  `json:"mid_point" mapstructure:"mid_point"`
	TotalAssets int      `json:"total_assets" mapstructure:"total_assets"`
	Rounding    Rounding `json:"rounding" mapstructure:"rounding"`
}

func DefaultParams() Params {
	return Params{
		Curve:       Linear,
		MinRate:     DefaultMinRate,
		MaxRate:     DefaultMaxRate,
		Steepness:   DefaultSteepness,
		MidPoint:    DefaultTotalAssets / 2,
		TotalAssets: DefaultTotalAssets,
		Rounding:    DefaultRounding,
	}
}

// Resolve returns a fully populated copy of p. Unknown curves fall back to
// linear, unset or invalid numbers fall back to the defaults, and an
// inverted min/max pair is swapped.
func (p Params) Resolve() Params {
	out := p

	switch out.Curve {
	case Linear, Exponential, Logarithmic, Sigmoid:
	default:
		out.Curve = Linear
	}

	if out.TotalAssets < 1 {
		out.TotalAssets = DefaultTotalAssets
	}

	if !finite(out.MinRate) || !finite(out.MaxRate) || (out.MinRate == 0 && out.MaxRate == 0) {
		out.MinRate, out.MaxRate = DefaultMinRate, DefaultMaxRate
	}
	if out.MinRate > out.MaxRate {
		out.MinRate, out.MaxRate = out.MaxRate, out.MinRate
	}
	if out.MinRate < 0 {
		out.MinRate = 0
	}
	if out.MaxRate < 0 {
		out.MaxRate = 0
	}

	if !finite(out.Steepness) || out.Steepness <= 0 {
		out.Steepness = DefaultSteepness
	}

	if !finite(out.MidPoint) || out.MidPoint <= 0 || out.MidPoint > float64(out.TotalAssets) {
		out.MidPoint = float64(out.TotalAssets) / 2
	}

	switch out.Rounding {
	case RoundWhole, RoundOneDecimal, RoundTwoDecimal:
	default:
		out.Rounding = DefaultRounding
	}

	return out
}

// ComputeRate returns the rounded gold-per-hour rate for rank under p.
// Ranks outside [1, TotalAssets] are clamped.
func ComputeRate(rank int, p Params) float64 {
	p = p.Resolve()

	if rank < 1 {
		rank = 1
	}
	if rank > p.TotalAssets {
		rank = p.TotalAssets
	}

	value := normalizedValue(rank, p)
	if !finite(value) {
		value = 0
	}
	value = math.Max(0, math.Min(1, value))

	rate := p.MinRate + value*(p.MaxRate-p.MinRate)
	return Round(rate, p.Rounding)
}

// normalizedValue maps rank to [0, 1] where 1 is the best rank.
func normalizedValue(rank int, p Params) float64 {
	// position runs from 0 at rank 1 to 1 at the last rank
	position := 0.0
	if p.TotalAssets > 1 {
		position = float64(rank-1) / float64(p.TotalAssets-1)
	}

	switch p.Curve {
	case Exponential:
		return math.Pow(1-position, p.Steepness)
	case Logarithmic:
		if position == 0 {
			return 1
		}
		return math.Max(0, 1+math.Log10(1-position+0.1))
	case Sigmoid:
		x := (float64(rank) - p.MidPoint) / (float64(p.TotalAssets) / 4)
		return 1 / (1 + math.Exp(p.Steepness*x))
	default:
		return 1 - position
	}
}

// Round applies the configured precision. Unknown modes round to two
// decimals.
func Round(v float64, mode Rounding) float64 {
	if !finite(v) {
		return 0
	}
	places := int32(2)
	switch mode {
	case RoundWhole:
		places = 0
	case RoundOneDecimal:
		places = 1
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Effective is the rate an asset actually earns: its base rate plus its
// level boost.
func Effective(base, boost float64) float64 {
	return Round(base+boost, RoundTwoDecimal)
}

// Aggregate sums per-asset rates without float drift.
func Aggregate(perAsset []float64) float64 {
	total := decimal.Zero
	for _, r := range perAsset {
		if !finite(r) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(r))
	}
	return total.Round(2).InexactFloat64()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
