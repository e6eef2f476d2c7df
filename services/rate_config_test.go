package services

import (
	"context"
	"testing"

	"gold-accrual-engine/rates"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateConfigService(t *testing.T) {
	ctx := context.Background()

	t.Run("should fall back to the configured default", func(t *testing.T) {
		env := newTestEnv(t)

		assert.Equal(t, flatRate().Resolve(), env.rates.Active(ctx))
	})

	t.Run("should activate the newest saved config", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.rates.Save(ctx, rates.Params{Curve: rates.Exponential, MinRate: 2, MaxRate: 80, Steepness: 2}, "admin-1")
		require.NoError(t, err)
		saved, err := env.rates.Save(ctx, rates.Params{Curve: rates.Sigmoid, MinRate: 5, MaxRate: 50}, "admin-2")
		require.NoError(t, err)

		active := env.rates.Active(ctx)
		assert.Equal(t, rates.Sigmoid, active.Curve)
		assert.Equal(t, 50.0, active.MaxRate)
		assert.Equal(t, "admin-2", saved.SavedBy)

		history, err := env.rates.History(ctx, 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.True(t, history[0].IsActive)
		assert.False(t, history[1].IsActive)
	})

	t.Run("should store resolved values for garbage input", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.rates.Save(ctx, rates.Params{Curve: "zigzag", MinRate: 90, MaxRate: 10, Steepness: -1}, "admin-1")
		require.NoError(t, err)

		active := env.rates.Active(ctx)
		assert.Equal(t, rates.Linear, active.Curve)
		assert.Equal(t, 10.0, active.MinRate)
		assert.Equal(t, 90.0, active.MaxRate)
		assert.Equal(t, rates.DefaultSteepness, active.Steepness)
	})

	t.Run("should preview sampled ranks without saving", func(t *testing.T) {
		env := newTestEnv(t)
		p := rates.Params{Curve: rates.Linear, MinRate: 0, MaxRate: 100, TotalAssets: 101}

		preview := env.rates.Preview(p, nil)
		require.NotEmpty(t, preview)
		assert.Equal(t, 1, preview[0].Rank)
		assert.Equal(t, 100.0, preview[0].Rate)
		assert.Equal(t, 101, preview[len(preview)-1].Rank)
		assert.Equal(t, 0.0, preview[len(preview)-1].Rate)

		picked := env.rates.Preview(p, []int{51})
		assert.Equal(t, []RatePreview{{Rank: 51, Rate: 50}}, picked)

		history, err := env.rates.History(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}
