package services

import (
	"context"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/models"
	"gold-accrual-engine/rates"
	"gold-accrual-engine/repository"

	"github.com/sirupsen/logrus"
)

// RateConfigService is the only place that knows where the active rate
// curve lives. Everything downstream receives a resolved rates.Params.
type RateConfigService struct {
	Store   repository.Store
	Default rates.Params
}

func NewRateConfigService(store repository.Store, fallback rates.Params) *RateConfigService {
	return &RateConfigService{Store: store, Default: fallback.Resolve()}
}

// Active returns the saved active curve, or the configured default when
// none is saved or the store cannot be read.
func (s *RateConfigService) Active(ctx context.Context) rates.Params {
	cfg, err := s.Store.RateConfigs().Active(ctx)
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeNotFound {
			logger.WithError(err).Warn("⚠️ [RATES] Failed to load active rate config, using default")
		}
		return s.Default
	}
	return cfg.Params().Resolve()
}

// Save resolves p, stores it and makes it active for the next run.
func (s *RateConfigService) Save(ctx context.Context, p rates.Params, savedBy string) (*models.RateCurveConfig, error) {
	cfg := models.RateCurveConfigFrom(p)
	cfg.SavedBy = savedBy
	if err := s.Store.RateConfigs().SaveActive(ctx, &cfg); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"curve":    cfg.Curve,
		"min_rate": cfg.MinRate,
		"max_rate": cfg.MaxRate,
		"saved_by": savedBy,
	}).Info("📈 [RATES] Rate config activated")
	return &cfg, nil
}

func (s *RateConfigService) History(ctx context.Context, limit int) ([]models.RateCurveConfig, error) {
	return s.Store.RateConfigs().List(ctx, limit)
}

type RatePreview struct {
	Rank int     `json:"rank"`
	Rate float64 `json:"rate"`
}

// Preview computes rates for ranks without persisting anything. With no
// ranks it samples the curve at ten evenly spaced points.
func (s *RateConfigService) Preview(p rates.Params, ranks []int) []RatePreview {
	p = p.Resolve()
	if len(ranks) == 0 {
		step := p.TotalAssets / 10
		if step < 1 {
			step = 1
		}
		ranks = append(ranks, 1)
		for r := step; r < p.TotalAssets; r += step {
			ranks = append(ranks, r)
		}
		ranks = append(ranks, p.TotalAssets)
	}
	out := make([]RatePreview, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, RatePreview{Rank: r, Rate: rates.ComputeRate(r, p)})
	}
	return out
}
