package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
)

// MarketViews calcula la proyección de lectura de cada mercado en cada petición.
type MarketViews struct {
	pools    ports.PoolProvider
	store    ports.Storage
	patterns *domain.PatternTable
	markets  []domain.MarketDefinition
	volume   *domain.VolumeEstimator
	now      func() time.Time
}

// NewMarketViews crea las vistas. store y patterns pueden ser nil; sin markets usa DefaultMarkets.
func NewMarketViews(pools ports.PoolProvider, store ports.Storage, patterns *domain.PatternTable, markets []domain.MarketDefinition) *MarketViews {
	if patterns == nil {
		patterns = domain.NewPatternTable(nil)
	}
	if len(markets) == 0 {
		markets = domain.DefaultMarkets
	}
	return &MarketViews{
		pools:    pools,
		store:    store,
		patterns: patterns,
		markets:  markets,
		volume:   domain.NewVolumeEstimator(),
		now:      time.Now,
	}
}

// List devuelve la vista derivada de todos los mercados configurados.
func (v *MarketViews) List(ctx context.Context) ([]domain.DerivedMarketView, error) {
	pools, err := v.pools.FetchPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.List: %w", err)
	}
	priors := v.latestPredictions(ctx)
	now := v.now()

	views := make([]domain.DerivedMarketView, 0, len(v.markets))
	for _, m := range v.markets {
		views = append(views, v.build(m, pools, priors, now))
	}
	return views, nil
}

// Get devuelve la vista de un mercado por id.
func (v *MarketViews) Get(ctx context.Context, id string) (domain.DerivedMarketView, error) {
	for _, m := range v.markets {
		if m.ID != id {
			continue
		}
		pools, err := v.pools.FetchPools(ctx)
		if err != nil {
			return domain.DerivedMarketView{}, fmt.Errorf("service.Get: %w", err)
		}
		view := v.build(m, pools, v.latestPredictions(ctx), v.now())
		view.Resolution = v.resolution(ctx, m.ID)
		return view, nil
	}
	return domain.DerivedMarketView{}, fmt.Errorf("service.Get: %q: %w", id, domain.ErrUnknownMarket)
}

func (v *MarketViews) build(m domain.MarketDefinition, pools []domain.PoolRecord, priors map[string]domain.PredictionRecord, now time.Time) domain.DerivedMarketView {
	matches := domain.TopByTVL(domain.MatchPools(pools, v.patterns.For(m.Asset)), domain.MaxPoolsPerMarket)

	view := domain.DerivedMarketView{
		MarketDefinition: m,
		TimeRemaining:    domain.TimeRemaining(m.SettlementDate, now),
		PoolsMatched:     len(matches),
	}

	var prior *float64
	if p, ok := priors[m.ID]; ok {
		prob, conf := p.ProbabilityAboveThreshold, p.Confidence
		prior = &prob
		view.HasPrediction = true
		view.PredictionConfidence = &conf
		view.PredictionDirection = string(p.Direction)
	}

	est := domain.EstimateProbability(matches, m.Threshold, prior)
	view.CurrentYield = domain.Round2(est.CurrentYield)
	view.YesPrice = est.YesPrice
	view.NoPrice = est.NoPrice

	var tvl float64
	if rep, ok := domain.Representative(matches); ok {
		tvl = rep.TVLUSD
	}
	vol := v.volume.Estimate(tvl)
	view.Volume24h = vol.Volume24h
	view.TotalLiquidity = vol.TotalLiquidity
	return view
}

// resolution devuelve la resolución actual del mercado, o nil si no hay o falla la lectura.
func (v *MarketViews) resolution(ctx context.Context, marketID string) *domain.Resolution {
	if v.store == nil {
		return nil
	}
	r, ok, err := v.store.GetResolution(ctx, marketID)
	if err != nil {
		slog.Warn("failed to load resolution", "market_id", marketID, "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &r
}

func (v *MarketViews) latestPredictions(ctx context.Context) map[string]domain.PredictionRecord {
	if v.store == nil {
		return nil
	}
	preds, err := v.store.LatestPredictions(ctx)
	if err != nil {
		slog.Warn("failed to load predictions", "err", err)
		return nil
	}
	return preds
}
