package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
)

// ResolutionSourcePools identifica las resoluciones cerradas por el flujo single-market.
const ResolutionSourcePools = "defillama"

// Forecaster es la parte del clasificador que usa el flujo single-market.
type Forecaster interface {
	Predict(ctx context.Context, market domain.MarketDefinition, matches []domain.PoolRecord) (domain.Prediction, error)
	FallbackPrediction(market domain.MarketDefinition, matches []domain.PoolRecord) domain.Prediction
}

// PredictRequest es el body de POST /predict.
type PredictRequest struct {
	MarketID       string   `json:"market_id"`
	Asset          string   `json:"asset"`
	Threshold      *float64 `json:"threshold"`
	SettlementDate string   `json:"settlement_date"`
}

// PredictionView es la predicción tal como se devuelve al caller.
type PredictionView struct {
	domain.PredictionRecord
	DataSourcesCount int                     `json:"data_sources_count"`
	Source           domain.SettlementSource `json:"source"`
}

// PrimaryPool resume el pool representativo en la evidencia.
type PrimaryPool struct {
	Project    string   `json:"project"`
	Chain      string   `json:"chain"`
	CurrentAPY float64  `json:"current_apy"`
	Mean30dAPY *float64 `json:"mean_30d_apy"`
	TVLUSD     float64  `json:"tvl_usd"`
}

// Evidence son los datos en los que se apoyó la predicción.
type Evidence struct {
	PoolsAnalyzed int         `json:"defillama_pools_analyzed"`
	PrimaryPool   PrimaryPool `json:"primary_pool"`
	Timestamp     time.Time   `json:"timestamp"`
}

// PredictResult es la respuesta de POST /predict.
type PredictResult struct {
	Status     string             `json:"status"`
	Prediction PredictionView     `json:"prediction"`
	Evidence   Evidence           `json:"evidence"`
	Resolution *domain.Resolution `json:"resolution"`
}

// PredictorConfig ajusta el flujo single-market.
type PredictorConfig struct {
	MinTVL float64
	Model  string
}

// Predictor es el flujo de predicción de un mercado ad-hoc: pools → modelo → log de
// predicciones → resolución si la fecha de settlement ya pasó.
type Predictor struct {
	pools      ports.PoolProvider
	forecaster Forecaster
	store      ports.Storage
	patterns   *domain.PatternTable
	cfg        PredictorConfig
	now        func() time.Time
}

// NewPredictor crea el Predictor. store y patterns pueden ser nil.
func NewPredictor(pools ports.PoolProvider, f Forecaster, store ports.Storage, patterns *domain.PatternTable, cfg PredictorConfig) *Predictor {
	if patterns == nil {
		patterns = domain.NewPatternTable(nil)
	}
	if cfg.MinTVL < 0 {
		cfg.MinTVL = 0
	}
	return &Predictor{
		pools:      pools,
		forecaster: f,
		store:      store,
		patterns:   patterns,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Predict ejecuta el flujo completo. Los 429/402 del modelo se devuelven tal cual para que
// el caller los distinga; cualquier otro fallo del modelo termina en la predicción determinista.
func (p *Predictor) Predict(ctx context.Context, req PredictRequest) (PredictResult, error) {
	asset := strings.TrimSpace(req.Asset)
	if asset == "" || req.Threshold == nil {
		return PredictResult{}, fmt.Errorf("service.Predict: missing required fields: asset, threshold: %w", domain.ErrInvalidRequest)
	}
	if req.SettlementDate != "" {
		if _, err := time.Parse(domain.DateLayout, req.SettlementDate); err != nil {
			return PredictResult{}, fmt.Errorf("service.Predict: settlement_date %q: %w", req.SettlementDate, domain.ErrInvalidRequest)
		}
	}

	market := domain.MarketDefinition{
		ID:             strings.TrimSpace(req.MarketID),
		Asset:          asset,
		Threshold:      *req.Threshold,
		SettlementDate: req.SettlementDate,
	}
	if market.ID == "" {
		market.ID = domain.DefaultMarketID(asset)
	}

	pools, err := p.pools.FetchPools(ctx)
	if err != nil {
		return PredictResult{}, fmt.Errorf("service.Predict: %w", err)
	}
	matches := domain.MatchPools(pools, p.patterns.For(asset))
	matches = domain.TopByTVL(domain.FilterMinTVL(matches, p.cfg.MinTVL), domain.MaxPoolsPerMarket)
	if len(matches) == 0 {
		return PredictResult{}, fmt.Errorf("service.Predict: no yield data found for asset %s: %w", asset, domain.ErrNoMatchingPools)
	}
	rep := matches[0]

	source := domain.SourceModel
	model := p.cfg.Model
	pred, err := p.forecaster.Predict(ctx, market, matches)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrQuotaExceeded):
		return PredictResult{}, fmt.Errorf("service.Predict: %w", err)
	case ctx.Err() != nil:
		return PredictResult{}, fmt.Errorf("service.Predict: %w", ctx.Err())
	default:
		slog.Warn("prediction failed, using fallback", "market_id", market.ID, "asset", asset, "err", err)
		pred = p.forecaster.FallbackPrediction(market, matches)
		source = domain.SourceFallback
		model = string(domain.SourceFallback)
	}

	now := p.now()
	record := domain.PredictionRecord{
		Prediction:     pred,
		MarketID:       market.ID,
		Asset:          asset,
		CurrentAPY:     rep.CurrentAPY(),
		Threshold:      market.Threshold,
		SettlementDate: market.SettlementDate,
		Model:          model,
		DataSources:    matches,
		CreatedAt:      now,
	}
	if p.store != nil {
		saved, err := p.store.SavePrediction(ctx, record)
		if err != nil {
			slog.Warn("failed to save prediction", "market_id", market.ID, "err", err)
		} else {
			record = saved
		}
	}

	var resolution *domain.Resolution
	if market.IsDue(now) {
		resolution = &domain.Resolution{
			MarketID:         market.ID,
			Asset:            asset,
			Threshold:        market.Threshold,
			FinalAPY:         rep.CurrentAPY(),
			Resolved:         true,
			ResolutionSource: ResolutionSourcePools,
			ResolutionData: map[string]any{
				"primary_pool":  rep,
				"snapshot_time": now,
			},
			ResolutionTimestamp: now,
		}
		if p.store != nil {
			if err := p.store.UpsertResolution(ctx, *resolution); err != nil {
				slog.Warn("failed to upsert resolution", "market_id", market.ID, "err", err)
			}
		}
	}

	slog.Info("market predicted",
		"market_id", market.ID,
		"direction", pred.Direction,
		"confidence", pred.Confidence,
		"source", source,
		"resolved", resolution != nil,
	)

	return PredictResult{
		Status: "success",
		Prediction: PredictionView{
			PredictionRecord: record,
			DataSourcesCount: len(matches),
			Source:           source,
		},
		Evidence: Evidence{
			PoolsAnalyzed: len(matches),
			PrimaryPool: PrimaryPool{
				Project:    rep.Project,
				Chain:      rep.Chain,
				CurrentAPY: rep.CurrentAPY(),
				Mean30dAPY: rep.APYMean30d,
				TVLUSD:     rep.TVLUSD,
			},
			Timestamp: now,
		},
		Resolution: resolution,
	}, nil
}
