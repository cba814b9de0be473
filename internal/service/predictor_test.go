package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPredictor(f *fakeForecaster, store *memStore) *service.Predictor {
	up := &fakeUpstream{pools: samplePools()}
	return service.NewPredictor(up, f, store, nil, service.PredictorConfig{MinTVL: 1_000_000, Model: "google/gemini-3-flash-preview"})
}

func threshold(v float64) *float64 { return &v }

func modelPrediction() domain.Prediction {
	return domain.Prediction{
		PredictedAPY:              3.9,
		Confidence:                0.82,
		Direction:                 domain.DirectionAbove,
		ProbabilityAboveThreshold: 0.74,
		Reasoning:                 "30d mean trending up",
		RiskFactors:               []string{"validator queue"},
	}
}

func TestPredict_MissingFields(t *testing.T) {
	p := newPredictor(&fakeForecaster{}, newMemStore())

	_, err := p.Predict(context.Background(), service.PredictRequest{Threshold: threshold(3.5)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = p.Predict(context.Background(), service.PredictRequest{Asset: "stETH"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = p.Predict(context.Background(), service.PredictRequest{Asset: "stETH", Threshold: threshold(3.5), SettlementDate: "28/02/2026"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPredict_ModelSuccess(t *testing.T) {
	store := newMemStore()
	f := &fakeForecaster{pred: modelPrediction()}
	p := newPredictor(f, store)

	res, err := p.Predict(context.Background(), service.PredictRequest{Asset: "stETH", Threshold: threshold(3.5), SettlementDate: "2999-12-31"})
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "steth-yield", res.Prediction.MarketID)
	assert.Equal(t, domain.SourceModel, res.Prediction.Source)
	assert.Equal(t, "google/gemini-3-flash-preview", res.Prediction.Model)
	assert.Equal(t, 0.74, res.Prediction.ProbabilityAboveThreshold)
	assert.InDelta(t, 3.8, res.Prediction.CurrentAPY, 1e-9)
	assert.Equal(t, "pred-1", res.Prediction.ID)
	// wsteth-small queda fuera por el filtro de TVL
	assert.Equal(t, 1, res.Prediction.DataSourcesCount)
	assert.Equal(t, 1, res.Evidence.PoolsAnalyzed)
	assert.Equal(t, "lido", res.Evidence.PrimaryPool.Project)
	require.NotNil(t, res.Evidence.PrimaryPool.Mean30dAPY)
	assert.InDelta(t, 3.6, *res.Evidence.PrimaryPool.Mean30dAPY, 1e-9)
	assert.Nil(t, res.Resolution)

	require.Len(t, store.predictions, 1)
	assert.Empty(t, store.resolutions)
}

func TestPredict_ZeroMinTVLKeepsSmallPools(t *testing.T) {
	up := &fakeUpstream{pools: samplePools()}
	p := service.NewPredictor(up, &fakeForecaster{pred: modelPrediction()}, newMemStore(), nil, service.PredictorConfig{MinTVL: 0})

	res, err := p.Predict(context.Background(), service.PredictRequest{Asset: "stETH", Threshold: threshold(3.5)})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Prediction.DataSourcesCount)
	assert.Equal(t, "lido", res.Evidence.PrimaryPool.Project)
}

func TestPredict_NoPools(t *testing.T) {
	p := newPredictor(&fakeForecaster{pred: modelPrediction()}, newMemStore())

	_, err := p.Predict(context.Background(), service.PredictRequest{Asset: "EigenLayer", Threshold: threshold(5)})
	assert.ErrorIs(t, err, domain.ErrNoMatchingPools)
}

func TestPredict_RateLimitAndQuotaSurface(t *testing.T) {
	for _, sentinel := range []error{domain.ErrRateLimited, domain.ErrQuotaExceeded} {
		store := newMemStore()
		f := &fakeForecaster{err: fmt.Errorf("llm: %w", sentinel)}
		p := newPredictor(f, store)

		_, err := p.Predict(context.Background(), service.PredictRequest{Asset: "stETH", Threshold: threshold(3.5)})
		assert.ErrorIs(t, err, sentinel)
		assert.Empty(t, store.predictions)
	}
}

func TestPredict_OtherFailuresFallBack(t *testing.T) {
	store := newMemStore()
	f := &fakeForecaster{err: fmt.Errorf("llm: %w", domain.ErrClassifierUnavailable)}
	p := newPredictor(f, store)

	res, err := p.Predict(context.Background(), service.PredictRequest{MarketID: "001", Asset: "stETH", Threshold: threshold(3.5)})
	require.NoError(t, err)

	assert.Equal(t, domain.SourceFallback, res.Prediction.Source)
	assert.Equal(t, "fallback", res.Prediction.Model)
	assert.Equal(t, "001", res.Prediction.MarketID)
	assert.Equal(t, 0.67, res.Prediction.ProbabilityAboveThreshold)
	assert.Equal(t, domain.FallbackReasoning, res.Prediction.Reasoning)
	require.Len(t, store.predictions, 1)
}

func TestPredict_DueMarketIsResolved(t *testing.T) {
	store := newMemStore()
	p := newPredictor(&fakeForecaster{pred: modelPrediction()}, store)

	res, err := p.Predict(context.Background(), service.PredictRequest{MarketID: "001", Asset: "stETH", Threshold: threshold(3.5), SettlementDate: "2020-01-01"})
	require.NoError(t, err)

	require.NotNil(t, res.Resolution)
	assert.True(t, res.Resolution.Resolved)
	assert.Equal(t, service.ResolutionSourcePools, res.Resolution.ResolutionSource)
	assert.InDelta(t, 3.8, res.Resolution.FinalAPY, 1e-9)

	stored, ok := store.resolutions["001"]
	require.True(t, ok)
	assert.True(t, stored.Resolved)
	assert.Contains(t, stored.ResolutionData, "primary_pool")
}

func TestPredict_SaveFailureStillReturnsPrediction(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	p := newPredictor(&fakeForecaster{pred: modelPrediction()}, store)

	res, err := p.Predict(context.Background(), service.PredictRequest{Asset: "stETH", Threshold: threshold(3.5)})
	require.NoError(t, err)
	assert.Empty(t, res.Prediction.ID)
	assert.False(t, res.Prediction.CreatedAt.IsZero())
}

func TestPredict_UpstreamErrorWithoutCache(t *testing.T) {
	up := &fakeUpstream{err: errUpstream}
	p := service.NewPredictor(service.NewPoolSource(up, nil, nil, 0, nil), &fakeForecaster{}, nil, nil, service.PredictorConfig{})

	_, err := p.Predict(context.Background(), service.PredictRequest{Asset: "stETH", Threshold: threshold(3.5)})
	assert.ErrorIs(t, err, domain.ErrUpstreamFetch)
}
