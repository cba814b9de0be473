package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/alejandrodnm/destaker/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel implementa ports.Classifier con respuestas programables.
type stubModel struct {
	calls   atomic.Int32
	lastReq ports.ClassifyRequest
	settle  func(ctx context.Context) (domain.Verdict, error)
	predict func(ctx context.Context) (domain.Prediction, error)
}

func (s *stubModel) Settle(ctx context.Context, req ports.ClassifyRequest) (domain.Verdict, error) {
	s.calls.Add(1)
	s.lastReq = req
	return s.settle(ctx)
}

func (s *stubModel) Predict(ctx context.Context, req ports.ClassifyRequest) (domain.Prediction, error) {
	s.calls.Add(1)
	s.lastReq = req
	return s.predict(ctx)
}

func failing(err error) func(context.Context) (domain.Verdict, error) {
	return func(context.Context) (domain.Verdict, error) { return domain.Verdict{}, err }
}

var stETH = domain.MarketDefinition{ID: "001", Asset: "stETH", Threshold: 3.5, SettlementDate: "2026-02-28"}

func stETHPools() []domain.PoolRecord {
	return []domain.PoolRecord{{PoolID: "p1", Symbol: "STETH", Project: "lido", APY: domain.Float(3.8), TVLUSD: 2e9}}
}

func TestSettle_FallbackScenario(t *testing.T) {
	model := &stubModel{settle: failing(domain.ErrClassifierUnavailable)}
	c := settlement.New(model, settlement.Config{}, nil)

	res, err := c.Settle(context.Background(), stETH, stETHPools())
	require.NoError(t, err)

	assert.Equal(t, 3.8, res.CurrentAPY)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, domain.FallbackReasoning, res.Reasoning)
	assert.Equal(t, domain.SourceFallback, res.Source)
	assert.True(t, errors.Is(res.Cause, domain.ErrClassifierUnavailable))
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Timestamp.IsZero())
}

func TestSettle_ModelVerdict(t *testing.T) {
	model := &stubModel{settle: func(context.Context) (domain.Verdict, error) {
		return domain.Verdict{Outcome: domain.OutcomeNo, Confidence: 0.66, Reasoning: "30d mean is below"}, nil
	}}
	c := settlement.New(model, settlement.Config{}, nil)

	res, err := c.Settle(context.Background(), stETH, stETHPools())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, res.Outcome)
	assert.Equal(t, 0.66, res.Confidence)
	assert.Equal(t, domain.SourceModel, res.Source)
	assert.Nil(t, res.Cause)
	assert.Equal(t, []string{"DeFiLlama", "Gemini AI", "1 pools analyzed"}, res.DataSources)
}

func TestSettle_ConfiguredFallbackConfidence(t *testing.T) {
	model := &stubModel{settle: failing(domain.ErrMalformedResponse)}
	c := settlement.New(model, settlement.Config{FallbackConfidence: 0.9}, nil)

	res, err := c.Settle(context.Background(), stETH, stETHPools())
	require.NoError(t, err)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestSettle_TimeoutFallsBack(t *testing.T) {
	model := &stubModel{settle: func(ctx context.Context) (domain.Verdict, error) {
		<-ctx.Done()
		return domain.Verdict{}, fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, ctx.Err())
	}}
	c := settlement.New(model, settlement.Config{CallTimeout: 20 * time.Millisecond}, nil)

	res, err := c.Settle(context.Background(), stETH, stETHPools())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, res.Source)
	assert.True(t, errors.Is(res.Cause, context.DeadlineExceeded))
}

func TestSettle_RateLimitedKeepsCause(t *testing.T) {
	model := &stubModel{settle: failing(domain.ErrRateLimited)}
	c := settlement.New(model, settlement.Config{}, nil)

	res, err := c.Settle(context.Background(), stETH, stETHPools())
	require.NoError(t, err)
	assert.True(t, errors.Is(res.Cause, domain.ErrRateLimited))
}

func TestSettle_CancelledContextIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &stubModel{settle: func(context.Context) (domain.Verdict, error) {
		cancel()
		return domain.Verdict{}, context.Canceled
	}}
	c := settlement.New(model, settlement.Config{}, nil)

	_, err := c.Settle(ctx, stETH, stETHPools())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSettle_NoMatches(t *testing.T) {
	model := &stubModel{settle: failing(nil)}
	c := settlement.New(model, settlement.Config{}, nil)

	_, err := c.Settle(context.Background(), stETH, nil)
	assert.True(t, errors.Is(err, domain.ErrNoMatchingPools))
	assert.Equal(t, int32(0), model.calls.Load())
}

func TestSettle_CapsPoolsAndSortsByTVL(t *testing.T) {
	pools := make([]domain.PoolRecord, 15)
	for i := range pools {
		pools[i] = domain.PoolRecord{PoolID: fmt.Sprintf("p%02d", i), Symbol: "STETH", APY: domain.Float(float64(i)), TVLUSD: float64(i)}
	}
	model := &stubModel{settle: func(context.Context) (domain.Verdict, error) {
		return domain.Verdict{Outcome: domain.OutcomeYes, Confidence: 1}, nil
	}}
	c := settlement.New(model, settlement.Config{}, nil)

	res, err := c.Settle(context.Background(), stETH, pools)
	require.NoError(t, err)
	require.Len(t, model.lastReq.Matches, domain.MaxPoolsPerMarket)
	assert.Equal(t, "p14", model.lastReq.Matches[0].PoolID)
	assert.Equal(t, 14.0, res.CurrentAPY)
	assert.Contains(t, res.DataSources, "10 pools analyzed")
}

func TestSettle_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	model := &stubModel{settle: failing(domain.ErrClassifierUnavailable)}
	c := settlement.New(model, settlement.Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)

	for i := 0; i < 4; i++ {
		res, err := c.Settle(context.Background(), stETH, stETHPools())
		require.NoError(t, err)
		assert.Equal(t, domain.SourceFallback, res.Source)
	}
	// Con el circuito abierto, el modelo ya no se llama
	assert.Equal(t, int32(2), model.calls.Load())
}

func TestSettle_RateLimitDoesNotOpenBreaker(t *testing.T) {
	model := &stubModel{settle: failing(domain.ErrRateLimited)}
	c := settlement.New(model, settlement.Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)

	for i := 0; i < 4; i++ {
		_, err := c.Settle(context.Background(), stETH, stETHPools())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), model.calls.Load())
}

func TestSettle_FallbackDeterminism(t *testing.T) {
	model := &stubModel{settle: failing(domain.ErrClassifierUnavailable)}
	c := settlement.New(model, settlement.Config{BreakerFailures: 1000}, nil)

	cases := []struct {
		apy  float64
		want domain.Outcome
	}{
		{3.51, domain.OutcomeYes},
		{3.5, domain.OutcomeNo},
		{3.49, domain.OutcomeNo},
		{0, domain.OutcomeNo},
	}
	for _, tc := range cases {
		pools := []domain.PoolRecord{{PoolID: "p", Symbol: "STETH", APY: domain.Float(tc.apy), TVLUSD: 1}}
		first, err := c.Settle(context.Background(), stETH, pools)
		require.NoError(t, err)
		second, err := c.Settle(context.Background(), stETH, pools)
		require.NoError(t, err)

		assert.Equal(t, tc.want, first.Outcome, "apy=%v", tc.apy)
		assert.Equal(t, first.Outcome, second.Outcome)
		assert.Equal(t, first.Confidence, second.Confidence)
		assert.Equal(t, first.Reasoning, second.Reasoning)
	}
}

func TestPredict_PassesErrorsThrough(t *testing.T) {
	model := &stubModel{predict: func(context.Context) (domain.Prediction, error) {
		return domain.Prediction{}, domain.ErrQuotaExceeded
	}}
	c := settlement.New(model, settlement.Config{}, nil)

	_, err := c.Predict(context.Background(), stETH, stETHPools())
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestPredict_Success(t *testing.T) {
	model := &stubModel{predict: func(context.Context) (domain.Prediction, error) {
		return domain.Prediction{PredictedAPY: 3.7, ProbabilityAboveThreshold: 0.61, Direction: domain.DirectionAbove}, nil
	}}
	c := settlement.New(model, settlement.Config{}, nil)

	p, err := c.Predict(context.Background(), stETH, stETHPools())
	require.NoError(t, err)
	assert.Equal(t, 0.61, p.ProbabilityAboveThreshold)
}

func TestFallbackPrediction(t *testing.T) {
	c := settlement.New(&stubModel{}, settlement.Config{}, nil)

	p := c.FallbackPrediction(stETH, stETHPools())
	assert.Equal(t, domain.DirectionAbove, p.Direction)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, 3.8, p.PredictedAPY)
	assert.Equal(t, 0.67, p.ProbabilityAboveThreshold)
	assert.NotNil(t, p.RiskFactors)
}
