package service_test

import (
	"context"
	"sync"

	"github.com/alejandrodnm/destaker/internal/domain"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls int
	pools []domain.PoolRecord
	err   error
}

func (f *fakeUpstream) FetchPools(context.Context) ([]domain.PoolRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pools, nil
}

func (f *fakeUpstream) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// memStore es un ports.Storage en memoria con lo mínimo que usan los servicios.
type memStore struct {
	mu          sync.Mutex
	pools       []domain.PoolRecord
	predictions []domain.PredictionRecord
	resolutions map[string]domain.Resolution
	saveErr     error
}

func newMemStore() *memStore {
	return &memStore{resolutions: map[string]domain.Resolution{}}
}

func (m *memStore) SaveSettlements(context.Context, []domain.SettlementResult) error { return nil }

func (m *memStore) ListSettlements(context.Context, string, int) ([]domain.SettlementResult, error) {
	return nil, nil
}

func (m *memStore) SavePrediction(_ context.Context, p domain.PredictionRecord) (domain.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return p, m.saveErr
	}
	p.ID = "pred-1"
	m.predictions = append(m.predictions, p)
	return p, nil
}

func (m *memStore) LatestPredictions(context.Context) (map[string]domain.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]domain.PredictionRecord{}
	for _, p := range m.predictions {
		out[p.MarketID] = p
	}
	return out, nil
}

func (m *memStore) UpsertResolution(_ context.Context, r domain.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[r.MarketID] = r
	return nil
}

func (m *memStore) GetResolution(_ context.Context, id string) (domain.Resolution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resolutions[id]
	return r, ok, nil
}

func (m *memStore) SavePools(_ context.Context, pools []domain.PoolRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.pools = append([]domain.PoolRecord(nil), pools...)
	return nil
}

func (m *memStore) LoadPools(_ context.Context, limit int) ([]domain.PoolRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := domain.SortByTVL(m.pools)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (m *memStore) Close() error { return nil }

type fakeForecaster struct {
	calls int
	pred  domain.Prediction
	err   error
}

func (f *fakeForecaster) Predict(context.Context, domain.MarketDefinition, []domain.PoolRecord) (domain.Prediction, error) {
	f.calls++
	return f.pred, f.err
}

func (f *fakeForecaster) FallbackPrediction(m domain.MarketDefinition, matches []domain.PoolRecord) domain.Prediction {
	rep, _ := domain.Representative(matches)
	return domain.Prediction{
		PredictedAPY:              rep.CurrentAPY(),
		Confidence:                domain.DefaultFallbackConfidence,
		Direction:                 domain.DirectionAbove,
		ProbabilityAboveThreshold: domain.HeuristicYesPrice(rep.CurrentAPY(), m.Threshold),
		Reasoning:                 domain.FallbackReasoning,
		RiskFactors:               []string{},
	}
}

func samplePools() []domain.PoolRecord {
	return []domain.PoolRecord{
		{PoolID: "lido", Chain: "Ethereum", Symbol: "STETH", Project: "lido", APY: domain.Float(3.8), APYMean30d: domain.Float(3.6), TVLUSD: 2e9},
		{PoolID: "wsteth-small", Chain: "Arbitrum", Symbol: "WSTETH", Project: "aave-v3", APY: domain.Float(0.1), TVLUSD: 500_000},
		{PoolID: "marinade", Chain: "Solana", Symbol: "MSOL", Project: "marinade-finance", APY: domain.Float(7.2), TVLUSD: 8e8},
		{PoolID: "doge", Chain: "Dogechain", Symbol: "DOGE", Project: "wow", APY: domain.Float(90), TVLUSD: 5e9},
	}
}
