package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
)

// fakeSettler devuelve un resultado por asset; errs y causes programan fallos.
type fakeSettler struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	causes map[string]error
	onCall func(asset string)
}

func (f *fakeSettler) Settle(_ context.Context, m domain.MarketDefinition, matches []domain.PoolRecord) (domain.SettlementResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m.Asset)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(m.Asset)
	}
	if err := f.errs[m.Asset]; err != nil {
		return domain.SettlementResult{}, err
	}
	rep, _ := domain.Representative(matches)
	res := domain.SettlementResult{
		MarketID:   m.ID,
		Asset:      m.Asset,
		CurrentAPY: rep.CurrentAPY(),
		Threshold:  m.Threshold,
		Outcome:    domain.FallbackOutcome(rep.CurrentAPY(), m.Threshold),
		Confidence: 0.8,
		Source:     domain.SourceModel,
	}
	if cause := f.causes[m.Asset]; cause != nil {
		res.Source = domain.SourceFallback
		res.Cause = cause
	}
	return res, nil
}

// slowSettler tarda delay por llamada y registra el máximo de llamadas simultáneas.
type slowSettler struct {
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *slowSettler) Settle(_ context.Context, m domain.MarketDefinition, matches []domain.PoolRecord) (domain.SettlementResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(f.delay)
	rep, _ := domain.Representative(matches)
	return domain.SettlementResult{MarketID: m.ID, Asset: m.Asset, CurrentAPY: rep.CurrentAPY(), Source: domain.SourceModel}, nil
}

type fakePools struct {
	pools []domain.PoolRecord
	err   error
}

func (f *fakePools) FetchPools(context.Context) ([]domain.PoolRecord, error) {
	return f.pools, f.err
}

type fakeChain struct {
	head ports.ChainHead
	err  error
}

func (f *fakeChain) Head(context.Context) (ports.ChainHead, error) {
	return f.head, f.err
}

// memStorage es un ports.Storage en memoria. Como SQLite, rechaza escrituras con ctx cancelado.
type memStorage struct {
	mu          sync.Mutex
	settlements []domain.SettlementResult
	resolutions map[string]domain.Resolution
	failWrites  bool
}

func newMemStorage() *memStorage {
	return &memStorage{resolutions: map[string]domain.Resolution{}}
}

var errDiskFull = errors.New("disk full")

func (m *memStorage) SaveSettlements(ctx context.Context, rs []domain.SettlementResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failWrites {
		return errDiskFull
	}
	m.settlements = append(m.settlements, rs...)
	return nil
}

func (m *memStorage) ListSettlements(context.Context, string, int) ([]domain.SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SettlementResult(nil), m.settlements...), nil
}

func (m *memStorage) SavePrediction(_ context.Context, p domain.PredictionRecord) (domain.PredictionRecord, error) {
	return p, nil
}

func (m *memStorage) LatestPredictions(context.Context) (map[string]domain.PredictionRecord, error) {
	return map[string]domain.PredictionRecord{}, nil
}

func (m *memStorage) UpsertResolution(ctx context.Context, r domain.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failWrites {
		return errDiskFull
	}
	m.resolutions[r.MarketID] = r
	return nil
}

func (m *memStorage) GetResolution(_ context.Context, id string) (domain.Resolution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resolutions[id]
	return r, ok, nil
}

func (m *memStorage) SavePools(context.Context, []domain.PoolRecord) error { return nil }

func (m *memStorage) LoadPools(context.Context, int) ([]domain.PoolRecord, error) { return nil, nil }

func (m *memStorage) Close() error { return nil }

type recordingNotifier struct {
	reports []ports.BatchReport
}

func (r *recordingNotifier) Notify(_ context.Context, report ports.BatchReport) error {
	r.reports = append(r.reports, report)
	return nil
}

// Pools de prueba: stETH, mSOL y Aave tienen match; EigenLayer no.
func samplePools() []domain.PoolRecord {
	return []domain.PoolRecord{
		{PoolID: "lido", Symbol: "STETH", Project: "lido", APY: domain.Float(3.8), TVLUSD: 2e9},
		{PoolID: "marinade", Symbol: "MSOL", Project: "marinade-finance", APY: domain.Float(7.2), TVLUSD: 8e8},
		{PoolID: "aave", Symbol: "USDC", Project: "aave-v3", APY: domain.Float(4.1), TVLUSD: 3e9},
	}
}

func sampleMarkets() []domain.MarketDefinition {
	return []domain.MarketDefinition{
		{ID: "001", Asset: "stETH", Threshold: 3.5, SettlementDate: "2026-02-28"},
		{ID: "004", Asset: "mSOL", Threshold: 7.0, SettlementDate: "2026-02-25"},
		{ID: "009", Asset: "Aave V3", Threshold: 5.0, SettlementDate: "2026-03-10"},
	}
}
