package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/metrics"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/alejandrodnm/destaker/internal/server"
	"github.com/alejandrodnm/destaker/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockWorkflow struct {
	report   ports.BatchReport
	err      error
	triggers []string
}

func (m *mockWorkflow) RunBatch(context.Context) (ports.BatchReport, error) {
	return m.report, m.err
}

func (m *mockWorkflow) Simulate(_ context.Context, trigger string) domain.SimulationReport {
	m.triggers = append(m.triggers, trigger)
	return domain.SimulationReport{WorkflowID: domain.WorkflowID, ExecutionID: "exec-1", TriggerType: trigger, Status: domain.RunPartial}
}

type mockPredictor struct {
	got service.PredictRequest
	res service.PredictResult
	err error
}

func (m *mockPredictor) Predict(_ context.Context, req service.PredictRequest) (service.PredictResult, error) {
	m.got = req
	return m.res, m.err
}

type mockMarkets struct {
	views []domain.DerivedMarketView
	err   error
}

func (m *mockMarkets) List(context.Context) ([]domain.DerivedMarketView, error) {
	return m.views, m.err
}

func (m *mockMarkets) Get(_ context.Context, id string) (domain.DerivedMarketView, error) {
	for _, v := range m.views {
		if v.ID == id {
			return v, nil
		}
	}
	return domain.DerivedMarketView{}, fmt.Errorf("service.Get: %w", domain.ErrUnknownMarket)
}

type mockYields struct {
	pools      []domain.PoolRecord
	refreshErr error
	gotLimit   int
}

func (m *mockYields) Yields(_ context.Context, limit int) ([]domain.PoolRecord, error) {
	m.gotLimit = limit
	return m.pools, nil
}

func (m *mockYields) Refresh(context.Context) ([]domain.PoolRecord, error) {
	return m.pools, m.refreshErr
}

type mockHistory struct {
	gotMarket string
	gotLimit  int
}

func (m *mockHistory) ListSettlements(_ context.Context, marketID string, limit int) ([]domain.SettlementResult, error) {
	m.gotMarket, m.gotLimit = marketID, limit
	return []domain.SettlementResult{{ID: "s1", MarketID: "001", Outcome: domain.OutcomeYes}}, nil
}

type fixture struct {
	wf      *mockWorkflow
	pred    *mockPredictor
	markets *mockMarkets
	yields  *mockYields
	history *mockHistory
	handler http.Handler
}

func newFixture(cfg server.Config) *fixture {
	f := &fixture{
		wf:   &mockWorkflow{},
		pred: &mockPredictor{},
		markets: &mockMarkets{views: []domain.DerivedMarketView{
			{MarketDefinition: domain.MarketDefinition{ID: "001", Asset: "stETH", Threshold: 3.5}, YesPrice: 0.67, NoPrice: 0.33},
		}},
		yields:  &mockYields{pools: []domain.PoolRecord{{PoolID: "lido", TVLUSD: 2e9}}},
		history: &mockHistory{},
	}
	srv := server.New(cfg, server.Deps{
		Workflow:  f.wf,
		Predictor: f.pred,
		Markets:   f.markets,
		Yields:    f.yields,
		History:   f.history,
		Metrics:   metrics.New().Handler(),
	})
	f.handler = srv.Handler()
	return f
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// --- tests ---

func TestHealth(t *testing.T) {
	f := newFixture(server.Config{})
	rec := do(t, f.handler, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBatchPredict_Success(t *testing.T) {
	f := newFixture(server.Config{})
	f.wf.report = ports.BatchReport{
		ExecutionID: "exec-1",
		Settlements: []domain.SettlementResult{{MarketID: "001"}, {MarketID: "004"}},
		Errors:      []string{"No pools for EigenLayer"},
	}

	rec := do(t, f.handler, http.MethodPost, "/batch-predict", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 2.0, body["predicted"])
	assert.Equal(t, []any{"No pools for EigenLayer"}, body["errors"])
	assert.Len(t, body["results"], 2)
}

func TestBatchPredict_FailureStillReturns200(t *testing.T) {
	f := newFixture(server.Config{})
	f.wf.err = fmt.Errorf("workflow.RunBatch: %w", domain.ErrUpstreamFetch)

	rec := do(t, f.handler, http.MethodPost, "/batch-predict", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, 0.0, body["predicted"])
	assert.Len(t, body["errors"], 1)
	assert.Equal(t, []any{}, body["results"])
}

func TestPredict_PassesRequest(t *testing.T) {
	f := newFixture(server.Config{})
	f.pred.res = service.PredictResult{Status: "success"}

	rec := do(t, f.handler, http.MethodPost, "/predict", `{"market_id":"001","asset":"stETH","threshold":3.5,"settlement_date":"2026-02-28"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "stETH", f.pred.got.Asset)
	require.NotNil(t, f.pred.got.Threshold)
	assert.Equal(t, 3.5, *f.pred.got.Threshold)
	assert.Equal(t, "2026-02-28", f.pred.got.SettlementDate)
}

func TestPredict_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidRequest, http.StatusBadRequest},
		{domain.ErrNoMatchingPools, http.StatusNotFound},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrQuotaExceeded, http.StatusPaymentRequired},
		{domain.ErrUpstreamFetch, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newFixture(server.Config{})
		f.pred.err = fmt.Errorf("service.Predict: %w", tc.err)

		rec := do(t, f.handler, http.MethodPost, "/predict", `{"asset":"stETH","threshold":3.5}`)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.Equal(t, "error", decode[map[string]any](t, rec)["status"])
	}
}

func TestPredict_InvalidJSON(t *testing.T) {
	f := newFixture(server.Config{})
	rec := do(t, f.handler, http.MethodPost, "/predict", `{"asset":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulate_DefaultTrigger(t *testing.T) {
	f := newFixture(server.Config{})

	rec := do(t, f.handler, http.MethodPost, "/workflow/simulate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, domain.WorkflowID, body["workflow_id"])
	assert.Equal(t, "partial", body["status"])

	do(t, f.handler, http.MethodPost, "/workflow/simulate?trigger=cron", "")
	assert.Equal(t, []string{"manual", "cron"}, f.wf.triggers)
}

func TestMarkets(t *testing.T) {
	f := newFixture(server.Config{})

	rec := do(t, f.handler, http.MethodGet, "/markets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, f.handler, http.MethodGet, "/markets/001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[map[string]any](t, rec)
	assert.Equal(t, 0.67, view["yes_price"])

	rec = do(t, f.handler, http.MethodGet, "/markets/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkets_UpstreamError(t *testing.T) {
	f := newFixture(server.Config{})
	f.markets.err = domain.ErrUpstreamFetch

	rec := do(t, f.handler, http.MethodGet, "/markets", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestYields(t *testing.T) {
	f := newFixture(server.Config{})

	rec := do(t, f.handler, http.MethodGet, "/yields?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.yields.gotLimit)
	assert.Equal(t, 1.0, decode[map[string]any](t, rec)["count"])

	rec = do(t, f.handler, http.MethodGet, "/yields?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.yields.refreshErr = domain.ErrUpstreamFetch
	rec = do(t, f.handler, http.MethodPost, "/yields/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSettlements_FilterByMarket(t *testing.T) {
	f := newFixture(server.Config{})

	rec := do(t, f.handler, http.MethodGet, "/settlements?market_id=001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "001", f.history.gotMarket)
	assert.Equal(t, 100, f.history.gotLimit)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(server.Config{CORSOrigins: []string{"https://destaker.app"}})

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://destaker.app")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://destaker.app", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsAndNotFound(t *testing.T) {
	f := newFixture(server.Config{})

	rec := do(t, f.handler, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = do(t, f.handler, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
