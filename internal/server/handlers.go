package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/service"
	"github.com/gorilla/mux"
)

const (
	maxBodyBytes       = 1 << 20
	defaultHistorySize = 100
)

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type batchResponse struct {
	Status      string                    `json:"status"`
	ExecutionID string                    `json:"execution_id,omitempty"`
	Predicted   int                       `json:"predicted"`
	Errors      []string                  `json:"errors"`
	Results     []domain.SettlementResult `json:"results"`
}

type poolsResponse struct {
	Status string              `json:"status"`
	Count  int                 `json:"count"`
	Pools  []domain.PoolRecord `json:"pools"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req service.PredictRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || json.Unmarshal(body, &req) != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: "invalid JSON body"})
		return
	}

	res, err := s.deps.Predictor.Predict(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBatch siempre responde 200: los fallos van en status y errors.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Workflow.RunBatch(r.Context())
	if err != nil {
		slog.Warn("batch failed", "err", err)
		writeJSON(w, http.StatusOK, batchResponse{
			Status:  "error",
			Errors:  []string{err.Error()},
			Results: []domain.SettlementResult{},
		})
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{
		Status:      "success",
		ExecutionID: report.ExecutionID,
		Predicted:   len(report.Settlements),
		Errors:      report.Errors,
		Results:     report.Settlements,
	})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	trigger := r.URL.Query().Get("trigger")
	if trigger == "" {
		trigger = "manual"
	}
	writeJSON(w, http.StatusOK, s.deps.Workflow.Simulate(r.Context(), trigger))
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	views, err := s.deps.Markets.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Markets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleYields(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", service.YieldsLimit)
	if !ok {
		return
	}
	pools, err := s.deps.Yields.Yields(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolsResponse{Status: "success", Count: len(pools), Pools: pools})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	pools, err := s.deps.Yields.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolsResponse{Status: "success", Count: len(pools), Pools: pools})
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultHistorySize)
	if !ok {
		return
	}
	results, err := s.deps.History.ListSettlements(r.Context(), r.URL.Query().Get("market_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: "invalid " + key})
		return 0, false
	}
	return v, true
}

// statusFor traduce la taxonomía de errores del dominio a códigos HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoMatchingPools), errors.Is(err, domain.ErrUnknownMarket):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrUpstreamFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusTooManyRequests:
		msg = "Rate limit exceeded. Please try again in a moment."
	case http.StatusPaymentRequired:
		msg = "AI credits exhausted. Please add credits."
	case http.StatusInternalServerError:
		slog.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorBody{Status: "error", Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
