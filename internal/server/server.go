// Package server expone el workflow y los servicios por HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/alejandrodnm/destaker/internal/service"
	"github.com/gorilla/mux"
)

// Workflow es el batch y la simulación que dispara la API.
type Workflow interface {
	RunBatch(ctx context.Context) (ports.BatchReport, error)
	Simulate(ctx context.Context, trigger string) domain.SimulationReport
}

// Predictor es el flujo single-market.
type Predictor interface {
	Predict(ctx context.Context, req service.PredictRequest) (service.PredictResult, error)
}

// Markets devuelve las vistas derivadas de los mercados.
type Markets interface {
	List(ctx context.Context) ([]domain.DerivedMarketView, error)
	Get(ctx context.Context, id string) (domain.DerivedMarketView, error)
}

// Yields sirve y refresca la cache de pools relevantes.
type Yields interface {
	Yields(ctx context.Context, limit int) ([]domain.PoolRecord, error)
	Refresh(ctx context.Context) ([]domain.PoolRecord, error)
}

// History lee el log de clasificaciones.
type History interface {
	ListSettlements(ctx context.Context, marketID string, limit int) ([]domain.SettlementResult, error)
}

// Deps agrupa lo que consumen los handlers. Metrics es opcional.
type Deps struct {
	Workflow  Workflow
	Predictor Predictor
	Markets   Markets
	Yields    Yields
	History   History
	Metrics   http.Handler
}

// Config controla el listener y los timeouts.
type Config struct {
	Addr           string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server es la API HTTP.
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
	srv    *http.Server
}

// New crea el servidor con todas las rutas registradas.
func New(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	s := &Server{cfg: cfg, deps: deps, router: mux.NewRouter()}
	s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler devuelve el router, útil para tests con httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)
	s.router.Use(s.cors)
	s.router.Use(s.timeout)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/batch-predict", s.handleBatch).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/workflow/simulate", s.handleSimulate).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/markets/{id}", s.handleMarket).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/yields", s.handleYields).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/yields/refresh", s.handleRefresh).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/settlements", s.handleSettlements).Methods(http.MethodGet, http.MethodOptions)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Status: "error", Message: "not found"})
	})
}

// Run escucha hasta que ctx se cancele y luego hace un shutdown ordenado.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server.Run: listen %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server.Run: shutdown: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}
