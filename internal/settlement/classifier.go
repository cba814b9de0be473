// Package settlement decide el outcome YES/NO de un mercado: primero pregunta al
// clasificador externo y, si falla, aplica la regla determinista.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/metrics"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	defaultCallTimeout     = 20 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 60 * time.Second
)

// Config ajusta timeouts, fallback y circuit breaker.
type Config struct {
	CallTimeout        time.Duration
	FallbackConfidence float64
	// BreakerFailures fallos consecutivos abren el circuito durante BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c *Config) setDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.FallbackConfidence <= 0 || c.FallbackConfidence > 1 {
		c.FallbackConfidence = domain.DefaultFallbackConfidence
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
}

// Classifier implementa ports.Settler.
//
// Estados de un intento: PENDING → MODEL | FALLBACK. Settle nunca devuelve un error del
// clasificador externo: timeout, non-2xx, 429, 402 o tool call inválido terminan en el
// resultado determinista, con Cause apuntando al error original.
type Classifier struct {
	model   ports.Classifier
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Registry
	now     func() time.Time
}

// New crea el Classifier sobre el modelo externo dado. m puede ser nil.
func New(model ports.Classifier, cfg Config, m *metrics.Registry) *Classifier {
	cfg.setDefaults()
	c := &Classifier{
		model:   model,
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// 429/402 son respuestas del gateway, no caídas: no cuentan para abrir el circuito.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrRateLimited) ||
				errors.Is(err, domain.ErrQuotaExceeded) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(int(to))
		},
	})
	return c
}

// Settle clasifica el mercado. Solo devuelve error si no hay pools o si ctx se canceló.
func (c *Classifier) Settle(ctx context.Context, market domain.MarketDefinition, matches []domain.PoolRecord) (domain.SettlementResult, error) {
	if len(matches) == 0 {
		return domain.SettlementResult{}, fmt.Errorf("settlement.Settle: %s: %w", market.Asset, domain.ErrNoMatchingPools)
	}

	top := domain.TopByTVL(matches, domain.MaxPoolsPerMarket)
	rep := top[0]
	currentAPY := rep.CurrentAPY()

	result := domain.SettlementResult{
		ID:          uuid.NewString(),
		MarketID:    market.ID,
		Asset:       market.Asset,
		CurrentAPY:  currentAPY,
		Threshold:   market.Threshold,
		DataSources: []string{"DeFiLlama", "Gemini AI", fmt.Sprintf("%d pools analyzed", len(top))},
	}

	verdict, err := c.callSettle(ctx, ports.ClassifyRequest{Market: market, Matches: top})
	if err != nil {
		if ctx.Err() != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement.Settle: %w", ctx.Err())
		}
		slog.Warn("classifier failed, using fallback",
			"market_id", market.ID, "asset", market.Asset, "err", err)
		verdict = domain.FallbackVerdict(currentAPY, market.Threshold, c.cfg.FallbackConfidence)
		result.Source = domain.SourceFallback
		result.Cause = err
	} else {
		result.Source = domain.SourceModel
	}

	result.Outcome = verdict.Outcome
	result.Confidence = verdict.Confidence
	result.Reasoning = verdict.Reasoning
	result.Timestamp = c.now()

	slog.Debug("market classified",
		"market_id", market.ID, "outcome", result.Outcome,
		"confidence", result.Confidence, "source", result.Source)
	return result, nil
}

// Predict pide la variante predict_yield. A diferencia de Settle devuelve el error
// tal cual: el flujo single-market decide cómo presentarlo.
func (c *Classifier) Predict(ctx context.Context, market domain.MarketDefinition, matches []domain.PoolRecord) (domain.Prediction, error) {
	req := ports.ClassifyRequest{Market: market, Matches: domain.TopByTVL(matches, domain.MaxPoolsPerMarket)}

	start := time.Now()
	out, err := c.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		return c.model.Predict(callCtx, req)
	})
	c.metrics.ObserveClassifier("predict_yield", resultLabel(err), time.Since(start))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("settlement.Predict: %w", breakerErr(err))
	}
	return out.(domain.Prediction), nil
}

// FallbackPrediction es la predicción determinista que se usa cuando el modelo no responde.
func (c *Classifier) FallbackPrediction(market domain.MarketDefinition, matches []domain.PoolRecord) domain.Prediction {
	rep, _ := domain.Representative(matches)
	apy := rep.CurrentAPY()
	v := domain.FallbackVerdict(apy, market.Threshold, c.cfg.FallbackConfidence)

	dir := domain.DirectionBelow
	if v.Outcome == domain.OutcomeYes {
		dir = domain.DirectionAbove
	}
	return domain.Prediction{
		PredictedAPY:              domain.RoundTo(apy, 4),
		Confidence:                v.Confidence,
		Direction:                 dir,
		ProbabilityAboveThreshold: domain.HeuristicYesPrice(apy, market.Threshold),
		Reasoning:                 v.Reasoning,
		RiskFactors:               []string{},
	}
}

func (c *Classifier) callSettle(ctx context.Context, req ports.ClassifyRequest) (domain.Verdict, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		return c.model.Settle(callCtx, req)
	})
	c.metrics.ObserveClassifier("settle_market", resultLabel(err), time.Since(start))
	if err != nil {
		return domain.Verdict{}, breakerErr(err)
	}
	return out.(domain.Verdict), nil
}

// breakerErr traduce los errores propios de gobreaker al taxonomy del dominio.
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, gobreaker.ErrOpenState):
		return "open"
	default:
		return "error"
	}
}
