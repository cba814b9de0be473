package workflow

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
)

// Orchestrator recorre los mercados en secuencia: PoolMatcher → Settler.
// Un fallo en un mercado se registra en Errors y no corta el batch.
type Orchestrator struct {
	settler  ports.Settler
	patterns *domain.PatternTable
	pacer    *Pacer
	metrics  *metrics.Registry
}

// NewOrchestrator crea el orquestador. patterns, pacer y m pueden ser nil.
func NewOrchestrator(settler ports.Settler, patterns *domain.PatternTable, pacer *Pacer, m *metrics.Registry) *Orchestrator {
	if patterns == nil {
		patterns = domain.NewPatternTable(nil)
	}
	if pacer == nil {
		pacer = NewPacer(PacerConfig{})
	}
	return &Orchestrator{settler: settler, patterns: patterns, pacer: pacer, metrics: m}
}

// Run clasifica cada mercado con los pools dados. Nunca falla: si ctx se cancela a mitad
// de batch devuelve lo acumulado hasta ese momento, que sigue siendo válido.
func (o *Orchestrator) Run(ctx context.Context, markets []domain.MarketDefinition, pools []domain.PoolRecord) ports.BatchReport {
	report := ports.BatchReport{
		ExecutionID: uuid.NewString(),
		Settlements: []domain.SettlementResult{},
		Errors:      []string{},
	}
	start := time.Now()

	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}

		matches := domain.MatchPools(pools, o.patterns.For(m.Asset))
		if len(matches) == 0 {
			slog.Warn("no pools for market", "market_id", m.ID, "asset", m.Asset)
			o.softError(&report, "no_pools", fmt.Sprintf("No pools for %s", m.Asset))
			continue
		}
		matches = domain.TopByTVL(matches, domain.MaxPoolsPerMarket)

		release, err := o.pacer.Acquire(ctx)
		if err != nil {
			break
		}

		res, err := o.settler.Settle(ctx, m, matches)
		if err != nil {
			release()
			if ctx.Err() != nil {
				break
			}
			slog.Warn("settlement failed", "market_id", m.ID, "asset", m.Asset, "err", err)
			o.softError(&report, "settle", fmt.Sprintf("%s: %v", m.Asset, err))
			continue
		}

		if errors.Is(res.Cause, domain.ErrRateLimited) {
			// El turno sigue reservado durante el backoff
			wait, _ := o.pacer.Backoff(ctx)
			release()
			slog.Warn("classifier rate limited, backing off", "asset", m.Asset, "wait", wait)
			o.softError(&report, "rate_limited", fmt.Sprintf("Rate limited for %s", m.Asset))
			continue
		}
		o.pacer.Success()
		release()

		res.ExecutionID = report.ExecutionID
		report.Settlements = append(report.Settlements, res)
		o.metrics.ObserveSettlement(string(res.Source))
	}

	slog.Info("batch complete",
		"execution_id", report.ExecutionID,
		"markets", len(markets),
		"settled", len(report.Settlements),
		"errors", len(report.Errors),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return report
}

func (o *Orchestrator) softError(report *ports.BatchReport, kind, msg string) {
	report.Errors = append(report.Errors, msg)
	o.metrics.ObserveError(kind)
}
