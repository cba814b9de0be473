package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/metrics"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/google/uuid"
)

// ResolutionSourceWorkflow identifica las resoluciones escritas por el workflow.
const ResolutionSourceWorkflow = "Settlement workflow (AI + DeFiLlama)"

// persistTimeout acota las escrituras del final de un batch, que no heredan la cancelación.
const persistTimeout = 10 * time.Second

// Workflow es el ciclo completo: fetch de pools → orquestador → persistencia → notificación.
type Workflow struct {
	pools    ports.PoolProvider
	orch     *Orchestrator
	storage  ports.Storage
	notifier ports.Notifier
	chain    ports.ChainReader
	markets  []domain.MarketDefinition
	schedule string
	metrics  *metrics.Registry
}

// Deps agrupa las dependencias del Workflow. Storage, Notifier, Chain y Metrics son opcionales.
type Deps struct {
	Pools        ports.PoolProvider
	Orchestrator *Orchestrator
	Storage      ports.Storage
	Notifier     ports.Notifier
	Chain        ports.ChainReader
	Markets      []domain.MarketDefinition
	Schedule     string
	Metrics      *metrics.Registry
}

// New crea el Workflow con todas las dependencias inyectadas.
func New(d Deps) *Workflow {
	markets := d.Markets
	if len(markets) == 0 {
		markets = domain.DefaultMarkets
	}
	return &Workflow{
		pools:    d.Pools,
		orch:     d.Orchestrator,
		storage:  d.Storage,
		notifier: d.Notifier,
		chain:    d.Chain,
		markets:  markets,
		schedule: d.Schedule,
		metrics:  d.Metrics,
	}
}

// Markets devuelve las definiciones de mercado configuradas.
func (w *Workflow) Markets() []domain.MarketDefinition {
	return w.markets
}

// RunBatch ejecuta un batch sobre todos los mercados. Solo falla si no hay pools;
// un fallo de persistencia se loguea y no impide devolver el resultado.
func (w *Workflow) RunBatch(ctx context.Context) (ports.BatchReport, error) {
	pools, err := w.pools.FetchPools(ctx)
	if err != nil {
		return ports.BatchReport{}, fmt.Errorf("workflow.RunBatch: fetch pools: %w", err)
	}

	report := w.orch.Run(ctx, w.markets, pools)
	w.persist(ctx, report.Settlements)

	if w.notifier != nil {
		if err := w.notifier.Notify(ctx, report); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	w.metrics.MarkRun(time.Now())
	return report, nil
}

// Simulate ejecuta el workflow completo registrando cada paso:
// trigger → chain_read → external_api → ai_agent → data_write.
// Un paso fallido no aborta la ejecución salvo que deje sin datos a los siguientes.
func (w *Workflow) Simulate(ctx context.Context, trigger string) domain.SimulationReport {
	start := time.Now()
	report := domain.SimulationReport{
		WorkflowID:  domain.WorkflowID,
		TriggerType: trigger,
		StartedAt:   start.UTC(),
		Settlements: []domain.SettlementResult{},
		Errors:      []string{},
	}

	// 1. Trigger
	report.Steps = append(report.Steps, timed(domain.StepTrigger, func(s *domain.SimulationStep) {
		s.Status = domain.StepSuccess
		s.Detail = fmt.Sprintf("%s trigger fired", trigger)
		s.Data = map[string]any{"schedule": w.schedule, "markets": len(w.markets)}
	}))

	// 2. Chain read
	var head *ports.ChainHead
	report.Steps = append(report.Steps, timed(domain.StepChainRead, func(s *domain.SimulationStep) {
		if w.chain == nil {
			s.Status = domain.StepSkipped
			s.Detail = "no chain reader configured"
			return
		}
		h, err := w.chain.Head(ctx)
		if err != nil {
			s.Status = domain.StepFailed
			s.Detail = err.Error()
			report.Errors = append(report.Errors, fmt.Sprintf("chain read: %v", err))
			return
		}
		head = &h
		s.Status = domain.StepSuccess
		s.Detail = fmt.Sprintf("block %d on chain %s", h.BlockNumber, h.ChainID)
		s.Data = map[string]any{"chain_id": h.ChainID, "block_number": h.BlockNumber}
		if h.GasPriceGwei != nil {
			s.Data["gas_price_gwei"] = domain.RoundTo(*h.GasPriceGwei, 4)
		}
		if h.StETHPooledEther != nil {
			s.Data["steth_pooled_ether"] = domain.Round2(*h.StETHPooledEther)
		}
	}))

	// 3. External API
	var pools []domain.PoolRecord
	report.Steps = append(report.Steps, timed(domain.StepExternalAPI, func(s *domain.SimulationStep) {
		p, err := w.pools.FetchPools(ctx)
		if err != nil {
			s.Status = domain.StepFailed
			s.Detail = err.Error()
			report.Errors = append(report.Errors, fmt.Sprintf("pool fetch: %v", err))
			return
		}
		pools = p
		s.Status = domain.StepSuccess
		s.Detail = fmt.Sprintf("%d pools fetched", len(p))
		s.Data = map[string]any{"total_pools": len(p)}
	}))

	// 4. AI agent
	report.Steps = append(report.Steps, timed(domain.StepAIAgent, func(s *domain.SimulationStep) {
		if pools == nil {
			s.Status = domain.StepSkipped
			s.Detail = "no pool data"
			return
		}
		batch := w.orch.Run(ctx, w.markets, pools)
		report.ExecutionID = batch.ExecutionID
		report.Settlements = batch.Settlements
		report.Errors = append(report.Errors, batch.Errors...)

		fallbacks := 0
		for _, r := range batch.Settlements {
			if r.Source == domain.SourceFallback {
				fallbacks++
			}
		}
		s.Status = domain.StepSuccess
		if len(batch.Settlements) == 0 {
			s.Status = domain.StepFailed
		}
		s.Detail = fmt.Sprintf("%d markets settled, %d errors", len(batch.Settlements), len(batch.Errors))
		s.Data = map[string]any{"markets_settled": len(batch.Settlements), "fallbacks": fallbacks}
	}))

	// 5. Data write
	report.Steps = append(report.Steps, timed(domain.StepDataWrite, func(s *domain.SimulationStep) {
		if w.storage == nil || len(report.Settlements) == 0 {
			s.Status = domain.StepSkipped
			s.Detail = "nothing to write"
			return
		}
		wctx, cancel := writeContext(ctx)
		defer cancel()
		written, err := w.writeResolutions(wctx, report.ExecutionID, report.Settlements, head)
		s.Data = map[string]any{"records_written": written}
		if err != nil {
			s.Status = domain.StepFailed
			s.Detail = err.Error()
			report.Errors = append(report.Errors, fmt.Sprintf("data write: %v", err))
			return
		}
		s.Status = domain.StepSuccess
		s.Detail = fmt.Sprintf("%d resolutions written", written)
	}))

	if report.ExecutionID == "" {
		report.ExecutionID = uuid.NewString()
	}
	report.Status = domain.OverallStatus(report.Steps, len(report.Settlements))
	report.DurationMs = time.Since(start).Milliseconds()
	w.metrics.MarkRun(time.Now())

	slog.Info("workflow simulation complete",
		"execution_id", report.ExecutionID,
		"status", report.Status,
		"settled", len(report.Settlements),
		"duration_ms", report.DurationMs,
	)
	return report
}

// writeResolutions guarda el log de settlements y hace upsert de la resolución de cada mercado
// con resolved=false: el workflow propone, no confirma.
func (w *Workflow) writeResolutions(ctx context.Context, execID string, results []domain.SettlementResult, head *ports.ChainHead) (int, error) {
	if err := w.storage.SaveSettlements(ctx, results); err != nil {
		return 0, err
	}

	written := 0
	for _, r := range results {
		data := map[string]any{
			"outcome":      r.Outcome,
			"confidence":   r.Confidence,
			"reasoning":    r.Reasoning,
			"data_sources": r.DataSources,
			"source":       r.Source,
			"execution_id": execID,
		}
		if head != nil {
			data["block_number"] = head.BlockNumber
		}
		err := w.storage.UpsertResolution(ctx, domain.Resolution{
			MarketID:            r.MarketID,
			Asset:               r.Asset,
			Threshold:           r.Threshold,
			FinalAPY:            r.CurrentAPY,
			Resolved:            false,
			ResolutionSource:    ResolutionSourceWorkflow,
			ResolutionData:      data,
			ResolutionTimestamp: r.Timestamp,
		})
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (w *Workflow) persist(ctx context.Context, results []domain.SettlementResult) {
	if w.storage == nil || len(results) == 0 {
		return
	}
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := w.storage.SaveSettlements(wctx, results); err != nil {
		slog.Warn("storage error", "err", err)
		w.metrics.ObserveError("persistence")
	}
}

// writeContext separa la escritura de la cancelación del batch: los resultados
// parciales de un batch cancelado se guardan igual.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// timed ejecuta fn y rellena nombre y duración del paso.
func timed(name string, fn func(s *domain.SimulationStep)) domain.SimulationStep {
	start := time.Now()
	step := domain.SimulationStep{Name: name}
	fn(&step)
	step.DurationMs = time.Since(start).Milliseconds()
	return step
}
