package domain

import "time"

// WorkflowID identifica el workflow de settlement en los reports.
const WorkflowID = "destaker-settlement"

// Nombres de los pasos de la ejecución simulada, en orden.
const (
	StepTrigger     = "trigger"
	StepChainRead   = "chain_read"
	StepExternalAPI = "external_api"
	StepAIAgent     = "ai_agent"
	StepDataWrite   = "data_write"
)

// StepStatus es el estado final de un paso de la simulación.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// RunStatus es el estado global de una ejecución.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// SimulationStep es el registro de un paso: cuánto tardó y qué produjo.
type SimulationStep struct {
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Detail     string         `json:"detail,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// SimulationReport es el resultado de una ejecución simulada del workflow completo.
type SimulationReport struct {
	WorkflowID  string             `json:"workflow_id"`
	ExecutionID string             `json:"execution_id"`
	TriggerType string             `json:"trigger_type"` // cron | manual
	Status      RunStatus          `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	DurationMs  int64              `json:"duration_ms"`
	Steps       []SimulationStep   `json:"steps"`
	Settlements []SettlementResult `json:"settlements"`
	Errors      []string           `json:"errors"`
}

// OverallStatus deriva el estado global: failed si no se produjo ningún settlement,
// partial si algún paso falló, success en otro caso.
func OverallStatus(steps []SimulationStep, settled int) RunStatus {
	if settled == 0 {
		return RunFailed
	}
	for _, s := range steps {
		if s.Status == StepFailed {
			return RunPartial
		}
	}
	return RunSuccess
}
