package domain

import (
	"fmt"
	"time"
)

// Outcome es el resultado binario de un mercado.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome valida el outcome devuelto por el clasificador.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeYes, OutcomeNo:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("invalid outcome %q: %w", s, ErrMalformedResponse)
}

// SettlementSource indica quién decidió el outcome.
type SettlementSource string

const (
	SourceModel    SettlementSource = "model"
	SourceFallback SettlementSource = "fallback"
)

// FallbackReasoning es el texto fijo de los settlements deterministas.
const FallbackReasoning = "Fallback determination based on current APY vs threshold"

// DefaultFallbackConfidence es la confianza de un settlement determinista.
// El flujo de simulación original usaba 0.9 y el de settlement 0.8; nos quedamos con 0.8.
const DefaultFallbackConfidence = 0.8

// Verdict es la respuesta estructurada del clasificador externo (tool settle_market).
type Verdict struct {
	Outcome    Outcome `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// SettlementResult es un intento de clasificación. Se crea una vez y no se muta;
// el último de cada mercado es el que se muestra.
type SettlementResult struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id,omitempty"`
	MarketID    string           `json:"market_id"`
	Asset       string           `json:"asset"`
	CurrentAPY  float64          `json:"current_apy"`
	Threshold   float64          `json:"threshold"`
	Outcome     Outcome          `json:"outcome"`
	Confidence  float64          `json:"confidence"`
	Reasoning   string           `json:"reasoning"`
	DataSources []string         `json:"data_sources"`
	Source      SettlementSource `json:"source"`
	Timestamp   time.Time        `json:"timestamp"`

	// Cause es el error del clasificador que provocó el fallback. No se serializa.
	Cause error `json:"-"`
}

// FallbackOutcome es la regla determinista: YES si y solo si el APY del pool
// representativo supera estrictamente el threshold.
func FallbackOutcome(representativeAPY, threshold float64) Outcome {
	if representativeAPY > threshold {
		return OutcomeYes
	}
	return OutcomeNo
}

// FallbackVerdict construye el veredicto determinista. No depende del reloj ni de azar.
func FallbackVerdict(representativeAPY, threshold, confidence float64) Verdict {
	return Verdict{
		Outcome:    FallbackOutcome(representativeAPY, threshold),
		Confidence: confidence,
		Reasoning:  FallbackReasoning,
	}
}

// Direction es la dirección predicha respecto al threshold.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Prediction es la respuesta de la variante predict_yield del clasificador.
type Prediction struct {
	PredictedAPY              float64   `json:"predicted_apy"`
	Confidence                float64   `json:"confidence"`
	Direction                 Direction `json:"prediction_direction"`
	ProbabilityAboveThreshold float64   `json:"probability_above_threshold"`
	Reasoning                 string    `json:"reasoning"`
	RiskFactors               []string  `json:"risk_factors"`
}

// PredictionRecord es una predicción persistida en el log de predicciones.
type PredictionRecord struct {
	Prediction
	ID             string       `json:"id"`
	MarketID       string       `json:"market_id"`
	Asset          string       `json:"asset"`
	CurrentAPY     float64      `json:"current_apy"`
	Threshold      float64      `json:"threshold"`
	SettlementDate string       `json:"settlement_date,omitempty"`
	Model          string       `json:"model"`
	DataSources    []PoolRecord `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Resolution es el registro "resolución actual" de un mercado. Una fila por mercado,
// la última escritura gana.
type Resolution struct {
	MarketID            string         `json:"market_id"`
	Asset               string         `json:"asset"`
	Threshold           float64        `json:"threshold"`
	FinalAPY            float64        `json:"final_apy"`
	Resolved            bool           `json:"resolved"`
	ResolutionSource    string         `json:"resolution_source"`
	ResolutionData      map[string]any `json:"resolution_data"`
	ResolutionTimestamp time.Time      `json:"resolution_timestamp"`
}
