package domain

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"
)

const (
	minHeuristicPrice = 0.05
	maxHeuristicPrice = 0.95

	volumeTVLRatio    = 0.002 // ~0.2% del TVL como proxy de volumen diario
	volumeJitterUSD   = 50_000
	liquidityTVLRatio = 0.001
	liquidityBaseUSD  = 100_000
)

// ProbabilityEstimate es el precio YES/NO derivado de los pools de un mercado.
type ProbabilityEstimate struct {
	CurrentYield float64
	YesPrice     float64
	NoPrice      float64
}

// EstimateProbability deriva el yield actual y los precios YES/NO.
//
// El pool representativo es el de mayor TVL (orden estable). Si hay una clasificación
// previa, YES = round(probabilityAboveThreshold, 2). Si no, heurística:
//
//	pctDist = (currentYield - threshold) / threshold
//	YES     = clamp(0.5 + pctDist*2, 0.05, 0.95)
//
// Con threshold <= 0 la distancia relativa no tiene sentido y se usa pctDist = 0.
func EstimateProbability(matches []PoolRecord, threshold float64, priorProbability *float64) ProbabilityEstimate {
	var currentYield float64
	if rep, ok := Representative(matches); ok {
		currentYield = rep.CurrentAPY()
	}

	var yes float64
	if priorProbability != nil {
		yes = Round2(clamp(*priorProbability, 0, 1))
	} else {
		yes = HeuristicYesPrice(currentYield, threshold)
	}

	return ProbabilityEstimate{
		CurrentYield: currentYield,
		YesPrice:     yes,
		NoPrice:      Round2(1 - yes),
	}
}

// HeuristicYesPrice es la rama sin clasificación previa de EstimateProbability.
func HeuristicYesPrice(currentYield, threshold float64) float64 {
	pctDist := 0.0
	if threshold > 0 {
		pctDist = (currentYield - threshold) / threshold
	}
	raw := 0.5 + pctDist*2
	return Round2(clamp(raw, minHeuristicPrice, maxHeuristicPrice))
}

// VolumeEstimate son las cifras de volumen y liquidez que se muestran en la UI.
type VolumeEstimate struct {
	Volume24h      float64
	TotalLiquidity float64
}

// VolumeEstimator estima volumen y liquidez a partir del TVL del pool representativo.
// El volumen lleva un componente aleatorio (solo decorativo); Jitter devuelve un valor en [0, 1).
type VolumeEstimator struct {
	Jitter func() float64
}

// NewVolumeEstimator crea un estimador con jitter uniforme de math/rand/v2.
func NewVolumeEstimator() *VolumeEstimator {
	return &VolumeEstimator{Jitter: rand.Float64}
}

// Estimate devuelve volume24h ∈ [tvl*0.002, tvl*0.002 + 50000] y totalLiquidity = tvl*0.001 + 100000.
func (v *VolumeEstimator) Estimate(tvlUSD float64) VolumeEstimate {
	tvl := tvlUSD
	if tvl < 0 || math.IsNaN(tvl) {
		tvl = 0
	}
	jitter := 0.0
	if v != nil && v.Jitter != nil {
		jitter = clamp(v.Jitter(), 0, 1)
	}
	return VolumeEstimate{
		Volume24h:      math.Round(tvl*volumeTVLRatio + jitter*volumeJitterUSD),
		TotalLiquidity: math.Round(tvl*liquidityTVLRatio + liquidityBaseUSD),
	}
}

// Round2 redondea a 2 decimales.
func Round2(v float64) float64 {
	return RoundTo(v, 2)
}

// RoundTo redondea a places decimales usando aritmética decimal, evitando
// los artefactos de float64 (0.285 → 0.29, no 0.28).
func RoundTo(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
