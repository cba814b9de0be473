package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout es el formato de las fechas de settlement ("2026-02-28").
const DateLayout = "2006-01-02"

// MarketDefinition es un mercado de predicción binario sobre el yield de un asset:
// "¿el APY de Asset supera Threshold% en SettlementDate?".
type MarketDefinition struct {
	ID             string  `yaml:"id" json:"id"`
	Asset          string  `yaml:"asset" json:"asset"`
	Threshold      float64 `yaml:"threshold" json:"threshold"` // porcentaje, 3.5 = 3.5%
	SettlementDate string  `yaml:"settlement_date" json:"settlement_date"`
	Condition      string  `yaml:"condition" json:"condition,omitempty"`
	Category       string  `yaml:"category" json:"category,omitempty"` // eth-lsd | sol-lsd | restaking | defi-yield
	Trending       bool    `yaml:"trending" json:"trending,omitempty"`
}

// SettlesAt devuelve la fecha de settlement parseada. ok es false si está vacía o es inválida.
func (m MarketDefinition) SettlesAt() (time.Time, bool) {
	if m.SettlementDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, m.SettlementDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsDue devuelve true si la fecha de settlement ya llegó.
func (m MarketDefinition) IsDue(now time.Time) bool {
	t, ok := m.SettlesAt()
	return ok && !t.After(now)
}

// Question devuelve la pregunta del mercado en lenguaje natural.
func (m MarketDefinition) Question() string {
	date := m.SettlementDate
	if date == "" {
		date = "settlement"
	}
	return fmt.Sprintf("Will %s APY exceed %g%% by %s?", m.Asset, m.Threshold, date)
}

// DefaultMarketID genera el id por defecto de un mercado ad-hoc: "lido-steth-yield".
func DefaultMarketID(asset string) string {
	return strings.ToLower(strings.Join(strings.Fields(asset), "-")) + "-yield"
}

// TimeRemaining formatea el tiempo hasta el settlement como "12d 5h", o "Settled".
func TimeRemaining(settlementDate string, now time.Time) string {
	t, err := time.Parse(DateLayout, settlementDate)
	if err != nil {
		return ""
	}
	diff := t.Sub(now)
	if diff <= 0 {
		return "Settled"
	}
	days := int(diff.Hours()) / 24
	hours := int(diff.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// DefaultMarkets son los mercados de la plataforma. Configuración estática, no derivada.
var DefaultMarkets = []MarketDefinition{
	{ID: "001", Asset: "stETH", Threshold: 3.5, SettlementDate: "2026-02-28", Condition: "APR > 3.5% at epoch end?", Category: "eth-lsd", Trending: true},
	{ID: "002", Asset: "rETH", Threshold: 3.2, SettlementDate: "2026-03-01", Condition: "APR > 3.2% next epoch?", Category: "eth-lsd"},
	{ID: "003", Asset: "cbETH", Threshold: 3.0, SettlementDate: "2026-03-07", Condition: "APR > 3.0% by March?", Category: "eth-lsd"},
	{ID: "004", Asset: "mSOL", Threshold: 7.0, SettlementDate: "2026-02-25", Condition: "APR > 7.0% at epoch end?", Category: "sol-lsd", Trending: true},
	{ID: "005", Asset: "jitoSOL", Threshold: 7.5, SettlementDate: "2026-02-27", Condition: "APR > 7.5% next epoch?", Category: "sol-lsd", Trending: true},
	{ID: "006", Asset: "EigenLayer", Threshold: 5.0, SettlementDate: "2026-03-15", Condition: "Restaking APR > 5% by March?", Category: "restaking", Trending: true},
	{ID: "007", Asset: "sfrxETH", Threshold: 4.0, SettlementDate: "2026-02-28", Condition: "APR > 4.0% at epoch end?", Category: "eth-lsd"},
	{ID: "008", Asset: "bSOL", Threshold: 6.5, SettlementDate: "2026-03-03", Condition: "APR > 6.5% next epoch?", Category: "sol-lsd"},
	{ID: "009", Asset: "Aave V3", Threshold: 5.0, SettlementDate: "2026-03-10", Condition: "USDC Supply APY > 5% by March?", Category: "defi-yield", Trending: true},
	{ID: "010", Asset: "Lido stETH", Threshold: 4.0, SettlementDate: "2026-03-31", Condition: "Staking APR > 4.0% Q1 end?", Category: "defi-yield"},
	{ID: "011", Asset: "Compound", Threshold: 3.0, SettlementDate: "2026-03-15", Condition: "ETH Supply rate > 3% by March?", Category: "defi-yield"},
	{ID: "012", Asset: "Pendle PT", Threshold: 6.0, SettlementDate: "2026-03-20", Condition: "Fixed yield > 6% on stETH pool?", Category: "defi-yield", Trending: true},
}

// DerivedMarketView es la proyección de lectura de un mercado: se recalcula en cada
// lectura a partir de los pools y la última predicción, nunca se persiste.
type DerivedMarketView struct {
	MarketDefinition
	CurrentYield         float64  `json:"current_yield"`
	YesPrice             float64  `json:"yes_price"`
	NoPrice              float64  `json:"no_price"`
	Volume24h            float64  `json:"volume_24h"`
	TotalLiquidity       float64  `json:"total_liquidity"`
	TimeRemaining        string   `json:"time_remaining"`
	HasPrediction        bool     `json:"has_prediction"`
	PredictionConfidence *float64 `json:"prediction_confidence,omitempty"`
	PredictionDirection  string   `json:"prediction_direction,omitempty"`
	PoolsMatched         int      `json:"pools_matched"`
	// Resolution es la última resolución escrita para el mercado. Solo en la vista individual.
	Resolution *Resolution `json:"resolution,omitempty"`
}
