package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alejandrodnm/destaker/internal/adapters/notify"
	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSettlement(asset string, apy float64, outcome domain.Outcome, source domain.SettlementSource) domain.SettlementResult {
	return domain.SettlementResult{
		MarketID:   "001",
		Asset:      asset,
		CurrentAPY: apy,
		Threshold:  3.5,
		Outcome:    outcome,
		Confidence: 0.8,
		Reasoning:  domain.FallbackReasoning,
		Source:     source,
	}
}

func TestConsole_Notify_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	report := ports.BatchReport{
		ExecutionID: "0123456789abcdef",
		Settlements: []domain.SettlementResult{
			makeSettlement("stETH", 3.8, domain.OutcomeYes, domain.SourceModel),
			makeSettlement("rETH", 2.9, domain.OutcomeNo, domain.SourceFallback),
		},
		Errors: []string{"No pools for EigenLayer"},
	}

	err := n.Notify(context.Background(), report)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "stETH")
	assert.Contains(t, out, "3.80%")
	assert.Contains(t, out, "fallback")
	assert.Contains(t, out, "No pools for EigenLayer")
}

func TestConsole_Notify_Compact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	report := ports.BatchReport{Settlements: []domain.SettlementResult{
		makeSettlement("stETH", 3.8, domain.OutcomeYes, domain.SourceModel),
		makeSettlement("rETH", 2.9, domain.OutcomeNo, domain.SourceFallback),
	}}

	require.NoError(t, n.Notify(context.Background(), report))
	out := buf.String()
	assert.Contains(t, out, "YES:1 NO:1 fallback:1")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsole_Notify_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	err := n.Notify(context.Background(), ports.BatchReport{Errors: []string{"Rate limited for stETH"}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no settlements produced")
	assert.Contains(t, buf.String(), "Rate limited for stETH")
}

func TestConsole_PrintMarkets(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	conf := 0.72
	n.PrintMarkets([]domain.DerivedMarketView{{
		MarketDefinition:     domain.MarketDefinition{ID: "001", Asset: "stETH", Threshold: 3.5, SettlementDate: "2026-02-28"},
		CurrentYield:         3.8,
		YesPrice:             0.67,
		NoPrice:              0.33,
		Volume24h:            2_500_000,
		TimeRemaining:        "7d 18h",
		HasPrediction:        true,
		PredictionConfidence: &conf,
		PredictionDirection:  "above",
	}})

	out := buf.String()
	assert.Contains(t, out, "0.67")
	assert.Contains(t, out, "$2.5M")
	assert.Contains(t, out, "72%")
}

func TestConsole_PrintSimulation(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	n.PrintSimulation(domain.SimulationReport{
		ExecutionID: "exec-1",
		Status:      domain.RunPartial,
		Steps: []domain.SimulationStep{
			{Name: domain.StepTrigger, Status: domain.StepSuccess},
			{Name: domain.StepChainRead, Status: domain.StepFailed, Detail: "dial tcp: refused"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "PARTIAL")
	assert.Contains(t, out, "chain_read")
	assert.Contains(t, out, "refused")
}
