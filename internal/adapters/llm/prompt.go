package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
)

const settleSystemPrompt = `You are a DeFi yield analysis AI agent integrated into an automated settlement workflow.
Your role is to determine whether a yield prediction market should settle YES or NO based on factual data.

You are given:
1. The market question (will APY exceed a threshold?)
2. Live yield data from DeFiLlama (real-time APY, 30-day average, TVL)
3. The settlement threshold

Respond using the settle_market tool with:
- outcome: "YES" or "NO"
- confidence: 0.0-1.0 (how confident you are)
- reasoning: Brief explanation based on the data

Be factual. Use the data provided. Do not speculate beyond what the data shows.`

const predictSystemPrompt = `You are an expert DeFi yield analyst and prediction engine for a prediction market platform called Destaker. Your job is to analyze REAL on-chain yield data and produce accurate market predictions.

You receive:
1. Current live APY data from DeFiLlama for specific yield pools
2. 30-day mean APY trends
3. TVL data showing capital flows
4. Market threshold conditions

Your task: Analyze the data and predict whether the yield will be ABOVE or BELOW the threshold at settlement date.

CRITICAL RULES:
- Base predictions ONLY on the real data provided - never fabricate numbers
- Consider TVL trends (capital inflows/outflows affect yield)
- Consider 30d mean vs current APY (trending up or down?)
- Consider protocol-specific factors (Lido, Rocket Pool, Aave mechanics)
- Provide confidence as a decimal between 0 and 1
- Provide probability_above_threshold as a decimal between 0 and 1
- Your reasoning must cite specific data points

You must respond using the predict_yield tool.`

// Pools listados como "additional pool data" en el prompt de settlement.
const promptDetailPools = 5

// buildSettlePrompt arma el user prompt de settle_market. matches ya viene ordenado por TVL.
func buildSettlePrompt(m domain.MarketDefinition, matches []domain.PoolRecord) string {
	rep, _ := domain.Representative(matches)
	current := rep.CurrentAPY()

	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\n\n", m.Question())
	b.WriteString("Live DeFiLlama Data:\n")
	fmt.Fprintf(&b, "- Current APY: %.4f%%\n", current)
	fmt.Fprintf(&b, "- 30-day Mean APY: %.4f%%\n", rep.Mean30d())
	fmt.Fprintf(&b, "- TVL: $%.2fB\n", rep.TVLUSD/1e9)
	fmt.Fprintf(&b, "- Chain: %s\n", orUnknown(rep.Chain))
	fmt.Fprintf(&b, "- Project: %s\n", orUnknown(rep.Project))
	fmt.Fprintf(&b, "- Pool: %s\n", orUnknown(rep.Symbol))
	fmt.Fprintf(&b, "- Number of matching pools: %d\n\n", len(matches))

	b.WriteString("Additional pool data:\n")
	for _, p := range domain.TopByTVL(matches, promptDetailPools) {
		fmt.Fprintf(&b, "  - %s (%s): APY=%.2f%%, TVL=$%.1fM\n", p.Project, p.Chain, p.CurrentAPY(), p.TVLUSD/1e6)
	}

	fmt.Fprintf(&b, "\nThreshold: %g%%\n", m.Threshold)
	fmt.Fprintf(&b, "Settlement Date: %s\n\n", m.SettlementDate)
	b.WriteString("Determine: Should this market settle YES or NO?")
	return b.String()
}

type poolContext struct {
	PoolID     string   `json:"pool_id"`
	Project    string   `json:"project"`
	Chain      string   `json:"chain"`
	Symbol     string   `json:"symbol"`
	CurrentAPY *float64 `json:"current_apy"`
	APYBase    *float64 `json:"apy_base"`
	APYReward  *float64 `json:"apy_reward"`
	APYMean30d *float64 `json:"apy_mean_30d"`
	TVLUSD     float64  `json:"tvl_usd"`
	Stablecoin bool     `json:"stablecoin"`
}

// buildPredictPrompt arma el user prompt de predict_yield con el contexto JSON de los pools.
func buildPredictPrompt(m domain.MarketDefinition, matches []domain.PoolRecord, now time.Time) string {
	ctxPools := make([]poolContext, 0, len(matches))
	for _, p := range matches {
		ctxPools = append(ctxPools, poolContext{
			PoolID: p.PoolID, Project: p.Project, Chain: p.Chain, Symbol: p.Symbol,
			CurrentAPY: p.APY, APYBase: p.APYBase, APYReward: p.APYReward, APYMean30d: p.APYMean30d,
			TVLUSD: p.TVLUSD, Stablecoin: p.Stablecoin,
		})
	}
	raw, _ := json.MarshalIndent(ctxPools, "", "  ")

	rep, _ := domain.Representative(matches)
	current := rep.CurrentAPY()
	mean := deref(rep.APYMean30d)

	trend := "FALLING (current < 30d mean)"
	if current > mean {
		trend = "RISING (current > 30d mean)"
	}
	side := "BELOW"
	if current >= m.Threshold {
		side = "ABOVE"
	}
	date := m.SettlementDate
	if date == "" {
		date = "7 days from now"
	}

	var b strings.Builder
	b.WriteString("Analyze the following REAL on-chain yield data and predict the market outcome:\n\n")
	fmt.Fprintf(&b, "MARKET: %s Yield Prediction\n", m.Asset)
	fmt.Fprintf(&b, "CONDITION: APR > %g%% at settlement\n", m.Threshold)
	fmt.Fprintf(&b, "SETTLEMENT DATE: %s\n", date)
	fmt.Fprintf(&b, "CURRENT DATE: %s\n\n", now.UTC().Format(domain.DateLayout))
	fmt.Fprintf(&b, "LIVE YIELD DATA FROM DEFILLAMA (%d matching pools):\n%s\n\n", len(matches), raw)
	fmt.Fprintf(&b, "KEY METRICS FOR PRIMARY POOL (%s):\n", rep.Project)
	fmt.Fprintf(&b, "- Current APY: %.4f%%\n", current)
	fmt.Fprintf(&b, "- 30-Day Mean APY: %.4f%%\n", mean)
	fmt.Fprintf(&b, "- APY Trend: %s\n", trend)
	fmt.Fprintf(&b, "- TVL: $%.2fB\n", rep.TVLUSD/1e9)
	fmt.Fprintf(&b, "- Base APY: %.4f%%\n", deref(rep.APYBase))
	fmt.Fprintf(&b, "- Reward APY: %.4f%%\n\n", deref(rep.APYReward))
	fmt.Fprintf(&b, "THRESHOLD: %g%%\n", m.Threshold)
	fmt.Fprintf(&b, "GAP: Current APY is %.4f%% %s threshold\n\n", current-m.Threshold, side)
	b.WriteString("Analyze this data and predict the outcome using the predict_yield tool.")
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
