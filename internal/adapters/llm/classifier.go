package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/alejandrodnm/destaker/internal/ports"
)

// Settle pide el veredicto settle_market. Un outcome fuera de YES/NO o una confianza
// ausente se tratan como respuesta malformada; la confianza se acota a [0, 1].
func (c *Client) Settle(ctx context.Context, req ports.ClassifyRequest) (domain.Verdict, error) {
	raw, err := c.callTool(ctx, c.settleModel, settleSystemPrompt, buildSettlePrompt(req.Market, req.Matches), settleTool)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("llm.Settle: %w", err)
	}

	var args settleArgs
	if err := decodeArgs(raw, &args); err != nil {
		return domain.Verdict{}, fmt.Errorf("llm.Settle: %w", err)
	}
	outcome, err := domain.ParseOutcome(args.Outcome)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("llm.Settle: %w", err)
	}
	if args.Confidence == nil {
		return domain.Verdict{}, fmt.Errorf("llm.Settle: missing confidence: %w", domain.ErrMalformedResponse)
	}

	return domain.Verdict{
		Outcome:    outcome,
		Confidence: unit(*args.Confidence),
		Reasoning:  args.Reasoning,
	}, nil
}

// Predict pide la predicción predict_yield. Si la dirección no es válida se deriva
// de probability_above_threshold.
func (c *Client) Predict(ctx context.Context, req ports.ClassifyRequest) (domain.Prediction, error) {
	prompt := buildPredictPrompt(req.Market, req.Matches, c.now())
	raw, err := c.callTool(ctx, c.predictModel, predictSystemPrompt, prompt, predictTool)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("llm.Predict: %w", err)
	}

	var args predictArgs
	if err := decodeArgs(raw, &args); err != nil {
		return domain.Prediction{}, fmt.Errorf("llm.Predict: %w", err)
	}
	if args.PredictedAPY == nil || args.ProbabilityAboveThreshold == nil {
		return domain.Prediction{}, fmt.Errorf("llm.Predict: missing required fields: %w", domain.ErrMalformedResponse)
	}

	prob := unit(*args.ProbabilityAboveThreshold)
	dir := domain.Direction(args.PredictionDirection)
	if dir != domain.DirectionAbove && dir != domain.DirectionBelow {
		dir = domain.DirectionBelow
		if prob >= 0.5 {
			dir = domain.DirectionAbove
		}
	}
	conf := 0.0
	if args.Confidence != nil {
		conf = unit(*args.Confidence)
	}
	risks := args.RiskFactors
	if risks == nil {
		risks = []string{}
	}

	return domain.Prediction{
		PredictedAPY:              *args.PredictedAPY,
		Confidence:                conf,
		Direction:                 dir,
		ProbabilityAboveThreshold: prob,
		Reasoning:                 args.Reasoning,
		RiskFactors:               risks,
	}, nil
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
