package llm

import "encoding/json"

// DTOs del endpoint chat/completions (formato OpenAI) del gateway de IA.

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []tool        `json:"tools"`
	ToolChoice toolChoice    `json:"tool_choice"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolChoice struct {
	Type     string           `json:"type"`
	Function toolChoiceTarget `json:"function"`
}

type toolChoiceTarget struct {
	Name string `json:"name"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type toolCall struct {
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// settleArgs son los argumentos de la tool settle_market.
type settleArgs struct {
	Outcome    string   `json:"outcome"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// predictArgs son los argumentos de la tool predict_yield.
type predictArgs struct {
	PredictedAPY              *float64 `json:"predicted_apy"`
	Confidence                *float64 `json:"confidence"`
	PredictionDirection       string   `json:"prediction_direction"`
	ProbabilityAboveThreshold *float64 `json:"probability_above_threshold"`
	Reasoning                 string   `json:"reasoning"`
	RiskFactors               []string `json:"risk_factors"`
}

const (
	settleToolName  = "settle_market"
	predictToolName = "predict_yield"
)

var settleTool = tool{
	Type: "function",
	Function: toolFunction{
		Name:        settleToolName,
		Description: "Settle a yield prediction market",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"outcome":    map[string]any{"type": "string", "enum": []string{"YES", "NO"}, "description": "Market settlement outcome"},
				"confidence": map[string]any{"type": "number", "description": "Confidence score 0.0-1.0"},
				"reasoning":  map[string]any{"type": "string", "description": "Brief reasoning based on data"},
			},
			"required": []string{"outcome", "confidence", "reasoning"},
		},
	},
}

var predictTool = tool{
	Type: "function",
	Function: toolFunction{
		Name:        predictToolName,
		Description: "Submit a structured yield prediction based on real DeFiLlama data analysis",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"predicted_apy":               map[string]any{"type": "number", "description": "Predicted APY at settlement (percentage, e.g. 3.45)"},
				"confidence":                  map[string]any{"type": "number", "description": "Confidence in prediction (0 to 1)"},
				"prediction_direction":        map[string]any{"type": "string", "enum": []string{"above", "below"}},
				"probability_above_threshold": map[string]any{"type": "number", "description": "Probability yield will be above threshold (0 to 1)"},
				"reasoning":                   map[string]any{"type": "string", "description": "Reasoning citing specific data points"},
				"risk_factors":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{
				"predicted_apy", "confidence", "prediction_direction",
				"probability_above_threshold", "reasoning", "risk_factors",
			},
			"additionalProperties": false,
		},
	},
}
