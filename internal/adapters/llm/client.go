package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultURL          = "https://ai.gateway.lovable.dev/v1/chat/completions"
	DefaultSettleModel  = "google/gemini-2.5-flash-lite"
	DefaultPredictModel = "google/gemini-3-flash-preview"

	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config configura el client del gateway de IA.
type Config struct {
	URL          string
	APIKey       string
	SettleModel  string
	PredictModel string
	Timeout      time.Duration
	// RatePerSec limita las llamadas salientes. <= 0 = sin límite.
	RatePerSec float64
}

// Client llama a un endpoint chat/completions compatible con OpenAI forzando un tool call.
// No reintenta: un 429 se devuelve como domain.ErrRateLimited y el backoff lo decide el caller.
type Client struct {
	http         *http.Client
	url          string
	apiKey       string
	settleModel  string
	predictModel string
	limiter      *rate.Limiter
	now          func() time.Time
}

// NewClient crea un Client aplicando los defaults a los campos vacíos.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.SettleModel == "" {
		cfg.SettleModel = DefaultSettleModel
	}
	if cfg.PredictModel == "" {
		cfg.PredictModel = DefaultPredictModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		settleModel:  cfg.SettleModel,
		predictModel: cfg.PredictModel,
		limiter:      rate.NewLimiter(limit, 1),
		now:          time.Now,
	}
}

// PredictModel devuelve el modelo usado por Predict (se guarda con cada predicción).
func (c *Client) PredictModel() string { return c.predictModel }

// callTool envía el prompt y devuelve los argumentos crudos del tool call forzado.
func (c *Client) callTool(ctx context.Context, model, system, user string, t tool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w: %w", domain.ErrClassifierUnavailable, err)
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Tools:      []tool{t},
		ToolChoice: toolChoice{Type: "function", Function: toolChoiceTarget{Name: t.Function.Name}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := &domain.HTTPStatusError{Service: "classifier", Status: resp.StatusCode, Body: string(body)}
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %w", domain.ErrRateLimited, statusErr)
		case http.StatusPaymentRequired:
			return nil, fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, statusErr)
		default:
			return nil, fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, statusErr)
		}
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w: %w", domain.ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 || len(out.Choices[0].Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("no tool call in response: %w", domain.ErrMalformedResponse)
	}
	call := out.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != "" && call.Function.Name != t.Function.Name {
		return nil, fmt.Errorf("unexpected tool %q: %w", call.Function.Name, domain.ErrMalformedResponse)
	}
	return unwrapArguments(call.Function.Arguments)
}

// unwrapArguments acepta los argumentos como string JSON (formato OpenAI) o como objeto.
func unwrapArguments(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("empty tool arguments: %w", domain.ErrMalformedResponse)
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("tool arguments: %w: %w", domain.ErrMalformedResponse, err)
	}
	if s == "" {
		return nil, fmt.Errorf("empty tool arguments: %w", domain.ErrMalformedResponse)
	}
	return json.RawMessage(s), nil
}

func decodeArgs(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("tool arguments: %w: %w", domain.ErrMalformedResponse, err)
	}
	return nil
}
