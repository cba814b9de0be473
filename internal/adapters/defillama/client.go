package defillama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultPoolsURL = "https://yields.llama.fi/pools"

	// El endpoint /pools devuelve ~18k pools (~10MB); no hace falta pedirlo más de 1 vez/s.
	poolsRatePerSec = 1

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
	maxBodyBytes  = 64 << 20
)

// Client es el HTTP client de DeFiLlama con rate limiting y retries.
type Client struct {
	http      *http.Client
	poolsURL  string
	limiter   *rate.Limiter
	retryWait time.Duration
}

// NewClient crea un Client para el endpoint de pools dado.
// Si poolsURL está vacío, usa el URL de producción.
func NewClient(poolsURL string) *Client {
	if poolsURL == "" {
		poolsURL = defaultPoolsURL
	}
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		poolsURL:  poolsURL,
		limiter:   rate.NewLimiter(poolsRatePerSec, 2),
		retryWait: baseRetryWait,
	}
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429 y 5xx se reintentan; cualquier otro non-2xx es definitivo.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if attempt < maxRetries {
				c.sleep(ctx, attempt)
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &domain.HTTPStatusError{Service: "defillama", Status: resp.StatusCode}
			slog.Warn("defillama request failed, retrying", "status", resp.StatusCode, "attempt", attempt+1)
			if attempt < maxRetries {
				c.sleep(ctx, attempt)
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return &domain.HTTPStatusError{Service: "defillama", Status: resp.StatusCode, Body: string(body)}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w: %w", domain.ErrMalformedResponse, err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
