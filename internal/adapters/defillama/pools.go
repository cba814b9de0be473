package defillama

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
)

// FetchPools devuelve todos los pools del endpoint /pools.
// Cualquier fallo (non-2xx tras los retries, payload inválido) envuelve domain.ErrUpstreamFetch.
func (c *Client) FetchPools(ctx context.Context) ([]domain.PoolRecord, error) {
	start := time.Now()

	var resp poolsResponse
	if err := c.get(ctx, c.poolsURL, &resp); err != nil {
		return nil, fmt.Errorf("defillama.FetchPools: %w: %w", domain.ErrUpstreamFetch, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("defillama.FetchPools: %w: missing data field", domain.ErrUpstreamFetch)
	}

	pools := mapPools(resp.Data)
	slog.Debug("defillama pools fetched",
		"total", len(resp.Data),
		"valid", len(pools),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return pools, nil
}
