package defillama

import (
	"encoding/json"
	"log/slog"

	"github.com/alejandrodnm/destaker/internal/domain"
)

// mapPools convierte los pools raw a domain.PoolRecord. Las entradas que no son
// objetos JSON o no tienen id de pool se descartan.
func mapPools(raw []json.RawMessage) []domain.PoolRecord {
	pools := make([]domain.PoolRecord, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var lp llamaPool
		if err := json.Unmarshal(r, &lp); err != nil || lp.Pool == "" {
			skipped++
			continue
		}
		pools = append(pools, mapPool(lp))
	}
	if skipped > 0 {
		slog.Debug("defillama pools skipped", "count", skipped)
	}
	return pools
}

// mapPool convierte un llamaPool DTO a domain.PoolRecord.
func mapPool(lp llamaPool) domain.PoolRecord {
	p := domain.PoolRecord{
		PoolID:     lp.Pool,
		Chain:      string(lp.Chain),
		Project:    string(lp.Project),
		Symbol:     string(lp.Symbol),
		APY:        lp.APY.Value,
		APYBase:    lp.APYBase.Value,
		APYReward:  lp.APYReward.Value,
		APYMean30d: lp.APYMean30d.Value,
		Stablecoin: bool(lp.Stablecoin),
	}
	if lp.TVLUSD.Value != nil && *lp.TVLUSD.Value > 0 {
		p.TVLUSD = *lp.TVLUSD.Value
	}
	return p
}
