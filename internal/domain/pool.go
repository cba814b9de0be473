package domain

import (
	"sort"
	"strings"
)

// MaxPoolsPerMarket es el máximo de pools que se conservan por mercado tras el matching.
const MaxPoolsPerMarket = 10

// PoolRecord es un pool de yield tal como lo reporta DeFiLlama.
// Los campos de APY son punteros porque la API los devuelve null con frecuencia;
// la diferencia entre "0" y "ausente" importa para elegir el yield actual.
type PoolRecord struct {
	PoolID     string   `json:"pool_id"`
	Chain      string   `json:"chain"`
	Project    string   `json:"project"`
	Symbol     string   `json:"symbol"`
	APY        *float64 `json:"apy"`
	APYBase    *float64 `json:"apy_base"`
	APYReward  *float64 `json:"apy_reward"`
	APYMean30d *float64 `json:"apy_mean_30d"`
	TVLUSD     float64  `json:"tvl_usd"` // 0 si la API no lo reporta
	Stablecoin bool     `json:"stablecoin"`
}

// CurrentAPY devuelve apy ?? apyBase ?? 0.
func (p PoolRecord) CurrentAPY() float64 {
	if p.APY != nil {
		return *p.APY
	}
	if p.APYBase != nil {
		return *p.APYBase
	}
	return 0
}

// Mean30d devuelve la media de 30 días, o el APY actual si no hay dato.
func (p PoolRecord) Mean30d() float64 {
	if p.APYMean30d != nil {
		return *p.APYMean30d
	}
	return p.CurrentAPY()
}

// Float devuelve un puntero a v. Atajo para construir PoolRecord en tests y mappings.
func Float(v float64) *float64 {
	return &v
}

// AssetPattern define cómo reconocer los pools de un asset.
// Symbols se compara contra el símbolo en mayúsculas; Projects contra el proyecto en minúsculas.
type AssetPattern struct {
	Symbols  []string `yaml:"symbols" json:"symbols"`
	Projects []string `yaml:"projects" json:"projects"`
}

// Matches devuelve true si el pool coincide con algún símbolo o proyecto del patrón.
// Un pool sin símbolo ni proyecto nunca coincide.
func (ap AssetPattern) Matches(p PoolRecord) bool {
	if p.Symbol != "" {
		sym := strings.ToUpper(p.Symbol)
		for _, s := range ap.Symbols {
			if s != "" && strings.Contains(sym, strings.ToUpper(s)) {
				return true
			}
		}
	}
	if p.Project != "" {
		proj := strings.ToLower(p.Project)
		for _, pr := range ap.Projects {
			if pr != "" && strings.Contains(proj, strings.ToLower(pr)) {
				return true
			}
		}
	}
	return false
}

// MatchPools devuelve los pools que coinciden con el patrón, en el orden de entrada.
// Nunca devuelve error: sin matches el resultado es un slice vacío.
func MatchPools(pools []PoolRecord, pattern AssetPattern) []PoolRecord {
	matches := make([]PoolRecord, 0)
	for _, p := range pools {
		if pattern.Matches(p) {
			matches = append(matches, p)
		}
	}
	return matches
}

// SortByTVL devuelve una copia ordenada por TVL descendente.
// El orden es estable: a igual TVL gana el que venía antes en la entrada.
func SortByTVL(pools []PoolRecord) []PoolRecord {
	sorted := make([]PoolRecord, len(pools))
	copy(sorted, pools)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TVLUSD > sorted[j].TVLUSD
	})
	return sorted
}

// Representative devuelve el pool de mayor TVL. ok es false si no hay pools.
func Representative(pools []PoolRecord) (PoolRecord, bool) {
	if len(pools) == 0 {
		return PoolRecord{}, false
	}
	return SortByTVL(pools)[0], true
}

// TopByTVL devuelve los n pools de mayor TVL.
func TopByTVL(pools []PoolRecord, n int) []PoolRecord {
	sorted := SortByTVL(pools)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// FilterMinTVL descarta los pools con TVL menor o igual a minTVL.
// minTVL <= 0 desactiva el filtro.
func FilterMinTVL(pools []PoolRecord, minTVL float64) []PoolRecord {
	if minTVL <= 0 {
		return pools
	}
	out := make([]PoolRecord, 0, len(pools))
	for _, p := range pools {
		if p.TVLUSD > minTVL {
			out = append(out, p)
		}
	}
	return out
}
