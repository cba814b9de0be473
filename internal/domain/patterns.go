package domain

import "strings"

// PatternTable es la tabla asset → patrón. Se carga una vez al arrancar y no se muta;
// todos los componentes que necesitan hacer matching reciben la misma instancia.
type PatternTable struct {
	patterns map[string]AssetPattern
}

// DefaultAssetPatterns son los patrones de los mercados incluidos por defecto.
var DefaultAssetPatterns = map[string]AssetPattern{
	"stETH":      {Symbols: []string{"STETH", "WSTETH"}, Projects: []string{"lido"}},
	"rETH":       {Symbols: []string{"RETH"}, Projects: []string{"rocket-pool"}},
	"cbETH":      {Symbols: []string{"CBETH"}, Projects: []string{"coinbase-wrapped-staked-eth"}},
	"mSOL":       {Symbols: []string{"MSOL"}, Projects: []string{"marinade-finance", "marinade"}},
	"jitoSOL":    {Symbols: []string{"JITOSOL"}, Projects: []string{"jito"}},
	"EigenLayer": {Symbols: []string{"EIGEN", "RESTAKED"}, Projects: []string{"eigenlayer", "eigen"}},
	"sfrxETH":    {Symbols: []string{"SFRXETH", "FRXETH"}, Projects: []string{"frax-ether"}},
	"bSOL":       {Symbols: []string{"BSOL"}, Projects: []string{"blazestake", "solblaze"}},
	"Aave V3":    {Symbols: []string{"USDC", "WETH", "USDT"}, Projects: []string{"aave-v3"}},
	"Lido stETH": {Symbols: []string{"STETH", "WSTETH"}, Projects: []string{"lido"}},
	"Compound":   {Symbols: []string{"CETH", "CUSDC", "ETH"}, Projects: []string{"compound-v3", "compound"}},
	"Pendle PT":  {Symbols: []string{"PT-", "PENDLE"}, Projects: []string{"pendle"}},
}

// NewPatternTable construye la tabla a partir de los patrones por defecto más los overrides.
// Un override con el mismo nombre reemplaza al patrón por defecto.
func NewPatternTable(overrides map[string]AssetPattern) *PatternTable {
	patterns := make(map[string]AssetPattern, len(DefaultAssetPatterns)+len(overrides))
	for name, p := range DefaultAssetPatterns {
		patterns[name] = normalizePattern(p)
	}
	for name, p := range overrides {
		patterns[name] = normalizePattern(p)
	}
	return &PatternTable{patterns: patterns}
}

// Lookup devuelve el patrón registrado para el asset.
func (t *PatternTable) Lookup(asset string) (AssetPattern, bool) {
	p, ok := t.patterns[asset]
	return p, ok
}

// For devuelve el patrón del asset, o uno derivado de su nombre si no está en la tabla:
// símbolo que contenga el asset en mayúsculas (con y sin "ETH") o proyecto que lo contenga.
func (t *PatternTable) For(asset string) AssetPattern {
	if p, ok := t.Lookup(asset); ok {
		return p
	}
	return DerivedPattern(asset)
}

// Union devuelve un patrón que combina los símbolos y proyectos de toda la tabla.
// Se usa para refrescar la cache de pools relevantes.
func (t *PatternTable) Union() AssetPattern {
	seenSym := make(map[string]bool)
	seenProj := make(map[string]bool)
	var union AssetPattern
	for _, p := range t.patterns {
		for _, s := range p.Symbols {
			if !seenSym[s] {
				seenSym[s] = true
				union.Symbols = append(union.Symbols, s)
			}
		}
		for _, pr := range p.Projects {
			if !seenProj[pr] {
				seenProj[pr] = true
				union.Projects = append(union.Projects, pr)
			}
		}
	}
	return union
}

// Len devuelve el número de assets registrados.
func (t *PatternTable) Len() int {
	return len(t.patterns)
}

// DerivedPattern construye un patrón a partir del nombre del asset.
func DerivedPattern(asset string) AssetPattern {
	upper := strings.ToUpper(strings.Join(strings.Fields(asset), ""))
	if upper == "" {
		return AssetPattern{}
	}
	p := AssetPattern{
		Symbols:  []string{upper},
		Projects: []string{strings.ToLower(strings.TrimSpace(asset))},
	}
	// "RETH" → "R" haría match con casi todo; solo se usa si queda algo con sentido
	if stripped := strings.ReplaceAll(upper, "ETH", ""); len(stripped) >= 2 && stripped != upper {
		p.Symbols = append(p.Symbols, stripped)
	}
	return p
}

func normalizePattern(p AssetPattern) AssetPattern {
	out := AssetPattern{
		Symbols:  make([]string, 0, len(p.Symbols)),
		Projects: make([]string, 0, len(p.Projects)),
	}
	for _, s := range p.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out.Symbols = append(out.Symbols, s)
		}
	}
	for _, pr := range p.Projects {
		if pr = strings.ToLower(strings.TrimSpace(pr)); pr != "" {
			out.Projects = append(out.Projects, pr)
		}
	}
	return out
}
