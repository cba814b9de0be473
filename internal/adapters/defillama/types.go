package defillama

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// DTOs raw de la API de yields de DeFiLlama. Solo se usan dentro de este paquete.
// La conversión a domain.PoolRecord se hace en mapping.go.

// poolsResponse es la respuesta de GET /pools.
type poolsResponse struct {
	Status string            `json:"status"`
	Data   []json.RawMessage `json:"data"`
}

// llamaPool es un pool tal cual lo devuelve la API.
type llamaPool struct {
	Pool       string   `json:"pool"`
	Chain      optText  `json:"chain"`
	Project    optText  `json:"project"`
	Symbol     optText  `json:"symbol"`
	TVLUSD     optFloat `json:"tvlUsd"`
	APY        optFloat `json:"apy"`
	APYBase    optFloat `json:"apyBase"`
	APYReward  optFloat `json:"apyReward"`
	APYMean30d optFloat `json:"apyMean30d"`
	Stablecoin optBool  `json:"stablecoin"`
}

// optFloat acepta número, string numérico o null. Cualquier otra cosa (o NaN/Inf)
// queda como ausente en lugar de romper el decode de toda la respuesta.
type optFloat struct {
	Value *float64
}

func (f *optFloat) UnmarshalJSON(b []byte) error {
	f.Value = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		var s string
		if json.Unmarshal(b, &s) != nil {
			return nil
		}
		parsed, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return nil
		}
		v = parsed
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f.Value = &v
	return nil
}

// optText acepta string o null; cualquier otro tipo queda vacío.
type optText string

func (t *optText) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) != nil {
		*t = ""
		return nil
	}
	*t = optText(s)
	return nil
}

// optBool acepta bool o null; cualquier otro tipo queda en false.
type optBool bool

func (o *optBool) UnmarshalJSON(b []byte) error {
	var v bool
	if json.Unmarshal(b, &v) != nil {
		*o = false
		return nil
	}
	*o = optBool(v)
	return nil
}
