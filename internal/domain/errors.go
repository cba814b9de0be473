package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatchingPools: ningún pool coincide con el patrón del asset. Error blando.
	ErrNoMatchingPools = errors.New("no matching pools")
	// ErrUpstreamFetch: la fuente de pools devolvió non-2xx o un payload inválido.
	ErrUpstreamFetch = errors.New("upstream pool fetch failed")
	// ErrClassifierUnavailable: timeout, non-2xx o tool call inválido del clasificador.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrRateLimited: el clasificador respondió 429.
	ErrRateLimited = errors.New("classifier rate limited")
	// ErrQuotaExceeded: el clasificador respondió 402 (sin créditos).
	ErrQuotaExceeded = errors.New("classifier quota exceeded")
	// ErrMalformedResponse: respuesta que no se pudo parsear o validar.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrPersistence: falló una escritura en el store.
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidRequest: input del caller incompleto o inválido.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownMarket: el id no corresponde a ningún mercado configurado.
	ErrUnknownMarket = errors.New("unknown market")
)

// HTTPStatusError es una respuesta non-2xx de un servicio externo.
type HTTPStatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Body)
}

// IsClassifierFailure devuelve true para los errores que se resuelven con el fallback.
func IsClassifierFailure(err error) bool {
	return errors.Is(err, ErrClassifierUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrMalformedResponse)
}
