package ports

import (
	"context"

	"github.com/alejandrodnm/destaker/internal/domain"
)

// PoolProvider obtiene la lista completa de pools de yield.
type PoolProvider interface {
	// FetchPools devuelve todos los pools del endpoint. Un non-2xx o un payload
	// inválido devuelve un error que envuelve domain.ErrUpstreamFetch.
	FetchPools(ctx context.Context) ([]domain.PoolRecord, error)
}
