package ports

import (
	"context"

	"github.com/alejandrodnm/destaker/internal/domain"
)

// Storage persiste el log de clasificaciones, las predicciones, la resolución actual
// de cada mercado y el snapshot de pools.
type Storage interface {
	// SaveSettlements añade los resultados al log (append-only).
	SaveSettlements(ctx context.Context, results []domain.SettlementResult) error

	// ListSettlements devuelve el log, más recientes primero. marketID vacío = todos.
	ListSettlements(ctx context.Context, marketID string, limit int) ([]domain.SettlementResult, error)

	// SavePrediction añade una predicción al log de predicciones.
	SavePrediction(ctx context.Context, p domain.PredictionRecord) (domain.PredictionRecord, error)

	// LatestPredictions devuelve la última predicción de cada mercado, por market_id.
	LatestPredictions(ctx context.Context) (map[string]domain.PredictionRecord, error)

	// UpsertResolution escribe la resolución actual de un mercado (última escritura gana).
	UpsertResolution(ctx context.Context, r domain.Resolution) error

	// GetResolution devuelve la resolución actual. ok es false si no existe.
	GetResolution(ctx context.Context, marketID string) (domain.Resolution, bool, error)

	// SavePools hace upsert del snapshot de pools por pool_id.
	SavePools(ctx context.Context, pools []domain.PoolRecord) error

	// LoadPools devuelve los pools cacheados ordenados por TVL desc. limit <= 0 = todos.
	LoadPools(ctx context.Context, limit int) ([]domain.PoolRecord, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
