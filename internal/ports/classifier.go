package ports

import (
	"context"

	"github.com/alejandrodnm/destaker/internal/domain"
)

// ClassifyRequest es el contexto que se le pasa al clasificador externo.
type ClassifyRequest struct {
	Market  domain.MarketDefinition
	Matches []domain.PoolRecord // ya ordenados por TVL desc
}

// Classifier es el modelo externo que decide YES/NO. Se trata como una caja negra.
type Classifier interface {
	// Settle pide un veredicto settle_market para el mercado.
	Settle(ctx context.Context, req ClassifyRequest) (domain.Verdict, error)

	// Predict pide una predicción predict_yield para el mercado.
	Predict(ctx context.Context, req ClassifyRequest) (domain.Prediction, error)
}

// Settler produce un SettlementResult para un mercado con sus pools.
// Es lo que consume el orquestador.
type Settler interface {
	Settle(ctx context.Context, market domain.MarketDefinition, matches []domain.PoolRecord) (domain.SettlementResult, error)
}
