package ports

import (
	"context"

	"github.com/alejandrodnm/destaker/internal/domain"
)

// BatchReport es la acumulación de un batch: settlements producidos y errores blandos.
type BatchReport struct {
	ExecutionID string
	Settlements []domain.SettlementResult
	Errors      []string
}

// Notifier presenta el resultado de un batch al usuario.
type Notifier interface {
	// Notify muestra los settlements del batch.
	// En la implementación de consola, imprime una tabla formateada.
	Notify(ctx context.Context, report BatchReport) error
}
