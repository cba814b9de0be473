package ports

import (
	"context"
)

// ChainHead es el estado de la cadena que se registra en cada ejecución.
// Los campos opcionales quedan en nil si el RPC no los pudo servir.
type ChainHead struct {
	ChainID     string
	BlockNumber uint64
	// GasPriceGwei es el gas price sugerido por el nodo.
	GasPriceGwei *float64
	// StETHPooledEther es el total de ETH en staking de Lido (getTotalPooledEther).
	StETHPooledEther *float64
}

// ChainReader lee el estado de la cadena vía JSON-RPC.
type ChainReader interface {
	Head(ctx context.Context) (ChainHead, error)
}
