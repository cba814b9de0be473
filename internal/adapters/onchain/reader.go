package onchain

// reader.go: lectura del estado de Ethereum para el paso chain_read del workflow.
//
// Head hace tres tipos de llamada:
//   - eth_blockNumber y eth_chainId: obligatorias, un fallo devuelve error.
//   - eth_gasPrice y eth_call a stETH.getTotalPooledEther(): best-effort, se cachean
//     5 minutos y un fallo solo deja el campo en nil.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/destaker/internal/ports"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const (
	DefaultRPCURL = "https://ethereum-rpc.publicnode.com"

	// Lido stETH en mainnet
	stETHAddress = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"

	extrasTTL = 5 * time.Minute
)

var stETHABI abi.ABI

func init() {
	var err error
	stETHABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getTotalPooledEther",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic(fmt.Sprintf("onchain: parse stETH ABI: %v", err))
	}
}

// Reader implementa ports.ChainReader sobre ethclient.
type Reader struct {
	client *ethclient.Client

	mu        sync.Mutex
	gasGwei   *float64
	pooledETH *float64
	extrasAt  time.Time
}

// NewReader conecta al RPC dado. Con HTTP no abre conexión hasta la primera llamada.
func NewReader(ctx context.Context, rpcURL string) (*Reader, error) {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewReader: dial rpc %s: %w", rpcURL, err)
	}
	return &Reader{client: client}, nil
}

// Head devuelve chain id, último bloque y los extras cacheados.
func (r *Reader) Head(ctx context.Context) (ports.ChainHead, error) {
	block, err := r.client.BlockNumber(ctx)
	if err != nil {
		return ports.ChainHead{}, fmt.Errorf("onchain.Head: block number: %w", err)
	}
	chainID, err := r.client.ChainID(ctx)
	if err != nil {
		return ports.ChainHead{}, fmt.Errorf("onchain.Head: chain id: %w", err)
	}

	gas, pooled := r.extras(ctx)
	return ports.ChainHead{
		ChainID:          chainID.String(),
		BlockNumber:      block,
		GasPriceGwei:     gas,
		StETHPooledEther: pooled,
	}, nil
}

// Close cierra el cliente RPC.
func (r *Reader) Close() {
	r.client.Close()
}

// extras devuelve gas price y stETH pooled ether, refrescándolos si la caché expiró.
func (r *Reader) extras(ctx context.Context) (*float64, *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.extrasAt.IsZero() && time.Since(r.extrasAt) < extrasTTL {
		return r.gasGwei, r.pooledETH
	}

	if price, err := r.client.SuggestGasPrice(ctx); err == nil {
		g := decimal.NewFromBigInt(price, -9).InexactFloat64()
		r.gasGwei = &g
	} else {
		slog.Debug("gas price unavailable", "err", err)
	}

	if pooled, err := r.totalPooledEther(ctx); err == nil {
		e := decimal.NewFromBigInt(pooled, -18).InexactFloat64()
		r.pooledETH = &e
	} else {
		slog.Debug("stETH pooled ether unavailable", "err", err)
	}

	r.extrasAt = time.Now()
	return r.gasGwei, r.pooledETH
}

func (r *Reader) totalPooledEther(ctx context.Context) (*big.Int, error) {
	data, err := stETHABI.Pack("getTotalPooledEther")
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	to := common.HexToAddress(stETHAddress)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call: %w", err)
	}
	vals, err := stETHABI.Unpack("getTotalPooledEther", out)
	if err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("unpack: empty result")
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", vals[0])
	}
	return v, nil
}
