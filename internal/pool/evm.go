// Package pool adapts the on-ledger liquidity executor contract to the
// domain Pool capability: price observation, quoting, swaps, and position
// mint/burn/collect over an EVM JSON-RPC endpoint.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/crypto"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// poolABI covers the read surface of a concentrated-liquidity pool contract.
const poolABI = `[
	{"type":"function","name":"slot0","stateMutability":"view","inputs":[],"outputs":[
		{"name":"sqrtPriceX96","type":"uint160"},
		{"name":"tick","type":"int24"},
		{"name":"observationIndex","type":"uint16"},
		{"name":"observationCardinality","type":"uint16"},
		{"name":"observationCardinalityNext","type":"uint16"},
		{"name":"feeProtocol","type":"uint8"},
		{"name":"unlocked","type":"bool"}]},
	{"type":"function","name":"tickSpacing","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int24"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// executorABI is the liquidity executor contract: it custodies the funds on
// the destination ledger and performs swaps, mints, burns, and fee
// collection on behalf of the engine.
const executorABI = `[
	{"type":"function","name":"quoteExact","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"}],
		"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"swapExact","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"minOut","type":"uint256"},
		{"name":"limitPrice","type":"uint160"}],
		"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"type":"function","name":"mintPosition","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},
		{"name":"bottomTick","type":"int24"},
		{"name":"topTick","type":"int24"},
		{"name":"amount0Desired","type":"uint256"},
		{"name":"amount1Desired","type":"uint256"},
		{"name":"amount0Min","type":"uint256"},
		{"name":"amount1Min","type":"uint256"}],
		"outputs":[
		{"name":"handle","type":"uint256"},
		{"name":"liquidity","type":"uint128"},
		{"name":"amount0","type":"uint256"},
		{"name":"amount1","type":"uint256"}]},
	{"type":"function","name":"burnPosition","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},
		{"name":"handle","type":"uint256"}],
		"outputs":[
		{"name":"amount0","type":"uint256"},
		{"name":"amount1","type":"uint256"}]},
	{"type":"function","name":"collectFees","stateMutability":"nonpayable","inputs":[
		{"name":"pool","type":"address"},
		{"name":"handle","type":"uint256"}],
		"outputs":[
		{"name":"fee0","type":"uint256"},
		{"name":"fee1","type":"uint256"}]},
	{"type":"function","name":"heldBalance","stateMutability":"view","inputs":[
		{"name":"asset","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]}
]`

// Adapter implements domain.Pool against an EVM endpoint.
type Adapter struct {
	client    *ethclient.Client
	signer    *crypto.Signer
	executor  common.Address
	gasLimit  uint64
	poolIface abi.ABI
	execIface abi.ABI
	logger    *slog.Logger
}

// Config holds adapter parameters.
type Config struct {
	RPCURL   string
	Executor common.Address
	GasLimit uint64
}

// New dials the EVM endpoint and returns an Adapter.
func New(ctx context.Context, cfg Config, signer *crypto.Signer, logger *slog.Logger) (*Adapter, error) {
	poolIface, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("pool: parse pool abi: %w", err)
	}
	execIface, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		return nil, fmt.Errorf("pool: parse executor abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", cfg.RPCURL, err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 1_500_000
	}
	return &Adapter{
		client:    client,
		signer:    signer,
		executor:  cfg.Executor,
		gasLimit:  gasLimit,
		poolIface: poolIface,
		execIface: execIface,
		logger:    logger.With(slog.String("component", "pool")),
	}, nil
}

// Close releases the RPC connection.
func (a *Adapter) Close() {
	a.client.Close()
}

// CurrentTick reads the pool's current tick from slot0.
func (a *Adapter) CurrentTick(ctx context.Context, pool common.Address) (int32, error) {
	out, err := a.callPool(ctx, pool, "slot0")
	if err != nil {
		return 0, err
	}
	tick, ok := out[1].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("pool: slot0: unexpected tick type %T", out[1])
	}
	return int32(tick.Int64()), nil
}

// TickSpacing reads the pool's tick spacing.
func (a *Adapter) TickSpacing(ctx context.Context, pool common.Address) (int32, error) {
	out, err := a.callPool(ctx, pool, "tickSpacing")
	if err != nil {
		return 0, err
	}
	spacing, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("pool: tickSpacing: unexpected type %T", out[0])
	}
	return int32(spacing.Int64()), nil
}

// Tokens reads the pool's token pair.
func (a *Adapter) Tokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	out0, err := a.callPool(ctx, pool, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	out1, err := a.callPool(ctx, pool, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	t0, ok0 := out0[0].(common.Address)
	t1, ok1 := out1[0].(common.Address)
	if !ok0 || !ok1 {
		return common.Address{}, common.Address{}, fmt.Errorf("pool: tokens: unexpected types %T/%T", out0[0], out1[0])
	}
	return t0, t1, nil
}

// Quote simulates a swap without executing it.
func (a *Adapter) Quote(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := a.simulate(ctx, "quoteExact", pool, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("pool: quote: %w", err)
	}
	return out[0].(*big.Int), nil
}

// Swap executes an exact-input swap through the executor contract. A nil
// limitPrice means no price limit.
func (a *Adapter) Swap(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn, minOut, limitPrice *big.Int) (*big.Int, error) {
	if limitPrice == nil {
		limitPrice = new(big.Int)
	}
	if minOut == nil {
		minOut = new(big.Int)
	}
	out, err := a.execute(ctx, "swapExact", pool, tokenIn, tokenOut, amountIn, minOut, limitPrice)
	if err != nil {
		return nil, fmt.Errorf("pool: swap: %w", err)
	}
	return out[0].(*big.Int), nil
}

// Mint opens a liquidity position over the requested tick interval.
func (a *Adapter) Mint(ctx context.Context, req domain.MintRequest) (domain.MintResult, error) {
	out, err := a.execute(ctx, "mintPosition",
		req.Pool,
		big.NewInt(int64(req.BottomTick)), big.NewInt(int64(req.TopTick)),
		orZero(req.Amount0Desired), orZero(req.Amount1Desired),
		orZero(req.Amount0Min), orZero(req.Amount1Min),
	)
	if err != nil {
		return domain.MintResult{}, fmt.Errorf("pool: mint: %w", err)
	}
	return domain.MintResult{
		Handle:    out[0].(*big.Int),
		Liquidity: out[1].(*big.Int),
		Amount0:   out[2].(*big.Int),
		Amount1:   out[3].(*big.Int),
	}, nil
}

// Burn removes all liquidity behind a position handle.
func (a *Adapter) Burn(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	out, err := a.execute(ctx, "burnPosition", pool, handle)
	if err != nil {
		return nil, nil, fmt.Errorf("pool: burn: %w", err)
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// Collect withdraws accumulated fees for a position handle.
func (a *Adapter) Collect(ctx context.Context, pool common.Address, handle *big.Int) (*big.Int, *big.Int, error) {
	out, err := a.execute(ctx, "collectFees", pool, handle)
	if err != nil {
		return nil, nil, fmt.Errorf("pool: collect: %w", err)
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// Balance reads the executor contract's holdings of an asset.
func (a *Adapter) Balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	data, err := a.execIface.Pack("heldBalance", asset)
	if err != nil {
		return nil, fmt.Errorf("pool: pack heldBalance: %w", err)
	}
	raw, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.executor, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("pool: heldBalance: %w", err)
	}
	out, err := a.execIface.Unpack("heldBalance", raw)
	if err != nil {
		return nil, fmt.Errorf("pool: unpack heldBalance: %w", err)
	}
	return out[0].(*big.Int), nil
}

// callPool performs a read-only call against a pool contract.
func (a *Adapter) callPool(ctx context.Context, pool common.Address, method string) ([]any, error) {
	data, err := a.poolIface.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pool: pack %s: %w", method, err)
	}
	raw, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("pool: call %s on %s: %w", method, pool.Hex(), err)
	}
	out, err := a.poolIface.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("pool: unpack %s: %w", method, err)
	}
	return out, nil
}

// simulate eth_calls an executor method from the signer's address and
// unpacks the return values without submitting a transaction.
func (a *Adapter) simulate(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := a.execIface.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := a.client.CallContract(ctx, ethereum.CallMsg{
		From: a.signer.Address(),
		To:   &a.executor,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := a.execIface.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// execute simulates a state-changing executor method to capture its return
// values, then submits the signed transaction and waits for inclusion. The
// simulated values are only trusted once the transaction succeeds.
func (a *Adapter) execute(ctx context.Context, method string, args ...any) ([]any, error) {
	out, err := a.simulate(ctx, method, args...)
	if err != nil {
		return nil, err
	}

	data, err := a.execIface.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	nonce, err := a.client.PendingNonceAt(ctx, a.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.executor,
		Gas:      a.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := a.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, a.client, signed)
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s reverted in tx %s", method, signed.Hash().Hex())
	}

	a.logger.DebugContext(ctx, "executor call mined",
		slog.String("method", method),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return out, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

var _ domain.Pool = (*Adapter)(nil)
