package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rangeKeeper/internal/chain"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/vault"
)

// Contracts names the periphery contracts a Reader talks to.
type Contracts struct {
	PositionManager common.Address
	Factory         common.Address
	Quoter          common.Address
}

// RetryConfig bounds retries of read calls. Reverts are never retried.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// Reader implements the vault's read-only collaborators over eth_call.
type Reader struct {
	caller    chain.Caller
	contracts Contracts
	retry     RetryConfig
	tokens    *TokenMetaCache
	logger    *zap.Logger
}

func NewReader(caller chain.Caller, contracts Contracts, retry RetryConfig, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		caller:    caller,
		contracts: contracts,
		retry:     retry,
		tokens:    NewTokenMetaCache(),
		logger:    logger,
	}
}

var (
	_ vault.PositionReader = (*Reader)(nil)
	_ vault.PoolFactory    = (*Reader)(nil)
	_ vault.PriceSource    = (*Reader)(nil)
	_ vault.Quoter         = (*Reader)(nil)
	_ vault.BalanceReader  = (*Reader)(nil)
)

// Position reads positions(id) from the position manager. The manager's
// "Invalid token ID" revert is reported as vault.ErrNotFound.
func (r *Reader) Position(ctx context.Context, id uint64) (model.Position, error) {
	if id == 0 {
		return model.Position{}, fmt.Errorf("%w: position id 0", vault.ErrNotFound)
	}
	managerABI, err := PositionManagerABI()
	if err != nil {
		return model.Position{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := r.call(ctx, r.contracts.PositionManager, managerABI, "positions", new(big.Int).SetUint64(id))
	if err != nil {
		if strings.Contains(err.Error(), "Invalid token ID") {
			return model.Position{}, fmt.Errorf("%w: position %d", vault.ErrNotFound, id)
		}
		return model.Position{}, err
	}
	if len(values) != 12 {
		return model.Position{}, fmt.Errorf("positions: %d values", len(values))
	}

	pos := model.Position{ID: id}
	if pos.Token0, err = asAddress(values[2]); err != nil {
		return model.Position{}, fmt.Errorf("token0: %w", err)
	}
	if pos.Token1, err = asAddress(values[3]); err != nil {
		return model.Position{}, fmt.Errorf("token1: %w", err)
	}
	fee, err := asBigInt(values[4])
	if err != nil {
		return model.Position{}, fmt.Errorf("fee: %w", err)
	}
	pos.Fee = uint32(fee.Uint64())
	for i, dst := range []*int32{&pos.TickLower, &pos.TickUpper} {
		tick, err := asBigInt(values[5+i])
		if err != nil {
			return model.Position{}, fmt.Errorf("tick: %w", err)
		}
		if *dst, err = int24FromBig(tick); err != nil {
			return model.Position{}, fmt.Errorf("tick: %w", err)
		}
	}
	if pos.Liquidity, err = asUint256(values[7]); err != nil {
		return model.Position{}, fmt.Errorf("liquidity: %w", err)
	}
	if pos.TokensOwed0, err = asUint256(values[10]); err != nil {
		return model.Position{}, fmt.Errorf("tokens owed0: %w", err)
	}
	if pos.TokensOwed1, err = asUint256(values[11]); err != nil {
		return model.Position{}, fmt.Errorf("tokens owed1: %w", err)
	}
	return pos, nil
}

// OwnerOf returns the holder of position id.
func (r *Reader) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := r.call(ctx, r.contracts.PositionManager, managerABI, "ownerOf", new(big.Int).SetUint64(id))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

func (r *Reader) GetPool(ctx context.Context, token0, token1 common.Address, fee uint32) (common.Address, error) {
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := r.call(ctx, r.contracts.Factory, factoryABI, "getPool", token0, token1, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

func (r *Reader) SqrtPriceX96(ctx context.Context, pool common.Address) (*uint256.Int, error) {
	price, _, err := r.Slot0(ctx, pool)
	return price, err
}

// Slot0 returns the pool's square-root price and current tick.
func (r *Reader) Slot0(ctx context.Context, pool common.Address) (*uint256.Int, int32, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := r.call(ctx, pool, poolABI, "slot0")
	if err != nil {
		return nil, 0, err
	}
	if len(values) < 2 {
		return nil, 0, fmt.Errorf("slot0: %d values", len(values))
	}
	price, err := asUint256(values[0])
	if err != nil {
		return nil, 0, fmt.Errorf("sqrt price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return nil, 0, fmt.Errorf("tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return nil, 0, fmt.Errorf("tick: %w", err)
	}
	return price, tick, nil
}

// Quote simulates quoteExactInputSingle with eth_call.
func (r *Reader) Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn, sqrtPriceLimitX96 *uint256.Int) (*uint256.Int, error) {
	parsed, err := QuoterABI()
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	limit := new(big.Int)
	if sqrtPriceLimitX96 != nil {
		limit = sqrtPriceLimitX96.ToBig()
	}
	values, err := r.call(ctx, r.contracts.Quoter, parsed, "quoteExactInputSingle",
		tokenIn, tokenOut, new(big.Int).SetUint64(uint64(fee)), amountIn.ToBig(), limit)
	if err != nil {
		return nil, err
	}
	return asUint256(values[0])
}

func (r *Reader) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := r.call(ctx, token, parsed, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asUint256(values[0])
}

func (r *Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := r.call(ctx, token, parsed, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asUint256(values[0])
}

func (r *Reader) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}

	var values []interface{}
	err = chain.WithRetry(ctx, r.retry.MaxRetries, r.retry.Backoff, func(ctx context.Context) error {
		resp, err := r.caller.CallContract(ctx, msg, nil)
		if err != nil {
			if isRevert(err) {
				return chain.Permanent(err)
			}
			r.logger.Debug("call failed, retrying", zap.String("method", method), zap.String("to", to.Hex()), zap.Error(err))
			return err
		}
		values, err = parsed.Unpack(method, resp)
		if err != nil {
			return chain.Permanent(fmt.Errorf("unpack: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return values, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
