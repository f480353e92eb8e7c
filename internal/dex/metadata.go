package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rangeKeeper/internal/model"
)

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// PoolInfo is the live state of a pool as shown by the inspection commands.
type PoolInfo struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	TickSpacing  int32
	Liquidity    *uint256.Int
	SqrtPriceX96 *uint256.Int
	Tick         int32
}

// TokenMeta loads ERC20 metadata, consulting the reader's cache first. A
// failed fetch is cached too, so a broken token is only asked once.
func (r *Reader) TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.tokens.Get(token); ok {
		return meta, nil
	}
	meta, err := r.fetchTokenMeta(ctx, token)
	if err != nil {
		r.logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
	}
	r.tokens.Set(token, meta)
	return meta, err
}

func (r *Reader) fetchTokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := r.call(ctx, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := r.call(ctx, token, stringABI, "symbol"); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := r.call(ctx, token, bytes32ABI, "symbol"); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else {
		r.logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := r.call(ctx, token, stringABI, "name"); err == nil {
		if name, ok := values[0].(string); ok {
			meta.Name = name
		}
	} else if values, err := r.call(ctx, token, bytes32ABI, "name"); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			meta.Name = name
		}
	} else {
		r.logger.Debug("name call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return meta, nil
}

// PoolInfo reads the immutable pool fields and its current slot0 and
// liquidity.
func (r *Reader) PoolInfo(ctx context.Context, pool common.Address) (PoolInfo, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return PoolInfo{}, fmt.Errorf("parse pool abi: %w", err)
	}
	info := PoolInfo{Address: pool}

	values, err := r.call(ctx, pool, poolABI, "token0")
	if err != nil {
		return PoolInfo{}, err
	}
	if info.Token0, err = asAddress(values[0]); err != nil {
		return PoolInfo{}, fmt.Errorf("token0: %w", err)
	}

	values, err = r.call(ctx, pool, poolABI, "token1")
	if err != nil {
		return PoolInfo{}, err
	}
	if info.Token1, err = asAddress(values[0]); err != nil {
		return PoolInfo{}, fmt.Errorf("token1: %w", err)
	}

	values, err = r.call(ctx, pool, poolABI, "fee")
	if err != nil {
		return PoolInfo{}, err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return PoolInfo{}, fmt.Errorf("fee: %w", err)
	}
	info.Fee = uint32(fee.Uint64())

	values, err = r.call(ctx, pool, poolABI, "tickSpacing")
	if err != nil {
		return PoolInfo{}, err
	}
	spacing, err := asBigInt(values[0])
	if err != nil {
		return PoolInfo{}, fmt.Errorf("tick spacing: %w", err)
	}
	if info.TickSpacing, err = int24FromBig(spacing); err != nil {
		return PoolInfo{}, fmt.Errorf("tick spacing: %w", err)
	}

	values, err = r.call(ctx, pool, poolABI, "liquidity")
	if err != nil {
		return PoolInfo{}, err
	}
	if info.Liquidity, err = asUint256(values[0]); err != nil {
		return PoolInfo{}, fmt.Errorf("liquidity: %w", err)
	}

	if info.SqrtPriceX96, info.Tick, err = r.Slot0(ctx, pool); err != nil {
		return PoolInfo{}, err
	}
	return info, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint256(value interface{}) (*uint256.Int, error) {
	b, err := asBigInt(value)
	if err != nil {
		return nil, err
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", b.String())
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("value %s overflows 256 bits", b.String())
	}
	return out, nil
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
