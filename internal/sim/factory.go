package sim

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/clmath"
)

// PoolInitCodeHash is the init code hash used to derive pool addresses.
var PoolInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")

// TickSpacing maps the standard fee tiers to their tick spacing.
var TickSpacing = map[uint32]int32{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

var (
	poolSaltArgs     abi.Arguments
	poolSaltArgsOnce sync.Once
	poolSaltArgsErr  error
)

func poolSaltArguments() (abi.Arguments, error) {
	poolSaltArgsOnce.Do(func() {
		addressType, err := abi.NewType("address", "", nil)
		if err != nil {
			poolSaltArgsErr = err
			return
		}
		feeType, err := abi.NewType("uint24", "", nil)
		if err != nil {
			poolSaltArgsErr = err
			return
		}
		poolSaltArgs = abi.Arguments{{Type: addressType}, {Type: addressType}, {Type: feeType}}
	})
	return poolSaltArgs, poolSaltArgsErr
}

// ComputePoolAddress derives the CREATE2 address of the pool for the sorted
// token pair and fee.
func ComputePoolAddress(factory, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	token0, token1 := SortTokens(tokenA, tokenB)
	args, err := poolSaltArguments()
	if err != nil {
		return common.Address{}, err
	}
	encoded, err := args.Pack(token0, token1, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("encode pool key: %w", err)
	}
	salt := crypto.Keccak256Hash(encoded)
	return crypto.CreateAddress2(factory, salt, PoolInitCodeHash.Bytes()), nil
}

// SortTokens orders two token addresses the way pools store them.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// Factory creates pools and serves their prices.
type Factory struct {
	chain   *Chain
	address common.Address
}

func (f *Factory) Address() common.Address { return f.address }

// CreatePool deploys the pool for the pair and fee at the given price.
func (f *Factory) CreatePool(tokenA, tokenB common.Address, fee uint32, sqrtPriceX96 *uint256.Int) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, fmt.Errorf("identical tokens %s", tokenA.Hex())
	}
	if _, ok := TickSpacing[fee]; !ok {
		return common.Address{}, fmt.Errorf("unsupported fee %d", fee)
	}
	for _, token := range []common.Address{tokenA, tokenB} {
		if _, ok := f.chain.state.tokens[token]; !ok {
			return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
		}
	}
	token0, token1 := SortTokens(tokenA, tokenB)
	key := poolKey{token0: token0, token1: token1, fee: fee}
	if _, ok := f.chain.state.poolIndex[key]; ok {
		return common.Address{}, ErrPoolExists
	}
	if err := checkPrice(sqrtPriceX96); err != nil {
		return common.Address{}, err
	}
	address, err := ComputePoolAddress(f.address, token0, token1, fee)
	if err != nil {
		return common.Address{}, err
	}
	f.chain.state.pools[address] = poolState{key: key, sqrtPriceX96: *sqrtPriceX96}
	f.chain.state.poolIndex[key] = address
	return address, nil
}

func (f *Factory) GetPool(_ context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	token0, token1 := SortTokens(tokenA, tokenB)
	return f.chain.state.poolIndex[poolKey{token0: token0, token1: token1, fee: fee}], nil
}

func (f *Factory) SqrtPriceX96(_ context.Context, pool common.Address) (*uint256.Int, error) {
	state, ok := f.chain.state.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, pool.Hex())
	}
	price := state.sqrtPriceX96
	return &price, nil
}

// SetPrice moves the pool to a new price without trading. Pool balances are
// left untouched, so callers that withdraw afterwards must have minted enough
// reserves of the token the new price pays out in.
func (f *Factory) SetPrice(pool common.Address, sqrtPriceX96 *uint256.Int) error {
	state, ok := f.chain.state.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, pool.Hex())
	}
	if err := checkPrice(sqrtPriceX96); err != nil {
		return err
	}
	state.sqrtPriceX96 = *sqrtPriceX96
	f.chain.state.pools[pool] = state
	return nil
}

// SetTick moves the pool to the price of tick, with the same reserve caveat
// as SetPrice.
func (f *Factory) SetTick(pool common.Address, tick int32) error {
	price, err := clmath.SqrtRatioAtTick(tick)
	if err != nil {
		return err
	}
	return f.SetPrice(pool, price)
}

func checkPrice(sqrtPriceX96 *uint256.Int) error {
	if sqrtPriceX96.Lt(clmath.MinSqrtRatio) || !sqrtPriceX96.Lt(clmath.MaxSqrtRatio) {
		return fmt.Errorf("sqrt price %s out of range", sqrtPriceX96.Dec())
	}
	return nil
}
