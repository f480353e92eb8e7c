package sim

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/clmath"
)

const feeScale = 1_000_000

// Quoter prices exact-input swaps at the pool's current price after the
// pool fee. Depth is not modelled, so the price limit is ignored.
type Quoter struct {
	chain   *Chain
	address common.Address
}

func (q *Quoter) Address() common.Address { return q.address }

func (q *Quoter) Quote(_ context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn, _ *uint256.Int) (*uint256.Int, error) {
	return q.chain.quote(tokenIn, tokenOut, fee, amountIn)
}

func (c *Chain) quote(tokenIn, tokenOut common.Address, fee uint32, amountIn *uint256.Int) (out *uint256.Int, err error) {
	token0, token1 := SortTokens(tokenIn, tokenOut)
	poolAddress, ok := c.state.poolIndex[poolKey{token0: token0, token1: token1, fee: fee}]
	if !ok {
		return nil, ErrUnknownPool
	}
	price := c.state.pools[poolAddress].sqrtPriceX96

	defer func() {
		if recovered := recover(); recovered != nil {
			if recovered != clmath.ErrOverflow {
				panic(recovered)
			}
			out, err = nil, fmt.Errorf("quote overflow for %s", amountIn.Dec())
		}
	}()

	afterFee := clmath.MulDiv(amountIn, uint256.NewInt(feeScale-uint64(fee)), uint256.NewInt(feeScale))
	if tokenIn == token0 {
		partial := clmath.MulDiv(afterFee, &price, clmath.Q96)
		return clmath.MulDiv(partial, &price, clmath.Q96), nil
	}
	partial := clmath.MulDiv(afterFee, clmath.Q96, &price)
	return clmath.MulDiv(partial, clmath.Q96, &price), nil
}
