package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rangeKeeper/internal/clmath"
)

// Compound collects the held position's fees and adds them, together with
// any idle balances, back into the same range. It returns the liquidity
// added, which is zero when the balances are too small to size a deposit.
func (v *Vault) Compound(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	if !v.inFlight.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	defer v.inFlight.Store(false)

	allowed, err := v.IsOperator(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotOperator
	}
	held := v.state.positionID
	if held == 0 {
		return nil, ErrNothingHeld
	}

	added := new(uint256.Int)
	err = v.atomically("compound", func() error {
		pos, err := v.ReadPosition(ctx, held)
		if err != nil {
			return err
		}
		pool, err := v.ReadPool(ctx, pos)
		if err != nil {
			return err
		}
		fees0, fees1, err := v.collect(ctx, held)
		if err != nil {
			return err
		}
		balance0, balance1, err := v.balances(ctx, pool)
		if err != nil {
			return err
		}
		sqrtLower, sqrtUpper, err := rangeRatios(pos.TickLower, pos.TickUpper)
		if err != nil {
			return err
		}
		liquidity := clmath.LiquidityForAmounts(pool.SqrtPriceX96, sqrtLower, sqrtUpper, balance0, balance1)
		if liquidity.IsZero() {
			v.logger.Info("nothing to compound", zap.Uint64("position_id", held))
			return nil
		}
		amount0, amount1 := clmath.AmountsForLiquidity(pool.SqrtPriceX96, sqrtLower, sqrtUpper, liquidity)

		manager := v.backend.Positions.Address()
		if err := v.ensureAllowance(ctx, pool.Token0, manager); err != nil {
			return err
		}
		if err := v.ensureAllowance(ctx, pool.Token1, manager); err != nil {
			return err
		}
		got, used0, used1, err := v.backend.Positions.IncreaseLiquidity(ctx, v.address, IncreaseLiquidityParams{
			ID:             held,
			Amount0Desired: amount0,
			Amount1Desired: amount1,
			Amount0Min:     slippageFloor(amount0),
			Amount1Min:     slippageFloor(amount1),
			Deadline:       v.deadline(),
		})
		if err != nil {
			return externalErr("increase liquidity", err)
		}
		added = got
		v.logger.Info("fees compounded",
			zap.Uint64("position_id", held),
			zap.String("fees0", fees0.Dec()),
			zap.String("fees1", fees1.Dec()),
			zap.String("liquidity", got.Dec()),
			zap.String("amount0", used0.Dec()),
			zap.String("amount1", used1.Dec()),
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("compound position %d: %w", held, err)
	}
	return added, nil
}
