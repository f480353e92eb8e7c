package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/model"
)

// Planner dry-runs a reposition against read-only collaborators. It sizes
// the same amounts the orchestrator would, assuming no swap.
type Planner struct {
	Positions PositionReader
	Factory   PoolFactory
	Prices    PriceSource
	Quoter    Quoter
	Balances  BalanceReader
	Side      Side
	Logger    *zap.Logger
}

// Plan is the outcome of a dry run.
type Plan struct {
	Position    model.Position
	Pool        model.Pool
	Tick        int32
	InRange     bool
	Withdraw0   *uint256.Int
	Withdraw1   *uint256.Int
	Idle0       *uint256.Int
	Idle1       *uint256.Int
	Start       model.ValueSnapshot
	Liquidity   *uint256.Int
	Mint0       *uint256.Int
	Mint1       *uint256.Int
	MintMin0    *uint256.Int
	MintMin1    *uint256.Int
	Leftover0   *uint256.Int
	Leftover1   *uint256.Int
	WidthChange int32
}

// Plan reads position id, prices its withdrawal and sizes a deposit into
// [tickLower, tickUpper]. Idle balances of holder are included when a
// balance reader is configured and holder is non-zero.
func (p *Planner) Plan(ctx context.Context, holder common.Address, id uint64, tickLower, tickUpper int32) (Plan, error) {
	if p.Positions == nil || p.Factory == nil || p.Prices == nil || p.Quoter == nil {
		return Plan{}, errors.New("planner is missing a collaborator")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newLower, newUpper, err := rangeRatios(tickLower, tickUpper)
	if err != nil {
		return Plan{}, err
	}

	pos, err := ReadPosition(ctx, p.Positions, id)
	if err != nil {
		return Plan{}, err
	}
	if pos.TickLower == tickLower && pos.TickUpper == tickUpper {
		return Plan{}, fmt.Errorf("%w: [%d, %d]", ErrTicksNotChanged, tickLower, tickUpper)
	}
	pool, err := ReadPool(ctx, p.Factory, p.Prices, pos)
	if err != nil {
		return Plan{}, err
	}
	tick, err := clmath.TickAtSqrtRatio(pool.SqrtPriceX96)
	if err != nil {
		return Plan{}, fmt.Errorf("pool tick: %w", err)
	}

	plan := Plan{
		Position:    pos,
		Pool:        pool,
		Tick:        tick,
		InRange:     pos.TickLower <= tick && tick < pos.TickUpper,
		Idle0:       new(uint256.Int),
		Idle1:       new(uint256.Int),
		WidthChange: (tickUpper - tickLower) - pos.Width(),
	}

	err = func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if !isOverflow(recovered) {
					panic(recovered)
				}
				err = fmt.Errorf("plan: %w", ErrArithmeticOverflow)
			}
		}()

		oldLower, oldUpper, err := rangeRatios(pos.TickLower, pos.TickUpper)
		if err != nil {
			return err
		}
		principal0, principal1 := clmath.AmountsForLiquidity(pool.SqrtPriceX96, oldLower, oldUpper, pos.Liquidity)
		plan.Withdraw0 = new(uint256.Int).Add(principal0, pos.TokensOwed0)
		plan.Withdraw1 = new(uint256.Int).Add(principal1, pos.TokensOwed1)

		if p.Balances != nil && holder != (common.Address{}) {
			if plan.Idle0, err = p.Balances.BalanceOf(ctx, pool.Token0, holder); err != nil {
				return externalErr("balance token0", err)
			}
			if plan.Idle1, err = p.Balances.BalanceOf(ctx, pool.Token1, holder); err != nil {
				return externalErr("balance token1", err)
			}
		}
		total0 := new(uint256.Int).Add(plan.Withdraw0, plan.Idle0)
		total1 := new(uint256.Int).Add(plan.Withdraw1, plan.Idle1)

		plan.Start, err = CalculateValue(ctx, p.Quoter, p.Side, pool, total0, total1)
		if err != nil {
			return fmt.Errorf("start value: %w", err)
		}

		plan.Liquidity = clmath.LiquidityForAmounts(pool.SqrtPriceX96, newLower, newUpper, total0, total1)
		plan.Mint0, plan.Mint1 = clmath.AmountsForLiquidity(pool.SqrtPriceX96, newLower, newUpper, plan.Liquidity)
		plan.MintMin0 = slippageFloor(plan.Mint0)
		plan.MintMin1 = slippageFloor(plan.Mint1)
		plan.Leftover0 = new(uint256.Int).Sub(total0, plan.Mint0)
		plan.Leftover1 = new(uint256.Int).Sub(total1, plan.Mint1)
		return nil
	}()
	if err != nil {
		return Plan{}, err
	}

	logger.Debug("reposition planned",
		zap.Uint64("position_id", id),
		zap.Int32("tick", tick),
		zap.String("liquidity", plan.Liquidity.Dec()),
	)
	return plan, nil
}
