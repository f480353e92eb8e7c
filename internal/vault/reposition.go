package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/model"
)

// Receipt describes a completed reposition.
type Receipt struct {
	OldPositionID uint64
	NewPositionID uint64
	TickLower     int32
	TickUpper     int32
	Liquidity     *uint256.Int
	Start         model.ValueSnapshot
	End           model.ValueSnapshot
	Fees0         *uint256.Int
	Fees1         *uint256.Int
	Principal0    *uint256.Int
	Principal1    *uint256.Int
	Minted0       *uint256.Int
	Minted1       *uint256.Int
	SqrtPriceX96  *uint256.Int
	LossPPM       int64
	Swapped       bool
	Timestamp     uint64
}

// Event renders the receipt as the record handed to the event sink.
func (r Receipt) Event(vault common.Address) model.RepositionEvent {
	tick, err := clmath.TickAtSqrtRatio(r.SqrtPriceX96)
	if err != nil {
		tick = 0
	}
	return model.RepositionEvent{
		Vault:         vault.Hex(),
		OldPositionID: r.OldPositionID,
		NewPositionID: r.NewPositionID,
		TickLower:     r.TickLower,
		TickUpper:     r.TickUpper,
		Liquidity:     r.Liquidity.Dec(),
		StartValue:    r.Start.Value.Dec(),
		EndValue:      r.End.Value.Dec(),
		Fees0:         r.Fees0.Dec(),
		Fees1:         r.Fees1.Dec(),
		Principal0:    r.Principal0.Dec(),
		Principal1:    r.Principal1.Dec(),
		Minted0:       r.Minted0.Dec(),
		Minted1:       r.Minted1.Dec(),
		SqrtPriceX96:  r.SqrtPriceX96.Dec(),
		Tick:          tick,
		LossPPM:       r.LossPPM,
		Swapped:       r.Swapped,
		Timestamp:     r.Timestamp,
	}
}

// Reposition withdraws the held position, optionally swaps, and deposits
// the proceeds into the requested range. Either every step succeeds or the
// backend and custody state are left as they were.
func (v *Vault) Reposition(ctx context.Context, caller common.Address, req model.RepositionRequest) (*Receipt, error) {
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

	var receipt *Receipt
	err = v.atomically("reposition", func() error {
		r, err := v.reposition(ctx, req)
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (v *Vault) reposition(ctx context.Context, req model.RepositionRequest) (*Receipt, error) {
	held := v.state.positionID
	if held == 0 {
		return nil, ErrNothingHeld
	}
	newLower, newUpper, err := rangeRatios(req.TickLower, req.TickUpper)
	if err != nil {
		return nil, err
	}

	pos, err := v.ReadPosition(ctx, held)
	if err != nil {
		return nil, err
	}
	if pos.Liquidity.IsZero() {
		return nil, fmt.Errorf("%w: position %d has no liquidity", ErrInvalidRequest, held)
	}
	if pos.TickLower == req.TickLower && pos.TickUpper == req.TickUpper {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrTicksNotChanged, req.TickLower, req.TickUpper)
	}
	if tol := v.cfg.WidthTolerance; tol > 0 {
		delta := (req.TickUpper - req.TickLower) - pos.Width()
		if delta < -tol || delta > tol {
			return nil, fmt.Errorf("%w: width changes by %d ticks, tolerance %d", ErrInvalidRequest, delta, tol)
		}
	}
	pool, err := v.ReadPool(ctx, pos)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		OldPositionID: held,
		TickLower:     req.TickLower,
		TickUpper:     req.TickUpper,
		Timestamp:     uint64(v.now().Unix()),
	}
	log := v.logger.With(zap.Uint64("position_id", held))

	// Withdraw.
	receipt.Fees0, receipt.Fees1, err = v.collect(ctx, held)
	if err != nil {
		return nil, err
	}
	oldLower, oldUpper, err := rangeRatios(pos.TickLower, pos.TickUpper)
	if err != nil {
		return nil, err
	}
	min0, min1 := clmath.AmountsForLiquidity(pool.SqrtPriceX96, oldLower, oldUpper, pos.Liquidity)
	if _, _, err := v.backend.Positions.DecreaseLiquidity(ctx, v.address, DecreaseLiquidityParams{
		ID:         held,
		Liquidity:  pos.Liquidity,
		Amount0Min: min0,
		Amount1Min: min1,
		Deadline:   v.deadline(),
	}); err != nil {
		return nil, externalErr("decrease liquidity", err)
	}
	receipt.Principal0, receipt.Principal1, err = v.collect(ctx, held)
	if err != nil {
		return nil, err
	}
	log.Info("position withdrawn",
		zap.String("fees0", receipt.Fees0.Dec()),
		zap.String("fees1", receipt.Fees1.Dec()),
		zap.String("principal0", receipt.Principal0.Dec()),
		zap.String("principal1", receipt.Principal1.Dec()),
	)

	// Burn.
	if err := v.backend.Positions.Burn(ctx, v.address, held); err != nil {
		return nil, externalErr("burn", err)
	}
	v.state.positionID = 0

	// Value(start).
	balance0, balance1, err := v.balances(ctx, pool)
	if err != nil {
		return nil, err
	}
	receipt.Start, err = v.CalculateValue(ctx, pool, balance0, balance1)
	if err != nil {
		return nil, fmt.Errorf("start value: %w", err)
	}
	log.Info("start value", zap.String("amount0", balance0.Dec()), zap.String("amount1", balance1.Dec()), zap.String("value", receipt.Start.Value.Dec()))

	// Swap and Value(end).
	receipt.End = receipt.Start
	if !req.Swap.Empty() {
		if err := v.swap(ctx, pool, req.Swap); err != nil {
			return nil, err
		}
		receipt.Swapped = true

		pool.SqrtPriceX96, err = v.backend.Prices.SqrtPriceX96(ctx, pool.Address)
		if err != nil {
			return nil, externalErr("read price", err)
		}
		balance0, balance1, err = v.balances(ctx, pool)
		if err != nil {
			return nil, err
		}
		receipt.End, err = v.CalculateValue(ctx, pool, balance0, balance1)
		if err != nil {
			return nil, fmt.Errorf("end value: %w", err)
		}
		log.Info("end value", zap.String("amount0", balance0.Dec()), zap.String("amount1", balance1.Dec()), zap.String("value", receipt.End.Value.Dec()))
	}
	if req.MinAmount0 != nil && balance0.Lt(req.MinAmount0) {
		return nil, fmt.Errorf("%w: token0 %s < %s", ErrSlippage, balance0.Dec(), req.MinAmount0.Dec())
	}
	if req.MinAmount1 != nil && balance1.Lt(req.MinAmount1) {
		return nil, fmt.Errorf("%w: token1 %s < %s", ErrSlippage, balance1.Dec(), req.MinAmount1.Dec())
	}

	// Loss check.
	receipt.LossPPM, err = VerifyLoss(receipt.Start.Value, receipt.End.Value, v.state.maxLossPPM)
	if err != nil {
		return nil, err
	}
	if v.cfg.MaxShare0BPS > 0 {
		share, err := Share0BPS(v.cfg.ReferenceSide, receipt.End)
		if err != nil {
			return nil, fmt.Errorf("share: %w", err)
		}
		if share < v.cfg.MinShare0BPS || share > v.cfg.MaxShare0BPS {
			return nil, fmt.Errorf("%w: token0 share %d bps outside [%d, %d]", ErrInvalidRequest, share, v.cfg.MinShare0BPS, v.cfg.MaxShare0BPS)
		}
	}
	log.Info("loss checked", zap.Int64("loss_ppm", receipt.LossPPM), zap.Uint32("max_loss_ppm", v.state.maxLossPPM))

	// Mint.
	manager := v.backend.Positions.Address()
	if err := v.ensureAllowance(ctx, pool.Token0, manager); err != nil {
		return nil, err
	}
	if err := v.ensureAllowance(ctx, pool.Token1, manager); err != nil {
		return nil, err
	}
	liquidity := clmath.LiquidityForAmounts(pool.SqrtPriceX96, newLower, newUpper, balance0, balance1)
	if liquidity.IsZero() {
		return nil, fmt.Errorf("%w: balances size to zero liquidity", ErrInvalidRequest)
	}
	amount0, amount1 := clmath.AmountsForLiquidity(pool.SqrtPriceX96, newLower, newUpper, liquidity)
	minted, err := v.backend.Positions.Mint(ctx, v.address, MintParams{
		Token0:         pool.Token0,
		Token1:         pool.Token1,
		Fee:            pool.Fee,
		TickLower:      req.TickLower,
		TickUpper:      req.TickUpper,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     slippageFloor(amount0),
		Amount1Min:     slippageFloor(amount1),
		Recipient:      v.address,
		Deadline:       v.deadline(),
	})
	if err != nil {
		return nil, externalErr("mint", err)
	}
	v.state.positionID = minted.ID
	receipt.NewPositionID = minted.ID
	receipt.Liquidity = minted.Liquidity
	receipt.Minted0 = minted.Amount0
	receipt.Minted1 = minted.Amount1
	receipt.SqrtPriceX96 = pool.SqrtPriceX96
	log.Info("position minted",
		zap.Uint64("new_position_id", minted.ID),
		zap.String("liquidity", minted.Liquidity.Dec()),
		zap.String("amount0", minted.Amount0.Dec()),
		zap.String("amount1", minted.Amount1.Dec()),
	)

	// Emit.
	if err := v.commit(ctx, held, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// commit persists the new held id and hands the event to the sink. A sink
// failure restores the persisted id.
func (v *Vault) commit(ctx context.Context, previous uint64, receipt *Receipt) error {
	if err := v.savePosition(ctx, receipt.NewPositionID); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	event := receipt.Event(v.address)
	v.logger.Info("repositioned",
		zap.Uint64("old_position_id", event.OldPositionID),
		zap.Uint64("new_position_id", event.NewPositionID),
		zap.String("start_value", event.StartValue),
		zap.String("end_value", event.EndValue),
		zap.Int64("loss_ppm", event.LossPPM),
	)
	if v.sink == nil {
		return nil
	}
	if err := v.sink.PutRepositionEvent(ctx, event); err != nil {
		if restoreErr := v.savePosition(ctx, previous); restoreErr != nil {
			v.logger.Error("restore position failed", zap.Uint64("position_id", previous), zap.Error(restoreErr))
		}
		return fmt.Errorf("emit event: %w", err)
	}
	return nil
}

func (v *Vault) collect(ctx context.Context, id uint64) (*uint256.Int, *uint256.Int, error) {
	amount0, amount1, err := v.backend.Positions.Collect(ctx, v.address, CollectParams{
		ID:         id,
		Recipient:  v.address,
		Amount0Max: clmath.MaxUint128,
		Amount1Max: clmath.MaxUint128,
	})
	if err != nil {
		return nil, nil, externalErr("collect", err)
	}
	return amount0, amount1, nil
}

func (v *Vault) balances(ctx context.Context, pool model.Pool) (*uint256.Int, *uint256.Int, error) {
	balance0, err := v.backend.Tokens.BalanceOf(ctx, pool.Token0, v.address)
	if err != nil {
		return nil, nil, externalErr("balance token0", err)
	}
	balance1, err := v.backend.Tokens.BalanceOf(ctx, pool.Token1, v.address)
	if err != nil {
		return nil, nil, externalErr("balance token1", err)
	}
	return balance0, balance1, nil
}

func (v *Vault) swap(ctx context.Context, pool model.Pool, swap model.SwapInstruction) error {
	if v.backend.Exchange == nil {
		return fmt.Errorf("%w: no exchange configured", ErrSwapFailed)
	}
	if err := v.ensureAllowance(ctx, pool.Token0, swap.Target); err != nil {
		return err
	}
	if err := v.ensureAllowance(ctx, pool.Token1, swap.Target); err != nil {
		return err
	}
	if err := v.backend.Exchange.Execute(ctx, v.address, swap); err != nil {
		return fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}
	v.logger.Info("swap executed", zap.String("target", swap.Target.Hex()), zap.Int("data_len", len(swap.Data)))
	return nil
}

// ensureAllowance approves spender for the maximum amount only when the
// current allowance is exactly zero.
func (v *Vault) ensureAllowance(ctx context.Context, token, spender common.Address) error {
	current, err := v.backend.Tokens.Allowance(ctx, token, v.address, spender)
	if err != nil {
		return externalErr("allowance", err)
	}
	if !current.IsZero() {
		return nil
	}
	if err := v.backend.Tokens.Approve(ctx, token, v.address, spender, clmath.MaxUint256); err != nil {
		return externalErr("approve", err)
	}
	return nil
}

func rangeRatios(lower, upper int32) (*uint256.Int, *uint256.Int, error) {
	if lower >= upper {
		return nil, nil, fmt.Errorf("%w: tick lower %d not below upper %d", ErrInvalidRequest, lower, upper)
	}
	sqrtLower, err := clmath.SqrtRatioAtTick(lower)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	sqrtUpper, err := clmath.SqrtRatioAtTick(upper)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return sqrtLower, sqrtUpper, nil
}

func slippageFloor(amount *uint256.Int) *uint256.Int {
	return clmath.MulDiv(amount, uint256.NewInt(BPSScale-mintSlippageBPS), uint256.NewInt(BPSScale))
}
