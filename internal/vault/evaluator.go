package vault

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/model"
)

// CalculateValue expresses the two balances in the configured reference
// asset, quoting the other side at the current pool price.
func (v *Vault) CalculateValue(ctx context.Context, pool model.Pool, balance0, balance1 *uint256.Int) (model.ValueSnapshot, error) {
	return CalculateValue(ctx, v.backend.Quoter, v.cfg.ReferenceSide, pool, balance0, balance1)
}

// CalculateValue values (balance0, balance1) in side's asset.
func CalculateValue(ctx context.Context, quoter Quoter, side Side, pool model.Pool, balance0, balance1 *uint256.Int) (model.ValueSnapshot, error) {
	snapshot := model.ValueSnapshot{
		Amount0: new(uint256.Int).Set(balance0),
		Amount1: new(uint256.Int).Set(balance1),
	}

	var held, other *uint256.Int
	var tokenIn, tokenOut = pool.Token0, pool.Token1
	switch side {
	case SideToken1:
		held, other = balance1, balance0
	case SideToken0:
		held, other = balance0, balance1
		tokenIn, tokenOut = pool.Token1, pool.Token0
	default:
		return model.ValueSnapshot{}, fmt.Errorf("%w: %s", ErrUnsupportedSide, side)
	}

	quoted := new(uint256.Int)
	if !other.IsZero() {
		out, err := quoter.Quote(ctx, tokenIn, tokenOut, pool.Fee, other, new(uint256.Int))
		if err != nil {
			return model.ValueSnapshot{}, externalErr("quote", err)
		}
		quoted = out
	}

	value, overflow := new(uint256.Int).AddOverflow(held, quoted)
	if overflow {
		return model.ValueSnapshot{}, fmt.Errorf("value: %w", ErrArithmeticOverflow)
	}
	snapshot.Value = value
	return snapshot, nil
}

// VerifyLoss returns the loss from start to end in parts per million,
// positive when value decreased and truncated toward zero. Gains are
// negative and saturate at the int64 range. The loss is returned alongside
// ErrLossExceeded when it is above maxLossPPM.
func VerifyLoss(start, end *uint256.Int, maxLossPPM uint32) (int64, error) {
	if start.IsZero() {
		return 0, ErrZeroStartValue
	}
	scale := uint256.NewInt(PPMScale)

	var loss int64
	if end.Cmp(start) <= 0 {
		diff := new(uint256.Int).Sub(start, end)
		loss = int64(clmath.MulDiv(diff, scale, start).Uint64())
	} else {
		diff := new(uint256.Int).Sub(end, start)
		// The whole-part check keeps MulDiv below 2^256; the quotient check
		// catches fractions that still push it past the int64 range.
		whole := new(uint256.Int).Div(diff, start)
		if whole.GtUint64(math.MaxInt64 / PPMScale) {
			loss = -math.MaxInt64
		} else if q := clmath.MulDiv(diff, scale, start); !q.IsUint64() || q.Uint64() > math.MaxInt64 {
			loss = -math.MaxInt64
		} else {
			loss = -int64(q.Uint64())
		}
	}

	if loss > int64(maxLossPPM) {
		return loss, fmt.Errorf("%w: %d ppm above %d", ErrLossExceeded, loss, maxLossPPM)
	}
	return loss, nil
}

// Share0BPS returns the token0 share of the snapshot value in basis points.
func Share0BPS(side Side, snapshot model.ValueSnapshot) (uint32, error) {
	if snapshot.Value == nil || snapshot.Value.IsZero() {
		return 0, nil
	}
	var value0 *uint256.Int
	switch side {
	case SideToken0:
		value0 = snapshot.Amount0
	case SideToken1:
		if snapshot.Value.Lt(snapshot.Amount1) {
			return 0, errors.New("value below token1 balance")
		}
		value0 = new(uint256.Int).Sub(snapshot.Value, snapshot.Amount1)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSide, side)
	}
	if value0.Gt(snapshot.Value) {
		return BPSScale, nil
	}
	bps := clmath.MulDiv(value0, uint256.NewInt(BPSScale), snapshot.Value)
	return uint32(bps.Uint64()), nil
}

func isOverflow(recovered any) bool {
	err, ok := recovered.(error)
	return ok && errors.Is(err, clmath.ErrOverflow)
}
