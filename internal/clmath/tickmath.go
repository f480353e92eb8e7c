package clmath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	MinTick int32 = -887272 // The minimum tick usable on any pool.
	MaxTick int32 = -MinTick
)

var (
	// MinSqrtRatio is SqrtRatioAtTick(MinTick).
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio is SqrtRatioAtTick(MaxTick).
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")
)

// ErrTickOutOfRange is returned for ticks beyond [MinTick, MaxTick].
var ErrTickOutOfRange = errors.New("tick out of range")

// Multipliers are sqrt(1.0001)^-(2^i) as Q128.128, one per bit of |tick|.
var tickMultipliers = mustHexes(
	"0xfff97272373d413259a46990580e213a",
	"0xfff2e50f5f656932ef12357cf3c7fdcc",
	"0xffe5caca7e10e4e61c3624eaa0941cd0",
	"0xffcb9843d60f6159c9db58835c926644",
	"0xff973b41fa98c081472e6896dfb254c0",
	"0xff2ea16466c96a3843ec78b326b52861",
	"0xfe5dee046a99a2a811c461f1969c3053",
	"0xfcbe86c7900a88aedcffc83b479aa3a4",
	"0xf987a7253ac413176f2b074cf7815e54",
	"0xf3392b0822b70005940c7a398e4b70f3",
	"0xe7159475a2c29b7443b29c7fa6e889d9",
	"0xd097f3bdfd2022b8845ad8f792aa5825",
	"0xa9f746462d870fdf8a65dc1f90e061e5",
	"0x70d869a156d2a1b890bb3df62baf32f7",
	"0x31be135f97d08fd981231505542fcfa6",
	"0x9aa508b5b7a84e1c677de54f3e99bc9",
	"0x5d6af8dedb81196699c329225ee604",
	"0x2216e584f5fa1ea926041bedfe98",
	"0x48a170391f7dc42444e8fa2",
)

var (
	ratioOddTick  = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	ratioEvenTick = uint256.MustFromHex("0x100000000000000000000000000000000")
)

func mustHexes(values ...string) []*uint256.Int {
	out := make([]*uint256.Int, 0, len(values))
	for _, v := range values {
		out = append(out, uint256.MustFromHex(v))
	}
	return out
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value, rounded up.
func SqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&0x1 != 0 {
		ratio.Set(ratioOddTick)
	} else {
		ratio.Set(ratioEvenTick)
	}
	for i, multiplier := range tickMultipliers {
		if absTick&(1<<(i+1)) != 0 {
			ratio.Mul(ratio, multiplier)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(MaxUint256, ratio)
	}

	// Q128.128 to Q64.96, rounding up so that TickAtSqrtRatio is consistent.
	remainder := new(uint256.Int).And(ratio, uint256.NewInt(0xffffffff))
	ratio.Rsh(ratio, 32)
	if !remainder.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// MustSqrtRatioAtTick is SqrtRatioAtTick for ticks already validated by the caller.
func MustSqrtRatioAtTick(tick int32) *uint256.Int {
	ratio, err := SqrtRatioAtTick(tick)
	if err != nil {
		panic(err)
	}
	return ratio
}

// TickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
func TickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("sqrt ratio %s out of range", sqrtPriceX96.Dec())
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if MustSqrtRatioAtTick(mid).Gt(sqrtPriceX96) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}

// ValidTick reports whether tick lies in [MinTick, MaxTick].
func ValidTick(tick int32) bool {
	return tick >= MinTick && tick <= MaxTick
}
