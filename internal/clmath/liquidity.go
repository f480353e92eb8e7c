package clmath

import "github.com/holiman/uint256"

// LiquidityForAmount0 computes liquidity from an amount of token0 over [sqrtA, sqrtB].
func LiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	intermediate := MulDiv(sqrtA, sqrtB, Q96)
	return toUint128(MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA)))
}

// LiquidityForAmount1 computes liquidity from an amount of token1 over [sqrtA, sqrtB].
func LiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	return toUint128(MulDiv(amount1, Q96, new(uint256.Int).Sub(sqrtB, sqrtA)))
}

// LiquidityForAmounts returns the largest liquidity that amount0 and amount1
// can fund at price sqrtPrice for the range [sqrtA, sqrtB].
func LiquidityForAmounts(sqrtPrice, sqrtA, sqrtB, amount0, amount1 *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	switch {
	case !sqrtPrice.Gt(sqrtA):
		return LiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtPrice.Lt(sqrtB):
		liquidity0 := LiquidityForAmount0(sqrtPrice, sqrtB, amount0)
		liquidity1 := LiquidityForAmount1(sqrtA, sqrtPrice, amount1)
		if liquidity0.Lt(liquidity1) {
			return liquidity0
		}
		return liquidity1
	default:
		return LiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// Amount0ForLiquidity is the token0 value of liquidity over [sqrtA, sqrtB], rounded down.
func Amount0ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		panic(ErrOverflow)
	}
	numerator := new(uint256.Int).Lsh(liquidity, 96)
	amount := MulDiv(numerator, new(uint256.Int).Sub(sqrtB, sqrtA), sqrtB)
	return amount.Div(amount, sqrtA)
}

// Amount1ForLiquidity is the token1 value of liquidity over [sqrtA, sqrtB], rounded down.
func Amount1ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	return MulDiv(liquidity, new(uint256.Int).Sub(sqrtB, sqrtA), Q96)
}

// AmountsForLiquidity returns the token amounts liquidity is worth at
// sqrtPrice for the range [sqrtA, sqrtB]. Below the range only token0 is
// held, above it only token1.
func AmountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity *uint256.Int) (amount0, amount1 *uint256.Int) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	switch {
	case !sqrtPrice.Gt(sqrtA):
		return Amount0ForLiquidity(sqrtA, sqrtB, liquidity), new(uint256.Int)
	case sqrtPrice.Lt(sqrtB):
		return Amount0ForLiquidity(sqrtPrice, sqrtB, liquidity), Amount1ForLiquidity(sqrtA, sqrtPrice, liquidity)
	default:
		return new(uint256.Int), Amount1ForLiquidity(sqrtA, sqrtB, liquidity)
	}
}

// Amount0Delta is the pool-side token0 delta for liquidity between two prices.
// Mints round up, burns round down.
func Amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		panic(ErrOverflow)
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return divRoundingUp(MulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA)
	}
	amount := MulDiv(numerator1, numerator2, sqrtB)
	return amount.Div(amount, sqrtA)
}

// Amount1Delta is the pool-side token1 delta for liquidity between two prices.
func Amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

// AmountDeltas returns the pool-side deltas for liquidity at sqrtPrice in
// [sqrtA, sqrtB], using the same three-region split as AmountsForLiquidity.
func AmountDeltas(sqrtPrice, sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (amount0, amount1 *uint256.Int) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	switch {
	case !sqrtPrice.Gt(sqrtA):
		return Amount0Delta(sqrtA, sqrtB, liquidity, roundUp), new(uint256.Int)
	case sqrtPrice.Lt(sqrtB):
		return Amount0Delta(sqrtPrice, sqrtB, liquidity, roundUp), Amount1Delta(sqrtA, sqrtPrice, liquidity, roundUp)
	default:
		return new(uint256.Int), Amount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	}
}
