package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is a snapshot of a held range deposit. Range and liquidity come
// from a single position-manager read.
type Position struct {
	ID        uint64
	Token0    common.Address
	Token1    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32
	Liquidity *uint256.Int
	// TokensOwed are amounts already credited to the position and not yet collected.
	TokensOwed0 *uint256.Int
	TokensOwed1 *uint256.Int
}

// Width returns the range width in ticks.
func (p Position) Width() int32 {
	return p.TickUpper - p.TickLower
}

// Pool is the pool snapshot derived from a Position. SqrtPriceX96 is valid
// only for the phase it was read in.
type Pool struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	SqrtPriceX96 *uint256.Int
}

// ValueSnapshot is a pair of balances and their value in the reference asset.
type ValueSnapshot struct {
	Amount0 *uint256.Int
	Amount1 *uint256.Int
	Value   *uint256.Int
}
