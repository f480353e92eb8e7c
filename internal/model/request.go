package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SwapInstruction is an opaque call forwarded to an external exchange.
// The vault never interprets Data.
type SwapInstruction struct {
	Target common.Address
	Data   []byte
}

// Empty reports whether there is nothing to execute.
func (s SwapInstruction) Empty() bool {
	return len(s.Data) == 0
}

// RepositionRequest asks the vault to move its position to a new range.
type RepositionRequest struct {
	TickLower  int32
	TickUpper  int32
	MinAmount0 *uint256.Int
	MinAmount1 *uint256.Int
	Swap       SwapInstruction
}
