package vault

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/model"
)

// PositionReader reads range deposits by id. Unknown ids fail with ErrNotFound.
type PositionReader interface {
	Position(ctx context.Context, id uint64) (model.Position, error)
}

// PositionManager is the range-deposit manager. Every mutating call is made
// on behalf of caller and carries its own deadline and slippage bounds.
type PositionManager interface {
	PositionReader
	Address() common.Address
	Mint(ctx context.Context, caller common.Address, params MintParams) (MintResult, error)
	IncreaseLiquidity(ctx context.Context, caller common.Address, params IncreaseLiquidityParams) (liquidity, amount0, amount1 *uint256.Int, err error)
	DecreaseLiquidity(ctx context.Context, caller common.Address, params DecreaseLiquidityParams) (amount0, amount1 *uint256.Int, err error)
	Collect(ctx context.Context, caller common.Address, params CollectParams) (amount0, amount1 *uint256.Int, err error)
	Burn(ctx context.Context, caller common.Address, id uint64) error
	TransferFrom(ctx context.Context, caller, from, to common.Address, id uint64) error
}

// PoolFactory resolves pools. A zero address means no such pool.
type PoolFactory interface {
	GetPool(ctx context.Context, token0, token1 common.Address, fee uint32) (common.Address, error)
}

// PriceSource exposes a pool's current square-root price.
type PriceSource interface {
	SqrtPriceX96(ctx context.Context, pool common.Address) (*uint256.Int, error)
}

// Quoter estimates swap output at the current price without changing state.
type Quoter interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn, sqrtPriceLimitX96 *uint256.Int) (*uint256.Int, error)
}

// Exchange executes an opaque swap instruction on behalf of caller.
type Exchange interface {
	Execute(ctx context.Context, caller common.Address, swap model.SwapInstruction) error
}

// BalanceReader reads ERC20 balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error)
}

// TokenLedger is the ERC20 surface the vault needs.
type TokenLedger interface {
	BalanceReader
	Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error)
	Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
}

// Journal snapshots and reverts collaborator state, so a failed operation
// leaves nothing behind. A successful one discards its snapshot.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// KVStore is the persisted administration record.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// EventSink receives reposition events.
type EventSink interface {
	PutRepositionEvent(ctx context.Context, event model.RepositionEvent) error
}

// Backend bundles the collaborators a vault operates against.
type Backend struct {
	Positions PositionManager
	Factory   PoolFactory
	Prices    PriceSource
	Quoter    Quoter
	Exchange  Exchange
	Tokens    TokenLedger
	Journal   Journal
	Clock     func() time.Time
}

// MintParams mirrors the position manager's mint arguments.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            uint32
	TickLower      int32
	TickUpper      int32
	Amount0Desired *uint256.Int
	Amount1Desired *uint256.Int
	Amount0Min     *uint256.Int
	Amount1Min     *uint256.Int
	Recipient      common.Address
	Deadline       uint64
}

// MintResult is returned by PositionManager.Mint.
type MintResult struct {
	ID        uint64
	Liquidity *uint256.Int
	Amount0   *uint256.Int
	Amount1   *uint256.Int
}

type IncreaseLiquidityParams struct {
	ID             uint64
	Amount0Desired *uint256.Int
	Amount1Desired *uint256.Int
	Amount0Min     *uint256.Int
	Amount1Min     *uint256.Int
	Deadline       uint64
}

type DecreaseLiquidityParams struct {
	ID         uint64
	Liquidity  *uint256.Int
	Amount0Min *uint256.Int
	Amount1Min *uint256.Int
	Deadline   uint64
}

type CollectParams struct {
	ID         uint64
	Recipient  common.Address
	Amount0Max *uint256.Int
	Amount1Max *uint256.Int
}
