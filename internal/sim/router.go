package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/model"
)

// Swap is the router's exact-input instruction.
type Swap struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Fee          uint32
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
}

var (
	swapArgs     abi.Arguments
	swapArgsOnce sync.Once
	swapArgsErr  error
)

func swapArguments() (abi.Arguments, error) {
	swapArgsOnce.Do(func() {
		types := []string{"address", "address", "uint24", "uint256", "uint256"}
		for _, name := range types {
			typ, err := abi.NewType(name, "", nil)
			if err != nil {
				swapArgsErr = err
				return
			}
			swapArgs = append(swapArgs, abi.Argument{Type: typ})
		}
	})
	return swapArgs, swapArgsErr
}

// EncodeSwap ABI-encodes swap as router instruction data.
func EncodeSwap(swap Swap) ([]byte, error) {
	args, err := swapArguments()
	if err != nil {
		return nil, err
	}
	minOut := swap.AmountOutMin
	if minOut == nil {
		minOut = new(uint256.Int)
	}
	return args.Pack(
		swap.TokenIn,
		swap.TokenOut,
		new(big.Int).SetUint64(uint64(swap.Fee)),
		swap.AmountIn.ToBig(),
		minOut.ToBig(),
	)
}

// DecodeSwap parses router instruction data.
func DecodeSwap(data []byte) (Swap, error) {
	args, err := swapArguments()
	if err != nil {
		return Swap{}, err
	}
	values, err := args.Unpack(data)
	if err != nil {
		return Swap{}, fmt.Errorf("decode swap: %w", err)
	}
	if len(values) != 5 {
		return Swap{}, fmt.Errorf("decode swap: %d values", len(values))
	}
	tokenIn, ok1 := values[0].(common.Address)
	tokenOut, ok2 := values[1].(common.Address)
	fee, ok3 := values[2].(*big.Int)
	amountIn, ok4 := values[3].(*big.Int)
	minOut, ok5 := values[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Swap{}, fmt.Errorf("decode swap: unexpected value types")
	}
	in, overflow := uint256.FromBig(amountIn)
	if overflow {
		return Swap{}, fmt.Errorf("decode swap: amount in overflows")
	}
	out, overflow := uint256.FromBig(minOut)
	if overflow {
		return Swap{}, fmt.Errorf("decode swap: min out overflows")
	}
	return Swap{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		Fee:          uint32(fee.Uint64()),
		AmountIn:     in,
		AmountOutMin: out,
	}, nil
}

// Router executes swaps at the quoted price less its configured slippage,
// pulling input from the caller against its allowance and paying output from
// the pool's reserves.
type Router struct {
	chain       *Chain
	address     common.Address
	slippageBPS uint32
}

func (r *Router) Address() common.Address { return r.address }

// SetSlippage makes every execution pay bps basis points less than quoted.
func (r *Router) SetSlippage(bps uint32) error {
	if bps > 10_000 {
		return fmt.Errorf("slippage %d bps above 10000", bps)
	}
	r.slippageBPS = bps
	return nil
}

// Instruction wraps encoded swap data for this router.
func (r *Router) Instruction(swap Swap) (model.SwapInstruction, error) {
	data, err := EncodeSwap(swap)
	if err != nil {
		return model.SwapInstruction{}, err
	}
	return model.SwapInstruction{Target: r.address, Data: data}, nil
}

func (r *Router) Execute(_ context.Context, caller common.Address, instruction model.SwapInstruction) error {
	if instruction.Target != r.address {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, instruction.Target.Hex())
	}
	if r.chain.swapHook != nil {
		if err := r.chain.swapHook(); err != nil {
			return err
		}
	}
	swap, err := DecodeSwap(instruction.Data)
	if err != nil {
		return err
	}
	out, err := r.chain.quote(swap.TokenIn, swap.TokenOut, swap.Fee, swap.AmountIn)
	if err != nil {
		return err
	}
	if r.slippageBPS > 0 {
		out = clmath.MulDiv(out, uint256.NewInt(uint64(10_000-r.slippageBPS)), uint256.NewInt(10_000))
	}
	if out.Lt(swap.AmountOutMin) {
		return fmt.Errorf("%w: %s < %s", ErrTooLittleReceived, out.Dec(), swap.AmountOutMin.Dec())
	}
	token0, token1 := SortTokens(swap.TokenIn, swap.TokenOut)
	pool := r.chain.state.poolIndex[poolKey{token0: token0, token1: token1, fee: swap.Fee}]
	if r.chain.balance(swap.TokenOut, pool).Lt(out) {
		return fmt.Errorf("pool reserves of %s below %s", swap.TokenOut.Hex(), out.Dec())
	}

	snapshot := r.chain.Snapshot()
	if err := r.chain.transferFrom(swap.TokenIn, r.address, caller, pool, swap.AmountIn); err != nil {
		r.chain.RevertToSnapshot(snapshot)
		return fmt.Errorf("pay %s: %w", swap.TokenIn.Hex(), err)
	}
	if err := r.chain.transfer(swap.TokenOut, pool, caller, out); err != nil {
		r.chain.RevertToSnapshot(snapshot)
		return fmt.Errorf("pay out %s: %w", swap.TokenOut.Hex(), err)
	}
	r.chain.DiscardSnapshot(snapshot)
	return nil
}
