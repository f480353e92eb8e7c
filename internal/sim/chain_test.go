package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/vault"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testMarket struct {
	chain  *Chain
	token0 common.Address
	token1 common.Address
	pool   common.Address
}

func newTestMarket(t *testing.T) testMarket {
	t.Helper()
	chain := New(time.Unix(1_700_000_000, 0))
	a := chain.Tokens().Deploy("WETH", "Wrapped Ether", 18)
	b := chain.Tokens().Deploy("USDC", "USD Coin", 6)
	token0, token1 := SortTokens(a, b)
	pool, err := chain.Factory().CreatePool(a, b, 500, clmath.Q96)
	require.NoError(t, err)

	ctx := context.Background()
	funding := uint256.MustFromDecimal("1000000000000000000000000")
	for _, token := range []common.Address{token0, token1} {
		require.NoError(t, chain.Tokens().Mint(token, alice, funding))
		require.NoError(t, chain.Tokens().Approve(ctx, token, alice, chain.Manager().Address(), clmath.MaxUint256))
	}
	return testMarket{chain: chain, token0: token0, token1: token1, pool: pool}
}

func TestComputePoolAddressIsOrderIndependent(t *testing.T) {
	m := newTestMarket(t)
	forward, err := ComputePoolAddress(m.chain.Factory().Address(), m.token0, m.token1, 500)
	require.NoError(t, err)
	backward, err := ComputePoolAddress(m.chain.Factory().Address(), m.token1, m.token0, 500)
	require.NoError(t, err)
	require.Equal(t, forward, backward)
	require.Equal(t, m.pool, forward)

	other, err := ComputePoolAddress(m.chain.Factory().Address(), m.token0, m.token1, 3000)
	require.NoError(t, err)
	require.NotEqual(t, forward, other)

	got, err := m.chain.Factory().GetPool(context.Background(), m.token1, m.token0, 500)
	require.NoError(t, err)
	require.Equal(t, m.pool, got)

	missing, err := m.chain.Factory().GetPool(context.Background(), m.token0, m.token1, 100)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, missing)
}

func TestSnapshotRevertRestoresBalancesAndPositions(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	before, err := m.chain.Tokens().BalanceOf(ctx, m.token0, alice)
	require.NoError(t, err)

	snapshot := m.chain.Snapshot()
	minted, err := m.chain.Manager().MintLiquidity(alice, m.token0, m.token1, 500, -100, 100, uint256.NewInt(1_000_000_000), alice)
	require.NoError(t, err)
	after, err := m.chain.Tokens().BalanceOf(ctx, m.token0, alice)
	require.NoError(t, err)
	require.True(t, after.Lt(before))

	m.chain.RevertToSnapshot(snapshot)

	restored, err := m.chain.Tokens().BalanceOf(ctx, m.token0, alice)
	require.NoError(t, err)
	require.Equal(t, before, restored)
	_, err = m.chain.Manager().Position(ctx, minted.ID)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestPositionLifecycle(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	manager := m.chain.Manager()
	deadline := uint64(m.chain.Now().Add(time.Minute).Unix())

	minted, err := manager.Mint(ctx, alice, vault.MintParams{
		Token0:         m.token0,
		Token1:         m.token1,
		Fee:            500,
		TickLower:      -100,
		TickUpper:      100,
		Amount0Desired: uint256.NewInt(1_000_000),
		Amount1Desired: uint256.NewInt(1_000_000),
		Recipient:      alice,
		Deadline:       deadline,
	})
	require.NoError(t, err)
	require.False(t, minted.Liquidity.IsZero())
	require.False(t, minted.Amount0.Gt(uint256.NewInt(1_000_000)))
	require.False(t, minted.Amount1.Gt(uint256.NewInt(1_000_000)))

	require.ErrorIs(t, manager.Burn(ctx, alice, minted.ID), ErrNotCleared)

	_, _, err = manager.DecreaseLiquidity(ctx, bob, vault.DecreaseLiquidityParams{ID: minted.ID, Liquidity: minted.Liquidity, Deadline: deadline})
	require.ErrorIs(t, err, ErrNotApproved)

	out0, out1, err := manager.DecreaseLiquidity(ctx, alice, vault.DecreaseLiquidityParams{ID: minted.ID, Liquidity: minted.Liquidity, Deadline: deadline})
	require.NoError(t, err)
	require.False(t, out0.Gt(minted.Amount0))
	require.False(t, out1.Gt(minted.Amount1))

	got0, got1, err := manager.Collect(ctx, alice, vault.CollectParams{ID: minted.ID, Recipient: alice, Amount0Max: clmath.MaxUint128, Amount1Max: clmath.MaxUint128})
	require.NoError(t, err)
	require.Equal(t, out0, got0)
	require.Equal(t, out1, got1)

	require.NoError(t, manager.Burn(ctx, alice, minted.ID))
	_, err = manager.Position(ctx, minted.ID)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestMintRejectsExpiredDeadlineAndBadTicks(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	params := vault.MintParams{
		Token0:         m.token0,
		Token1:         m.token1,
		Fee:            500,
		TickLower:      -100,
		TickUpper:      100,
		Amount0Desired: uint256.NewInt(1_000_000),
		Amount1Desired: uint256.NewInt(1_000_000),
		Recipient:      alice,
		Deadline:       uint64(m.chain.Now().Unix()) - 1,
	}
	_, err := m.chain.Manager().Mint(ctx, alice, params)
	require.ErrorIs(t, err, ErrExpired)

	params.Deadline = uint64(m.chain.Now().Add(time.Minute).Unix())
	params.TickLower = -105
	_, err = m.chain.Manager().Mint(ctx, alice, params)
	require.ErrorIs(t, err, ErrInvalidTicks)
}

func TestCollectPaysAccruedFees(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	manager := m.chain.Manager()
	minted, err := manager.MintLiquidity(alice, m.token0, m.token1, 500, -100, 100, uint256.NewInt(1_000_000_000), alice)
	require.NoError(t, err)
	require.NoError(t, manager.AccrueFees(minted.ID, uint256.NewInt(7), uint256.NewInt(11)))

	got0, got1, err := manager.Collect(ctx, alice, vault.CollectParams{ID: minted.ID, Recipient: bob, Amount0Max: uint256.NewInt(5), Amount1Max: clmath.MaxUint128})
	require.NoError(t, err)
	require.Equal(t, uint64(5), got0.Uint64())
	require.Equal(t, uint64(11), got1.Uint64())

	pos, err := manager.Position(ctx, minted.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), pos.TokensOwed0.Uint64())
	require.True(t, pos.TokensOwed1.IsZero())
}

type rejectingReceiver struct{ calls int }

func (r *rejectingReceiver) OnPositionReceived(context.Context, common.Address, common.Address, common.Address, uint64) error {
	r.calls++
	return errors.New("rejected")
}

func TestSafeTransferRevertsWhenReceiverRejects(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	manager := m.chain.Manager()
	minted, err := manager.MintLiquidity(alice, m.token0, m.token1, 500, -100, 100, uint256.NewInt(1_000_000_000), alice)
	require.NoError(t, err)

	receiver := &rejectingReceiver{}
	manager.RegisterReceiver(bob, receiver)
	require.Error(t, manager.SafeTransferFrom(ctx, alice, alice, bob, minted.ID))
	require.Equal(t, 1, receiver.calls)

	owner, err := manager.OwnerOf(minted.ID)
	require.NoError(t, err)
	require.Equal(t, alice, owner)
}

func TestRouterSwapsAtQuotedPrice(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	router := m.chain.Router()
	require.NoError(t, m.chain.Tokens().Mint(m.token1, m.pool, uint256.NewInt(1_000_000)))
	require.NoError(t, m.chain.Tokens().Approve(ctx, m.token0, alice, router.Address(), uint256.NewInt(10_000)))

	quoted, err := m.chain.Quoter().Quote(ctx, m.token0, m.token1, 500, uint256.NewInt(10_000), new(uint256.Int))
	require.NoError(t, err)
	require.Equal(t, uint64(9_995), quoted.Uint64())

	before1, err := m.chain.Tokens().BalanceOf(ctx, m.token1, alice)
	require.NoError(t, err)

	instruction, err := router.Instruction(Swap{TokenIn: m.token0, TokenOut: m.token1, Fee: 500, AmountIn: uint256.NewInt(10_000), AmountOutMin: quoted})
	require.NoError(t, err)
	require.NoError(t, router.Execute(ctx, alice, instruction))

	after1, err := m.chain.Tokens().BalanceOf(ctx, m.token1, alice)
	require.NoError(t, err)
	require.Equal(t, quoted, new(uint256.Int).Sub(after1, before1))

	allowance, err := m.chain.Tokens().Allowance(ctx, m.token0, alice, router.Address())
	require.NoError(t, err)
	require.True(t, allowance.IsZero())
}

func TestRouterRejectsShortfallAndUnknownTarget(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	router := m.chain.Router()
	require.NoError(t, m.chain.Tokens().Mint(m.token1, m.pool, uint256.NewInt(1_000_000)))
	require.NoError(t, m.chain.Tokens().Approve(ctx, m.token0, alice, router.Address(), clmath.MaxUint256))

	instruction, err := router.Instruction(Swap{TokenIn: m.token0, TokenOut: m.token1, Fee: 500, AmountIn: uint256.NewInt(10_000), AmountOutMin: uint256.NewInt(10_000)})
	require.NoError(t, err)
	require.ErrorIs(t, router.Execute(ctx, alice, instruction), ErrTooLittleReceived)

	instruction.Target = bob
	require.ErrorIs(t, router.Execute(ctx, alice, instruction), ErrUnknownTarget)
}

func TestSuccessfulCallsReleaseTheirSnapshots(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	manager := m.chain.Manager()
	router := m.chain.Router()
	require.NoError(t, m.chain.Tokens().Mint(m.token1, m.pool, uint256.NewInt(1_000_000)))
	require.NoError(t, m.chain.Tokens().Approve(ctx, m.token0, alice, router.Address(), clmath.MaxUint256))
	minted, err := manager.MintLiquidity(alice, m.token0, m.token1, 500, -100, 100, uint256.NewInt(1_000_000_000), alice)
	require.NoError(t, err)

	outer := m.chain.Snapshot()
	for i := 0; i < 5; i++ {
		require.NoError(t, manager.SafeTransferFrom(ctx, alice, alice, bob, minted.ID))
		require.NoError(t, manager.SafeTransferFrom(ctx, bob, bob, alice, minted.ID))

		instruction, err := router.Instruction(Swap{TokenIn: m.token0, TokenOut: m.token1, Fee: 500, AmountIn: uint256.NewInt(100), AmountOutMin: new(uint256.Int)})
		require.NoError(t, err)
		require.NoError(t, router.Execute(ctx, alice, instruction))
	}
	require.Equal(t, 1, m.chain.Revisions())

	// The enclosing snapshot still rolls back everything done inside it.
	m.chain.RevertToSnapshot(outer)
	require.Zero(t, m.chain.Revisions())
	owner, err := manager.OwnerOf(minted.ID)
	require.NoError(t, err)
	require.Equal(t, alice, owner)
}
