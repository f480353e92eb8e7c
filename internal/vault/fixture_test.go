package vault_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/sim"
	"rangeKeeper/internal/storage"
	"rangeKeeper/internal/vault"
)

var (
	vaultAddress = common.HexToAddress("0x000000000000000000000000000000000000a017")
	owner        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	stranger     = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

const testFee = 500

type recordingSink struct {
	events []model.RepositionEvent
	err    error
}

func (s *recordingSink) PutRepositionEvent(_ context.Context, event model.RepositionEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type fixture struct {
	ctx        context.Context
	chain      *sim.Chain
	vault      *vault.Vault
	store      *storage.MemoryStore
	sink       *recordingSink
	token0     common.Address
	token1     common.Address
	pool       common.Address
	positionID uint64
}

func defaultTestConfig() vault.Config {
	cfg := vault.DefaultConfig()
	cfg.DeadlineWindow = time.Minute
	return cfg
}

// newFixture deploys a market at tick 0, mints a [-100, 100] position of
// the given liquidity for the owner and hands it to a fresh vault with an
// operator configured.
func newFixture(t *testing.T, cfg vault.Config, liquidity *uint256.Int) *fixture {
	t.Helper()
	ctx := context.Background()
	chain := sim.New(time.Unix(1_700_000_000, 0))
	a := chain.Tokens().Deploy("WETH", "Wrapped Ether", 18)
	b := chain.Tokens().Deploy("DAI", "Dai Stablecoin", 18)
	token0, token1 := sim.SortTokens(a, b)
	pool, err := chain.Factory().CreatePool(token0, token1, testFee, clmath.Q96)
	require.NoError(t, err)

	funding := uint256.MustFromDecimal("1000000000000000000000000000")
	for _, token := range []common.Address{token0, token1} {
		require.NoError(t, chain.Tokens().Mint(token, owner, funding))
		require.NoError(t, chain.Tokens().Approve(ctx, token, owner, chain.Manager().Address(), clmath.MaxUint256))
	}
	minted, err := chain.Manager().MintLiquidity(owner, token0, token1, testFee, -100, 100, liquidity, owner)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	v, err := vault.New(cfg, vaultAddress, chain.Backend(), store, sink, nil)
	require.NoError(t, err)
	chain.Manager().RegisterReceiver(vaultAddress, v)

	require.NoError(t, v.ClaimOwnership(ctx, owner))
	require.NoError(t, v.SetOperator(ctx, owner, operator, true))
	require.NoError(t, chain.Manager().SafeTransferFrom(ctx, owner, owner, vaultAddress, minted.ID))
	require.Equal(t, minted.ID, v.HeldPosition())

	return &fixture{
		ctx:        ctx,
		chain:      chain,
		vault:      v,
		store:      store,
		sink:       sink,
		token0:     token0,
		token1:     token1,
		pool:       pool,
		positionID: minted.ID,
	}
}

func (f *fixture) balances(t *testing.T, account common.Address) (*uint256.Int, *uint256.Int) {
	t.Helper()
	b0, err := f.chain.Tokens().BalanceOf(f.ctx, f.token0, account)
	require.NoError(t, err)
	b1, err := f.chain.Tokens().BalanceOf(f.ctx, f.token1, account)
	require.NoError(t, err)
	return b0, b1
}

func (f *fixture) position(t *testing.T, id uint64) model.Position {
	t.Helper()
	pos, err := f.chain.Manager().Position(f.ctx, id)
	require.NoError(t, err)
	return pos
}

func (f *fixture) seedPoolReserves(t *testing.T, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, f.chain.Tokens().Mint(f.token0, f.pool, amount))
	require.NoError(t, f.chain.Tokens().Mint(f.token1, f.pool, amount))
}

func (f *fixture) swap(t *testing.T, tokenIn, tokenOut common.Address, amountIn *uint256.Int) model.SwapInstruction {
	t.Helper()
	instruction, err := f.chain.Router().Instruction(sim.Swap{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		Fee:      testFee,
		AmountIn: amountIn,
	})
	require.NoError(t, err)
	return instruction
}

func sqrtAt(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	price, err := clmath.SqrtRatioAtTick(tick)
	require.NoError(t, err)
	return price
}

// requireUnchanged checks that a failed operation left the vault, the held
// position and the vault's balances as they were.
func requireUnchanged(t *testing.T, f *fixture, before model.Position, balance0, balance1 *uint256.Int) {
	t.Helper()
	require.Equal(t, f.positionID, f.vault.HeldPosition())
	after := f.position(t, f.positionID)
	require.Equal(t, before.Liquidity, after.Liquidity)
	require.Equal(t, before.TickLower, after.TickLower)
	require.Equal(t, before.TickUpper, after.TickUpper)
	holder, err := f.chain.Manager().OwnerOf(f.positionID)
	require.NoError(t, err)
	require.Equal(t, vaultAddress, holder)
	b0, b1 := f.balances(t, vaultAddress)
	require.Equal(t, balance0, b0)
	require.Equal(t, balance1, b1)
	require.Empty(t, f.sink.events)
}

var errSinkDown = errors.New("sink down")
