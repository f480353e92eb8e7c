package vault_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/model"
	"rangeKeeper/internal/vault"
)

func planner(f *fixture) *vault.Planner {
	backend := f.chain.Backend()
	return &vault.Planner{
		Positions: backend.Positions,
		Factory:   backend.Factory,
		Prices:    backend.Prices,
		Quoter:    backend.Quoter,
		Balances:  backend.Tokens,
		Side:      vault.SideToken1,
	}
}

func TestPlanMatchesReposition(t *testing.T) {
	f := newFixture(t, defaultTestConfig(), largeLiquidity)
	fees := uint256.NewInt(123_456)
	require.NoError(t, f.chain.Manager().AccrueFees(f.positionID, fees, fees))

	plan, err := planner(f).Plan(f.ctx, vaultAddress, f.positionID, -200, 200)
	require.NoError(t, err)
	require.True(t, plan.InRange)
	require.Zero(t, plan.Tick)
	require.Equal(t, int32(200), plan.WidthChange)
	require.True(t, plan.Idle0.IsZero())

	receipt, err := f.vault.Reposition(f.ctx, operator, model.RepositionRequest{TickLower: -200, TickUpper: 200})
	require.NoError(t, err)

	require.Equal(t, receipt.Start.Value, plan.Start.Value)
	require.Equal(t, new(uint256.Int).Add(receipt.Principal0, receipt.Fees0), plan.Withdraw0)
	require.Equal(t, new(uint256.Int).Add(receipt.Principal1, receipt.Fees1), plan.Withdraw1)
	require.False(t, receipt.Liquidity.Gt(plan.Liquidity))
	require.False(t, receipt.Minted0.Lt(plan.MintMin0))
	require.False(t, receipt.Minted1.Lt(plan.MintMin1))
}

func TestPlanRejectsUnchangedAndUnknown(t *testing.T) {
	f := newFixture(t, defaultTestConfig(), largeLiquidity)
	p := planner(f)

	_, err := p.Plan(f.ctx, common.Address{}, f.positionID, -100, 100)
	require.ErrorIs(t, err, vault.ErrTicksNotChanged)

	_, err = p.Plan(f.ctx, common.Address{}, 9_999, -200, 200)
	require.ErrorIs(t, err, vault.ErrNotFound)

	_, err = p.Plan(f.ctx, common.Address{}, f.positionID, 200, -200)
	require.ErrorIs(t, err, vault.ErrInvalidRequest)

	_, err = (&vault.Planner{}).Plan(f.ctx, common.Address{}, f.positionID, -200, 200)
	require.Error(t, err)
}

func TestPlanOutOfRange(t *testing.T) {
	f := newFixture(t, defaultTestConfig(), largeLiquidity)
	require.NoError(t, f.chain.Factory().SetTick(f.pool, 150))

	plan, err := planner(f).Plan(f.ctx, common.Address{}, f.positionID, 100, 300)
	require.NoError(t, err)
	require.False(t, plan.InRange)
	require.Equal(t, int32(150), plan.Tick)
	require.True(t, plan.Withdraw0.IsZero())
	require.False(t, plan.Withdraw1.IsZero())
}
