package vault_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rangeKeeper/internal/sim"
	"rangeKeeper/internal/storage"
	"rangeKeeper/internal/vault"
)

// newBareVault returns a vault over an empty chain, its store and the
// address of the chain's position manager.
func newBareVault(t *testing.T) (*vault.Vault, *storage.MemoryStore, common.Address) {
	t.Helper()
	chain := sim.New(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStore()
	v, err := vault.New(defaultTestConfig(), vaultAddress, chain.Backend(), store, nil, nil)
	require.NoError(t, err)
	return v, store, chain.Manager().Address()
}

func TestClaimOwnershipOnce(t *testing.T) {
	ctx := context.Background()
	v, store, _ := newBareVault(t)

	require.ErrorIs(t, v.ClaimOwnership(ctx, common.Address{}), vault.ErrInvalidRequest)
	require.NoError(t, v.ClaimOwnership(ctx, owner))
	require.Equal(t, owner, v.Owner())

	err := v.ClaimOwnership(ctx, stranger)
	require.ErrorIs(t, err, vault.ErrOwnerAlreadySet)
	require.Equal(t, vault.KindAuthorization, vault.KindOf(err))
	require.Equal(t, owner, v.Owner())

	raw, ok, err := store.Get(ctx, vault.StateKey(vaultAddress, "owner"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, owner.Hex(), string(raw))
}

func TestSetOperatorRequiresOwner(t *testing.T) {
	ctx := context.Background()
	v, _, _ := newBareVault(t)

	require.ErrorIs(t, v.SetOperator(ctx, owner, operator, true), vault.ErrNotOwner)
	require.NoError(t, v.ClaimOwnership(ctx, owner))
	require.ErrorIs(t, v.SetOperator(ctx, stranger, operator, true), vault.ErrNotOwner)

	allowed, err := v.IsOperator(ctx, owner)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, v.SetOperator(ctx, owner, operator, true))
	allowed, err = v.IsOperator(ctx, operator)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, v.SetOperator(ctx, owner, operator, false))
	allowed, err = v.IsOperator(ctx, operator)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestSetMaxLossBounds(t *testing.T) {
	ctx := context.Background()
	v, _, _ := newBareVault(t)
	require.NoError(t, v.ClaimOwnership(ctx, owner))
	require.Equal(t, defaultTestConfig().MaxLossPPM, v.MaxLossPPM())

	require.ErrorIs(t, v.SetMaxLoss(ctx, operator, 5), vault.ErrNotOwner)
	require.ErrorIs(t, v.SetMaxLoss(ctx, owner, vault.PPMScale+1), vault.ErrInvalidRequest)
	require.NoError(t, v.SetMaxLoss(ctx, owner, vault.PPMScale))
	require.NoError(t, v.SetMaxLoss(ctx, owner, 0))
	require.Zero(t, v.MaxLossPPM())
}

func TestOnPositionReceived(t *testing.T) {
	ctx := context.Background()
	v, _, manager := newBareVault(t)
	require.NoError(t, v.ClaimOwnership(ctx, owner))

	require.ErrorIs(t, v.OnPositionReceived(ctx, manager, stranger, stranger, 7), vault.ErrNotOwner)
	require.ErrorIs(t, v.OnPositionReceived(ctx, manager, owner, owner, 0), vault.ErrInvalidRequest)

	require.NoError(t, v.OnPositionReceived(ctx, manager, owner, owner, 7))
	require.Equal(t, uint64(7), v.HeldPosition())
	require.NoError(t, v.OnPositionReceived(ctx, manager, operator, owner, 7))

	err := v.OnPositionReceived(ctx, manager, owner, owner, 8)
	require.ErrorIs(t, err, vault.ErrAlreadyInitialized)
	require.Equal(t, uint64(7), v.HeldPosition())
}

func TestOnPositionReceivedBeforeOwnerIsRejected(t *testing.T) {
	v, _, manager := newBareVault(t)
	require.ErrorIs(t, v.OnPositionReceived(context.Background(), manager, owner, owner, 1), vault.ErrNotOwner)
	require.Zero(t, v.HeldPosition())
}

func TestOnPositionReceivedOnlyFromManager(t *testing.T) {
	ctx := context.Background()
	v, _, _ := newBareVault(t)
	require.NoError(t, v.ClaimOwnership(ctx, owner))

	// The owner itself, or any other contract, cannot announce a receipt.
	for _, notifier := range []common.Address{owner, stranger, vaultAddress} {
		err := v.OnPositionReceived(ctx, notifier, owner, owner, 7)
		require.ErrorIs(t, err, vault.ErrNotPositionManager)
		require.Equal(t, vault.KindAuthorization, vault.KindOf(err))
	}
	require.Zero(t, v.HeldPosition())
}

func TestStrangerCannotDepositThroughManager(t *testing.T) {
	f := newFixture(t, defaultTestConfig(), uint256.NewInt(1_000_000))
	require.NoError(t, f.chain.Tokens().Mint(f.token0, stranger, uint256.NewInt(1_000_000)))
	require.NoError(t, f.chain.Tokens().Mint(f.token1, stranger, uint256.NewInt(1_000_000)))
	for _, token := range []common.Address{f.token0, f.token1} {
		require.NoError(t, f.chain.Tokens().Approve(f.ctx, token, stranger, f.chain.Manager().Address(), uint256.NewInt(1_000_000)))
	}
	minted, err := f.chain.Manager().MintLiquidity(stranger, f.token0, f.token1, testFee, -100, 100, uint256.NewInt(1_000), stranger)
	require.NoError(t, err)

	require.ErrorIs(t, f.chain.Manager().SafeTransferFrom(f.ctx, stranger, stranger, vaultAddress, minted.ID), vault.ErrNotOwner)
	holder, err := f.chain.Manager().OwnerOf(minted.ID)
	require.NoError(t, err)
	require.Equal(t, stranger, holder)
	require.Equal(t, f.positionID, f.vault.HeldPosition())
}

func TestWithdrawReturnsPositionAndBalances(t *testing.T) {
	f := newFixture(t, defaultTestConfig(), uint256.NewInt(1_000_000))
	require.NoError(t, f.chain.Tokens().Mint(f.token0, vaultAddress, uint256.NewInt(17)))
	require.NoError(t, f.chain.Tokens().Mint(f.token1, vaultAddress, uint256.NewInt(23)))
	owner0, owner1 := f.balances(t, owner)

	require.ErrorIs(t, f.vault.Withdraw(f.ctx, operator), vault.ErrNotOwner)
	require.NoError(t, f.vault.Withdraw(f.ctx, owner))

	require.Zero(t, f.vault.HeldPosition())
	holder, err := f.chain.Manager().OwnerOf(f.positionID)
	require.NoError(t, err)
	require.Equal(t, owner, holder)

	b0, b1 := f.balances(t, vaultAddress)
	require.True(t, b0.IsZero())
	require.True(t, b1.IsZero())
	after0, after1 := f.balances(t, owner)
	require.Equal(t, new(uint256.Int).AddUint64(owner0, 17), after0)
	require.Equal(t, new(uint256.Int).AddUint64(owner1, 23), after1)

	raw, ok, err := f.store.Get(f.ctx, vault.StateKey(vaultAddress, "position"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0", string(raw))

	err = f.vault.Withdraw(f.ctx, owner)
	require.ErrorIs(t, err, vault.ErrNothingHeld)

	// The owner may hand the same position back after withdrawing it.
	require.NoError(t, f.chain.Manager().SafeTransferFrom(f.ctx, owner, owner, vaultAddress, f.positionID))
	require.Equal(t, f.positionID, f.vault.HeldPosition())
}

func TestLoadRestoresPersistedCustody(t *testing.T) {
	f := newFixture(t, defaultTestConfig(), uint256.NewInt(1_000_000))
	require.NoError(t, f.vault.SetMaxLoss(f.ctx, owner, 2_500))

	restored, err := vault.New(defaultTestConfig(), vaultAddress, f.chain.Backend(), f.store, nil, nil)
	require.NoError(t, err)
	require.Zero(t, restored.HeldPosition())
	require.NoError(t, restored.Load(f.ctx))

	require.Equal(t, owner, restored.Owner())
	require.Equal(t, f.positionID, restored.HeldPosition())
	require.Equal(t, uint32(2_500), restored.MaxLossPPM())
	allowed, err := restored.IsOperator(f.ctx, operator)
	require.NoError(t, err)
	require.True(t, allowed)
	require.ErrorIs(t, restored.ClaimOwnership(f.ctx, stranger), vault.ErrOwnerAlreadySet)
}

func TestLoadRejectsCorruptState(t *testing.T) {
	ctx := context.Background()
	v, store, _ := newBareVault(t)
	require.NoError(t, store.Set(ctx, vault.StateKey(vaultAddress, "position"), []byte("seven")))
	require.Error(t, v.Load(ctx))

	require.NoError(t, store.Set(ctx, vault.StateKey(vaultAddress, "position"), []byte("7")))
	require.NoError(t, store.Set(ctx, vault.StateKey(vaultAddress, "owner"), []byte("nobody")))
	require.Error(t, v.Load(ctx))
}

func TestNewValidatesArguments(t *testing.T) {
	chain := sim.New(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStore()

	_, err := vault.New(defaultTestConfig(), common.Address{}, chain.Backend(), store, nil, nil)
	require.Error(t, err)

	_, err = vault.New(defaultTestConfig(), vaultAddress, vault.Backend{}, store, nil, nil)
	require.Error(t, err)

	_, err = vault.New(defaultTestConfig(), vaultAddress, chain.Backend(), nil, nil, nil)
	require.Error(t, err)

	cfg := defaultTestConfig()
	cfg.MaxLossPPM = vault.PPMScale + 1
	_, err = vault.New(cfg, vaultAddress, chain.Backend(), store, nil, nil)
	require.ErrorIs(t, err, vault.ErrInvalidRequest)
}
