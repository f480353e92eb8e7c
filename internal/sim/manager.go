package sim

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/clmath"
	"rangeKeeper/internal/model"
	"rangeKeeper/internal/vault"
)

// PositionReceiver is notified when a position is safely transferred to it.
// Returning an error rejects the transfer.
type PositionReceiver interface {
	OnPositionReceived(ctx context.Context, manager, operator, from common.Address, id uint64) error
}

// Manager is the range-deposit manager. Positions are keyed by id and owned
// by an account; mint pulls tokens from the caller.
type Manager struct {
	chain   *Chain
	address common.Address
}

func (m *Manager) Address() common.Address { return m.address }

// RegisterReceiver makes SafeTransferFrom notify receiver for transfers to account.
func (m *Manager) RegisterReceiver(account common.Address, receiver PositionReceiver) {
	m.chain.receivers[account] = receiver
}

func (m *Manager) Position(_ context.Context, id uint64) (model.Position, error) {
	pos, ok := m.chain.state.positions[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: invalid token id %d", vault.ErrNotFound, id)
	}
	liquidity, owed0, owed1 := pos.liquidity, pos.owed0, pos.owed1
	return model.Position{
		ID:          id,
		Token0:      pos.key.token0,
		Token1:      pos.key.token1,
		Fee:         pos.key.fee,
		TickLower:   pos.tickLower,
		TickUpper:   pos.tickUpper,
		Liquidity:   &liquidity,
		TokensOwed0: &owed0,
		TokensOwed1: &owed1,
	}, nil
}

// OwnerOf returns the account holding id.
func (m *Manager) OwnerOf(id uint64) (common.Address, error) {
	pos, ok := m.chain.state.positions[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: invalid token id %d", vault.ErrNotFound, id)
	}
	return pos.owner, nil
}

// Approve lets spender move id on behalf of its owner.
func (m *Manager) Approve(caller, spender common.Address, id uint64) error {
	pos, ok := m.chain.state.positions[id]
	if !ok {
		return fmt.Errorf("%w: invalid token id %d", vault.ErrNotFound, id)
	}
	if pos.owner != caller {
		return ErrNotApproved
	}
	pos.approved = spender
	m.chain.state.positions[id] = pos
	return nil
}

func (m *Manager) Mint(_ context.Context, caller common.Address, params vault.MintParams) (vault.MintResult, error) {
	if err := m.checkDeadline(params.Deadline); err != nil {
		return vault.MintResult{}, err
	}
	token0, token1 := SortTokens(params.Token0, params.Token1)
	if token0 != params.Token0 {
		return vault.MintResult{}, fmt.Errorf("tokens not sorted: %s > %s", params.Token0.Hex(), params.Token1.Hex())
	}
	key := poolKey{token0: token0, token1: token1, fee: params.Fee}
	poolAddress, ok := m.chain.state.poolIndex[key]
	if !ok {
		return vault.MintResult{}, ErrUnknownPool
	}
	sqrtLower, sqrtUpper, err := m.checkTicks(params.Fee, params.TickLower, params.TickUpper)
	if err != nil {
		return vault.MintResult{}, err
	}
	price := m.chain.state.pools[poolAddress].sqrtPriceX96

	liquidity := clmath.LiquidityForAmounts(&price, sqrtLower, sqrtUpper, params.Amount0Desired, params.Amount1Desired)
	if liquidity.IsZero() {
		return vault.MintResult{}, ErrZeroLiquidity
	}
	amount0, amount1, err := m.addLiquidity(caller, poolAddress, key, &price, sqrtLower, sqrtUpper, liquidity, params.Amount0Min, params.Amount1Min)
	if err != nil {
		return vault.MintResult{}, err
	}

	id := m.open(params.Recipient, poolAddress, key, params.TickLower, params.TickUpper, liquidity)
	return vault.MintResult{ID: id, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
}

func (m *Manager) open(owner, poolAddress common.Address, key poolKey, tickLower, tickUpper int32, liquidity *uint256.Int) uint64 {
	id := m.chain.state.nextID
	m.chain.state.nextID++
	m.chain.state.positions[id] = position{
		owner:     owner,
		pool:      poolAddress,
		key:       key,
		tickLower: tickLower,
		tickUpper: tickUpper,
		liquidity: *liquidity,
	}
	return id
}

// MintLiquidity mints a position holding exactly liquidity, pulling the
// rounded-up amounts it needs from caller.
func (m *Manager) MintLiquidity(caller, tokenA, tokenB common.Address, fee uint32, tickLower, tickUpper int32, liquidity *uint256.Int, recipient common.Address) (vault.MintResult, error) {
	token0, token1 := SortTokens(tokenA, tokenB)
	key := poolKey{token0: token0, token1: token1, fee: fee}
	poolAddress, ok := m.chain.state.poolIndex[key]
	if !ok {
		return vault.MintResult{}, ErrUnknownPool
	}
	if liquidity.IsZero() || liquidity.Gt(clmath.MaxUint128) {
		return vault.MintResult{}, ErrZeroLiquidity
	}
	sqrtLower, sqrtUpper, err := m.checkTicks(fee, tickLower, tickUpper)
	if err != nil {
		return vault.MintResult{}, err
	}
	price := m.chain.state.pools[poolAddress].sqrtPriceX96
	amount0, amount1, err := m.addLiquidity(caller, poolAddress, key, &price, sqrtLower, sqrtUpper, liquidity, nil, nil)
	if err != nil {
		return vault.MintResult{}, err
	}
	id := m.open(recipient, poolAddress, key, tickLower, tickUpper, liquidity)
	return vault.MintResult{ID: id, Liquidity: new(uint256.Int).Set(liquidity), Amount0: amount0, Amount1: amount1}, nil
}

func (m *Manager) IncreaseLiquidity(_ context.Context, caller common.Address, params vault.IncreaseLiquidityParams) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	if err := m.checkDeadline(params.Deadline); err != nil {
		return nil, nil, nil, err
	}
	pos, ok := m.chain.state.positions[params.ID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: invalid token id %d", vault.ErrNotFound, params.ID)
	}
	sqrtLower, sqrtUpper, err := m.checkTicks(pos.key.fee, pos.tickLower, pos.tickUpper)
	if err != nil {
		return nil, nil, nil, err
	}
	price := m.chain.state.pools[pos.pool].sqrtPriceX96

	liquidity := clmath.LiquidityForAmounts(&price, sqrtLower, sqrtUpper, params.Amount0Desired, params.Amount1Desired)
	if liquidity.IsZero() {
		return nil, nil, nil, ErrZeroLiquidity
	}
	amount0, amount1, err := m.addLiquidity(caller, pos.pool, pos.key, &price, sqrtLower, sqrtUpper, liquidity, params.Amount0Min, params.Amount1Min)
	if err != nil {
		return nil, nil, nil, err
	}
	pos.liquidity.Add(&pos.liquidity, liquidity)
	m.chain.state.positions[params.ID] = pos
	return liquidity, amount0, amount1, nil
}

func (m *Manager) addLiquidity(payer, poolAddress common.Address, key poolKey, price, sqrtLower, sqrtUpper, liquidity, min0, min1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	amount0, amount1 := clmath.AmountDeltas(price, sqrtLower, sqrtUpper, liquidity, true)
	if (min0 != nil && amount0.Lt(min0)) || (min1 != nil && amount1.Lt(min1)) {
		return nil, nil, ErrPriceSlippage
	}
	if err := m.chain.transferFrom(key.token0, m.address, payer, poolAddress, amount0); err != nil {
		return nil, nil, fmt.Errorf("pay token0: %w", err)
	}
	if err := m.chain.transferFrom(key.token1, m.address, payer, poolAddress, amount1); err != nil {
		return nil, nil, fmt.Errorf("pay token1: %w", err)
	}
	return amount0, amount1, nil
}

func (m *Manager) DecreaseLiquidity(_ context.Context, caller common.Address, params vault.DecreaseLiquidityParams) (*uint256.Int, *uint256.Int, error) {
	if err := m.checkDeadline(params.Deadline); err != nil {
		return nil, nil, err
	}
	pos, err := m.authorized(caller, params.ID)
	if err != nil {
		return nil, nil, err
	}
	if params.Liquidity.IsZero() || pos.liquidity.Lt(params.Liquidity) {
		return nil, nil, fmt.Errorf("invalid liquidity %s of %s", params.Liquidity.Dec(), pos.liquidity.Dec())
	}
	sqrtLower, sqrtUpper, err := m.checkTicks(pos.key.fee, pos.tickLower, pos.tickUpper)
	if err != nil {
		return nil, nil, err
	}
	price := m.chain.state.pools[pos.pool].sqrtPriceX96
	amount0, amount1 := clmath.AmountDeltas(&price, sqrtLower, sqrtUpper, params.Liquidity, false)
	if (params.Amount0Min != nil && amount0.Lt(params.Amount0Min)) || (params.Amount1Min != nil && amount1.Lt(params.Amount1Min)) {
		return nil, nil, ErrPriceSlippage
	}
	pos.liquidity.Sub(&pos.liquidity, params.Liquidity)
	pos.owed0.Add(&pos.owed0, amount0)
	pos.owed1.Add(&pos.owed1, amount1)
	m.chain.state.positions[params.ID] = pos
	return amount0, amount1, nil
}

func (m *Manager) Collect(_ context.Context, caller common.Address, params vault.CollectParams) (*uint256.Int, *uint256.Int, error) {
	pos, err := m.authorized(caller, params.ID)
	if err != nil {
		return nil, nil, err
	}
	amount0 := minAmount(&pos.owed0, params.Amount0Max)
	amount1 := minAmount(&pos.owed1, params.Amount1Max)
	if err := m.chain.transfer(pos.key.token0, pos.pool, params.Recipient, amount0); err != nil {
		return nil, nil, fmt.Errorf("collect token0: %w", err)
	}
	if err := m.chain.transfer(pos.key.token1, pos.pool, params.Recipient, amount1); err != nil {
		return nil, nil, fmt.Errorf("collect token1: %w", err)
	}
	pos.owed0.Sub(&pos.owed0, amount0)
	pos.owed1.Sub(&pos.owed1, amount1)
	m.chain.state.positions[params.ID] = pos
	return amount0, amount1, nil
}

func (m *Manager) Burn(_ context.Context, caller common.Address, id uint64) error {
	pos, err := m.authorized(caller, id)
	if err != nil {
		return err
	}
	if !pos.liquidity.IsZero() || !pos.owed0.IsZero() || !pos.owed1.IsZero() {
		return ErrNotCleared
	}
	delete(m.chain.state.positions, id)
	return nil
}

func (m *Manager) TransferFrom(_ context.Context, caller, from, to common.Address, id uint64) error {
	pos, err := m.authorized(caller, id)
	if err != nil {
		return err
	}
	if pos.owner != from {
		return fmt.Errorf("transfer of %d from incorrect owner %s", id, from.Hex())
	}
	if to == (common.Address{}) {
		return fmt.Errorf("transfer of %d to the zero address", id)
	}
	pos.owner = to
	pos.approved = common.Address{}
	m.chain.state.positions[id] = pos
	return nil
}

// SafeTransferFrom transfers id and notifies a registered receiver at to.
// A receiver error undoes the transfer.
func (m *Manager) SafeTransferFrom(ctx context.Context, caller, from, to common.Address, id uint64) error {
	snapshot := m.chain.Snapshot()
	if err := m.TransferFrom(ctx, caller, from, to, id); err != nil {
		m.chain.RevertToSnapshot(snapshot)
		return err
	}
	if receiver, ok := m.chain.receivers[to]; ok {
		if err := receiver.OnPositionReceived(ctx, m.address, caller, from, id); err != nil {
			m.chain.RevertToSnapshot(snapshot)
			return fmt.Errorf("receiver rejected position %d: %w", id, err)
		}
	}
	m.chain.DiscardSnapshot(snapshot)
	return nil
}

// AccrueFees credits fees to id as if the pool had earned them from trades.
func (m *Manager) AccrueFees(id uint64, amount0, amount1 *uint256.Int) error {
	pos, ok := m.chain.state.positions[id]
	if !ok {
		return fmt.Errorf("%w: invalid token id %d", vault.ErrNotFound, id)
	}
	if err := m.chain.tokens.Mint(pos.key.token0, pos.pool, amount0); err != nil {
		return err
	}
	if err := m.chain.tokens.Mint(pos.key.token1, pos.pool, amount1); err != nil {
		return err
	}
	pos.owed0.Add(&pos.owed0, amount0)
	pos.owed1.Add(&pos.owed1, amount1)
	m.chain.state.positions[id] = pos
	return nil
}

func (m *Manager) authorized(caller common.Address, id uint64) (position, error) {
	pos, ok := m.chain.state.positions[id]
	if !ok {
		return position{}, fmt.Errorf("%w: invalid token id %d", vault.ErrNotFound, id)
	}
	if caller != pos.owner && caller != pos.approved {
		return position{}, ErrNotApproved
	}
	return pos, nil
}

func (m *Manager) checkDeadline(deadline uint64) error {
	if uint64(m.chain.now.Unix()) > deadline {
		return ErrExpired
	}
	return nil
}

func (m *Manager) checkTicks(fee uint32, lower, upper int32) (*uint256.Int, *uint256.Int, error) {
	spacing, ok := TickSpacing[fee]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unsupported fee %d", ErrInvalidTicks, fee)
	}
	if lower >= upper || lower%spacing != 0 || upper%spacing != 0 {
		return nil, nil, fmt.Errorf("%w: [%d, %d] spacing %d", ErrInvalidTicks, lower, upper, spacing)
	}
	sqrtLower, err := clmath.SqrtRatioAtTick(lower)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidTicks, err)
	}
	sqrtUpper, err := clmath.SqrtRatioAtTick(upper)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidTicks, err)
	}
	return sqrtLower, sqrtUpper, nil
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if b == nil || a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}
