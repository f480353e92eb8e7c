package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rangeKeeper/internal/model"
)

// ReadPosition reads position id from the position manager.
func (v *Vault) ReadPosition(ctx context.Context, id uint64) (model.Position, error) {
	return ReadPosition(ctx, v.backend.Positions, id)
}

// ReadPool resolves the pool of pos and captures its current price.
func (v *Vault) ReadPool(ctx context.Context, pos model.Position) (model.Pool, error) {
	return ReadPool(ctx, v.backend.Factory, v.backend.Prices, pos)
}

// PositionPrice returns the current square-root price of the pool holding id.
func (v *Vault) PositionPrice(ctx context.Context, id uint64) (*uint256.Int, error) {
	pos, err := v.ReadPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	pool, err := v.ReadPool(ctx, pos)
	if err != nil {
		return nil, err
	}
	return pool.SqrtPriceX96, nil
}

// ReadPosition fails with ErrNotFound for a zero or unknown id.
func ReadPosition(ctx context.Context, reader PositionReader, id uint64) (model.Position, error) {
	if id == 0 {
		return model.Position{}, fmt.Errorf("%w: zero position id", ErrNotFound)
	}
	pos, err := reader.Position(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Position{}, fmt.Errorf("read position %d: %w", id, err)
		}
		return model.Position{}, externalErr(fmt.Sprintf("read position %d", id), err)
	}
	pos.ID = id
	if pos.Liquidity == nil {
		pos.Liquidity = new(uint256.Int)
	}
	if pos.TokensOwed0 == nil {
		pos.TokensOwed0 = new(uint256.Int)
	}
	if pos.TokensOwed1 == nil {
		pos.TokensOwed1 = new(uint256.Int)
	}
	return pos, nil
}

// ReadPool fails with ErrPoolNotFound when the factory knows no pool for the
// position's tokens and fee.
func ReadPool(ctx context.Context, factory PoolFactory, prices PriceSource, pos model.Position) (model.Pool, error) {
	address, err := factory.GetPool(ctx, pos.Token0, pos.Token1, pos.Fee)
	if err != nil {
		return model.Pool{}, externalErr("get pool", err)
	}
	if address == (common.Address{}) {
		return model.Pool{}, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, pos.Token0.Hex(), pos.Token1.Hex(), pos.Fee)
	}
	price, err := prices.SqrtPriceX96(ctx, address)
	if err != nil {
		return model.Pool{}, externalErr("read price", err)
	}
	return model.Pool{
		Address:      address,
		Token0:       pos.Token0,
		Token1:       pos.Token1,
		Fee:          pos.Fee,
		SqrtPriceX96: price,
	}, nil
}
