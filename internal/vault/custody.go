package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ClaimOwnership sets the owner slot to caller. It succeeds only while the
// slot is unset.
func (v *Vault) ClaimOwnership(ctx context.Context, caller common.Address) error {
	if v.state.owner != (common.Address{}) {
		return ErrOwnerAlreadySet
	}
	if caller == (common.Address{}) {
		return fmt.Errorf("%w: zero address cannot own", ErrInvalidRequest)
	}
	if err := v.saveOwner(ctx, caller); err != nil {
		return fmt.Errorf("save owner: %w", err)
	}
	v.state.owner = caller
	v.logger.Info("ownership claimed", zap.String("owner", caller.Hex()))
	return nil
}

func (v *Vault) requireOwner(caller common.Address) error {
	if v.state.owner == (common.Address{}) || caller != v.state.owner {
		return ErrNotOwner
	}
	return nil
}

// IsOperator reports whether addr may reposition. The owner is not an
// operator unless listed.
func (v *Vault) IsOperator(ctx context.Context, addr common.Address) (bool, error) {
	raw, ok, err := v.store.Get(ctx, v.key(keyOperator, addr.Hex()))
	if err != nil {
		return false, fmt.Errorf("load operator: %w", err)
	}
	return ok && string(raw) == "1", nil
}

// SetOperator adds or removes addr from the operator allow-list.
func (v *Vault) SetOperator(ctx context.Context, caller, addr common.Address, allowed bool) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	value := "0"
	if allowed {
		value = "1"
	}
	if err := v.store.Set(ctx, v.key(keyOperator, addr.Hex()), []byte(value)); err != nil {
		return fmt.Errorf("save operator: %w", err)
	}
	v.logger.Info("operator updated", zap.String("operator", addr.Hex()), zap.Bool("allowed", allowed))
	return nil
}

// SetMaxLoss changes the loss bound used by later repositions.
func (v *Vault) SetMaxLoss(ctx context.Context, caller common.Address, ppm uint32) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if ppm > PPMScale {
		return fmt.Errorf("%w: max loss %d ppm above %d", ErrInvalidRequest, ppm, PPMScale)
	}
	if err := v.saveMaxLoss(ctx, ppm); err != nil {
		return fmt.Errorf("save max loss: %w", err)
	}
	v.state.maxLossPPM = ppm
	v.logger.Info("max loss updated", zap.Uint32("max_loss_ppm", ppm))
	return nil
}

// OnPositionReceived is invoked by the position manager when a position is
// transferred to the vault; manager is the notifying contract. Only the
// owner may hand one over, and only when nothing else is held.
func (v *Vault) OnPositionReceived(ctx context.Context, manager, operator, from common.Address, id uint64) error {
	if v.inFlight.Load() {
		return ErrReentrant
	}
	if manager != v.backend.Positions.Address() {
		return fmt.Errorf("%w: %s", ErrNotPositionManager, manager.Hex())
	}
	if err := v.requireOwner(from); err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("%w: zero position id", ErrInvalidRequest)
	}
	held := v.state.positionID
	if held == id {
		return nil
	}
	if held != 0 {
		return fmt.Errorf("%w: holding %d, received %d", ErrAlreadyInitialized, held, id)
	}
	if err := v.savePosition(ctx, id); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	v.state.positionID = id
	v.logger.Info("position received",
		zap.Uint64("position_id", id),
		zap.String("from", from.Hex()),
		zap.String("operator", operator.Hex()),
	)
	return nil
}

// Withdraw returns the held position and any residual balances of its two
// tokens to the owner.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if !v.inFlight.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer v.inFlight.Store(false)

	id := v.state.positionID
	if id == 0 {
		return ErrNothingHeld
	}

	return v.atomically("withdraw", func() error {
		pos, err := v.ReadPosition(ctx, id)
		if err != nil {
			return err
		}
		owner := v.state.owner
		if err := v.backend.Positions.TransferFrom(ctx, v.address, v.address, owner, id); err != nil {
			return externalErr("transfer position", err)
		}
		v.state.positionID = 0

		for _, token := range []common.Address{pos.Token0, pos.Token1} {
			balance, err := v.backend.Tokens.BalanceOf(ctx, token, v.address)
			if err != nil {
				return externalErr("balance", err)
			}
			if balance.IsZero() {
				continue
			}
			if err := v.backend.Tokens.Transfer(ctx, token, v.address, owner, balance); err != nil {
				return externalErr("sweep "+token.Hex(), err)
			}
			v.logger.Info("balance swept", zap.String("token", token.Hex()), zap.String("amount", balance.Dec()))
		}

		if err := v.savePosition(ctx, 0); err != nil {
			return fmt.Errorf("save position: %w", err)
		}
		v.logger.Info("position withdrawn", zap.Uint64("position_id", id), zap.String("owner", owner.Hex()))
		return nil
	})
}
