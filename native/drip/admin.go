package drip

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (e *Engine) authorized(caller common.Address) bool {
	return e.auth != nil && e.auth.IsOperator(caller)
}

// SetRewardRate changes the emission rate. The pool is first advanced at the
// old rate so elapsed time is priced correctly.
func (e *Engine) SetRewardRate(ctx context.Context, caller common.Address, rate *uint256.Int) error {
	if !e.authorized(caller) {
		return ErrUnauthorized
	}
	if rate == nil {
		rate = new(uint256.Int)
	}
	return e.mutate(ctx, "setRewardRate", func(tx *txn) error {
		if tx.pool.RewardPerCheckpoint.Eq(rate) {
			return ErrValueUnchanged
		}
		if err := e.updatePool(tx); err != nil {
			return err
		}
		previous := tx.pool.RewardPerCheckpoint
		tx.pool.RewardPerCheckpoint = new(uint256.Int).Set(rate)
		tx.emit(RewardRateUpdated{Previous: previous, Current: cloneInt(rate)})
		e.logger.Info("drip reward rate updated",
			slog.String("caller", caller.Hex()),
			slog.String("previous", previous.Dec()),
			slog.String("current", rate.Dec()))
		return nil
	})
}

// SetTreasury replaces the treasury rewards are released from.
func (e *Engine) SetTreasury(ctx context.Context, caller common.Address, t Treasury) error {
	if !e.authorized(caller) {
		return ErrUnauthorized
	}
	if t == nil || t.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	err := e.exclusive(ctx, func(context.Context) error {
		var previous common.Address
		if e.treasury != nil {
			previous = e.treasury.Address()
		}
		if previous == t.Address() {
			return ErrValueUnchanged
		}
		e.treasury = t
		e.emitter.Emit(TreasuryUpdated{Previous: previous, Current: t.Address()})
		e.logger.Info("drip treasury updated",
			slog.String("caller", caller.Hex()),
			slog.String("previous", previous.Hex()),
			slog.String("current", t.Address().Hex()))
		return nil
	})
	e.observe("setTreasury", err)
	return err
}

// SetPaused pauses or resumes deposits and withdrawals.
func (e *Engine) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	if !e.authorized(caller) {
		return ErrUnauthorized
	}
	err := e.exclusive(ctx, func(context.Context) error {
		if !e.pauses.Set(moduleName, paused) {
			return ErrValueUnchanged
		}
		e.logger.Info("drip module pause toggled", slog.String("caller", caller.Hex()), slog.Bool("paused", paused))
		return nil
	})
	e.observe("setPaused", err)
	return err
}

// Paused reports whether deposits and withdrawals are currently rejected.
func (e *Engine) Paused() bool { return e.pauses.IsPaused(moduleName) }
