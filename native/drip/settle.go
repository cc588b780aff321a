package drip

import (
	"github.com/holiman/uint256"
)

// pendingFor is boosted * acc / AccPrecision - rewardDebt. A debt above the
// entitlement is a bookkeeping fault and surfaces as ErrUnderflow.
func pendingFor(pool *PoolState, rec *UserRecord) (*uint256.Int, error) {
	boosted, err := rec.BoostedShare()
	if err != nil {
		return nil, err
	}
	entitled, err := mulDiv(boosted, pool.AccRewardPerShare, u64(AccPrecision))
	if err != nil {
		return nil, err
	}
	return sub(entitled, rec.RewardDebt)
}

// settle pays the user's pending reward. The pool must already be updated and
// the caller is responsible for recomputing RewardDebt.
func (e *Engine) settle(tx *txn, rec *UserRecord) error {
	pending, err := pendingFor(tx.pool, rec)
	if err != nil {
		return err
	}
	if pending.IsZero() {
		return nil
	}
	if e.treasury != nil {
		if err := e.treasury.Withdraw(tx.ctx, pending); err != nil {
			return collaboratorFailure("treasury withdraw", err)
		}
	}
	ok, err := e.reward.Transfer(tx.ctx, rec.Address, pending)
	if err != nil {
		return collaboratorFailure("reward transfer", err)
	}
	if !ok {
		return ErrTransferRejected
	}
	if rec.CumulativeEarned, err = add(rec.CumulativeEarned, pending); err != nil {
		return err
	}
	if tx.paid, err = add(tx.paid, pending); err != nil {
		return err
	}
	tx.emit(RewardPaid{User: rec.Address, Amount: pending, CumulativeEarned: cloneInt(rec.CumulativeEarned)})
	return nil
}
