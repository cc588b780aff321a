package drip

import (
	"context"

	"github.com/holiman/uint256"
)

// multiplier returns the boost for staking amount over duration. Positions
// without prior stake or with an expired lock stay at 1.0x. Otherwise
//
//	share  = amount * BP / liquidity
//	weight = duration * BP / observedMaxLockDuration
//	boost  = BP + share * weight / BP * BoostFactor
//
// A pool that has never seen a lock has observedMaxLockDuration zero and the
// division fails.
func (e *Engine) multiplier(ctx context.Context, now uint64, pool *PoolState, prior *UserRecord, duration uint64, amount *uint256.Int) (*uint256.Int, error) {
	neutral := u64(BoostPrecision)
	if duration == 0 || prior.StakeAmount.IsZero() || !prior.LockedAt(now) {
		return neutral, nil
	}
	liquidity, err := e.stake.BalanceOf(ctx, e.address)
	if err != nil {
		return nil, collaboratorFailure("stake balance", err)
	}
	share, err := mulDiv(amount, neutral, liquidity)
	if err != nil {
		return nil, err
	}
	weight, err := mulDiv(u64(duration), neutral, u64(pool.ObservedMaxLockDuration))
	if err != nil {
		return nil, err
	}
	extra, err := mulDiv(share, weight, neutral)
	if err != nil {
		return nil, err
	}
	if extra, err = mul(extra, u64(e.params.BoostFactor)); err != nil {
		return nil, err
	}
	return add(neutral, extra)
}
