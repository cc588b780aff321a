package drip

import (
	"context"
	"log/slog"

	"github.com/holiman/uint256"
)

func (e *Engine) startCheckpoint(now instant) uint64 {
	current := now.checkpoint(e.params.Mode)
	if e.params.StartCheckpoint > current {
		return e.params.StartCheckpoint
	}
	return current
}

// createPool initialises the pool on the first mutating operation.
func (e *Engine) createPool(ctx context.Context, now instant) (*PoolState, error) {
	pool := newPoolState(e.params.RewardPerCheckpoint, e.startCheckpoint(now))
	if !e.params.Emission.Enabled {
		return pool, nil
	}
	anchor, err := addUint64(now.unix, e.params.Emission.SecondsPerYear)
	if err != nil {
		return nil, err
	}
	supply, err := e.reward.TotalSupply(ctx)
	if err != nil {
		return nil, collaboratorFailure("reward totalSupply", err)
	}
	pool.LastMintTime = now.unix
	pool.YearAnchorTime = anchor
	pool.YearlySupplySnapshot = cloneInt(supply)
	return pool, nil
}

// updatePool mints any scheduled emission and advances the accumulator.
func (e *Engine) updatePool(tx *txn) error {
	if e.params.Emission.Enabled {
		if err := e.mintEmission(tx); err != nil {
			return err
		}
	}
	advanced, err := advance(tx.pool, tx.now.checkpoint(e.params.Mode))
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}
	e.logger.Debug("drip pool advanced",
		slog.Uint64("checkpoint", tx.pool.LastRewardCheckpoint),
		slog.String("totalBoostedShares", tx.pool.TotalBoostedShares.Dec()),
		slog.String("accRewardPerShare", tx.pool.AccRewardPerShare.Dec()))
	tx.emit(PoolUpdated{
		Checkpoint:         tx.pool.LastRewardCheckpoint,
		TotalBoostedShares: cloneInt(tx.pool.TotalBoostedShares),
		AccRewardPerShare:  cloneInt(tx.pool.AccRewardPerShare),
	})
	return nil
}

// advance moves the pool to checkpoint now. Rewards for periods in which the
// pool held no shares are dropped. The pool is only modified on success.
func advance(pool *PoolState, now uint64) (bool, error) {
	if now <= pool.LastRewardCheckpoint {
		return false, nil
	}
	elapsed := now - pool.LastRewardCheckpoint
	if pool.TotalBoostedShares.IsZero() {
		pool.LastRewardCheckpoint = now
		return true, nil
	}
	reward, err := mul(u64(elapsed), pool.RewardPerCheckpoint)
	if err != nil {
		return false, err
	}
	increment, err := mulDiv(reward, u64(AccPrecision), pool.TotalBoostedShares)
	if err != nil {
		return false, err
	}
	acc, err := add(pool.AccRewardPerShare, increment)
	if err != nil {
		return false, err
	}
	pool.AccRewardPerShare = acc
	pool.LastRewardCheckpoint = now
	return true, nil
}

// mintEmission issues snapshot * bps / 10000 * elapsed / secondsPerYear reward
// tokens into custody. The snapshot rolls forward by one year at most per call.
func (e *Engine) mintEmission(tx *txn) error {
	pool := tx.pool
	now := tx.now.unix
	if now <= pool.LastMintTime {
		return nil
	}
	yearly, err := mulDiv(pool.YearlySupplySnapshot, u64(e.params.Emission.EmissionBps), u64(basisPoints))
	if err != nil {
		return err
	}
	amount, err := mulDiv(yearly, u64(now-pool.LastMintTime), u64(e.params.Emission.SecondsPerYear))
	if err != nil {
		return err
	}
	if !amount.IsZero() {
		custody := e.address
		if e.treasury != nil {
			custody = e.treasury.Address()
		}
		if err := e.reward.Mint(tx.ctx, custody, amount); err != nil {
			return collaboratorFailure("reward mint", err)
		}
		minted, err := add(tx.minted, amount)
		if err != nil {
			return err
		}
		tx.minted = minted
		tx.emit(EmissionMinted{To: custody, Amount: amount, YearlySupplySnapshot: cloneInt(pool.YearlySupplySnapshot)})
	}
	pool.LastMintTime = now
	if now <= pool.YearAnchorTime {
		return nil
	}
	supply, err := e.reward.TotalSupply(tx.ctx)
	if err != nil {
		return collaboratorFailure("reward totalSupply", err)
	}
	anchor, err := addUint64(pool.YearAnchorTime, e.params.Emission.SecondsPerYear)
	if err != nil {
		return err
	}
	pool.YearlySupplySnapshot = new(uint256.Int).Set(supply)
	pool.YearAnchorTime = anchor
	e.logger.Info("drip emission year rolled",
		slog.Uint64("anchor", anchor),
		slog.String("snapshot", supply.Dec()))
	return nil
}
