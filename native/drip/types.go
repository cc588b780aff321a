package drip

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// AccPrecision scales the rewards-per-share accumulator.
	AccPrecision uint64 = 1_000_000_000_000_000_000
	// BoostPrecision scales boost multipliers; BoostPrecision itself is 1.0x.
	BoostPrecision uint64 = 1_000_000_000_000
	// SecondsPerYear is the emission year used by the mint schedule.
	SecondsPerYear uint64 = 31_536_000

	basisPoints uint64 = 10_000
)

// PoolState captures the global accounting state of the stake pool.
type PoolState struct {
	// AccRewardPerShare is the cumulative reward per boosted share scaled by
	// AccPrecision. It never decreases.
	AccRewardPerShare *uint256.Int
	// LastRewardCheckpoint is the block height or unix time the accumulator
	// was last advanced to.
	LastRewardCheckpoint uint64
	// TotalBoostedShares is the sum of every user's boosted share.
	TotalBoostedShares *uint256.Int
	// RewardPerCheckpoint is the emission rate per block or per second.
	RewardPerCheckpoint *uint256.Int
	// YearlySupplySnapshot is the reward token supply the mint schedule
	// applies its yearly emission rate to.
	YearlySupplySnapshot *uint256.Int
	// YearAnchorTime is the unix time at which the current emission year ends.
	YearAnchorTime uint64
	// LastMintTime is the unix time emissions were last minted up to.
	LastMintTime uint64
	// ObservedMaxLockDuration is the longest lock any user has chosen.
	ObservedMaxLockDuration uint64
}

// UserRecord maintains the staking position of a single account.
type UserRecord struct {
	Address common.Address
	// StakeAmount is the LP amount currently held for the user.
	StakeAmount *uint256.Int
	// BoostMultiplier is scaled by BoostPrecision.
	BoostMultiplier *uint256.Int
	// RewardDebt is the accumulator value already priced into the position.
	RewardDebt    *uint256.Int
	LockStartTime uint64
	LockEndTime   uint64
	// CumulativeEarned is the running total of settled rewards.
	CumulativeEarned *uint256.Int
}

func newPoolState(rate *uint256.Int, checkpoint uint64) *PoolState {
	pool := &PoolState{LastRewardCheckpoint: checkpoint}
	if rate != nil {
		pool.RewardPerCheckpoint = new(uint256.Int).Set(rate)
	}
	pool.ensureDefaults()
	return pool
}

func newUserRecord(addr common.Address) *UserRecord {
	user := &UserRecord{Address: addr}
	user.ensureDefaults()
	return user
}

func (p *PoolState) ensureDefaults() {
	if p.AccRewardPerShare == nil {
		p.AccRewardPerShare = new(uint256.Int)
	}
	if p.TotalBoostedShares == nil {
		p.TotalBoostedShares = new(uint256.Int)
	}
	if p.RewardPerCheckpoint == nil {
		p.RewardPerCheckpoint = new(uint256.Int)
	}
	if p.YearlySupplySnapshot == nil {
		p.YearlySupplySnapshot = new(uint256.Int)
	}
}

func (u *UserRecord) ensureDefaults() {
	if u.StakeAmount == nil {
		u.StakeAmount = new(uint256.Int)
	}
	if u.BoostMultiplier == nil || u.BoostMultiplier.IsZero() {
		u.BoostMultiplier = uint256.NewInt(BoostPrecision)
	}
	if u.RewardDebt == nil {
		u.RewardDebt = new(uint256.Int)
	}
	if u.CumulativeEarned == nil {
		u.CumulativeEarned = new(uint256.Int)
	}
}

// Clone returns a deep copy of the pool state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AccRewardPerShare = cloneInt(p.AccRewardPerShare)
	clone.TotalBoostedShares = cloneInt(p.TotalBoostedShares)
	clone.RewardPerCheckpoint = cloneInt(p.RewardPerCheckpoint)
	clone.YearlySupplySnapshot = cloneInt(p.YearlySupplySnapshot)
	clone.ensureDefaults()
	return &clone
}

// Clone returns a deep copy of the user record.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	clone := *u
	clone.StakeAmount = cloneInt(u.StakeAmount)
	clone.BoostMultiplier = cloneInt(u.BoostMultiplier)
	clone.RewardDebt = cloneInt(u.RewardDebt)
	clone.CumulativeEarned = cloneInt(u.CumulativeEarned)
	clone.ensureDefaults()
	return &clone
}

// BoostedShare returns StakeAmount * BoostMultiplier / BoostPrecision.
func (u *UserRecord) BoostedShare() (*uint256.Int, error) {
	return mulDiv(u.StakeAmount, u.BoostMultiplier, uint256.NewInt(BoostPrecision))
}

// LockedAt reports whether the stake is still locked at the given unix time.
func (u *UserRecord) LockedAt(now uint64) bool {
	return now < u.LockEndTime
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}
