package drip

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// CheckpointMode selects the unit the accumulator advances in.
type CheckpointMode string

const (
	// CheckpointBlock advances the pool per block height.
	CheckpointBlock CheckpointMode = "block"
	// CheckpointTime advances the pool per second of block time.
	CheckpointTime CheckpointMode = "time"
)

// Params configures a reward pool.
type Params struct {
	Mode CheckpointMode
	// RewardPerCheckpoint seeds the emission rate of a new pool.
	RewardPerCheckpoint *uint256.Int
	// StartCheckpoint delays accrual until the given block or time.
	StartCheckpoint uint64

	LockingEnabled  bool
	MinLockDuration uint64
	MaxLockDuration uint64
	// BoostFactor is the extra multiplier, in whole units, granted to a user
	// holding the whole pool for the longest observed lock.
	BoostFactor uint64

	Emission EmissionParams
}

// EmissionParams configures the time based reward mint schedule.
type EmissionParams struct {
	Enabled bool
	// EmissionBps is the share of the yearly supply snapshot minted per year.
	EmissionBps    uint64
	SecondsPerYear uint64
}

// DefaultParams returns a block based pool with locking enabled.
func DefaultParams() Params {
	return Params{
		Mode:                CheckpointBlock,
		RewardPerCheckpoint: new(uint256.Int),
		LockingEnabled:      true,
		MinLockDuration:     7 * 24 * 60 * 60,
		MaxLockDuration:     4 * SecondsPerYear,
		BoostFactor:         1,
		Emission: EmissionParams{
			SecondsPerYear: SecondsPerYear,
		},
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	switch p.Mode {
	case CheckpointBlock, CheckpointTime:
	default:
		return fmt.Errorf("drip params: unsupported checkpoint mode %q", p.Mode)
	}
	if p.LockingEnabled {
		if p.MaxLockDuration == 0 {
			return errors.New("drip params: max lock duration required when locking is enabled")
		}
		if p.MinLockDuration > p.MaxLockDuration {
			return fmt.Errorf("drip params: min lock duration %d exceeds max %d", p.MinLockDuration, p.MaxLockDuration)
		}
	}
	if p.Emission.Enabled {
		if p.Emission.SecondsPerYear == 0 {
			return errors.New("drip params: emission seconds per year must be positive")
		}
		if p.Emission.EmissionBps > basisPoints {
			return fmt.Errorf("drip params: emission bps %d exceeds %d", p.Emission.EmissionBps, basisPoints)
		}
	}
	return nil
}

// ParseCheckpointMode normalises a configured mode string.
func ParseCheckpointMode(value string) (CheckpointMode, error) {
	switch mode := CheckpointMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "", CheckpointBlock:
		return CheckpointBlock, nil
	case CheckpointTime:
		return CheckpointTime, nil
	default:
		return "", fmt.Errorf("drip params: unsupported checkpoint mode %q", value)
	}
}

func (p Params) clone() Params {
	clone := p
	clone.RewardPerCheckpoint = cloneInt(p.RewardPerCheckpoint)
	if clone.RewardPerCheckpoint == nil {
		clone.RewardPerCheckpoint = new(uint256.Int)
	}
	if clone.Emission.SecondsPerYear == 0 {
		clone.Emission.SecondsPerYear = SecondsPerYear
	}
	return clone
}
