package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dripfarm/native/drip"
)

// Validate checks addresses and engine parameters.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("ListenAddress required")
	}
	if _, err := ParseAddress("engine.Address", c.Engine.Address); err != nil {
		return err
	}
	if _, err := ParseAddress("engine.Owner", c.Engine.Owner); err != nil {
		return err
	}
	if c.Engine.Treasury != "" {
		if _, err := ParseAddress("engine.Treasury", c.Engine.Treasury); err != nil {
			return err
		}
	}
	if c.Engine.StakeFeeBps > 10_000 {
		return fmt.Errorf("engine.StakeFeeBps %d exceeds 10000", c.Engine.StakeFeeBps)
	}
	if _, err := c.Engine.Params(); err != nil {
		return err
	}
	if c.Auth.Enabled && c.Auth.Secret() == "" {
		return errors.New("auth: HMACSecret or HMACSecretEnv required when enabled")
	}
	for i, acct := range c.Dev {
		if _, err := ParseAddress(fmt.Sprintf("dev_accounts[%d].Address", i), acct.Address); err != nil {
			return err
		}
		if _, err := ParseAmount(acct.Stake); err != nil {
			return fmt.Errorf("dev_accounts[%d].Stake: %w", i, err)
		}
		if _, err := ParseAmount(acct.Reward); err != nil {
			return fmt.Errorf("dev_accounts[%d].Reward: %w", i, err)
		}
	}
	return nil
}

// Params converts the engine section into pool parameters.
func (e Engine) Params() (drip.Params, error) {
	mode, err := drip.ParseCheckpointMode(e.CheckpointMode)
	if err != nil {
		return drip.Params{}, err
	}
	rate, err := ParseAmount(e.RewardPerCheckpoint)
	if err != nil {
		return drip.Params{}, fmt.Errorf("engine.RewardPerCheckpoint: %w", err)
	}
	params := drip.Params{
		Mode:                mode,
		RewardPerCheckpoint: rate,
		StartCheckpoint:     e.StartCheckpoint,
		LockingEnabled:      e.LockingEnabled,
		MinLockDuration:     e.MinLockSeconds,
		MaxLockDuration:     e.MaxLockSeconds,
		BoostFactor:         e.BoostFactor,
		Emission: drip.EmissionParams{
			Enabled:        e.Emission.Enabled,
			EmissionBps:    e.Emission.EmissionBps,
			SecondsPerYear: e.Emission.SecondsPerYear,
		},
	}
	if err := params.Validate(); err != nil {
		return drip.Params{}, err
	}
	return params, nil
}

// Clock returns the wall clock block heights are derived from.
func (e Engine) Clock() drip.WallClock {
	return drip.WallClock{
		Genesis:       time.Unix(e.GenesisUnix, 0),
		BlockInterval: time.Duration(e.BlockIntervalSeconds) * time.Second,
	}
}

// Secret resolves the HMAC secret, preferring the inline value.
func (a Auth) Secret() string {
	if secret := strings.TrimSpace(a.HMACSecret); secret != "" {
		return secret
	}
	if a.HMACSecretEnv != "" {
		return strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
	}
	return ""
}

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// ParseAmount parses a base-10 token amount. Empty means zero.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}
