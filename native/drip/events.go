package drip

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dripfarm/core/types"
)

const (
	// EventTypePoolUpdated is emitted whenever the accumulator checkpoint advances.
	EventTypePoolUpdated = "drip.poolUpdated"
	// EventTypeDeposited is emitted after a deposit credits stake.
	EventTypeDeposited = "drip.deposited"
	// EventTypeWithdrawn is emitted after stake is returned to a user.
	EventTypeWithdrawn = "drip.withdrawn"
	// EventTypeRewardPaid is emitted when pending rewards are settled.
	EventTypeRewardPaid = "drip.rewardPaid"
	// EventTypeMinted is emitted when the mint schedule issues rewards.
	EventTypeMinted = "drip.minted"
	// EventTypeRewardRateUpdated is emitted when an operator changes the rate.
	EventTypeRewardRateUpdated = "drip.rewardRateUpdated"
	// EventTypeTreasuryUpdated is emitted when an operator changes the treasury.
	EventTypeTreasuryUpdated = "drip.treasuryUpdated"
)

// PoolUpdated captures an accumulator advance.
type PoolUpdated struct {
	Checkpoint         uint64
	TotalBoostedShares *uint256.Int
	AccRewardPerShare  *uint256.Int
}

func (PoolUpdated) EventType() string { return EventTypePoolUpdated }

func (e PoolUpdated) Event() *types.Event {
	return &types.Event{Type: EventTypePoolUpdated, Attributes: map[string]string{
		"checkpoint":         strconv.FormatUint(e.Checkpoint, 10),
		"totalBoostedShares": formatAmount(e.TotalBoostedShares),
		"accRewardPerShare":  formatAmount(e.AccRewardPerShare),
	}}
}

// Deposited captures the effective amount credited to a user.
type Deposited struct {
	User            common.Address
	Amount          *uint256.Int
	LockDuration    uint64
	LockEndTime     uint64
	BoostMultiplier *uint256.Int
}

func (Deposited) EventType() string { return EventTypeDeposited }

func (e Deposited) Event() *types.Event {
	attrs := map[string]string{
		"user":   e.User.Hex(),
		"amount": formatAmount(e.Amount),
	}
	if e.LockDuration > 0 {
		attrs["lockDuration"] = strconv.FormatUint(e.LockDuration, 10)
		attrs["lockEnd"] = strconv.FormatUint(e.LockEndTime, 10)
	}
	if e.BoostMultiplier != nil {
		attrs["boostMultiplier"] = e.BoostMultiplier.Dec()
	}
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// Withdrawn captures stake returned to a user.
type Withdrawn struct {
	User   common.Address
	Amount *uint256.Int
}

func (Withdrawn) EventType() string { return EventTypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"user":   e.User.Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// RewardPaid captures a settlement payout.
type RewardPaid struct {
	User             common.Address
	Amount           *uint256.Int
	CumulativeEarned *uint256.Int
}

func (RewardPaid) EventType() string { return EventTypeRewardPaid }

func (e RewardPaid) Event() *types.Event {
	return &types.Event{Type: EventTypeRewardPaid, Attributes: map[string]string{
		"user":             e.User.Hex(),
		"amount":           formatAmount(e.Amount),
		"cumulativeEarned": formatAmount(e.CumulativeEarned),
	}}
}

// EmissionMinted captures rewards minted by the yearly schedule.
type EmissionMinted struct {
	To                   common.Address
	Amount               *uint256.Int
	YearlySupplySnapshot *uint256.Int
}

func (EmissionMinted) EventType() string { return EventTypeMinted }

func (e EmissionMinted) Event() *types.Event {
	return &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"to":       e.To.Hex(),
		"amount":   formatAmount(e.Amount),
		"snapshot": formatAmount(e.YearlySupplySnapshot),
	}}
}

// RewardRateUpdated captures an operator rate change.
type RewardRateUpdated struct {
	Previous *uint256.Int
	Current  *uint256.Int
}

func (RewardRateUpdated) EventType() string { return EventTypeRewardRateUpdated }

func (e RewardRateUpdated) Event() *types.Event {
	return &types.Event{Type: EventTypeRewardRateUpdated, Attributes: map[string]string{
		"previous": formatAmount(e.Previous),
		"current":  formatAmount(e.Current),
	}}
}

// TreasuryUpdated captures an operator treasury change.
type TreasuryUpdated struct {
	Previous common.Address
	Current  common.Address
}

func (TreasuryUpdated) EventType() string { return EventTypeTreasuryUpdated }

func (e TreasuryUpdated) Event() *types.Event {
	return &types.Event{Type: EventTypeTreasuryUpdated, Attributes: map[string]string{
		"previous": e.Previous.Hex(),
		"current":  e.Current.Hex(),
	}}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
