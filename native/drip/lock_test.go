package drip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestWithdrawRejectedUntilLockEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockParams(1))
	f.fund(t, alice, 100)
	f.fundRewards(t, engineAddr, 1_000_000)

	rec, err := f.engine.Deposit(ctx, alice, uint256.NewInt(100), 100)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if rec.LockStartTime != 1_000 || rec.LockEndTime != 1_100 {
		t.Fatalf("unexpected lock window %d..%d", rec.LockStartTime, rec.LockEndTime)
	}

	f.clock.advance(0, 99*time.Second)
	if _, err := f.engine.Withdraw(ctx, alice, uint256.NewInt(1)); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}

	f.clock.advance(0, time.Second)
	if _, err := f.engine.Withdraw(ctx, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("withdraw at lock end: %v", err)
	}
}

func TestLockBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockParams(1))
	f.fund(t, alice, 100)
	f.fundRewards(t, engineAddr, 1_000_000)

	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 9); !errors.Is(err, ErrLockTooShort) {
		t.Fatalf("expected lock too short, got %v", err)
	}
	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 1_001); !errors.Is(err, ErrLockTooLong) {
		t.Fatalf("expected lock too long, got %v", err)
	}
	if f.state.commits != 0 || f.balance(t, f.stake, alice) != 100 {
		t.Fatalf("rejected deposits must leave state untouched")
	}

	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 600); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.clock.advance(0, 100*time.Second)
	// 500 seconds remain, so another 501 would exceed the maximum.
	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 501); !errors.Is(err, ErrLockTooLong) {
		t.Fatalf("expected extension beyond max to fail, got %v", err)
	}
	rec, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 500)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if rec.LockStartTime != 1_100 || rec.LockEndTime != 2_100 {
		t.Fatalf("extension must re-anchor to now: %d..%d", rec.LockStartTime, rec.LockEndTime)
	}
	if f.state.pool.ObservedMaxLockDuration != 1_000 {
		t.Fatalf("expected observed max 1000, got %d", f.state.pool.ObservedMaxLockDuration)
	}
}

func TestLockingDisabled(t *testing.T) {
	f := newFixture(t, blockParams(1))
	f.fund(t, alice, 100)
	f.fundRewards(t, engineAddr, 1_000_000)
	_, err := f.engine.Deposit(context.Background(), alice, uint256.NewInt(10), 50)
	if !errors.Is(err, ErrLockingDisabled) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected locking disabled, got %v", err)
	}
}

func TestZeroDurationKeepsActiveLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockParams(1))
	f.fund(t, alice, 100)
	f.fundRewards(t, engineAddr, 1_000_000)
	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 200); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.clock.advance(0, 50*time.Second)
	rec, err := f.engine.Deposit(ctx, alice, uint256.NewInt(10), 0)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if rec.LockStartTime != 1_000 || rec.LockEndTime != 1_200 {
		t.Fatalf("top up without duration moved the lock: %d..%d", rec.LockStartTime, rec.LockEndTime)
	}
}
