package drip

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dripfarm/core/events"
	"dripfarm/native/token"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	lpMinter   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type mockEngineState struct {
	pool      *PoolState
	users     map[common.Address]*UserRecord
	commits   int
	commitErr error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{users: make(map[common.Address]*UserRecord)}
}

func (m *mockEngineState) GetPool() (*PoolState, error) {
	return m.pool.Clone(), nil
}

func (m *mockEngineState) GetUser(addr common.Address) (*UserRecord, error) {
	return m.users[addr].Clone(), nil
}

func (m *mockEngineState) Commit(pool *PoolState, users []*UserRecord) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	m.pool = pool.Clone()
	for _, user := range users {
		m.users[user.Address] = user.Clone()
	}
	return nil
}

type manualClock struct {
	height uint64
	now    time.Time
}

func (c *manualClock) BlockHeight() uint64 { return c.height }
func (c *manualClock) Now() time.Time      { return c.now }

func (c *manualClock) advance(blocks uint64, d time.Duration) {
	c.height += blocks
	c.now = c.now.Add(d)
}

type fixture struct {
	engine   *Engine
	state    *mockEngineState
	clock    *manualClock
	stake    *token.Ledger
	reward   *token.Ledger
	recorder *events.Recorder
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	f := &fixture{
		state:    newMockEngineState(),
		clock:    &manualClock{height: 1, now: time.Unix(1_000, 0)},
		stake:    token.NewLedger("LP", lpMinter),
		reward:   token.NewLedger("DRIP", engineAddr),
		recorder: events.NewRecorder(0),
	}
	f.engine = f.newEngine(t, params, f.stake.As(engineAddr), f.reward.As(engineAddr))
	return f
}

func (f *fixture) newEngine(t *testing.T, params Params, stake Token, reward MintableToken) *Engine {
	t.Helper()
	engine, err := NewEngine(engineAddr, params, stake, reward)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(f.state)
	engine.SetClock(f.clock)
	engine.SetJournals(f.stake, f.reward)
	engine.SetEmitter(f.recorder)
	engine.SetAuthorizer(OwnerGate{Owner: owner})
	engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return engine
}

func (f *fixture) fund(t *testing.T, user common.Address, amount uint64) {
	t.Helper()
	ctx := context.Background()
	if err := f.stake.As(lpMinter).Mint(ctx, user, uint256.NewInt(amount)); err != nil {
		t.Fatalf("mint stake: %v", err)
	}
	max := new(uint256.Int).SetAllOne()
	if err := f.stake.As(user).Approve(ctx, engineAddr, max); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) fundRewards(t *testing.T, to common.Address, amount uint64) {
	t.Helper()
	if err := f.reward.As(engineAddr).Mint(context.Background(), to, uint256.NewInt(amount)); err != nil {
		t.Fatalf("mint reward: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, ledger *token.Ledger, addr common.Address) uint64 {
	t.Helper()
	v, err := ledger.As(addr).BalanceOf(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v.Uint64()
}

func (f *fixture) pending(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	v, err := f.engine.PendingReward(context.Background(), addr)
	if err != nil {
		t.Fatalf("pending reward: %v", err)
	}
	return v.Uint64()
}

func blockParams(rate uint64) Params {
	params := DefaultParams()
	params.RewardPerCheckpoint = uint256.NewInt(rate)
	params.LockingEnabled = false
	return params
}

func lockParams(rate uint64) Params {
	params := DefaultParams()
	params.Mode = CheckpointTime
	params.RewardPerCheckpoint = uint256.NewInt(rate)
	params.MinLockDuration = 10
	params.MaxLockDuration = 1_000
	return params
}

func TestEndToEndRateTen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, blockParams(10))
	f.fund(t, alice, 100)
	f.fundRewards(t, engineAddr, 1_000)

	rec, err := f.engine.Deposit(ctx, alice, uint256.NewInt(100), 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !rec.RewardDebt.IsZero() || f.state.pool.TotalBoostedShares.Uint64() != 100 {
		t.Fatalf("unexpected post-deposit debt %s total %s", rec.RewardDebt, f.state.pool.TotalBoostedShares)
	}

	f.clock.height = 11
	if got := f.pending(t, alice); got != 100 {
		t.Fatalf("expected pending 100, got %d", got)
	}

	rec, err = f.engine.Withdraw(ctx, alice, uint256.NewInt(50))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if rec.StakeAmount.Uint64() != 50 || rec.RewardDebt.Uint64() != 50 || rec.CumulativeEarned.Uint64() != 100 {
		t.Fatalf("unexpected user record %+v", rec)
	}
	pool := f.state.pool
	if pool.TotalBoostedShares.Uint64() != 50 {
		t.Fatalf("expected total boosted 50, got %s", pool.TotalBoostedShares)
	}
	if pool.AccRewardPerShare.Cmp(uint256.NewInt(AccPrecision)) != 0 {
		t.Fatalf("unexpected accumulator %s", pool.AccRewardPerShare)
	}
	if got := f.balance(t, f.reward, alice); got != 100 {
		t.Fatalf("expected 100 reward paid, got %d", got)
	}
	if got := f.balance(t, f.stake, alice); got != 50 {
		t.Fatalf("expected 50 stake returned, got %d", got)
	}
	if got := f.pending(t, alice); got != 0 {
		t.Fatalf("expected nothing pending after settlement, got %d", got)
	}
	if paid := f.recorder.OfType(EventTypeRewardPaid); len(paid) != 1 {
		t.Fatalf("expected one reward event, got %d", len(paid))
	}
}

func TestFeeOnTransferCreditsReceivedAmount(t *testing.T) {
	f := newFixture(t, blockParams(10))
	f.fund(t, alice, 100)
	if err := f.stake.SetTransferFee(300); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	rec, err := f.engine.Deposit(context.Background(), alice, uint256.NewInt(100), 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if rec.StakeAmount.Uint64() != 97 {
		t.Fatalf("expected 97 credited, got %s", rec.StakeAmount)
	}
	if f.state.pool.TotalBoostedShares.Uint64() != 97 {
		t.Fatalf("expected total boosted 97, got %s", f.state.pool.TotalBoostedShares)
	}
	deposits := f.recorder.OfType(EventTypeDeposited)
	if len(deposits) != 1 || deposits[0].(Deposited).Amount.Uint64() != 97 {
		t.Fatalf("unexpected deposit events %+v", deposits)
	}
}

func TestUpdatePoolIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, blockParams(10))
	f.fund(t, alice, 100)
	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(100), 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.clock.advance(5, 0)

	first, err := f.engine.UpdatePool(ctx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	f.recorder.Reset()
	second, err := f.engine.UpdatePool(ctx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !first.AccRewardPerShare.Eq(second.AccRewardPerShare) || first.LastRewardCheckpoint != second.LastRewardCheckpoint {
		t.Fatalf("second update changed the pool: %+v vs %+v", first, second)
	}
	if n := len(f.recorder.OfType(EventTypePoolUpdated)); n != 0 {
		t.Fatalf("expected no pool event on repeated update, got %d", n)
	}
}

func TestAccumulatorMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, blockParams(7))
	f.fund(t, alice, 1_000)
	f.fund(t, bob, 1_000)
	f.fundRewards(t, engineAddr, 1_000_000)

	prevAcc := new(uint256.Int)
	var prevCheckpoint uint64
	check := func(step string) {
		t.Helper()
		pool, err := f.engine.Pool(ctx)
		if err != nil {
			t.Fatalf("%s: pool: %v", step, err)
		}
		if pool.AccRewardPerShare.Lt(prevAcc) || pool.LastRewardCheckpoint < prevCheckpoint {
			t.Fatalf("%s: pool went backwards: acc %s checkpoint %d", step, pool.AccRewardPerShare, pool.LastRewardCheckpoint)
		}
		prevAcc = pool.AccRewardPerShare
		prevCheckpoint = pool.LastRewardCheckpoint
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"alice deposit", func() error { _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(300), 0); return err }},
		{"bob deposit", func() error { _, err := f.engine.Deposit(ctx, bob, uint256.NewInt(17), 0); return err }},
		{"alice withdraw", func() error { _, err := f.engine.Withdraw(ctx, alice, uint256.NewInt(299)); return err }},
		{"rate to zero", func() error { return f.engine.SetRewardRate(ctx, owner, uint256.NewInt(0)) }},
		{"bob withdraw all", func() error { _, err := f.engine.Withdraw(ctx, bob, uint256.NewInt(17)); return err }},
		{"alice claim", func() error { _, err := f.engine.Deposit(ctx, alice, nil, 0); return err }},
	}
	for _, step := range steps {
		f.clock.advance(3, 0)
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		check(step.name)
	}
}

func TestEmptyPoolEmissionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, blockParams(10))
	f.fund(t, bob, 100)
	f.fundRewards(t, engineAddr, 10_000)

	if _, err := f.engine.UpdatePool(ctx); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.clock.height = 101
	if _, err := f.engine.Deposit(ctx, bob, uint256.NewInt(100), 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !f.state.pool.AccRewardPerShare.IsZero() || f.state.pool.LastRewardCheckpoint != 101 {
		t.Fatalf("empty period should only move the checkpoint: %+v", f.state.pool)
	}
	f.clock.height = 111
	if got := f.pending(t, bob); got != 100 {
		t.Fatalf("expected only post-deposit emission (100), got %d", got)
	}
}

func TestNoFreeLunch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, blockParams(13))
	f.fundRewards(t, engineAddr, 1_000_000)
	users := []common.Address{alice, bob, carol}
	for i, user := range users {
		f.fund(t, user, 1_000)
		f.clock.advance(uint64(i+1), 0)
		if _, err := f.engine.Deposit(ctx, user, uint256.NewInt(uint64(111*(i+1))), 0); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	f.clock.advance(4, 0)
	if _, err := f.engine.Withdraw(ctx, bob, uint256.NewInt(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	f.clock.advance(9, 0)
	pool, err := f.engine.UpdatePool(ctx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	sumPending := new(uint256.Int)
	sumDebt := new(uint256.Int)
	for _, user := range users {
		p, err := f.engine.PendingReward(ctx, user)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		sumPending.Add(sumPending, p)
		sumDebt.Add(sumDebt, f.state.users[user].RewardDebt)
	}
	global := new(uint256.Int).Mul(pool.AccRewardPerShare, pool.TotalBoostedShares)
	global.Div(global, uint256.NewInt(AccPrecision))
	global.Sub(global, sumDebt)
	if sumPending.Gt(global) {
		t.Fatalf("users are owed %s but the pool only accrued %s", sumPending, global)
	}
	dust := new(uint256.Int).Sub(global, sumPending)
	if dust.Uint64() > uint64(len(users)) {
		t.Fatalf("truncation dust %s exceeds tolerance", dust)
	}
}

func TestWithdrawInsufficientStake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, blockParams(10))
	f.fund(t, alice, 100)
	if _, err := f.engine.Deposit(ctx, alice, uint256.NewInt(40), 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	commits := f.state.commits
	_, err := f.engine.Withdraw(ctx, alice, uint256.NewInt(41))
	if !errors.Is(err, ErrInsufficientStake) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected insufficient stake validation error, got %v", err)
	}
	if f.state.commits != commits {
		t.Fatalf("rejected withdraw must not commit")
	}
}

func TestWithdrawWithoutPositionDoesNotCreateRecord(t *testing.T) {
	f := newFixture(t, blockParams(10))
	if _, err := f.engine.Withdraw(context.Background(), carol, nil); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, ok := f.state.users[carol]; ok {
		t.Fatalf("expected no record for carol")
	}
	if _, err := f.engine.Deposit(context.Background(), carol, nil, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, ok := f.state.users[carol]; ok {
		t.Fatalf("claim without a position must not create a record")
	}
	if n := len(f.recorder.OfType(EventTypeDeposited)); n != 0 {
		t.Fatalf("claim without a position must not emit deposits, got %d", n)
	}
	if n := len(f.recorder.OfType(EventTypeWithdrawn)); n != 0 {
		t.Fatalf("withdraw without a position must not emit, got %d", n)
	}
}

func TestZeroAddressRejected(t *testing.T) {
	f := newFixture(t, blockParams(10))
	if _, err := f.engine.Deposit(context.Background(), common.Address{}, uint256.NewInt(1), 0); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
	if _, err := NewEngine(common.Address{}, blockParams(1), f.stake.As(engineAddr), f.reward.As(engineAddr)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero engine address error, got %v", err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine, err := NewEngine(engineAddr, blockParams(1), token.NewLedger("LP", lpMinter).As(engineAddr), token.NewLedger("DRIP", engineAddr).As(engineAddr))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.UpdatePool(context.Background()); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
}
