package drip

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dripfarm/core/events"
	nativecommon "dripfarm/native/common"
	"dripfarm/observability/metrics"
)

const moduleName = "drip"

// inFlightKey marks a context as belonging to an operation already holding
// the engine lock.
type inFlightKey struct{}

// Engine owns a single reward pool. Every exported operation runs under the
// pool mutex and either commits all of its effects or none of them.
type Engine struct {
	mu sync.Mutex

	state    engineState
	address  common.Address
	params   Params
	stake    Token
	reward   MintableToken
	treasury Treasury
	auth     Authorizer
	clock    Clock
	pauses   *nativecommon.Pauses
	journals []Journal
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *metrics.DripMetrics
}

// NewEngine constructs an engine holding custody at address. The stake token
// is pulled from users on deposit and the reward token is paid on settlement.
func NewEngine(address common.Address, params Params, stake Token, reward MintableToken) (*Engine, error) {
	if address == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if stake == nil || reward == nil {
		return nil, errNilTokens
	}
	params = params.clone()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		address: address,
		params:  params,
		stake:   stake,
		reward:  reward,
		clock:   WallClock{},
		pauses:  nativecommon.NewPauses(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: metrics.Drip(),
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAuthorizer installs the operator access gate.
func (e *Engine) SetAuthorizer(auth Authorizer) { e.auth = auth }

// SetClock replaces the block context source.
func (e *Engine) SetClock(clock Clock) {
	if clock != nil {
		e.clock = clock
	}
}

func (e *Engine) SetPauses(p *nativecommon.Pauses) {
	if p != nil {
		e.pauses = p
	}
}

// SetJournals registers collaborators whose mutations are rolled back when an
// operation fails.
func (e *Engine) SetJournals(journals ...Journal) {
	e.journals = append([]Journal(nil), journals...)
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) SetMetrics(m *metrics.DripMetrics) { e.metrics = m }

// AttachTreasury sets the initial treasury without an operator check. Use
// SetTreasury to change it afterwards.
func (e *Engine) AttachTreasury(t Treasury) { e.treasury = t }

// Address returns the engine's custody account.
func (e *Engine) Address() common.Address { return e.address }

// Params returns a copy of the pool parameters.
func (e *Engine) Params() Params { return e.params.clone() }

// txn is the working set of a single operation.
type txn struct {
	ctx    context.Context
	now    instant
	pool   *PoolState
	users  map[common.Address]*UserRecord
	dirty  []common.Address
	events []events.Event
	paid   *uint256.Int
	minted *uint256.Int
}

func (tx *txn) emit(evt events.Event) { tx.events = append(tx.events, evt) }

// user returns the working record for addr and whether it was persisted.
func (e *Engine) user(tx *txn, addr common.Address) (*UserRecord, bool, error) {
	if rec, ok := tx.users[addr]; ok {
		return rec, true, nil
	}
	rec, err := e.state.GetUser(addr)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return newUserRecord(addr), false, nil
	}
	rec = rec.Clone()
	tx.users[addr] = rec
	return rec, true, nil
}

func (tx *txn) touch(rec *UserRecord) {
	if _, ok := tx.users[rec.Address]; !ok {
		tx.users[rec.Address] = rec
	}
	for _, addr := range tx.dirty {
		if addr == rec.Address {
			return
		}
	}
	tx.dirty = append(tx.dirty, rec.Address)
}

func (tx *txn) dirtyUsers() []*UserRecord {
	out := make([]*UserRecord, 0, len(tx.dirty))
	for _, addr := range tx.dirty {
		out = append(out, tx.users[addr])
	}
	return out
}

func (e *Engine) reentered(ctx context.Context) bool {
	owner, _ := ctx.Value(inFlightKey{}).(*Engine)
	return owner == e
}

// Exclusive runs fn inside the pool's serialization domain. Anything that
// writes to a journaled collaborator outside an engine operation, or reads it
// for a consistent snapshot, must go through Exclusive: a failing operation
// reverts every ledger mutation made while its snapshot is open.
func (e *Engine) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.exclusive(ctx, fn)
}

// exclusive runs fn under the pool lock without opening a transaction.
// Re-entry is recognised through the context; a collaborator calling back
// with an unrelated context blocks on the lock.
func (e *Engine) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.reentered(ctx) {
		return ErrReentrant
	}
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(context.WithValue(ctx, inFlightKey{}, e))
}

// mutate runs fn as an atomic operation: the pool is loaded (or created),
// collaborator journals are snapshotted, and either everything fn touched is
// committed in one batch or every journal is reverted.
func (e *Engine) mutate(ctx context.Context, op string, fn func(tx *txn) error) error {
	err := e.exclusive(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		snaps := e.snapshot()
		tx, err := e.begin(ctx)
		if err == nil {
			err = fn(tx)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = e.state.Commit(tx.pool, tx.dirtyUsers())
		}
		if err != nil {
			e.revert(snaps)
			return err
		}
		e.discard(snaps)
		e.publish(tx)
		return nil
	})
	e.observe(op, err)
	return err
}

func (e *Engine) begin(ctx context.Context) (*txn, error) {
	tx := &txn{
		ctx:    ctx,
		now:    readClock(e.clock),
		users:  make(map[common.Address]*UserRecord),
		paid:   new(uint256.Int),
		minted: new(uint256.Int),
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		if pool, err = e.createPool(ctx, tx.now); err != nil {
			return nil, err
		}
	} else {
		pool = pool.Clone()
	}
	tx.pool = pool
	return tx, nil
}

func (e *Engine) snapshot() []int {
	ids := make([]int, len(e.journals))
	for i, j := range e.journals {
		ids[i] = j.Snapshot()
	}
	return ids
}

func (e *Engine) revert(ids []int) {
	for i := len(ids) - 1; i >= 0; i-- {
		e.journals[i].RevertToSnapshot(ids[i])
	}
}

func (e *Engine) discard(ids []int) {
	for i := len(ids) - 1; i >= 0; i-- {
		e.journals[i].DiscardSnapshot(ids[i])
	}
}

func (e *Engine) publish(tx *txn) {
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	e.metrics.ObservePool(tx.pool.AccRewardPerShare, tx.pool.TotalBoostedShares, tx.pool.LastRewardCheckpoint)
	if !tx.paid.IsZero() {
		e.metrics.ObserveRewardPaid(tx.paid)
	}
	if !tx.minted.IsZero() {
		e.metrics.ObserveMinted(tx.minted)
	}
}

func (e *Engine) observe(op string, err error) {
	e.metrics.ObserveOperation(op, ErrorKind(err))
	if errors.Is(err, ErrArithmetic) {
		e.metrics.ObserveInvariantViolation(op)
		e.logger.Error("drip arithmetic invariant violated", slog.String("operation", op), slog.Any("error", err))
	}
}

// Deposit settles the caller's pending reward, pulls amount of the stake token
// and optionally extends the caller's lock by lockDuration. A deposit of zero
// with no lock only claims rewards.
func (e *Engine) Deposit(ctx context.Context, addr common.Address, amount *uint256.Int, lockDuration uint64) (*UserRecord, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if addr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	var result *UserRecord
	err := e.mutate(ctx, "deposit", func(tx *txn) error {
		rec, existed, err := e.user(tx, addr)
		if err != nil {
			return err
		}
		lock, err := e.resolveLock(rec, lockDuration, tx.now.unix)
		if err != nil {
			return err
		}
		if err := e.updatePool(tx); err != nil {
			return err
		}
		prior := rec.Clone()
		oldBoosted, err := rec.BoostedShare()
		if err != nil {
			return err
		}
		if !rec.StakeAmount.IsZero() {
			if err := e.settle(tx, rec); err != nil {
				return err
			}
		}
		received := new(uint256.Int)
		if !amount.IsZero() {
			if received, err = e.pullStake(tx, addr, amount); err != nil {
				return err
			}
		}
		if rec.StakeAmount, err = add(rec.StakeAmount, received); err != nil {
			return err
		}
		rec.LockStartTime, rec.LockEndTime = lock.start, lock.end
		if lock.total > tx.pool.ObservedMaxLockDuration {
			tx.pool.ObservedMaxLockDuration = lock.total
		}
		if rec.BoostMultiplier, err = e.multiplier(tx.ctx, tx.now.unix, tx.pool, prior, lock.total, rec.StakeAmount); err != nil {
			return err
		}
		newBoosted, err := rec.BoostedShare()
		if err != nil {
			return err
		}
		total, err := sub(tx.pool.TotalBoostedShares, oldBoosted)
		if err != nil {
			return err
		}
		if tx.pool.TotalBoostedShares, err = add(total, newBoosted); err != nil {
			return err
		}
		if rec.RewardDebt, err = mulDiv(newBoosted, tx.pool.AccRewardPerShare, u64(AccPrecision)); err != nil {
			return err
		}
		if existed || !rec.StakeAmount.IsZero() || rec.LockEndTime != 0 {
			tx.touch(rec)
			tx.emit(Deposited{
				User:            addr,
				Amount:          received,
				LockDuration:    lock.total,
				LockEndTime:     rec.LockEndTime,
				BoostMultiplier: cloneInt(rec.BoostMultiplier),
			})
		}
		result = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// pullStake transfers amount from the user into custody and returns what was
// actually received, which is less than amount for fee-on-transfer tokens.
func (e *Engine) pullStake(tx *txn, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	before, err := e.stake.BalanceOf(tx.ctx, e.address)
	if err != nil {
		return nil, collaboratorFailure("stake balance", err)
	}
	ok, err := e.stake.TransferFrom(tx.ctx, from, e.address, amount)
	if err != nil {
		return nil, collaboratorFailure("stake transferFrom", err)
	}
	if !ok {
		return nil, ErrTransferRejected
	}
	after, err := e.stake.BalanceOf(tx.ctx, e.address)
	if err != nil {
		return nil, collaboratorFailure("stake balance", err)
	}
	return sub(after, before)
}

// Withdraw settles the caller's pending reward and returns amount of stake.
func (e *Engine) Withdraw(ctx context.Context, addr common.Address, amount *uint256.Int) (*UserRecord, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if addr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	var result *UserRecord
	err := e.mutate(ctx, "withdraw", func(tx *txn) error {
		rec, existed, err := e.user(tx, addr)
		if err != nil {
			return err
		}
		if rec.LockedAt(tx.now.unix) {
			return ErrLocked
		}
		if rec.StakeAmount.Lt(amount) {
			return ErrInsufficientStake
		}
		if err := e.updatePool(tx); err != nil {
			return err
		}
		oldBoosted, err := rec.BoostedShare()
		if err != nil {
			return err
		}
		if !rec.StakeAmount.IsZero() {
			if err := e.settle(tx, rec); err != nil {
				return err
			}
		}
		if rec.StakeAmount, err = sub(rec.StakeAmount, amount); err != nil {
			return err
		}
		if !amount.IsZero() {
			ok, err := e.stake.Transfer(tx.ctx, addr, amount)
			if err != nil {
				return collaboratorFailure("stake transfer", err)
			}
			if !ok {
				return ErrTransferRejected
			}
		}
		newBoosted, err := rec.BoostedShare()
		if err != nil {
			return err
		}
		delta, err := sub(oldBoosted, newBoosted)
		if err != nil {
			return err
		}
		if tx.pool.TotalBoostedShares, err = sub(tx.pool.TotalBoostedShares, delta); err != nil {
			return err
		}
		if rec.RewardDebt, err = mulDiv(newBoosted, tx.pool.AccRewardPerShare, u64(AccPrecision)); err != nil {
			return err
		}
		if existed {
			tx.touch(rec)
			tx.emit(Withdrawn{User: addr, Amount: cloneInt(amount)})
		}
		result = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdatePool advances the accumulator to the current checkpoint. It is safe
// to call at any time and is a no-op when the checkpoint has not moved.
func (e *Engine) UpdatePool(ctx context.Context) (*PoolState, error) {
	var result *PoolState
	err := e.mutate(ctx, "updatePool", func(tx *txn) error {
		if err := e.updatePool(tx); err != nil {
			return err
		}
		result = tx.pool.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PendingReward returns what addr would be paid if it settled now.
func (e *Engine) PendingReward(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	var pending *uint256.Int
	err := e.exclusive(ctx, func(context.Context) error {
		now := readClock(e.clock)
		pool, err := e.currentPool(now)
		if err != nil {
			return err
		}
		if _, err := advance(pool, now.checkpoint(e.params.Mode)); err != nil {
			return err
		}
		rec, err := e.state.GetUser(addr)
		if err != nil {
			return err
		}
		if rec == nil {
			pending = new(uint256.Int)
			return nil
		}
		pending, err = pendingFor(pool, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Pool returns the persisted pool state, or the state a new pool would start
// with when no operation has run yet.
func (e *Engine) Pool(ctx context.Context) (*PoolState, error) {
	var pool *PoolState
	err := e.exclusive(ctx, func(context.Context) error {
		var err error
		pool, err = e.currentPool(readClock(e.clock))
		return err
	})
	return pool, err
}

// User returns the record for addr. Accounts that never deposited report a
// zero position.
func (e *Engine) User(ctx context.Context, addr common.Address) (*UserRecord, error) {
	var rec *UserRecord
	err := e.exclusive(ctx, func(context.Context) error {
		stored, err := e.state.GetUser(addr)
		if err != nil {
			return err
		}
		if stored == nil {
			rec = newUserRecord(addr)
			return nil
		}
		rec = stored.Clone()
		return nil
	})
	return rec, err
}

// BoostMultiplier evaluates the multiplier addr would receive for staking
// amount over duration, given its current position and the pool liquidity.
func (e *Engine) BoostMultiplier(ctx context.Context, addr common.Address, duration uint64, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	var mult *uint256.Int
	err := e.exclusive(ctx, func(ctx context.Context) error {
		now := readClock(e.clock)
		pool, err := e.currentPool(now)
		if err != nil {
			return err
		}
		rec, err := e.state.GetUser(addr)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = newUserRecord(addr)
		}
		mult, err = e.multiplier(ctx, now.unix, pool, rec, duration, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mult, nil
}

func (e *Engine) currentPool(now instant) (*PoolState, error) {
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return newPoolState(e.params.RewardPerCheckpoint, e.startCheckpoint(now)), nil
	}
	return pool.Clone(), nil
}
