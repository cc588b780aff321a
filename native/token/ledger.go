package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dripfarm/storage"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMinter             = errors.New("token: caller is not the minter")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
)

const basisPoints = 10_000

// Ledger is an in-memory fungible token ledger. Mutations are journaled while
// at least one snapshot is open so callers can revert a failed operation.
type Ledger struct {
	mu         sync.Mutex
	symbol     string
	minter     common.Address
	feeBps     uint64
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int

	journal   []journalEntry
	snapshots []int
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type journalEntry struct {
	balance   *common.Address
	allowance *allowanceKey
	supply    bool
	prev      *uint256.Int
}

// NewLedger returns an empty ledger whose mint capability belongs to minter.
func NewLedger(symbol string, minter common.Address) *Ledger {
	return &Ledger{
		symbol:     strings.TrimSpace(symbol),
		minter:     minter,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// Symbol returns the ticker the ledger was created with.
func (l *Ledger) Symbol() string { return l.symbol }

// SetTransferFee configures a fee in basis points that is burned from every
// transfer. It models tokens whose recipients receive less than the sent amount.
func (l *Ledger) SetTransferFee(bps uint64) error {
	if bps > basisPoints {
		return fmt.Errorf("token: transfer fee %d exceeds %d bps", bps, basisPoints)
	}
	l.mu.Lock()
	l.feeBps = bps
	l.mu.Unlock()
	return nil
}

// SetMinter replaces the account allowed to mint.
func (l *Ledger) SetMinter(minter common.Address) {
	l.mu.Lock()
	l.minter = minter
	l.mu.Unlock()
}

// As returns a view of the ledger acting on behalf of caller.
func (l *Ledger) As(caller common.Address) *Account {
	return &Account{ledger: l, caller: caller}
}

// Snapshot opens a journal scope and returns its identifier.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := len(l.journal)
	l.snapshots = append(l.snapshots, id)
	return id
}

// RevertToSnapshot undoes every mutation recorded since the snapshot was taken
// and closes it along with any snapshot opened after it.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.snapshotIndex(id)
	if idx < 0 {
		return
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		l.undo(l.journal[i])
	}
	l.journal = l.journal[:id]
	l.snapshots = l.snapshots[:idx]
	l.trimJournal()
}

// DiscardSnapshot closes the snapshot keeping its mutations.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.snapshotIndex(id)
	if idx < 0 {
		return
	}
	l.snapshots = l.snapshots[:idx]
	l.trimJournal()
}

func (l *Ledger) snapshotIndex(id int) int {
	for i := len(l.snapshots) - 1; i >= 0; i-- {
		if l.snapshots[i] == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) trimJournal() {
	if len(l.snapshots) == 0 {
		l.journal = l.journal[:0]
	}
}

func (l *Ledger) undo(entry journalEntry) {
	switch {
	case entry.supply:
		l.supply = entry.prev
	case entry.balance != nil:
		if entry.prev == nil {
			delete(l.balances, *entry.balance)
		} else {
			l.balances[*entry.balance] = entry.prev
		}
	case entry.allowance != nil:
		if entry.prev == nil {
			delete(l.allowances, *entry.allowance)
		} else {
			l.allowances[*entry.allowance] = entry.prev
		}
	}
}

func (l *Ledger) recording() bool { return len(l.snapshots) > 0 }

func (l *Ledger) setBalance(addr common.Address, value *uint256.Int) {
	if l.recording() {
		owner := addr
		l.journal = append(l.journal, journalEntry{balance: &owner, prev: l.balances[addr]})
	}
	l.balances[addr] = value
}

func (l *Ledger) setAllowance(key allowanceKey, value *uint256.Int) {
	if l.recording() {
		k := key
		l.journal = append(l.journal, journalEntry{allowance: &k, prev: l.allowances[key]})
	}
	l.allowances[key] = value
}

func (l *Ledger) setSupply(value *uint256.Int) {
	if l.recording() {
		l.journal = append(l.journal, journalEntry{supply: true, prev: l.supply})
	}
	l.supply = value
}

func (l *Ledger) balanceOf(addr common.Address) *uint256.Int {
	if bal, ok := l.balances[addr]; ok && bal != nil {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	balance := l.balanceOf(from)
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	fee := new(uint256.Int)
	if l.feeBps > 0 {
		fee.Mul(amount, uint256.NewInt(l.feeBps))
		fee.Div(fee, uint256.NewInt(basisPoints))
	}
	received := new(uint256.Int).Sub(amount, fee)

	l.setBalance(from, new(uint256.Int).Sub(balance, amount))
	l.setBalance(to, new(uint256.Int).Add(l.balanceOf(to), received))
	if !fee.IsZero() {
		l.setSupply(new(uint256.Int).Sub(l.supply, fee))
	}
	return nil
}

// Account is a caller-bound view of a Ledger exposing the fungible token
// surface consumed by the staking engine.
type Account struct {
	ledger *Ledger
	caller common.Address
}

// Address returns the account the view acts for.
func (a *Account) Address() common.Address { return a.caller }

func (a *Account) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	return a.ledger.balanceOf(owner), nil
}

func (a *Account) TotalSupply(context.Context) (*uint256.Int, error) {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	return new(uint256.Int).Set(a.ledger.supply), nil
}

func (a *Account) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	if v, ok := a.ledger.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

func (a *Account) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	if err := a.ledger.move(a.caller, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Account) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	key := allowanceKey{owner: from, spender: a.caller}
	if from != a.caller {
		allowance, ok := a.ledger.allowances[key]
		if !ok || allowance.Lt(amount) {
			return false, ErrInsufficientAllowance
		}
		a.ledger.setAllowance(key, new(uint256.Int).Sub(allowance, amount))
	}
	if err := a.ledger.move(from, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Account) Approve(_ context.Context, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	a.ledger.setAllowance(allowanceKey{owner: a.caller, spender: spender}, new(uint256.Int).Set(amount))
	return nil
}

func (a *Account) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	if a.caller != a.ledger.minter {
		return ErrNotMinter
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	supply, overflow := new(uint256.Int).AddOverflow(a.ledger.supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	a.ledger.setSupply(supply)
	a.ledger.setBalance(to, new(uint256.Int).Add(a.ledger.balanceOf(to), amount))
	return nil
}

type storedBalance struct {
	Owner  common.Address
	Amount *uint256.Int
}

type storedAllowance struct {
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

type storedLedger struct {
	Supply     *uint256.Int
	Balances   []storedBalance
	Allowances []storedAllowance
}

// Save persists balances, allowances and supply under key.
func (l *Ledger) Save(db storage.Database, key []byte) error {
	l.mu.Lock()
	stored := storedLedger{Supply: new(uint256.Int).Set(l.supply)}
	for owner, amount := range l.balances {
		if amount == nil || amount.IsZero() {
			continue
		}
		stored.Balances = append(stored.Balances, storedBalance{Owner: owner, Amount: new(uint256.Int).Set(amount)})
	}
	for k, amount := range l.allowances {
		if amount == nil || amount.IsZero() {
			continue
		}
		stored.Allowances = append(stored.Allowances, storedAllowance{Owner: k.owner, Spender: k.spender, Amount: new(uint256.Int).Set(amount)})
	}
	l.mu.Unlock()

	sort.Slice(stored.Balances, func(i, j int) bool {
		return bytes.Compare(stored.Balances[i].Owner[:], stored.Balances[j].Owner[:]) < 0
	})
	sort.Slice(stored.Allowances, func(i, j int) bool {
		if c := bytes.Compare(stored.Allowances[i].Owner[:], stored.Allowances[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(stored.Allowances[i].Spender[:], stored.Allowances[j].Spender[:]) < 0
	})
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("token: encode ledger: %w", err)
	}
	return db.Put(key, encoded)
}

// Load replaces the ledger contents with the snapshot stored under key. It
// reports false when nothing was stored.
func (l *Ledger) Load(db storage.Database, key []byte) (bool, error) {
	data, err := db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var stored storedLedger
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return false, fmt.Errorf("token: decode ledger: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply = new(uint256.Int)
	if stored.Supply != nil {
		l.supply.Set(stored.Supply)
	}
	l.balances = make(map[common.Address]*uint256.Int, len(stored.Balances))
	for _, b := range stored.Balances {
		l.balances[b.Owner] = b.Amount
	}
	l.allowances = make(map[allowanceKey]*uint256.Int, len(stored.Allowances))
	for _, a := range stored.Allowances {
		l.allowances[allowanceKey{owner: a.Owner, spender: a.Spender}] = a.Amount
	}
	l.journal = nil
	l.snapshots = nil
	return true, nil
}
