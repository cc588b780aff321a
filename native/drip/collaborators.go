package drip

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is the fungible token surface the engine consumes. Transfers act on
// behalf of the engine's custody account. An implementation that calls back
// into the engine must pass the context it was given; a call made with a
// fresh context is not detected as re-entry and deadlocks on the pool lock.
type Token interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
}

// MintableToken is a Token the engine may mint.
type MintableToken interface {
	Token
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Treasury holds reward custody and releases funds to the engine on request.
type Treasury interface {
	Address() common.Address
	Withdraw(ctx context.Context, amount *uint256.Int) error
}

// Journal is implemented by collaborators able to undo their own mutations.
// The engine opens a snapshot per operation and reverts it on failure. The
// revert covers every mutation since the snapshot, so other writers must
// serialize through Engine.Exclusive.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Authorizer decides whether a caller may run operator actions.
type Authorizer interface {
	IsOperator(caller common.Address) bool
}

// OwnerGate authorizes a single owner account.
type OwnerGate struct {
	Owner common.Address
}

func (g OwnerGate) IsOperator(caller common.Address) bool {
	return g.Owner != (common.Address{}) && caller == g.Owner
}
