package treasury

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dripfarm/native/token"
)

var (
	errNilLedger          = errors.New("treasury: token ledger not configured")
	errZeroAddress        = errors.New("treasury: zero address")
	ErrInsufficientFunds  = errors.New("treasury: insufficient funds")
	ErrBeneficiaryUnknown = errors.New("treasury: beneficiary not configured")
)

// Vault holds reward custody in its own account on the reward token ledger and
// releases funds to a single beneficiary, normally the staking engine.
type Vault struct {
	address     common.Address
	beneficiary common.Address
	account     *token.Account
}

// NewVault binds a vault account on the ledger to its beneficiary.
func NewVault(ledger *token.Ledger, address, beneficiary common.Address) (*Vault, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	if address == (common.Address{}) {
		return nil, errZeroAddress
	}
	if beneficiary == (common.Address{}) {
		return nil, ErrBeneficiaryUnknown
	}
	return &Vault{
		address:     address,
		beneficiary: beneficiary,
		account:     ledger.As(address),
	}, nil
}

// Address returns the vault's custody account.
func (v *Vault) Address() common.Address { return v.address }

// Beneficiary returns the account funds are released to.
func (v *Vault) Beneficiary() common.Address { return v.beneficiary }

// Balance reports the funds currently held by the vault.
func (v *Vault) Balance(ctx context.Context) (*uint256.Int, error) {
	return v.account.BalanceOf(ctx, v.address)
}

// Withdraw releases amount to the beneficiary.
func (v *Vault) Withdraw(ctx context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	held, err := v.Balance(ctx)
	if err != nil {
		return err
	}
	if held.Lt(amount) {
		return fmt.Errorf("%w: holding %s, requested %s", ErrInsufficientFunds, held, amount)
	}
	if _, err := v.account.Transfer(ctx, v.beneficiary, amount); err != nil {
		return fmt.Errorf("treasury: release: %w", err)
	}
	return nil
}

// Claim releases the entire holding to the beneficiary and returns the amount.
func (v *Vault) Claim(ctx context.Context) (*uint256.Int, error) {
	held, err := v.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.Withdraw(ctx, held); err != nil {
		return nil, err
	}
	return held, nil
}
