package drip

import (
	"errors"
	"fmt"
)

// Error kinds. Every engine error wraps exactly one of these so callers can
// branch with errors.Is without matching individual reasons.
var (
	ErrValidation   = errors.New("drip engine: validation failed")
	ErrArithmetic   = errors.New("drip engine: arithmetic invariant violated")
	ErrCollaborator = errors.New("drip engine: collaborator call failed")
)

var (
	ErrInsufficientStake = validationError("insufficient stake")
	ErrLocked            = validationError("stake is locked")
	ErrLockTooShort      = validationError("lock duration below minimum")
	ErrLockTooLong       = validationError("lock duration above maximum")
	ErrLockingDisabled   = validationError("locking disabled")
	ErrZeroAddress       = validationError("zero address")
	ErrValueUnchanged    = validationError("value unchanged")

	ErrUnderflow      = arithmeticError("arithmetic underflow")
	ErrOverflow       = arithmeticError("arithmetic overflow")
	ErrDivisionByZero = arithmeticError("division by zero")

	ErrTransferRejected = collaboratorError("token transfer rejected")

	ErrUnauthorized = errors.New("drip engine: caller not authorized")
	ErrReentrant    = errors.New("drip engine: reentrant call")
)

var (
	errNilState  = errors.New("drip engine: state not configured")
	errNilTokens = errors.New("drip engine: stake and reward tokens required")
)

type kindError struct {
	kind   error
	reason string
}

func (e *kindError) Error() string { return "drip engine: " + e.reason }

func (e *kindError) Unwrap() error { return e.kind }

func validationError(reason string) error   { return &kindError{kind: ErrValidation, reason: reason} }
func arithmeticError(reason string) error   { return &kindError{kind: ErrArithmetic, reason: reason} }
func collaboratorError(reason string) error { return &kindError{kind: ErrCollaborator, reason: reason} }

// collaboratorFailure wraps an error returned by a token or treasury call.
func collaboratorFailure(op string, err error) error {
	if errors.Is(err, ErrCollaborator) || errors.Is(err, ErrReentrant) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, op, err)
}

// ErrorKind classifies err into one of "validation", "arithmetic",
// "collaborator", "unauthorized", "reentrant" or "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrCollaborator):
		return "collaborator"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	default:
		return "internal"
	}
}
