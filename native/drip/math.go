package drip

import "github.com/holiman/uint256"

// The helpers below mirror checked 256-bit arithmetic: any overflow, underflow
// or division by zero aborts the calculation instead of wrapping or clamping.
// Multiply-then-divide is evaluated in two steps so an overflowing intermediate
// product fails the same way it would on-chain.

func add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

func mulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	product, err := mul(a, b)
	if err != nil {
		return nil, err
	}
	return div(product, denominator)
}

func addUint64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

func u64(v uint64) *uint256.Int { return uint256.NewInt(v) }
