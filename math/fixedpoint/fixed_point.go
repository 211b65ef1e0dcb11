// Package fixedpoint provides 18-decimal fixed-point arithmetic on
// *big.Int values. Every division and power carries an explicit rounding
// direction in its name; there is no default. Results are always freshly
// allocated and never alias the inputs.
//
// Values are treated as unsigned quantities bounded by 256 bits, matching
// the word size token balances come in at. Any intermediate product that
// exceeds 256 bits before rescaling fails with ErrOverflow.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/Akron-admin/balancer-v3-monorepo/math/logexpmath"
)

var (
	// One is 1.0 in 18-decimal fixed point.
	One = big.NewInt(1_000_000_000_000_000_000)

	two  = new(big.Int).Lsh(One, 1)
	four = new(big.Int).Lsh(One, 2)
	one  = big.NewInt(1)

	// maxPowRelativeError mirrors logexpmath.MaxRelativeError; PowDown and
	// PowUp widen the raw result by this margin so composed formulas never
	// land on the mathematically impossible side.
	maxPowRelativeError = logexpmath.MaxRelativeError

	ErrDivisionByZero = errors.New("fixed point: division by zero")
	ErrOverflow       = errors.New("fixed point: overflow")
)

// checkedProduct returns a*b, failing if the unscaled product exceeds 256 bits.
func checkedProduct(a, b *big.Int) (*big.Int, error) {
	product := new(big.Int).Mul(a, b)
	if product.BitLen() > 256 {
		return nil, ErrOverflow
	}
	return product, nil
}

// MulDown returns floor(a*b / One).
func MulDown(a, b *big.Int) (*big.Int, error) {
	product, err := checkedProduct(a, b)
	if err != nil {
		return nil, err
	}
	return product.Quo(product, One), nil
}

// MulUp returns ceil(a*b / One).
func MulUp(a, b *big.Int) (*big.Int, error) {
	product, err := checkedProduct(a, b)
	if err != nil {
		return nil, err
	}
	if product.Sign() == 0 {
		return product, nil
	}
	// ceil(p/One) = (p-1)/One + 1 for p > 0.
	product.Sub(product, one)
	product.Quo(product, One)
	return product.Add(product, one), nil
}

// DivDown returns floor(a*One / b).
func DivDown(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	inflated, err := checkedProduct(a, One)
	if err != nil {
		return nil, err
	}
	return inflated.Quo(inflated, b), nil
}

// DivUp returns ceil(a*One / b).
func DivUp(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a.Sign() == 0 {
		return new(big.Int), nil
	}
	inflated, err := checkedProduct(a, One)
	if err != nil {
		return nil, err
	}
	inflated.Sub(inflated, one)
	inflated.Quo(inflated, b)
	return inflated.Add(inflated, one), nil
}

// Complement returns One - x when x < One, and zero otherwise. It never
// fails and never goes negative, which is exactly what the curve formulas
// rely on when a rounded power term creeps fractionally above 1.0.
func Complement(x *big.Int) *big.Int {
	if x.Sign() > 0 && x.Cmp(One) < 0 {
		return new(big.Int).Sub(One, x)
	}
	if x.Sign() <= 0 {
		return new(big.Int).Set(One)
	}
	return new(big.Int)
}

// PowDown returns x^y rounded down by at least the power function's
// relative error bound, so the result never exceeds the true value.
func PowDown(x, y *big.Int) (*big.Int, error) {
	if special, ok, err := powSpecialCase(x, y, false); ok || err != nil {
		return special, err
	}
	raw, err := logexpmath.Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError, err := MulUp(raw, maxPowRelativeError)
	if err != nil {
		return nil, err
	}
	maxError.Add(maxError, one)
	if raw.Cmp(maxError) < 0 {
		return new(big.Int), nil
	}
	return raw.Sub(raw, maxError), nil
}

// PowUp returns x^y rounded up by at least the power function's relative
// error bound, so the result is never below the true value.
func PowUp(x, y *big.Int) (*big.Int, error) {
	if special, ok, err := powSpecialCase(x, y, true); ok || err != nil {
		return special, err
	}
	raw, err := logexpmath.Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError, err := MulUp(raw, maxPowRelativeError)
	if err != nil {
		return nil, err
	}
	maxError.Add(maxError, one)
	return raw.Add(raw, maxError), nil
}

// powSpecialCase handles the exponents and bases whose results are exact,
// bypassing the approximation and its error margin entirely. Squares and
// fourth powers still honor the requested rounding direction.
func powSpecialCase(x, y *big.Int, roundUp bool) (*big.Int, bool, error) {
	mul := MulDown
	if roundUp {
		mul = MulUp
	}
	switch {
	case y.Sign() == 0 || x.Cmp(One) == 0:
		return new(big.Int).Set(One), true, nil
	case y.Cmp(One) == 0:
		return new(big.Int).Set(x), true, nil
	case y.Cmp(two) == 0:
		squared, err := mul(x, x)
		return squared, true, err
	case y.Cmp(four) == 0:
		squared, err := mul(x, x)
		if err != nil {
			return nil, true, err
		}
		fourth, err := mul(squared, squared)
		return fourth, true, err
	}
	return nil, false, nil
}
