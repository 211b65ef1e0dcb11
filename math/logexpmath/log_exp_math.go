// Package logexpmath implements the raw power function used by the
// fixed-point layer. A value x^y is computed through the decomposition
// x^y = 2^(y*log2(x)): log2 is extracted bit by bit with an
// iterative-squaring loop, and 2^z splits into an integer shift and a
// fractional part evaluated as exp(frac*ln2) with a Taylor series.
//
// The result carries a relative error strictly below MaxRelativeError
// (10000 wei on an 18-decimal value, i.e. 1e-14). Callers that need a
// directed bound must widen the result by that margin themselves; the
// fixedpoint package does exactly that in PowDown and PowUp.
package logexpmath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// One is 1.0 in 18-decimal fixed point.
	One = big.NewInt(1_000_000_000_000_000_000)

	// MaxRelativeError is the guaranteed bound on Pow's relative error,
	// expressed in wei on an 18-decimal result (10000 wei = 1e-14).
	MaxRelativeError = big.NewInt(10_000)

	// MaxExponent bounds the y argument of Pow.
	MaxExponent = new(big.Int).Mul(big.NewInt(512), One)

	two = new(big.Int).Lsh(One, 1)

	// ln(2) scaled by 1e18, truncated.
	ln2 = big.NewInt(693_147_180_559_945_309)

	// maxExp2Arg caps the argument of exp2 so the result stays well inside
	// 256 bits: 2^192 in 18-decimal fixed point is ~6.3e75 < 2^256.
	maxExp2Arg = new(big.Int).Mul(big.NewInt(192), One)
	// minExp2Arg is where exp2 underflows to zero wei.
	minExp2Arg = new(big.Int).Mul(big.NewInt(-64), One)

	ErrBaseOutOfBounds     = errors.New("pow base out of bounds")
	ErrExponentOutOfBounds = errors.New("pow exponent out of bounds")
	ErrProductOutOfBounds  = errors.New("pow product out of bounds")
)

// calc holds reusable big.Int scratch space for one evaluation.
// Instances are managed by a sync.Pool; they are not safe for concurrent
// use on their own.
type calc struct {
	y    *big.Int
	frac *big.Int
	term *big.Int
	sum  *big.Int
	k    *big.Int
}

var calcPool = sync.Pool{
	New: func() any {
		return &calc{
			y:    new(big.Int),
			frac: new(big.Int),
			term: new(big.Int),
			sum:  new(big.Int),
			k:    new(big.Int),
		}
	},
}

// Log2 returns log2(x) as a signed 18-decimal fixed-point value.
// x must be strictly positive.
func Log2(x *big.Int) (*big.Int, error) {
	if x == nil || x.Sign() <= 0 {
		return nil, ErrBaseOutOfBounds
	}
	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)
	return c.log2(new(big.Int), x), nil
}

// log2 writes log2(x) into dest. x > 0 is the caller's responsibility.
func (c *calc) log2(dest, x *big.Int) *big.Int {
	y := c.y.Set(x)

	// Normalize y into [1, 2) and collect the integer part.
	n := int64(0)
	for y.Cmp(two) >= 0 {
		y.Rsh(y, 1)
		n++
	}
	for y.Cmp(One) < 0 {
		y.Lsh(y, 1)
		n--
	}

	// Extract 64 fractional bits: square y, and whenever it crosses 2 the
	// corresponding bit of the fraction is set.
	var fracBits uint64
	for i := uint(1); i <= 64; i++ {
		if y.Cmp(One) == 0 {
			break
		}
		y.Mul(y, y)
		y.Quo(y, One)
		if y.Cmp(two) >= 0 {
			y.Rsh(y, 1)
			fracBits |= 1 << (64 - i)
		}
	}

	dest.SetInt64(n)
	dest.Mul(dest, One)
	frac := c.frac.SetUint64(fracBits)
	frac.Mul(frac, One)
	frac.Rsh(frac, 64)
	return dest.Add(dest, frac)
}

// Exp2 returns 2^z for a signed 18-decimal fixed-point z. Arguments above
// 192.0 fail with ErrProductOutOfBounds; arguments below -64.0 underflow
// to zero.
func Exp2(z *big.Int) (*big.Int, error) {
	if z == nil {
		return nil, ErrProductOutOfBounds
	}
	if z.Cmp(maxExp2Arg) > 0 {
		return nil, ErrProductOutOfBounds
	}
	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)
	return c.exp2(new(big.Int), z), nil
}

// exp2 writes 2^z into dest. The caller guarantees z <= maxExp2Arg.
func (c *calc) exp2(dest, z *big.Int) *big.Int {
	if z.Sign() < 0 {
		if z.Cmp(minExp2Arg) < 0 {
			return dest.SetInt64(0)
		}
		// 2^-z = 1 / 2^z, floored.
		neg := c.y.Neg(z)
		pos := c.exp2(dest, neg)
		if pos.Sign() == 0 {
			return dest.SetInt64(0)
		}
		num := c.frac.Mul(One, One)
		return dest.Quo(num, pos)
	}

	// Split z = n + f with n integer and f in [0, 1).
	n := c.k.Quo(z, One)
	shift := uint(n.Uint64())
	n.Mul(n, One)
	f := c.frac.Sub(z, n)

	// 2^f = e^(f*ln2), Taylor series. f*ln2 < 0.6932 so the terms collapse
	// quickly; 32 iterations leaves the remainder below one wei.
	x := f.Mul(f, ln2)
	x.Quo(x, One)
	sum := c.sum.Add(One, x)
	term := c.term.Set(x)
	for k := int64(2); k <= 32; k++ {
		term.Mul(term, x)
		term.Quo(term, One)
		term.Quo(term, c.k.SetInt64(k))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	return dest.Lsh(sum, shift)
}

// Pow returns x^y for non-negative 18-decimal fixed-point arguments.
// By convention 0^0 = 1 and 0^y = 0 for y > 0. The relative error of the
// result is bounded by MaxRelativeError; no rounding direction is applied
// here.
func Pow(x, y *big.Int) (*big.Int, error) {
	if x == nil || x.Sign() < 0 {
		return nil, ErrBaseOutOfBounds
	}
	if y == nil || y.Sign() < 0 || y.Cmp(MaxExponent) > 0 {
		return nil, ErrExponentOutOfBounds
	}
	if y.Sign() == 0 {
		return new(big.Int).Set(One), nil
	}
	if x.Sign() == 0 {
		return new(big.Int), nil
	}
	if x.Cmp(One) == 0 {
		return new(big.Int).Set(One), nil
	}

	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)

	logx := c.log2(new(big.Int), x)

	// z = y * log2(x). Quo truncates toward zero, which loses at most one
	// wei in either direction; that is absorbed by MaxRelativeError.
	z := logx.Mul(logx, y)
	z.Quo(z, One)
	if z.Cmp(maxExp2Arg) > 0 {
		return nil, ErrProductOutOfBounds
	}

	return c.exp2(new(big.Int), z), nil
}
