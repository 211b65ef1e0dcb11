// Package weightedmath implements the pricing formulas for an N-token
// weighted-product pool. All amounts are live-scaled 18-decimal fixed-point
// values; weights are fixed-point values summing to 1.0 across a pool.
//
// Rounding discipline: every function rounds so the pool never loses value.
// Outputs to the trader round down, costs charged to the trader round up,
// and each intermediate step is chosen to push the final result in that
// direction.
package weightedmath

import (
	"errors"
	"math/big"

	"github.com/Akron-admin/balancer-v3-monorepo/math/fixedpoint"
)

var (
	// MaxInRatio caps a single swap's input at 30% of the input-side
	// balance. It bounds the power function's domain and the price impact
	// one trade can have.
	MaxInRatio = big.NewInt(300_000_000_000_000_000)
	// MaxOutRatio caps a single swap's output at 30% of the output-side
	// balance.
	MaxOutRatio = big.NewInt(300_000_000_000_000_000)

	ErrZeroInvariant  = errors.New("weighted math: zero invariant")
	ErrMaxInRatio     = errors.New("weighted math: amount in exceeds max ratio")
	ErrMaxOutRatio    = errors.New("weighted math: amount out exceeds max ratio")
	ErrLengthMismatch = errors.New("weighted math: balances and weights length mismatch")
	ErrInvalidInput   = errors.New("weighted math: invalid input")
)

// ComputeInvariantDown returns the weighted product of the balances,
// with every term and multiplication rounded down:
//
//	I = Π balances[i]^weights[i]
//
// This is the direction used when the invariant backs share minting, so
// under-counting favors the vault.
func ComputeInvariantDown(weights, balances []*big.Int) (*big.Int, error) {
	return computeInvariant(weights, balances, fixedpoint.PowDown, fixedpoint.MulDown)
}

// ComputeInvariantUp is the mirror of ComputeInvariantDown, rounding every
// step up. Used where an over-count favors the vault (burning shares).
func ComputeInvariantUp(weights, balances []*big.Int) (*big.Int, error) {
	return computeInvariant(weights, balances, fixedpoint.PowUp, fixedpoint.MulUp)
}

type binaryOp func(a, b *big.Int) (*big.Int, error)

func computeInvariant(weights, balances []*big.Int, pow, mul binaryOp) (*big.Int, error) {
	if len(weights) != len(balances) || len(balances) == 0 {
		return nil, ErrLengthMismatch
	}
	invariant := new(big.Int).Set(fixedpoint.One)
	for i := range balances {
		if balances[i].Sign() == 0 {
			return nil, ErrZeroInvariant
		}
		term, err := pow(balances[i], weights[i])
		if err != nil {
			return nil, err
		}
		invariant, err = mul(invariant, term)
		if err != nil {
			return nil, err
		}
	}
	if invariant.Sign() == 0 {
		return nil, ErrZeroInvariant
	}
	return invariant, nil
}

// ComputeOutGivenExactIn returns the amount of the output token a trader
// receives for an exact input amount:
//
//	amountOut = balanceOut * (1 - (balanceIn/(balanceIn+amountIn))^(wIn/wOut))
//
// The result is an output to the trader, so every intermediate rounds to
// minimize it. Complement absorbs the case where the rounded power term
// lands fractionally above 1.0.
func ComputeOutGivenExactIn(balanceIn, weightIn, balanceOut, weightOut, amountIn *big.Int) (*big.Int, error) {
	maxIn, err := fixedpoint.MulDown(balanceIn, MaxInRatio)
	if err != nil {
		return nil, err
	}
	if amountIn.Cmp(maxIn) > 0 {
		return nil, ErrMaxInRatio
	}

	denominator := new(big.Int).Add(balanceIn, amountIn)
	base, err := fixedpoint.DivUp(balanceIn, denominator)
	if err != nil {
		return nil, err
	}
	exponent, err := fixedpoint.DivDown(weightIn, weightOut)
	if err != nil {
		return nil, err
	}
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDown(balanceOut, fixedpoint.Complement(power))
}

// ComputeInGivenExactOut returns the input amount a trader must pay for an
// exact output amount:
//
//	amountIn = balanceIn * ((balanceOut/(balanceOut-amountOut))^(wOut/wIn) - 1)
//
// This is a cost charged to the trader, so every intermediate rounds to
// maximize it.
func ComputeInGivenExactOut(balanceIn, weightIn, balanceOut, weightOut, amountOut *big.Int) (*big.Int, error) {
	maxOut, err := fixedpoint.MulDown(balanceOut, MaxOutRatio)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(maxOut) > 0 {
		return nil, ErrMaxOutRatio
	}

	denominator := new(big.Int).Sub(balanceOut, amountOut)
	base, err := fixedpoint.DivUp(balanceOut, denominator)
	if err != nil {
		return nil, err
	}
	exponent, err := fixedpoint.DivUp(weightOut, weightIn)
	if err != nil {
		return nil, err
	}
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return nil, err
	}
	ratio := power.Sub(power, fixedpoint.One)
	if ratio.Sign() < 0 {
		ratio.SetInt64(0)
	}
	return fixedpoint.MulUp(balanceIn, ratio)
}

// ComputeBptOutGivenExactTokensIn prices an unbalanced multi-token deposit.
// Each token's deposit is split into a proportional (non-taxable) portion
// and an excess (taxable) portion relative to the weighted-average deposit
// ratio; the swap fee is charged on the excess only. The pool mints shares
// proportional to the resulting invariant growth, rounded down, and never
// returns a negative amount: growth at or below 1.0 mints zero.
func ComputeBptOutGivenExactTokensIn(balances, weights, amountsIn []*big.Int, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	if len(balances) != len(weights) || len(balances) != len(amountsIn) {
		return nil, ErrLengthMismatch
	}

	// Weighted-average growth ratio, fees included.
	balanceRatiosWithFee := make([]*big.Int, len(balances))
	invariantRatioWithFees := new(big.Int)
	for i := range balances {
		newBalance := new(big.Int).Add(balances[i], amountsIn[i])
		ratio, err := fixedpoint.DivDown(newBalance, balances[i])
		if err != nil {
			return nil, err
		}
		balanceRatiosWithFee[i] = ratio
		weighted, err := fixedpoint.MulDown(ratio, weights[i])
		if err != nil {
			return nil, err
		}
		invariantRatioWithFees.Add(invariantRatioWithFees, weighted)
	}

	feeComplement := fixedpoint.Complement(swapFeePct)
	invariantRatio := new(big.Int).Set(fixedpoint.One)
	for i := range balances {
		var amountInWithoutFee *big.Int
		if balanceRatiosWithFee[i].Cmp(invariantRatioWithFees) > 0 {
			proportional := new(big.Int).Sub(invariantRatioWithFees, fixedpoint.One)
			if proportional.Sign() < 0 {
				proportional.SetInt64(0)
			}
			nonTaxable, err := fixedpoint.MulDown(balances[i], proportional)
			if err != nil {
				return nil, err
			}
			taxable := new(big.Int).Sub(amountsIn[i], nonTaxable)
			discounted, err := fixedpoint.MulDown(taxable, feeComplement)
			if err != nil {
				return nil, err
			}
			amountInWithoutFee = nonTaxable.Add(nonTaxable, discounted)
		} else {
			amountInWithoutFee = amountsIn[i]
		}

		// Nothing fee-adjusted going in means the balance ratio is exactly
		// 1.0; skip the power evaluation outright.
		if amountInWithoutFee.Sign() == 0 {
			continue
		}

		newBalance := new(big.Int).Add(balances[i], amountInWithoutFee)
		balanceRatio, err := fixedpoint.DivDown(newBalance, balances[i])
		if err != nil {
			return nil, err
		}
		term, err := fixedpoint.PowDown(balanceRatio, weights[i])
		if err != nil {
			return nil, err
		}
		invariantRatio, err = fixedpoint.MulDown(invariantRatio, term)
		if err != nil {
			return nil, err
		}
	}

	if invariantRatio.Cmp(fixedpoint.One) <= 0 {
		return new(big.Int), nil
	}
	growth := invariantRatio.Sub(invariantRatio, fixedpoint.One)
	return fixedpoint.MulDown(totalSupply, growth)
}

// ComputeBptInGivenExactTokensOut is the withdrawal dual of
// ComputeBptOutGivenExactTokensIn: it returns the shares to burn for an
// exact multi-token withdrawal, with every rounding flipped so the burn is
// never undercounted.
func ComputeBptInGivenExactTokensOut(balances, weights, amountsOut []*big.Int, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	if len(balances) != len(weights) || len(balances) != len(amountsOut) {
		return nil, ErrLengthMismatch
	}

	balanceRatiosWithoutFee := make([]*big.Int, len(balances))
	invariantRatioWithoutFees := new(big.Int)
	for i := range balances {
		if amountsOut[i].Cmp(balances[i]) >= 0 {
			return nil, ErrInvalidInput
		}
		newBalance := new(big.Int).Sub(balances[i], amountsOut[i])
		ratio, err := fixedpoint.DivUp(newBalance, balances[i])
		if err != nil {
			return nil, err
		}
		balanceRatiosWithoutFee[i] = ratio
		weighted, err := fixedpoint.MulUp(ratio, weights[i])
		if err != nil {
			return nil, err
		}
		invariantRatioWithoutFees.Add(invariantRatioWithoutFees, weighted)
	}

	feeComplement := fixedpoint.Complement(swapFeePct)
	invariantRatio := new(big.Int).Set(fixedpoint.One)
	for i := range balances {
		var amountOutWithFee *big.Int
		if balanceRatiosWithoutFee[i].Cmp(invariantRatioWithoutFees) < 0 {
			nonTaxable, err := fixedpoint.MulDown(balances[i], fixedpoint.Complement(invariantRatioWithoutFees))
			if err != nil {
				return nil, err
			}
			taxable := new(big.Int).Sub(amountsOut[i], nonTaxable)
			if taxable.Sign() < 0 {
				taxable.SetInt64(0)
			}
			grossed, err := fixedpoint.DivUp(taxable, feeComplement)
			if err != nil {
				return nil, err
			}
			amountOutWithFee = nonTaxable.Add(nonTaxable, grossed)
		} else {
			amountOutWithFee = amountsOut[i]
		}

		if amountOutWithFee.Sign() == 0 {
			continue
		}
		if amountOutWithFee.Cmp(balances[i]) >= 0 {
			return nil, ErrInvalidInput
		}

		newBalance := new(big.Int).Sub(balances[i], amountOutWithFee)
		balanceRatio, err := fixedpoint.DivDown(newBalance, balances[i])
		if err != nil {
			return nil, err
		}
		term, err := fixedpoint.PowDown(balanceRatio, weights[i])
		if err != nil {
			return nil, err
		}
		invariantRatio, err = fixedpoint.MulDown(invariantRatio, term)
		if err != nil {
			return nil, err
		}
	}

	return fixedpoint.MulUp(totalSupply, fixedpoint.Complement(invariantRatio))
}

// ComputeTokenInGivenExactBptOut returns the single-token deposit required
// to mint an exact amount of shares. The portion of the deposit that shifts
// the pool's composition (the complement of the token's weight) is taxable.
func ComputeTokenInGivenExactBptOut(balance, weight, bptOut, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	newSupply := new(big.Int).Add(totalSupply, bptOut)
	invariantRatio, err := fixedpoint.DivUp(newSupply, totalSupply)
	if err != nil {
		return nil, err
	}
	exponent, err := fixedpoint.DivUp(fixedpoint.One, weight)
	if err != nil {
		return nil, err
	}
	balanceRatio, err := fixedpoint.PowUp(invariantRatio, exponent)
	if err != nil {
		return nil, err
	}
	growth := balanceRatio.Sub(balanceRatio, fixedpoint.One)
	if growth.Sign() < 0 {
		growth.SetInt64(0)
	}
	amountInWithoutFee, err := fixedpoint.MulUp(balance, growth)
	if err != nil {
		return nil, err
	}

	taxable, err := fixedpoint.MulUp(amountInWithoutFee, fixedpoint.Complement(weight))
	if err != nil {
		return nil, err
	}
	nonTaxable := new(big.Int).Sub(amountInWithoutFee, taxable)
	grossed, err := fixedpoint.DivUp(taxable, fixedpoint.Complement(swapFeePct))
	if err != nil {
		return nil, err
	}
	return nonTaxable.Add(nonTaxable, grossed), nil
}

// ComputeTokenOutGivenExactBptIn returns the single-token withdrawal paid
// for burning an exact amount of shares, rounded so the pool always pays
// out no more than the exact value.
func ComputeTokenOutGivenExactBptIn(balance, weight, bptIn, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	if bptIn.Cmp(totalSupply) > 0 {
		return nil, ErrInvalidInput
	}
	newSupply := new(big.Int).Sub(totalSupply, bptIn)
	invariantRatio, err := fixedpoint.DivUp(newSupply, totalSupply)
	if err != nil {
		return nil, err
	}
	exponent, err := fixedpoint.DivDown(fixedpoint.One, weight)
	if err != nil {
		return nil, err
	}
	balanceRatio, err := fixedpoint.PowUp(invariantRatio, exponent)
	if err != nil {
		return nil, err
	}
	amountOutWithoutFee, err := fixedpoint.MulDown(balance, fixedpoint.Complement(balanceRatio))
	if err != nil {
		return nil, err
	}

	taxable, err := fixedpoint.MulUp(amountOutWithoutFee, fixedpoint.Complement(weight))
	if err != nil {
		return nil, err
	}
	nonTaxable := new(big.Int).Sub(amountOutWithoutFee, taxable)
	discounted, err := fixedpoint.MulDown(taxable, fixedpoint.Complement(swapFeePct))
	if err != nil {
		return nil, err
	}
	return nonTaxable.Add(nonTaxable, discounted), nil
}

// ComputeBptOutForTokenAddition returns the shares to mint when a new token
// joins an existing pool at the given post-addition weight. The mint keeps
// existing holders whole: total weight grows by 1/(1-newWeight).
func ComputeBptOutForTokenAddition(totalSupply, newTokenWeight *big.Int) (*big.Int, error) {
	if newTokenWeight.Cmp(fixedpoint.One) >= 0 {
		return nil, ErrInvalidInput
	}
	weightSumRatio, err := fixedpoint.DivDown(fixedpoint.One, fixedpoint.Complement(newTokenWeight))
	if err != nil {
		return nil, err
	}
	delta := weightSumRatio.Sub(weightSumRatio, fixedpoint.One)
	if delta.Sign() < 0 {
		delta.SetInt64(0)
	}
	return fixedpoint.MulDown(totalSupply, delta)
}
