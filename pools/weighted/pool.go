// Package weighted provides the reference pool implementation: an N-token
// weighted-product constant-function pool with fixed normalized weights.
package weighted

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Akron-admin/balancer-v3-monorepo/math/weightedmath"
	"github.com/Akron-admin/balancer-v3-monorepo/vault"
)

var (
	// MinWeight is the smallest normalized weight a token may carry, 1%.
	// Tiny weights blow up the wIn/wOut exponents past the power function's
	// accuracy envelope.
	MinWeight = big.NewInt(10_000_000_000_000_000)

	one = big.NewInt(1_000_000_000_000_000_000)

	ErrWeightSum = errors.New("weighted pool: normalized weights must sum to 1.0")
	ErrMinWeight = errors.New("weighted pool: weight below minimum")
)

// Pool prices trades against the weighted product invariant
// Π balance[i]^weight[i]. The weight vector is fixed at construction and
// shares index order with the vault's registered token set.
type Pool struct {
	weights []*big.Int
}

// New validates the weight vector and builds a pool. Weights are 18-decimal
// fixed-point fractions that must sum to exactly 1.0.
func New(normalizedWeights []*big.Int) (*Pool, error) {
	if len(normalizedWeights) < 2 {
		return nil, fmt.Errorf("weighted pool: need at least 2 weights, got %d", len(normalizedWeights))
	}
	sum := new(big.Int)
	weights := make([]*big.Int, len(normalizedWeights))
	for i, w := range normalizedWeights {
		if w == nil || w.Cmp(MinWeight) < 0 {
			return nil, fmt.Errorf("%w: index %d", ErrMinWeight, i)
		}
		weights[i] = new(big.Int).Set(w)
		sum.Add(sum, w)
	}
	if sum.Cmp(one) != 0 {
		return nil, fmt.Errorf("%w: sum %s", ErrWeightSum, sum)
	}
	return &Pool{weights: weights}, nil
}

// Weights returns a copy of the pool's normalized weight vector.
func (p *Pool) Weights() []*big.Int {
	out := make([]*big.Int, len(p.weights))
	for i, w := range p.weights {
		out[i] = new(big.Int).Set(w)
	}
	return out
}

// ComputeInvariant implements vault.Pool.
func (p *Pool) ComputeInvariant(balancesLiveScaled18 []*big.Int, rounding vault.Rounding) (*big.Int, error) {
	if rounding == vault.RoundUp {
		return weightedmath.ComputeInvariantUp(p.weights, balancesLiveScaled18)
	}
	return weightedmath.ComputeInvariantDown(p.weights, balancesLiveScaled18)
}

// ComputeSwap implements vault.Pool. The amount given is fee-exclusive;
// fee handling lives in the vault.
func (p *Pool) ComputeSwap(kind vault.SwapKind, balancesLiveScaled18 []*big.Int, indexIn, indexOut int, amountGivenScaled18 *big.Int) (*big.Int, error) {
	if indexIn == indexOut ||
		indexIn < 0 || indexIn >= len(p.weights) ||
		indexOut < 0 || indexOut >= len(p.weights) {
		return nil, weightedmath.ErrInvalidInput
	}
	balanceIn := balancesLiveScaled18[indexIn]
	balanceOut := balancesLiveScaled18[indexOut]
	if kind == vault.SwapKindExactOut {
		return weightedmath.ComputeInGivenExactOut(
			balanceIn, p.weights[indexIn], balanceOut, p.weights[indexOut], amountGivenScaled18)
	}
	return weightedmath.ComputeOutGivenExactIn(
		balanceIn, p.weights[indexIn], balanceOut, p.weights[indexOut], amountGivenScaled18)
}

// BptOutGivenExactTokensIn implements vault.LiquidityMath.
func (p *Pool) BptOutGivenExactTokensIn(balancesLiveScaled18, amountsInScaled18 []*big.Int, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	return weightedmath.ComputeBptOutGivenExactTokensIn(balancesLiveScaled18, p.weights, amountsInScaled18, totalSupply, swapFeePct)
}

// BptInGivenExactTokensOut implements vault.LiquidityMath.
func (p *Pool) BptInGivenExactTokensOut(balancesLiveScaled18, amountsOutScaled18 []*big.Int, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	return weightedmath.ComputeBptInGivenExactTokensOut(balancesLiveScaled18, p.weights, amountsOutScaled18, totalSupply, swapFeePct)
}

// TokenInGivenExactBptOut implements vault.LiquidityMath.
func (p *Pool) TokenInGivenExactBptOut(balancesLiveScaled18 []*big.Int, tokenIndex int, bptOut, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	if tokenIndex < 0 || tokenIndex >= len(p.weights) {
		return nil, weightedmath.ErrInvalidInput
	}
	return weightedmath.ComputeTokenInGivenExactBptOut(
		balancesLiveScaled18[tokenIndex], p.weights[tokenIndex], bptOut, totalSupply, swapFeePct)
}

// TokenOutGivenExactBptIn implements vault.LiquidityMath.
func (p *Pool) TokenOutGivenExactBptIn(balancesLiveScaled18 []*big.Int, tokenIndex int, bptIn, totalSupply, swapFeePct *big.Int) (*big.Int, error) {
	if tokenIndex < 0 || tokenIndex >= len(p.weights) {
		return nil, weightedmath.ErrInvalidInput
	}
	return weightedmath.ComputeTokenOutGivenExactBptIn(
		balancesLiveScaled18[tokenIndex], p.weights[tokenIndex], bptIn, totalSupply, swapFeePct)
}
