package weightedmath

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akron-admin/balancer-v3-monorepo/math/fixedpoint"
)

func fixed(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), fixedpoint.One)
}

func pct(v int64) *big.Int {
	// v percent as an 18-decimal fraction.
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(10_000_000_000_000_000))
}

func toFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f / 1e18
}

func TestOutGivenExactIn_EqualWeights(t *testing.T) {
	// Equal weights reduce to the constant-product formula:
	// out = balanceOut * in / (balanceIn + in). 100k into a 1M/1M pool
	// pays out 1M * 100k / 1.1M = 90909.09...
	balanceIn := fixed(1_000_000)
	balanceOut := fixed(1_000_000)
	amountIn := fixed(100_000)

	out, err := ComputeOutGivenExactIn(balanceIn, pct(50), balanceOut, pct(50), amountIn)
	require.NoError(t, err)

	exact := new(big.Int).Mul(balanceOut, amountIn)
	exact.Quo(exact, new(big.Int).Add(balanceIn, amountIn))

	assert.True(t, out.Cmp(exact) <= 0, "trader output never exceeds the exact value")
	diff := new(big.Int).Sub(exact, out)
	assert.True(t, diff.Cmp(big.NewInt(10_000_000)) < 0,
		"rounding shortfall is negligible, got %s wei", diff)
}

func TestOutGivenExactIn_UnequalWeights(t *testing.T) {
	// 80/20 pool, cross-checked against the closed form in float64.
	balanceIn := fixed(2_000_000)
	balanceOut := fixed(500_000)
	amountIn := fixed(300_000)

	out, err := ComputeOutGivenExactIn(balanceIn, pct(80), balanceOut, pct(20), amountIn)
	require.NoError(t, err)

	bI, bO, a := 2_000_000.0, 500_000.0, 300_000.0
	want := bO * (1 - math.Pow(bI/(bI+a), 80.0/20.0))
	assert.InEpsilon(t, want, toFloat(out), 1e-9)
}

func TestInGivenExactOut_EqualWeights(t *testing.T) {
	// in = balanceIn * out / (balanceOut - out), and the trader is always
	// charged at least the exact value.
	balanceIn := fixed(1_000_000)
	balanceOut := fixed(1_000_000)
	amountOut := fixed(100_000)

	in, err := ComputeInGivenExactOut(balanceIn, pct(50), balanceOut, pct(50), amountOut)
	require.NoError(t, err)

	exact := new(big.Int).Mul(balanceIn, amountOut)
	exact.Quo(exact, new(big.Int).Sub(balanceOut, amountOut))

	assert.True(t, in.Cmp(exact) >= 0, "trader input never undercuts the exact value")
	diff := new(big.Int).Sub(in, exact)
	assert.True(t, diff.Cmp(big.NewInt(10_000_000)) < 0)
}

func TestMaxInRatio(t *testing.T) {
	balance := fixed(1_000_000)
	atLimit, err := fixedpoint.MulDown(balance, MaxInRatio)
	require.NoError(t, err)

	_, err = ComputeOutGivenExactIn(balance, pct(50), balance, pct(50), atLimit)
	assert.NoError(t, err, "exactly 30% is allowed")

	over := new(big.Int).Add(atLimit, big.NewInt(1))
	_, err = ComputeOutGivenExactIn(balance, pct(50), balance, pct(50), over)
	assert.ErrorIs(t, err, ErrMaxInRatio)
}

func TestMaxOutRatio(t *testing.T) {
	balance := fixed(1_000_000)
	atLimit, err := fixedpoint.MulDown(balance, MaxOutRatio)
	require.NoError(t, err)

	_, err = ComputeInGivenExactOut(balance, pct(50), balance, pct(50), atLimit)
	assert.NoError(t, err)

	over := new(big.Int).Add(atLimit, big.NewInt(1))
	_, err = ComputeInGivenExactOut(balance, pct(50), balance, pct(50), over)
	assert.ErrorIs(t, err, ErrMaxOutRatio)
}

// TestRoundTripNeverCreatesValue swaps A for B and immediately swaps the
// proceeds back. With equal weights the constant product must never shrink
// and the trader must never end up with more than they started with; both
// checks are exact integer inequalities, no tolerance involved.
func TestRoundTripNeverCreatesValue(t *testing.T) {
	cases := []struct{ bI, bO, x int64 }{
		{1_000_000, 1_000_000, 100_000},
		{1_000_000, 500_000, 200_000},
		{3_333_333, 7_777_777, 123_457},
		{10, 10, 2},
		{1_000_000_000, 1, 1},
	}
	for _, tc := range cases {
		balanceIn := fixed(tc.bI)
		balanceOut := fixed(tc.bO)
		amountIn := fixed(tc.x)

		out, err := ComputeOutGivenExactIn(balanceIn, pct(50), balanceOut, pct(50), amountIn)
		require.NoError(t, err)

		before := new(big.Int).Mul(balanceIn, balanceOut)
		after := new(big.Int).Mul(
			new(big.Int).Add(balanceIn, amountIn),
			new(big.Int).Sub(balanceOut, out),
		)
		assert.True(t, after.Cmp(before) >= 0, "product shrank: %v", tc)

		back, err := ComputeOutGivenExactIn(
			new(big.Int).Sub(balanceOut, out), pct(50),
			new(big.Int).Add(balanceIn, amountIn), pct(50),
			out,
		)
		require.NoError(t, err)
		assert.True(t, back.Cmp(amountIn) <= 0, "round trip extracted value: %v", tc)
	}
}

func TestInvariant_EqualBalances(t *testing.T) {
	// With weights summing to 1.0 and all balances equal to B, the weighted
	// product collapses to B regardless of the split.
	weights := []*big.Int{pct(80), pct(20)}
	balances := []*big.Int{fixed(5_000), fixed(5_000)}

	down, err := ComputeInvariantDown(weights, balances)
	require.NoError(t, err)
	up, err := ComputeInvariantUp(weights, balances)
	require.NoError(t, err)

	assert.True(t, down.Cmp(up) <= 0)
	assert.InEpsilon(t, 5_000.0, toFloat(down), 1e-9)
	assert.InEpsilon(t, 5_000.0, toFloat(up), 1e-9)
}

func TestInvariant_Errors(t *testing.T) {
	weights := []*big.Int{pct(50), pct(50)}

	_, err := ComputeInvariantDown(weights, []*big.Int{fixed(1)})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = ComputeInvariantDown(weights, []*big.Int{fixed(1), new(big.Int)})
	assert.ErrorIs(t, err, ErrZeroInvariant)
}

func TestBptOutGivenExactTokensIn_Proportional(t *testing.T) {
	// A fee-free proportional deposit of 10% mints at most 10% of supply,
	// and only negligibly less.
	weights := []*big.Int{pct(50), pct(50)}
	balances := []*big.Int{fixed(1_000_000), fixed(1_000_000)}
	amountsIn := []*big.Int{fixed(100_000), fixed(100_000)}
	supply := fixed(2_000_000)

	bptOut, err := ComputeBptOutGivenExactTokensIn(balances, weights, amountsIn, supply, new(big.Int))
	require.NoError(t, err)

	exact := fixed(200_000)
	assert.True(t, bptOut.Cmp(exact) <= 0)
	assert.InEpsilon(t, 200_000.0, toFloat(bptOut), 1e-9)
}

func TestBptOutGivenExactTokensIn_ZeroDeposit(t *testing.T) {
	weights := []*big.Int{pct(50), pct(50)}
	balances := []*big.Int{fixed(1_000_000), fixed(1_000_000)}
	amountsIn := []*big.Int{new(big.Int), new(big.Int)}

	bptOut, err := ComputeBptOutGivenExactTokensIn(balances, weights, amountsIn, fixed(2_000_000), pct(1))
	require.NoError(t, err)
	assert.Zero(t, bptOut.Sign())
}

func TestBptOutGivenExactTokensIn_FeeReducesMint(t *testing.T) {
	// A one-sided deposit with a fee must mint less than the same deposit
	// without a fee.
	weights := []*big.Int{pct(50), pct(50)}
	balances := []*big.Int{fixed(1_000_000), fixed(1_000_000)}
	amountsIn := []*big.Int{fixed(100_000), new(big.Int)}
	supply := fixed(2_000_000)

	noFee, err := ComputeBptOutGivenExactTokensIn(balances, weights, amountsIn, supply, new(big.Int))
	require.NoError(t, err)
	withFee, err := ComputeBptOutGivenExactTokensIn(balances, weights, amountsIn, supply, pct(1))
	require.NoError(t, err)

	assert.True(t, noFee.Sign() > 0)
	assert.True(t, withFee.Cmp(noFee) < 0)
}

func TestBptInGivenExactTokensOut_Proportional(t *testing.T) {
	// The burn for a proportional withdrawal is never undercounted.
	weights := []*big.Int{pct(50), pct(50)}
	balances := []*big.Int{fixed(1_000_000), fixed(1_000_000)}
	amountsOut := []*big.Int{fixed(100_000), fixed(100_000)}
	supply := fixed(2_000_000)

	bptIn, err := ComputeBptInGivenExactTokensOut(balances, weights, amountsOut, supply, new(big.Int))
	require.NoError(t, err)

	exact := fixed(200_000)
	assert.True(t, bptIn.Cmp(exact) >= 0)
	assert.InEpsilon(t, 200_000.0, toFloat(bptIn), 1e-9)
}

func TestBptInGivenExactTokensOut_DrainRejected(t *testing.T) {
	weights := []*big.Int{pct(50), pct(50)}
	balances := []*big.Int{fixed(1_000), fixed(1_000)}
	amountsOut := []*big.Int{fixed(1_000), new(big.Int)}

	_, err := ComputeBptInGivenExactTokensOut(balances, weights, amountsOut, fixed(2_000), new(big.Int))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSingleTokenJoinExitDuality(t *testing.T) {
	// Minting shares for a single-token deposit and then burning the same
	// shares against the grown balance pays back no more than was put in.
	balance := fixed(1_000_000)
	weight := pct(50)
	supply := fixed(2_000_000)
	bpt := fixed(10_000)
	fee := pct(1)

	amountIn, err := ComputeTokenInGivenExactBptOut(balance, weight, bpt, supply, fee)
	require.NoError(t, err)
	assert.True(t, amountIn.Sign() > 0)

	newBalance := new(big.Int).Add(balance, amountIn)
	newSupply := new(big.Int).Add(supply, bpt)
	amountOut, err := ComputeTokenOutGivenExactBptIn(newBalance, weight, bpt, newSupply, fee)
	require.NoError(t, err)

	assert.True(t, amountOut.Cmp(amountIn) <= 0,
		"round trip must not extract value: in=%s out=%s", amountIn, amountOut)
}

func TestTokenOutGivenExactBptIn_ZeroBurn(t *testing.T) {
	out, err := ComputeTokenOutGivenExactBptIn(fixed(1_000_000), pct(50), new(big.Int), fixed(2_000_000), pct(1))
	require.NoError(t, err)
	assert.Zero(t, out.Sign())
}

func TestTokenOutGivenExactBptIn_BurnAboveSupply(t *testing.T) {
	_, err := ComputeTokenOutGivenExactBptIn(fixed(100), pct(50), fixed(3_000), fixed(2_000), new(big.Int))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBptOutForTokenAddition(t *testing.T) {
	// Adding a token at weight 0.2 grows total weight by 1/0.8 = 1.25, so
	// a quarter of the supply is minted to keep existing holders whole.
	supply := fixed(1_000_000)
	got, err := ComputeBptOutForTokenAddition(supply, pct(20))
	require.NoError(t, err)
	assert.Zero(t, got.Cmp(fixed(250_000)))

	_, err = ComputeBptOutForTokenAddition(supply, fixed(1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
