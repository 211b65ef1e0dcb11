package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Akron-admin/balancer-v3-monorepo/math/fixedpoint"
)

// CustomLiquidity is the optional capability for pools that price their
// own bespoke liquidity operations. Amounts are live-scaled on both sides;
// the vault converts to raw units and books the result.
type CustomLiquidity interface {
	AddLiquidityCustom(balancesLiveScaled18, amountsInScaled18 []*big.Int, bptOut, totalSupply, swapFeePct *big.Int) (amountsIn []*big.Int, bpt *big.Int, err error)
	RemoveLiquidityCustom(balancesLiveScaled18, amountsOutScaled18 []*big.Int, bptIn, totalSupply, swapFeePct *big.Int) (amountsOut []*big.Int, bpt *big.Int, err error)
}

// AddLiquidityParams describes one deposit inside a session.
//
//   - Proportional: BptAmountOut is exact; AmountsInRaw is ignored.
//   - Unbalanced: AmountsInRaw are exact; BptAmountOut is ignored.
//   - SingleTokenExactOut: BptAmountOut is exact, Token names the deposit
//     token.
//   - Custom: both vectors are passed through to the pool.
type AddLiquidityParams struct {
	Pool         common.Address
	Kind         AddLiquidityKind
	AmountsInRaw []*big.Int
	BptAmountOut *big.Int
	Token        common.Address
}

// AddLiquidity deposits tokens into a pool and mints shares to the current
// caller, recording each deposit as a debt. Returns the raw amounts
// actually charged and the shares minted.
func (v *Vault) AddLiquidity(p AddLiquidityParams) ([]*big.Int, *big.Int, error) {
	s := v.session
	if s == nil {
		return nil, nil, ErrVaultLocked
	}
	ps, err := s.stagedPool(v.pools, p.Pool)
	if err != nil {
		return nil, nil, err
	}
	if !ps.initialized {
		return nil, nil, ErrPoolNotInitialized
	}
	if ps.paused {
		return nil, nil, ErrPoolPaused
	}

	// Deposits-in-progress are under-valued: live balances round down.
	data, err := v.loadPoolData(ps, RoundDown)
	if err != nil {
		return nil, nil, err
	}
	n := len(ps.tokens)

	var (
		amountsInRaw []*big.Int
		bptOut       *big.Int
	)

	switch p.Kind {
	case AddLiquidityProportional:
		if p.BptAmountOut == nil || p.BptAmountOut.Sign() == 0 {
			return nil, nil, ErrAmountGivenZero
		}
		bptOut = new(big.Int).Set(p.BptAmountOut)
		ratio, err := fixedpoint.DivUp(bptOut, ps.totalSupply)
		if err != nil {
			return nil, nil, err
		}
		amountsInRaw = make([]*big.Int, n)
		for i := 0; i < n; i++ {
			scaled, err := fixedpoint.MulUp(data.BalancesLiveScaled18[i], ratio)
			if err != nil {
				return nil, nil, err
			}
			amountsInRaw[i], err = toRawUndoRate(scaled, data.DecimalScalingFactors[i], data.TokenRates[i], RoundUp)
			if err != nil {
				return nil, nil, err
			}
		}

	case AddLiquidityUnbalanced:
		lm, err := v.unbalancedMath(ps)
		if err != nil {
			return nil, nil, err
		}
		if len(p.AmountsInRaw) != n {
			return nil, nil, fmt.Errorf("%w: expected %d amounts", ErrInvalidRegistration, n)
		}
		amountsInRaw = copyBigs(p.AmountsInRaw)
		amountsInScaled := make([]*big.Int, n)
		for i := 0; i < n; i++ {
			amountsInScaled[i], err = toScaled18ApplyRate(amountsInRaw[i], data.DecimalScalingFactors[i], data.TokenRates[i], RoundDown)
			if err != nil {
				return nil, nil, err
			}
		}
		bptOut, err = lm.BptOutGivenExactTokensIn(data.BalancesLiveScaled18, amountsInScaled, ps.totalSupply, ps.config.SwapFeePercentage)
		if err != nil {
			return nil, nil, err
		}

	case AddLiquiditySingleTokenExactOut:
		lm, err := v.unbalancedMath(ps)
		if err != nil {
			return nil, nil, err
		}
		index, ok := ps.indexOf[p.Token]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, p.Token.Hex())
		}
		if p.BptAmountOut == nil || p.BptAmountOut.Sign() == 0 {
			return nil, nil, ErrAmountGivenZero
		}
		bptOut = new(big.Int).Set(p.BptAmountOut)
		inScaled, err := lm.TokenInGivenExactBptOut(data.BalancesLiveScaled18, index, bptOut, ps.totalSupply, ps.config.SwapFeePercentage)
		if err != nil {
			return nil, nil, err
		}
		amountsInRaw = zeroBigs(n)
		amountsInRaw[index], err = toRawUndoRate(inScaled, data.DecimalScalingFactors[index], data.TokenRates[index], RoundUp)
		if err != nil {
			return nil, nil, err
		}

	case AddLiquidityCustom:
		cl, ok := ps.pool.(CustomLiquidity)
		if !ok {
			return nil, nil, ErrDoesNotSupportCustomLiquidity
		}
		amountsInScaled := make([]*big.Int, n)
		for i := 0; i < n; i++ {
			given := new(big.Int)
			if i < len(p.AmountsInRaw) && p.AmountsInRaw[i] != nil {
				given.Set(p.AmountsInRaw[i])
			}
			amountsInScaled[i], err = toScaled18ApplyRate(given, data.DecimalScalingFactors[i], data.TokenRates[i], RoundDown)
			if err != nil {
				return nil, nil, err
			}
		}
		inScaled, bpt, err := cl.AddLiquidityCustom(data.BalancesLiveScaled18, amountsInScaled, p.BptAmountOut, ps.totalSupply, ps.config.SwapFeePercentage)
		if err != nil {
			return nil, nil, err
		}
		bptOut = bpt
		amountsInRaw = make([]*big.Int, n)
		for i := 0; i < n; i++ {
			amountsInRaw[i], err = toRawUndoRate(inScaled[i], data.DecimalScalingFactors[i], data.TokenRates[i], RoundUp)
			if err != nil {
				return nil, nil, err
			}
		}

	default:
		return nil, nil, fmt.Errorf("unknown add liquidity kind %d", p.Kind)
	}

	newRaw := copyBigs(data.BalancesRaw)
	for i := 0; i < n; i++ {
		newRaw[i].Add(newRaw[i], amountsInRaw[i])
	}
	if err := ps.commitBalances(newRaw, data.TokenRates); err != nil {
		return nil, nil, err
	}
	ps.mintBpt(s.currentCaller(), bptOut)

	for i := 0; i < n; i++ {
		if err := s.takeDebt(ps.tokens[i].cfg.Token, amountsInRaw[i]); err != nil {
			return nil, nil, err
		}
	}

	v.metrics.liquidityOpsTotal.WithLabelValues(p.Pool.Hex(), "add").Inc()
	v.logger.Info("liquidity added",
		"pool", p.Pool.Hex(), "kind", int(p.Kind), "bptOut", bptOut.String())
	return amountsInRaw, bptOut, nil
}

// RemoveLiquidityParams describes one withdrawal inside a session.
//
//   - Proportional: BptAmountIn is exact; AmountsOutRaw is ignored.
//   - SingleTokenExactIn: BptAmountIn is exact, Token names the payout
//     token.
//   - SingleTokenExactOut: AmountsOutRaw[index of Token] is exact.
//   - Custom: both vectors are passed through to the pool.
type RemoveLiquidityParams struct {
	Pool          common.Address
	Kind          RemoveLiquidityKind
	BptAmountIn   *big.Int
	AmountsOutRaw []*big.Int
	Token         common.Address
}

// RemoveLiquidity burns the current caller's shares and credits the
// withdrawn tokens. Returns the raw amounts paid out and the shares
// burned.
func (v *Vault) RemoveLiquidity(p RemoveLiquidityParams) ([]*big.Int, *big.Int, error) {
	s := v.session
	if s == nil {
		return nil, nil, ErrVaultLocked
	}
	ps, err := s.stagedPool(v.pools, p.Pool)
	if err != nil {
		return nil, nil, err
	}
	if !ps.initialized {
		return nil, nil, ErrPoolNotInitialized
	}

	// Settlement subtracts from balances: live balances round up.
	data, err := v.loadPoolData(ps, RoundUp)
	if err != nil {
		return nil, nil, err
	}
	n := len(ps.tokens)

	var (
		amountsOutRaw []*big.Int
		bptIn         *big.Int
	)

	switch p.Kind {
	case RemoveLiquidityProportional:
		if p.BptAmountIn == nil || p.BptAmountIn.Sign() == 0 {
			return nil, nil, ErrAmountGivenZero
		}
		bptIn = new(big.Int).Set(p.BptAmountIn)
		ratio, err := fixedpoint.DivDown(bptIn, ps.totalSupply)
		if err != nil {
			return nil, nil, err
		}
		amountsOutRaw = make([]*big.Int, n)
		for i := 0; i < n; i++ {
			scaled, err := fixedpoint.MulDown(data.BalancesLiveScaled18[i], ratio)
			if err != nil {
				return nil, nil, err
			}
			amountsOutRaw[i], err = toRawUndoRate(scaled, data.DecimalScalingFactors[i], data.TokenRates[i], RoundDown)
			if err != nil {
				return nil, nil, err
			}
		}

	case RemoveLiquiditySingleTokenExactIn:
		lm, err := v.unbalancedMath(ps)
		if err != nil {
			return nil, nil, err
		}
		index, ok := ps.indexOf[p.Token]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, p.Token.Hex())
		}
		if p.BptAmountIn == nil || p.BptAmountIn.Sign() == 0 {
			return nil, nil, ErrAmountGivenZero
		}
		bptIn = new(big.Int).Set(p.BptAmountIn)
		outScaled, err := lm.TokenOutGivenExactBptIn(data.BalancesLiveScaled18, index, bptIn, ps.totalSupply, ps.config.SwapFeePercentage)
		if err != nil {
			return nil, nil, err
		}
		amountsOutRaw = zeroBigs(n)
		amountsOutRaw[index], err = toRawUndoRate(outScaled, data.DecimalScalingFactors[index], data.TokenRates[index], RoundDown)
		if err != nil {
			return nil, nil, err
		}

	case RemoveLiquiditySingleTokenExactOut:
		lm, err := v.unbalancedMath(ps)
		if err != nil {
			return nil, nil, err
		}
		index, ok := ps.indexOf[p.Token]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, p.Token.Hex())
		}
		if len(p.AmountsOutRaw) != n {
			return nil, nil, fmt.Errorf("%w: expected %d amounts", ErrInvalidRegistration, n)
		}
		if p.AmountsOutRaw[index] == nil || p.AmountsOutRaw[index].Sign() == 0 {
			return nil, nil, ErrAmountGivenZero
		}
		amountsOutRaw = zeroBigs(n)
		amountsOutRaw[index] = new(big.Int).Set(p.AmountsOutRaw[index])
		outScaled := make([]*big.Int, n)
		for i := 0; i < n; i++ {
			outScaled[i], err = toScaled18ApplyRate(amountsOutRaw[i], data.DecimalScalingFactors[i], data.TokenRates[i], RoundUp)
			if err != nil {
				return nil, nil, err
			}
		}
		bptIn, err = lm.BptInGivenExactTokensOut(data.BalancesLiveScaled18, outScaled, ps.totalSupply, ps.config.SwapFeePercentage)
		if err != nil {
			return nil, nil, err
		}

	case RemoveLiquidityCustom:
		cl, ok := ps.pool.(CustomLiquidity)
		if !ok {
			return nil, nil, ErrDoesNotSupportCustomLiquidity
		}
		outScaled := make([]*big.Int, n)
		for i := 0; i < n; i++ {
			given := new(big.Int)
			if i < len(p.AmountsOutRaw) && p.AmountsOutRaw[i] != nil {
				given.Set(p.AmountsOutRaw[i])
			}
			outScaled[i], err = toScaled18ApplyRate(given, data.DecimalScalingFactors[i], data.TokenRates[i], RoundUp)
			if err != nil {
				return nil, nil, err
			}
		}
		outScaledPriced, bpt, err := cl.RemoveLiquidityCustom(data.BalancesLiveScaled18, outScaled, p.BptAmountIn, ps.totalSupply, ps.config.SwapFeePercentage)
		if err != nil {
			return nil, nil, err
		}
		bptIn = bpt
		amountsOutRaw = make([]*big.Int, n)
		for i := 0; i < n; i++ {
			amountsOutRaw[i], err = toRawUndoRate(outScaledPriced[i], data.DecimalScalingFactors[i], data.TokenRates[i], RoundDown)
			if err != nil {
				return nil, nil, err
			}
		}

	default:
		return nil, nil, fmt.Errorf("unknown remove liquidity kind %d", p.Kind)
	}

	if err := ps.burnBpt(s.currentCaller(), bptIn); err != nil {
		return nil, nil, err
	}
	newRaw := copyBigs(data.BalancesRaw)
	for i := 0; i < n; i++ {
		newRaw[i].Sub(newRaw[i], amountsOutRaw[i])
	}
	if err := ps.commitBalances(newRaw, data.TokenRates); err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		if err := s.supplyCredit(ps.tokens[i].cfg.Token, amountsOutRaw[i]); err != nil {
			return nil, nil, err
		}
	}

	v.metrics.liquidityOpsTotal.WithLabelValues(p.Pool.Hex(), "remove").Inc()
	v.logger.Info("liquidity removed",
		"pool", p.Pool.Hex(), "kind", int(p.Kind), "bptIn", bptIn.String())
	return amountsOutRaw, bptIn, nil
}

// RemoveLiquidityRecovery is a proportional, math-free exit available only
// while a pool is in recovery mode: raw balances are split pro rata with
// no rates, fees, or curve involvement.
func (v *Vault) RemoveLiquidityRecovery(pool common.Address, bptIn *big.Int) ([]*big.Int, error) {
	s := v.session
	if s == nil {
		return nil, ErrVaultLocked
	}
	ps, err := s.stagedPool(v.pools, pool)
	if err != nil {
		return nil, err
	}
	if !ps.recovery {
		return nil, ErrPoolNotInRecoveryMode
	}
	if !ps.initialized {
		return nil, ErrPoolNotInitialized
	}
	if ps.totalSupply.Sign() == 0 {
		return nil, ErrInsufficientBptBalance
	}
	if bptIn == nil || bptIn.Sign() == 0 {
		return nil, ErrAmountGivenZero
	}

	n := len(ps.tokens)
	amountsOutRaw := make([]*big.Int, n)
	newRaw := copyBigs(ps.balancesRaw)
	for i := 0; i < n; i++ {
		out := new(big.Int).Mul(ps.balancesRaw[i], bptIn)
		out.Quo(out, ps.totalSupply)
		amountsOutRaw[i] = out
		newRaw[i].Sub(newRaw[i], out)
	}

	if err := ps.burnBpt(s.currentCaller(), bptIn); err != nil {
		return nil, err
	}
	// Recovery avoids external rate calls entirely; live baselines are
	// refreshed with unit rates and corrected on the next normal
	// settlement.
	unitRates := make([]*big.Int, n)
	for i := range unitRates {
		unitRates[i] = new(big.Int).Set(fixedpoint.One)
	}
	if err := ps.commitBalances(newRaw, unitRates); err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		if err := s.supplyCredit(ps.tokens[i].cfg.Token, amountsOutRaw[i]); err != nil {
			return nil, err
		}
	}

	v.metrics.liquidityOpsTotal.WithLabelValues(pool.Hex(), "removeRecovery").Inc()
	return amountsOutRaw, nil
}

// unbalancedMath resolves the pool's non-proportional pricing capability,
// honoring the registration-time opt-out.
func (v *Vault) unbalancedMath(ps *poolState) (LiquidityMath, error) {
	if ps.config.DisableUnbalancedLiquidity {
		return nil, ErrDoesNotSupportUnbalancedLiquidity
	}
	lm, ok := ps.pool.(LiquidityMath)
	if !ok {
		return nil, ErrDoesNotSupportUnbalancedLiquidity
	}
	return lm, nil
}

func zeroBigs(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int)
	}
	return out
}
