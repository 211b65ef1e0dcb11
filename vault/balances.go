package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Akron-admin/balancer-v3-monorepo/math/fixedpoint"
)

// tokenEntry is one slot of a pool's fixed, ordered token set.
type tokenEntry struct {
	cfg TokenConfig
	// scalingFactor is the plain integer multiplier 10^(18-decimals) that
	// normalizes raw amounts to 18-decimal units.
	scalingFactor *big.Int
}

// poolState is the canonical storage of one pool. A session never mutates
// it directly: all writes go through a staged clone which replaces this
// struct wholesale on successful close.
type poolState struct {
	id      common.Address
	pool    Pool
	tokens  []tokenEntry
	indexOf map[common.Address]int
	config  PoolConfig

	initialized bool
	paused      bool
	recovery    bool

	balancesRaw []*big.Int
	// lastBalancesLiveScaled18 is the yield-fee baseline: live balances as
	// of the previous settlement that touched this pool.
	lastBalancesLiveScaled18 []*big.Int

	totalSupply *big.Int
	bptBalances map[common.Address]*big.Int
}

// clone deep-copies the pool state for session staging.
func (p *poolState) clone() *poolState {
	c := &poolState{
		id:          p.id,
		pool:        p.pool,
		tokens:      p.tokens, // immutable after registration
		indexOf:     p.indexOf,
		config:      p.config,
		initialized: p.initialized,
		paused:      p.paused,
		recovery:    p.recovery,
		totalSupply: new(big.Int).Set(p.totalSupply),
		bptBalances: make(map[common.Address]*big.Int, len(p.bptBalances)),
	}
	c.balancesRaw = copyBigs(p.balancesRaw)
	c.lastBalancesLiveScaled18 = copyBigs(p.lastBalancesLiveScaled18)
	for owner, bal := range p.bptBalances {
		c.bptBalances[owner] = new(big.Int).Set(bal)
	}
	return c
}

func copyBigs(src []*big.Int) []*big.Int {
	dst := make([]*big.Int, len(src))
	for i, v := range src {
		dst[i] = new(big.Int).Set(v)
	}
	return dst
}

// decimalScalingFactor returns 10^(18-decimals) as a plain multiplier.
func decimalScalingFactor(decimals uint8) (*big.Int, error) {
	if decimals > 18 {
		return nil, fmt.Errorf("%w: token decimals %d above 18", ErrInvalidRegistration, decimals)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil), nil
}

// currentRate consults the token's rate provider, defaulting to 1.0.
func (e *tokenEntry) currentRate() (*big.Int, error) {
	if e.cfg.RateProvider == nil {
		return new(big.Int).Set(fixedpoint.One), nil
	}
	rate, err := e.cfg.RateProvider.GetRate()
	if err != nil {
		return nil, fmt.Errorf("rate provider for %s: %w", e.cfg.Token, err)
	}
	return rate, nil
}

// toScaled18ApplyRate converts a raw amount to a live 18-decimal amount.
func toScaled18ApplyRate(raw, scalingFactor, rate *big.Int, rounding Rounding) (*big.Int, error) {
	scaled := new(big.Int).Mul(raw, scalingFactor)
	if rounding == RoundUp {
		return fixedpoint.MulUp(scaled, rate)
	}
	return fixedpoint.MulDown(scaled, rate)
}

// toRawUndoRate converts a live 18-decimal amount back to raw units.
func toRawUndoRate(scaled18, scalingFactor, rate *big.Int, rounding Rounding) (*big.Int, error) {
	var descaled *big.Int
	var err error
	if rounding == RoundUp {
		descaled, err = fixedpoint.DivUp(scaled18, rate)
	} else {
		descaled, err = fixedpoint.DivDown(scaled18, rate)
	}
	if err != nil {
		return nil, err
	}
	if rounding == RoundUp {
		return ceilDiv(descaled, scalingFactor), nil
	}
	return descaled.Quo(descaled, scalingFactor), nil
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// refreshLiveBalances recomputes the pool's live balances from raw
// balances, scaling factors and current rates, rounding as directed.
// Join/exit paths round down so deposits in progress are under-valued;
// paths about to subtract from balances round up.
func (p *poolState) refreshLiveBalances(rounding Rounding) (*PoolData, error) {
	n := len(p.tokens)
	data := &PoolData{
		Tokens:                make([]TokenConfig, n),
		DecimalScalingFactors: make([]*big.Int, n),
		TokenRates:            make([]*big.Int, n),
		BalancesRaw:           copyBigs(p.balancesRaw),
		BalancesLiveScaled18:  make([]*big.Int, n),
	}
	for i := range p.tokens {
		entry := &p.tokens[i]
		data.Tokens[i] = entry.cfg
		data.DecimalScalingFactors[i] = new(big.Int).Set(entry.scalingFactor)
		rate, err := entry.currentRate()
		if err != nil {
			return nil, err
		}
		data.TokenRates[i] = rate
		live, err := toScaled18ApplyRate(p.balancesRaw[i], entry.scalingFactor, rate, rounding)
		if err != nil {
			return nil, err
		}
		data.BalancesLiveScaled18[i] = live
	}
	return data, nil
}

// settleYieldFees charges the pool's yield fee on the organic growth of
// each rate-bearing, fee-paying token's live balance since the previous
// settlement. The fee is converted back to raw units rounding down (the
// fee is a deduction, so rounding it down is the conservative direction)
// and the skim is committed through commitBalances so the yield-fee
// baseline advances with the raw write.
//
// No fee is ever charged on a live balance that decreased, before the pool
// is initialized, or while the pool is in recovery mode. Returns the raw
// fee charged per token.
func (p *poolState) settleYieldFees(data *PoolData) ([]*big.Int, error) {
	n := len(p.tokens)
	fees := make([]*big.Int, n)
	for i := range fees {
		fees[i] = new(big.Int)
	}
	if !p.initialized || p.recovery {
		return fees, nil
	}
	yieldFeePct := p.config.YieldFeePercentage
	if yieldFeePct == nil || yieldFeePct.Sign() == 0 {
		return fees, nil
	}

	charged := false
	newRaw := copyBigs(p.balancesRaw)
	for i := range p.tokens {
		entry := &p.tokens[i]
		if entry.cfg.RateProvider == nil || !entry.cfg.PaysYieldFees {
			continue
		}
		last := p.lastBalancesLiveScaled18[i]
		live := data.BalancesLiveScaled18[i]
		if live.Cmp(last) <= 0 {
			// Rate regressions are never penalized.
			continue
		}
		growth := new(big.Int).Sub(live, last)
		feeScaled, err := fixedpoint.MulDown(growth, yieldFeePct)
		if err != nil {
			return nil, err
		}
		feeRaw, err := toRawUndoRate(feeScaled, entry.scalingFactor, data.TokenRates[i], RoundDown)
		if err != nil {
			return nil, err
		}
		if feeRaw.Sign() == 0 {
			continue
		}
		fees[i] = feeRaw
		newRaw[i].Sub(newRaw[i], feeRaw)
		charged = true
	}
	if !charged {
		return fees, nil
	}

	if err := p.commitBalances(newRaw, data.TokenRates); err != nil {
		return nil, err
	}
	for i := range p.tokens {
		if fees[i].Sign() == 0 {
			continue
		}
		data.BalancesRaw[i] = new(big.Int).Set(p.balancesRaw[i])
		data.BalancesLiveScaled18[i] = new(big.Int).Set(p.lastBalancesLiveScaled18[i])
	}
	return fees, nil
}

// commitBalances atomically replaces the pool's raw balances and records
// the matching live balances as the new yield-fee baseline. This is the
// only supported write path; partial writes are not expressible.
func (p *poolState) commitBalances(newRaw []*big.Int, rates []*big.Int) error {
	if len(newRaw) != len(p.tokens) || len(rates) != len(p.tokens) {
		return fmt.Errorf("%w: balance vector length mismatch", ErrInvalidRegistration)
	}
	newLive := make([]*big.Int, len(newRaw))
	for i := range newRaw {
		if newRaw[i].Sign() < 0 {
			return ErrInsufficientReserves
		}
		live, err := toScaled18ApplyRate(newRaw[i], p.tokens[i].scalingFactor, rates[i], RoundDown)
		if err != nil {
			return err
		}
		newLive[i] = live
	}
	p.balancesRaw = copyBigs(newRaw)
	p.lastBalancesLiveScaled18 = newLive
	return nil
}

// mintBpt credits freshly minted pool shares to an owner.
func (p *poolState) mintBpt(owner common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	bal, ok := p.bptBalances[owner]
	if !ok {
		bal = new(big.Int)
		p.bptBalances[owner] = bal
	}
	bal.Add(bal, amount)
	p.totalSupply.Add(p.totalSupply, amount)
}

// burnBpt destroys pool shares held by an owner.
func (p *poolState) burnBpt(owner common.Address, amount *big.Int) error {
	bal, ok := p.bptBalances[owner]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBptBalance
	}
	bal.Sub(bal, amount)
	p.totalSupply.Sub(p.totalSupply, amount)
	return nil
}
