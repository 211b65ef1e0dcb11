// Package vault implements a multi-pool asset vault for constant-function
// market makers. A caller opens a session (Unlock), batches any number of
// swaps and liquidity operations against registered pools, and the session
// only closes once every debt and credit it created nets to zero and the
// physically counted reserves agree with the ledger. Any failure unwinds
// the whole session; canonical storage is never left half-written.
package vault

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Akron-admin/balancer-v3-monorepo/math/fixedpoint"
)

// MinimumTotalSupply is locked forever on pool initialization so the share
// supply can never be drained to zero.
var MinimumTotalSupply = big.NewInt(1_000_000)

// zeroAddress holds the locked minimum supply.
var zeroAddress = common.Address{}

// AssetBook is the vault's window onto physical token custody: the
// balances it actually holds, independent of any pool's accounting.
type AssetBook interface {
	// BalanceOf returns the vault's own balance of token.
	BalanceOf(token common.Address) (*uint256.Int, error)
	// Transfer moves tokens out of the vault to a recipient.
	Transfer(token, to common.Address, amount *uint256.Int) error
}

// Config carries the vault's required dependencies.
type Config struct {
	Book     AssetBook
	Logger   Logger
	Registry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Book == nil {
		return fmt.Errorf("config: Book cannot be nil")
	}
	if c.Logger == nil {
		return fmt.Errorf("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return fmt.Errorf("config: Registry cannot be nil")
	}
	return nil
}

// Vault custodies tokens for registered pools and settles batched
// operations through the transient session ledger. It is not safe for
// concurrent use: a session is one strictly sequential unit of work.
type Vault struct {
	book    AssetBook
	logger  Logger
	metrics *metrics

	pools    map[common.Address]*poolState
	reserves map[common.Address]*uint256.Int

	session *session
}

// New constructs a Vault from a configuration, returning an error if any
// required dependency is missing.
func New(cfg *Config) (*Vault, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Vault{
		book:     cfg.Book,
		logger:   cfg.Logger,
		metrics:  newMetrics(cfg.Registry),
		pools:    make(map[common.Address]*poolState),
		reserves: make(map[common.Address]*uint256.Int),
	}, nil
}

// --- Session lifecycle ---

// EntryFunc is a session entry point invoked with the unlocked vault.
type EntryFunc func(v *Vault) error

// Unlock opens a session with the given first caller and invokes the entry
// point. If the entry point returns nil, the session is closed: every
// delta must be settled and physical reserves must match the ledger, or
// the close fails. On any error the entire session is unwound and
// canonical storage is left exactly as it was.
func (v *Vault) Unlock(caller common.Address, fn EntryFunc) error {
	if v.session != nil {
		return ErrAlreadyOpen
	}
	v.session = newSession(caller)
	v.metrics.sessionsOpened.Inc()
	start := time.Now()

	err := fn(v)
	if err == nil {
		err = v.close()
	}
	if err != nil {
		v.session = nil
		v.metrics.sessionsAborted.Inc()
		v.logger.Warn("session aborted", "caller", caller.Hex(), "err", err)
		return err
	}

	v.metrics.sessionsSettled.Inc()
	v.metrics.settleDuration.Observe(time.Since(start).Seconds())
	v.logger.Debug("session settled", "caller", caller.Hex())
	return nil
}

// Invoke runs a nested entry point as an additional caller on the stack,
// modeling a reentrant call into the vault by a counterparty. The nested
// caller is the current caller for the duration of fn. Errors must be
// propagated by the enclosing entry point to abort the session.
func (v *Vault) Invoke(caller common.Address, fn EntryFunc) error {
	if v.session == nil {
		return ErrVaultLocked
	}
	v.session.pushCaller(caller)
	defer v.session.popCaller()
	return fn(v)
}

// close settles the session: the last caller is popped, the nonzero-delta
// counter must read zero, staged reserves must match physically counted
// balances net of queued payouts, and only then are the payouts executed
// and staged state committed wholesale.
func (v *Vault) close() error {
	s := v.session
	s.popCaller()
	if len(s.callers) != 0 {
		// Unreachable through the public API; Invoke pairs push with pop.
		return ErrWrongCaller
	}
	if s.nonzeroDeltas != 0 {
		return ErrUnsettledDebt
	}
	for token, staged := range s.stagedReserves {
		physical, err := v.book.BalanceOf(token)
		if err != nil {
			return err
		}
		// Queued payouts have not left custody yet, so the physical count
		// still includes them.
		expected, underflow := new(uint256.Int).SubOverflow(physical, s.pendingOutOf(token))
		if underflow || expected.Cmp(staged) != 0 {
			return fmt.Errorf("%w: token %s ledger=%s physical=%s pending_out=%s",
				ErrReserveMismatch, token.Hex(), staged.Dec(), physical.Dec(), s.pendingOutOf(token).Dec())
		}
	}

	// All deltas net to zero and reserves reconcile: execute the queued
	// payouts, then commit staged state.
	for _, tr := range s.transfers {
		if err := v.book.Transfer(tr.token, tr.to, tr.amount); err != nil {
			return err
		}
	}

	for id, ps := range s.stagedPools {
		v.pools[id] = ps
	}
	for token, r := range s.stagedReserves {
		v.reserves[token] = r
	}
	v.session = nil
	return nil
}

// --- Registration and lifecycle ---

// PoolRegistration describes a pool to register: its handle, its pricing
// implementation, and its fixed, ordered token set.
type PoolRegistration struct {
	Address common.Address
	Pool    Pool
	Tokens  []TokenConfig
	Config  PoolConfig
}

// RegisterPool creates a pool's storage. The token set and order are
// immutable afterwards. Registration is not allowed mid-session.
func (v *Vault) RegisterPool(reg PoolRegistration) error {
	if v.session != nil {
		return ErrAlreadyOpen
	}
	if _, ok := v.pools[reg.Address]; ok {
		return ErrPoolAlreadyRegistered
	}
	if reg.Pool == nil {
		return fmt.Errorf("%w: nil pool implementation", ErrInvalidRegistration)
	}
	if len(reg.Tokens) < 2 {
		return fmt.Errorf("%w: at least two tokens required", ErrInvalidRegistration)
	}
	if err := validateFeePercentage(reg.Config.SwapFeePercentage); err != nil {
		return err
	}
	if err := validateFeePercentage(reg.Config.YieldFeePercentage); err != nil {
		return err
	}

	n := len(reg.Tokens)
	ps := &poolState{
		id:          reg.Address,
		pool:        reg.Pool,
		tokens:      make([]tokenEntry, n),
		indexOf:     make(map[common.Address]int, n),
		config:      reg.Config,
		totalSupply: new(big.Int),
		bptBalances: make(map[common.Address]*big.Int),
	}
	if ps.config.SwapFeePercentage == nil {
		ps.config.SwapFeePercentage = new(big.Int)
	}
	if ps.config.YieldFeePercentage == nil {
		ps.config.YieldFeePercentage = new(big.Int)
	}

	for i, tc := range reg.Tokens {
		if _, dup := ps.indexOf[tc.Token]; dup {
			return fmt.Errorf("%w: duplicate token %s", ErrInvalidRegistration, tc.Token.Hex())
		}
		factor, err := decimalScalingFactor(tc.Decimals)
		if err != nil {
			return err
		}
		ps.tokens[i] = tokenEntry{cfg: tc, scalingFactor: factor}
		ps.indexOf[tc.Token] = i
	}
	ps.balancesRaw = make([]*big.Int, n)
	ps.lastBalancesLiveScaled18 = make([]*big.Int, n)
	for i := 0; i < n; i++ {
		ps.balancesRaw[i] = new(big.Int)
		ps.lastBalancesLiveScaled18[i] = new(big.Int)
	}

	v.pools[reg.Address] = ps
	v.logger.Info("pool registered", "pool", reg.Address.Hex(), "tokens", n)
	return nil
}

func validateFeePercentage(pct *big.Int) error {
	if pct == nil {
		return nil
	}
	if pct.Sign() < 0 || pct.Cmp(fixedpoint.One) >= 0 {
		return fmt.Errorf("%w: fee percentage out of range", ErrInvalidRegistration)
	}
	return nil
}

// Initialize seeds a pool's balances and mints the initial share supply,
// proportional to the invariant of the deposited amounts. Must run inside
// a session; the deposits are recorded as debts of the current caller.
func (v *Vault) Initialize(pool common.Address, amountsInRaw []*big.Int) (*big.Int, error) {
	s := v.session
	if s == nil {
		return nil, ErrVaultLocked
	}
	ps, err := s.stagedPool(v.pools, pool)
	if err != nil {
		return nil, err
	}
	if ps.initialized {
		return nil, ErrPoolAlreadyInitialized
	}
	if ps.paused {
		return nil, ErrPoolPaused
	}
	if len(amountsInRaw) != len(ps.tokens) {
		return nil, fmt.Errorf("%w: expected %d amounts", ErrInvalidRegistration, len(ps.tokens))
	}

	rates := make([]*big.Int, len(ps.tokens))
	liveAmounts := make([]*big.Int, len(ps.tokens))
	for i := range ps.tokens {
		rate, err := ps.tokens[i].currentRate()
		if err != nil {
			return nil, err
		}
		rates[i] = rate
		live, err := toScaled18ApplyRate(amountsInRaw[i], ps.tokens[i].scalingFactor, rate, RoundDown)
		if err != nil {
			return nil, err
		}
		liveAmounts[i] = live
	}

	invariant, err := ps.pool.ComputeInvariant(liveAmounts, RoundDown)
	if err != nil {
		return nil, err
	}
	if invariant.Cmp(MinimumTotalSupply) <= 0 {
		return nil, ErrBelowMinimumTotalSupply
	}

	if err := ps.commitBalances(amountsInRaw, rates); err != nil {
		return nil, err
	}
	caller := s.currentCaller()
	bptOut := new(big.Int).Sub(invariant, MinimumTotalSupply)
	ps.mintBpt(zeroAddress, MinimumTotalSupply)
	ps.mintBpt(caller, bptOut)
	ps.initialized = true

	for i := range ps.tokens {
		if err := s.takeDebt(ps.tokens[i].cfg.Token, amountsInRaw[i]); err != nil {
			return nil, err
		}
	}

	v.logger.Info("pool initialized", "pool", pool.Hex(), "bptOut", bptOut.String())
	return bptOut, nil
}

// PausePool halts swaps and liquidity additions on a pool.
func (v *Vault) PausePool(pool common.Address) error {
	return v.setFlag(pool, func(ps *poolState) { ps.paused = true })
}

// UnpausePool re-enables a paused pool.
func (v *Vault) UnpausePool(pool common.Address) error {
	return v.setFlag(pool, func(ps *poolState) { ps.paused = false })
}

// EnableRecoveryMode puts a pool into recovery: yield fees stop accruing
// and proportional math-free exits become available.
func (v *Vault) EnableRecoveryMode(pool common.Address) error {
	return v.setFlag(pool, func(ps *poolState) { ps.recovery = true })
}

// DisableRecoveryMode returns a pool to normal operation.
func (v *Vault) DisableRecoveryMode(pool common.Address) error {
	return v.setFlag(pool, func(ps *poolState) { ps.recovery = false })
}

func (v *Vault) setFlag(pool common.Address, apply func(*poolState)) error {
	if v.session != nil {
		return ErrAlreadyOpen
	}
	ps, ok := v.pools[pool]
	if !ok {
		return ErrPoolNotRegistered
	}
	apply(ps)
	return nil
}

// --- Queries ---

// lookupPool prefers the session's staged copy so reads inside a session
// observe the session's own writes.
func (v *Vault) lookupPool(pool common.Address) (*poolState, error) {
	if v.session != nil {
		if ps, ok := v.session.stagedPools[pool]; ok {
			return ps, nil
		}
	}
	ps, ok := v.pools[pool]
	if !ok {
		return nil, ErrPoolNotRegistered
	}
	return ps, nil
}

// GetPoolTokenInfo returns a read-only snapshot of a pool's token set,
// raw balances, scaling factors, rates and live balances (rounded down).
func (v *Vault) GetPoolTokenInfo(pool common.Address) (*PoolData, error) {
	ps, err := v.lookupPool(pool)
	if err != nil {
		return nil, err
	}
	return ps.refreshLiveBalances(RoundDown)
}

// TotalSupply returns a pool's share token supply.
func (v *Vault) TotalSupply(pool common.Address) (*big.Int, error) {
	ps, err := v.lookupPool(pool)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(ps.totalSupply), nil
}

// BptBalanceOf returns an owner's share balance in a pool.
func (v *Vault) BptBalanceOf(pool, owner common.Address) (*big.Int, error) {
	ps, err := v.lookupPool(pool)
	if err != nil {
		return nil, err
	}
	if bal, ok := ps.bptBalances[owner]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// ReservesOf returns the vault's ledger-tracked reserve of a token.
func (v *Vault) ReservesOf(token common.Address) *uint256.Int {
	if v.session != nil {
		if r, ok := v.session.stagedReserves[token]; ok {
			return new(uint256.Int).Set(r)
		}
	}
	if r, ok := v.reserves[token]; ok {
		return new(uint256.Int).Set(r)
	}
	return new(uint256.Int)
}

// Delta returns the session's current signed delta for (caller, token).
func (v *Vault) Delta(caller, token common.Address) (*big.Int, error) {
	if v.session == nil {
		return nil, ErrVaultLocked
	}
	return v.session.delta(caller, token), nil
}

// --- Pool data loading ---

// loadPoolData refreshes live balances and settles pending yield fees in
// one step, the state every operation prices against.
func (v *Vault) loadPoolData(ps *poolState, rounding Rounding) (*PoolData, error) {
	data, err := ps.refreshLiveBalances(rounding)
	if err != nil {
		return nil, err
	}
	fees, err := ps.settleYieldFees(data)
	if err != nil {
		return nil, err
	}
	for i, fee := range fees {
		if fee.Sign() > 0 {
			v.metrics.yieldFeeEvents.Inc()
			v.logger.Debug("yield fee charged",
				"pool", ps.id.Hex(),
				"token", ps.tokens[i].cfg.Token.Hex(),
				"feeRaw", fee.String())
		}
	}
	return data, nil
}

// --- Swaps ---

// SwapParams describes one swap inside a session. Limit is a minimum
// output for ExactIn and a maximum input for ExactOut.
type SwapParams struct {
	Pool           common.Address
	TokenIn        common.Address
	TokenOut       common.Address
	Kind           SwapKind
	AmountGivenRaw *big.Int
	Limit          *big.Int
}

// Swap executes a swap against a pool's curve, updates the pool's
// balances, and records the caller's debt for the input token and credit
// for the output token. Returns the calculated raw amount (out for
// ExactIn, in for ExactOut).
func (v *Vault) Swap(p SwapParams) (*big.Int, error) {
	s := v.session
	if s == nil {
		return nil, ErrVaultLocked
	}
	if p.AmountGivenRaw == nil || p.AmountGivenRaw.Sign() == 0 {
		return nil, ErrAmountGivenZero
	}
	ps, err := s.stagedPool(v.pools, p.Pool)
	if err != nil {
		return nil, err
	}
	if !ps.initialized {
		return nil, ErrPoolNotInitialized
	}
	if ps.paused {
		return nil, ErrPoolPaused
	}
	indexIn, ok := ps.indexOf[p.TokenIn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, p.TokenIn.Hex())
	}
	indexOut, ok := ps.indexOf[p.TokenOut]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, p.TokenOut.Hex())
	}

	data, err := v.loadPoolData(ps, RoundDown)
	if err != nil {
		return nil, err
	}

	var (
		amountInRaw, amountOutRaw       *big.Int
		amountCalculatedRaw             *big.Int
		swapFeeAmountScaled18           *big.Int
		swapFeePct                      = ps.config.SwapFeePercentage
		factorIn, rateIn                = data.DecimalScalingFactors[indexIn], data.TokenRates[indexIn]
		factorOut, rateOut              = data.DecimalScalingFactors[indexOut], data.TokenRates[indexOut]
	)

	switch p.Kind {
	case SwapKindExactIn:
		amountInRaw = new(big.Int).Set(p.AmountGivenRaw)
		givenScaled, err := toScaled18ApplyRate(amountInRaw, factorIn, rateIn, RoundDown)
		if err != nil {
			return nil, err
		}
		// The fee is charged on the given amount before it reaches the
		// curve, rounded against the trader.
		swapFeeAmountScaled18, err = fixedpoint.MulUp(givenScaled, swapFeePct)
		if err != nil {
			return nil, err
		}
		curveIn := new(big.Int).Sub(givenScaled, swapFeeAmountScaled18)
		outScaled, err := ps.pool.ComputeSwap(SwapKindExactIn, data.BalancesLiveScaled18, indexIn, indexOut, curveIn)
		if err != nil {
			return nil, err
		}
		amountOutRaw, err = toRawUndoRate(outScaled, factorOut, rateOut, RoundDown)
		if err != nil {
			return nil, err
		}
		amountCalculatedRaw = amountOutRaw
		if p.Limit != nil && amountCalculatedRaw.Cmp(p.Limit) < 0 {
			return nil, ErrSwapLimitExceeded
		}

	case SwapKindExactOut:
		amountOutRaw = new(big.Int).Set(p.AmountGivenRaw)
		givenScaled, err := toScaled18ApplyRate(amountOutRaw, factorOut, rateOut, RoundUp)
		if err != nil {
			return nil, err
		}
		inScaled, err := ps.pool.ComputeSwap(SwapKindExactOut, data.BalancesLiveScaled18, indexIn, indexOut, givenScaled)
		if err != nil {
			return nil, err
		}
		// Gross the curve's input up so the fee comes out of the trader.
		grossScaled, err := fixedpoint.DivUp(inScaled, fixedpoint.Complement(swapFeePct))
		if err != nil {
			return nil, err
		}
		swapFeeAmountScaled18 = new(big.Int).Sub(grossScaled, inScaled)
		amountInRaw, err = toRawUndoRate(grossScaled, factorIn, rateIn, RoundUp)
		if err != nil {
			return nil, err
		}
		amountCalculatedRaw = amountInRaw
		if p.Limit != nil && amountCalculatedRaw.Cmp(p.Limit) > 0 {
			return nil, ErrSwapLimitExceeded
		}

	default:
		return nil, fmt.Errorf("unknown swap kind %d", p.Kind)
	}

	newRaw := copyBigs(data.BalancesRaw)
	newRaw[indexIn].Add(newRaw[indexIn], amountInRaw)
	newRaw[indexOut].Sub(newRaw[indexOut], amountOutRaw)
	if err := ps.commitBalances(newRaw, data.TokenRates); err != nil {
		return nil, err
	}

	if err := s.takeDebt(p.TokenIn, amountInRaw); err != nil {
		return nil, err
	}
	if err := s.supplyCredit(p.TokenOut, amountOutRaw); err != nil {
		return nil, err
	}

	v.metrics.swapsTotal.WithLabelValues(p.Pool.Hex(), p.Kind.String()).Inc()
	v.logger.Info("swap settled",
		"pool", p.Pool.Hex(),
		"kind", p.Kind.String(),
		"tokenIn", p.TokenIn.Hex(),
		"tokenOut", p.TokenOut.Hex(),
		"amountInRaw", amountInRaw.String(),
		"amountOutRaw", amountOutRaw.String(),
		"swapFeeScaled18", swapFeeAmountScaled18.String())
	return amountCalculatedRaw, nil
}

// --- Reserve reconciliation ---

// Settle reconciles the vault's physically observed balance of a token
// against the ledger, crediting the surplus to the current caller. The
// credit is capped by amountHint when given; any excess stays with the
// vault. Typically called once per token at the end of a session.
func (v *Vault) Settle(token common.Address, amountHint *big.Int) (*big.Int, error) {
	s := v.session
	if s == nil {
		return nil, ErrVaultLocked
	}
	physical, err := v.book.BalanceOf(token)
	if err != nil {
		return nil, err
	}
	staged := s.stagedReserve(v.reserves, token)
	// Payouts queued by SendTo have not left custody yet; net them out of
	// the physical count before comparing against the staged reserve.
	counted, underflow := new(uint256.Int).SubOverflow(physical, s.pendingOutOf(token))
	if underflow {
		return nil, fmt.Errorf("%w: token %s reserves decreased outside the ledger", ErrReserveMismatch, token.Hex())
	}
	diff := new(big.Int).Sub(counted.ToBig(), staged.ToBig())
	if diff.Sign() < 0 {
		return nil, fmt.Errorf("%w: token %s reserves decreased outside the ledger", ErrReserveMismatch, token.Hex())
	}
	credit := diff
	if amountHint != nil && amountHint.Cmp(diff) < 0 {
		credit = new(big.Int).Set(amountHint)
	}
	staged.Set(counted)
	if err := s.supplyCredit(token, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// SendTo pays vault reserves out to a recipient, recording the matching
// debt against the current caller. The physical transfer is deferred to
// the session close so an aborted session never moves custody.
func (v *Vault) SendTo(token, to common.Address, amount *big.Int) error {
	s := v.session
	if s == nil {
		return ErrVaultLocked
	}
	amount256, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return ErrInsufficientReserves
	}
	staged := s.stagedReserve(v.reserves, token)
	if staged.Cmp(amount256) < 0 {
		return ErrInsufficientReserves
	}
	staged.Sub(staged, amount256)
	s.deferTransfer(token, to, amount256)
	return s.takeDebt(token, amount)
}
