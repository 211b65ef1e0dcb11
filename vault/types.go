package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Rounding selects the direction a balance conversion is rounded. The
// direction is always chosen so the vault never loses value to truncation.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// SwapKind distinguishes which side of a swap is given exactly.
type SwapKind int

const (
	// SwapKindExactIn fixes the input amount; the output is calculated.
	SwapKindExactIn SwapKind = iota
	// SwapKindExactOut fixes the output amount; the input is calculated.
	SwapKindExactOut
)

func (k SwapKind) String() string {
	if k == SwapKindExactOut {
		return "exactOut"
	}
	return "exactIn"
}

// AddLiquidityKind selects how a deposit is priced.
type AddLiquidityKind int

const (
	AddLiquidityProportional AddLiquidityKind = iota
	AddLiquidityUnbalanced
	AddLiquiditySingleTokenExactOut
	AddLiquidityCustom
)

// RemoveLiquidityKind selects how a withdrawal is priced.
type RemoveLiquidityKind int

const (
	RemoveLiquidityProportional RemoveLiquidityKind = iota
	RemoveLiquiditySingleTokenExactIn
	RemoveLiquiditySingleTokenExactOut
	RemoveLiquidityCustom
)

var (
	// Session / ledger invariant violations.
	ErrAlreadyOpen   = errors.New("vault: session already open")
	ErrVaultLocked   = errors.New("vault: no open session")
	ErrWrongCaller   = errors.New("vault: delta recorded for non-current caller")
	ErrUnsettledDebt = errors.New("vault: session has unsettled deltas")
	// ErrReserveMismatch means the physically counted balance of a token
	// disagrees with the ledger's view at settlement.
	ErrReserveMismatch = errors.New("vault: physical reserves do not match ledger")

	// Domain-limit violations.
	ErrSwapLimitExceeded = errors.New("vault: calculated amount violates limit")
	ErrAmountGivenZero   = errors.New("vault: amount given is zero")

	// Configuration faults gating access by lifecycle state.
	ErrPoolNotRegistered      = errors.New("vault: pool not registered")
	ErrPoolAlreadyRegistered  = errors.New("vault: pool already registered")
	ErrPoolNotInitialized     = errors.New("vault: pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("vault: pool already initialized")
	ErrPoolPaused             = errors.New("vault: pool paused")
	ErrPoolNotInRecoveryMode  = errors.New("vault: pool not in recovery mode")
	ErrInvalidRegistration    = errors.New("vault: invalid pool registration")
	ErrTokenNotRegistered     = errors.New("vault: token not registered in pool")

	ErrDoesNotSupportUnbalancedLiquidity = errors.New("vault: pool does not support unbalanced liquidity")
	ErrDoesNotSupportCustomLiquidity     = errors.New("vault: pool does not support custom liquidity")

	ErrInsufficientBptBalance  = errors.New("vault: insufficient pool share balance")
	ErrInsufficientReserves    = errors.New("vault: insufficient vault reserves")
	ErrBelowMinimumTotalSupply = errors.New("vault: initialization below minimum total supply")
)

// Logger defines a standard interface for structured, leveled logging.
// log/slog satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// RateProvider supplies the current exchange rate of a rate-bearing token
// as an 18-decimal fixed-point value. It is consulted once per balance
// refresh.
type RateProvider interface {
	GetRate() (*big.Int, error)
}

// TokenConfig describes one token of a pool's fixed, ordered token set.
type TokenConfig struct {
	Token common.Address
	// Decimals is the token's native decimal count; at most 18.
	Decimals uint8
	// RateProvider is nil for tokens whose rate is a constant 1.0.
	RateProvider RateProvider
	// PaysYieldFees marks a rate-bearing token as subject to yield-fee
	// skimming on live-balance growth.
	PaysYieldFees bool
}

// PoolConfig carries a pool's economic and capability settings. The
// original packs these into storage words; here they are plain fields.
type PoolConfig struct {
	// SwapFeePercentage is an 18-decimal fixed-point fraction.
	SwapFeePercentage *big.Int
	// YieldFeePercentage is charged on organic live-balance growth of
	// rate-bearing, fee-paying tokens.
	YieldFeePercentage *big.Int
	// DisableUnbalancedLiquidity opts the pool out of unbalanced and
	// single-token liquidity operations.
	DisableUnbalancedLiquidity bool
}

// Pool is the pricing capability a registered pool provides. The vault
// does not know which curve a pool implements; pools/weighted is the
// reference implementation.
type Pool interface {
	// ComputeInvariant returns the pool's invariant for the given live
	// balances, rounded as directed.
	ComputeInvariant(balancesLiveScaled18 []*big.Int, rounding Rounding) (*big.Int, error)
	// ComputeSwap returns the calculated amount (out for ExactIn, in for
	// ExactOut), all values live-scaled.
	ComputeSwap(kind SwapKind, balancesLiveScaled18 []*big.Int, indexIn, indexOut int, amountGivenScaled18 *big.Int) (*big.Int, error)
}

// LiquidityMath is the optional capability for pricing non-proportional
// deposits and withdrawals. Pools that do not implement it only support
// proportional liquidity.
type LiquidityMath interface {
	BptOutGivenExactTokensIn(balancesLiveScaled18, amountsInScaled18 []*big.Int, totalSupply, swapFeePct *big.Int) (*big.Int, error)
	BptInGivenExactTokensOut(balancesLiveScaled18, amountsOutScaled18 []*big.Int, totalSupply, swapFeePct *big.Int) (*big.Int, error)
	TokenInGivenExactBptOut(balancesLiveScaled18 []*big.Int, tokenIndex int, bptOut, totalSupply, swapFeePct *big.Int) (*big.Int, error)
	TokenOutGivenExactBptIn(balancesLiveScaled18 []*big.Int, tokenIndex int, bptIn, totalSupply, swapFeePct *big.Int) (*big.Int, error)
}

// PoolData is a read-only snapshot of a pool's balances and scaling state.
type PoolData struct {
	Tokens                []TokenConfig
	DecimalScalingFactors []*big.Int
	TokenRates            []*big.Int
	BalancesRaw           []*big.Int
	BalancesLiveScaled18  []*big.Int
}
