package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// pendingTransfer is an outgoing payout the session has promised but not
// yet executed. Physical transfers only happen inside a successful close,
// so an aborted session leaves custody untouched.
type pendingTransfer struct {
	token  common.Address
	to     common.Address
	amount *uint256.Int
}

// session is the transient settlement ledger for one unlock/lock cycle.
// It tracks a stack of active callers, the signed per-caller-per-token
// deltas (positive = the caller owes the vault, negative = the vault owes
// the caller), and staged copies of every pool and reserve the session
// touches. Canonical vault storage is only replaced when the session
// closes with every delta at zero; an aborted session is simply dropped.
type session struct {
	callers []common.Address

	// deltas maps caller -> token -> signed amount in raw token units.
	deltas map[common.Address]map[common.Address]*big.Int

	// nonzeroDeltas counts (caller, token) pairs with a non-zero delta.
	// It makes settlement completeness an O(1) check instead of a scan.
	nonzeroDeltas int

	// Copy-on-first-touch staging. Neither map ever aliases canonical
	// storage; commit replaces canonical entries wholesale.
	stagedPools    map[common.Address]*poolState
	stagedReserves map[common.Address]*uint256.Int

	// Outgoing payouts, deferred until close. pendingOut is the per-token
	// sum, used to reconcile staged reserves against physical balances
	// while the transfers are still unexecuted.
	transfers  []pendingTransfer
	pendingOut map[common.Address]*uint256.Int
}

func newSession(first common.Address) *session {
	return &session{
		callers:        []common.Address{first},
		deltas:         make(map[common.Address]map[common.Address]*big.Int),
		stagedPools:    make(map[common.Address]*poolState),
		stagedReserves: make(map[common.Address]*uint256.Int),
		pendingOut:     make(map[common.Address]*uint256.Int),
	}
}

// currentCaller is the top of the caller stack: the only identity allowed
// to have deltas recorded on its behalf.
func (s *session) currentCaller() common.Address {
	return s.callers[len(s.callers)-1]
}

func (s *session) pushCaller(caller common.Address) {
	s.callers = append(s.callers, caller)
}

func (s *session) popCaller() {
	s.callers = s.callers[:len(s.callers)-1]
}

// recordDelta adds a signed amount to the (caller, token) delta. A zero
// amount is a no-op. Recording on behalf of anyone but the current caller
// fails with ErrWrongCaller.
func (s *session) recordDelta(caller, token common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if caller != s.currentCaller() {
		return ErrWrongCaller
	}

	perToken, ok := s.deltas[caller]
	if !ok {
		perToken = make(map[common.Address]*big.Int)
		s.deltas[caller] = perToken
	}

	current, ok := perToken[token]
	if !ok {
		current = new(big.Int)
		perToken[token] = current
	}

	wasZero := current.Sign() == 0
	current.Add(current, amount)
	isZero := current.Sign() == 0

	switch {
	case wasZero && !isZero:
		s.nonzeroDeltas++
	case !wasZero && isZero:
		s.nonzeroDeltas--
	}
	return nil
}

// delta returns a copy of the current delta for (caller, token).
func (s *session) delta(caller, token common.Address) *big.Int {
	if perToken, ok := s.deltas[caller]; ok {
		if d, ok := perToken[token]; ok {
			return new(big.Int).Set(d)
		}
	}
	return new(big.Int)
}

// takeDebt records that the current caller owes the vault `amount` of
// `token` (token entering the vault must be settled in).
func (s *session) takeDebt(token common.Address, amount *big.Int) error {
	return s.recordDelta(s.currentCaller(), token, amount)
}

// supplyCredit records that the vault owes the current caller `amount` of
// `token`.
func (s *session) supplyCredit(token common.Address, amount *big.Int) error {
	return s.recordDelta(s.currentCaller(), token, new(big.Int).Neg(amount))
}

// deferTransfer queues an outgoing payout for execution at close and adds
// it to the per-token pending total.
func (s *session) deferTransfer(token, to common.Address, amount *uint256.Int) {
	s.transfers = append(s.transfers, pendingTransfer{
		token:  token,
		to:     to,
		amount: new(uint256.Int).Set(amount),
	})
	pending, ok := s.pendingOut[token]
	if !ok {
		pending = new(uint256.Int)
		s.pendingOut[token] = pending
	}
	pending.Add(pending, amount)
}

// pendingOutOf returns the total payout queued for a token, zero if none.
func (s *session) pendingOutOf(token common.Address) *uint256.Int {
	if pending, ok := s.pendingOut[token]; ok {
		return pending
	}
	return new(uint256.Int)
}

// stagedPool returns the session's working copy of a pool, cloning the
// canonical state on first touch.
func (s *session) stagedPool(canonical map[common.Address]*poolState, pool common.Address) (*poolState, error) {
	if ps, ok := s.stagedPools[pool]; ok {
		return ps, nil
	}
	ps, ok := canonical[pool]
	if !ok {
		return nil, ErrPoolNotRegistered
	}
	clone := ps.clone()
	s.stagedPools[pool] = clone
	return clone, nil
}

// stagedReserve returns the session's working copy of the vault's reserve
// of a token, cloning the canonical value on first touch. Tokens the vault
// has never seen start at zero.
func (s *session) stagedReserve(canonical map[common.Address]*uint256.Int, token common.Address) *uint256.Int {
	if r, ok := s.stagedReserves[token]; ok {
		return r
	}
	r := new(uint256.Int)
	if cur, ok := canonical[token]; ok {
		r.Set(cur)
	}
	s.stagedReserves[token] = r
	return r
}
