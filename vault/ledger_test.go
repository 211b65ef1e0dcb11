package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	callerA = common.HexToAddress("0x01")
	callerB = common.HexToAddress("0x02")
	tokenX  = common.HexToAddress("0x10")
	tokenY  = common.HexToAddress("0x11")
)

func TestSessionDeltaNetsToZero(t *testing.T) {
	s := newSession(callerA)

	require.NoError(t, s.takeDebt(tokenX, big.NewInt(500)))
	assert.Equal(t, 1, s.nonzeroDeltas)
	assert.Zero(t, s.delta(callerA, tokenX).Cmp(big.NewInt(500)))

	require.NoError(t, s.supplyCredit(tokenX, big.NewInt(500)))
	assert.Equal(t, 0, s.nonzeroDeltas)
	assert.Zero(t, s.delta(callerA, tokenX).Sign())
}

func TestSessionZeroAmountIsNoOp(t *testing.T) {
	s := newSession(callerA)
	require.NoError(t, s.takeDebt(tokenX, new(big.Int)))
	assert.Equal(t, 0, s.nonzeroDeltas)
}

func TestSessionNonzeroCounterPerPair(t *testing.T) {
	s := newSession(callerA)

	require.NoError(t, s.takeDebt(tokenX, big.NewInt(100)))
	require.NoError(t, s.takeDebt(tokenY, big.NewInt(200)))
	assert.Equal(t, 2, s.nonzeroDeltas)

	// Partial settlement keeps the pair nonzero.
	require.NoError(t, s.supplyCredit(tokenX, big.NewInt(40)))
	assert.Equal(t, 2, s.nonzeroDeltas)
	require.NoError(t, s.supplyCredit(tokenX, big.NewInt(60)))
	assert.Equal(t, 1, s.nonzeroDeltas)

	// Overshooting flips the sign without touching zero.
	require.NoError(t, s.supplyCredit(tokenY, big.NewInt(300)))
	assert.Equal(t, 1, s.nonzeroDeltas)
	assert.Zero(t, s.delta(callerA, tokenY).Cmp(big.NewInt(-100)))
}

func TestSessionWrongCaller(t *testing.T) {
	s := newSession(callerA)
	err := s.recordDelta(callerB, tokenX, big.NewInt(1))
	assert.ErrorIs(t, err, ErrWrongCaller)

	// After a push the nested caller is current and the original is not.
	s.pushCaller(callerB)
	require.NoError(t, s.recordDelta(callerB, tokenX, big.NewInt(1)))
	assert.ErrorIs(t, s.recordDelta(callerA, tokenX, big.NewInt(1)), ErrWrongCaller)

	s.popCaller()
	require.NoError(t, s.recordDelta(callerA, tokenX, big.NewInt(1)))
}

func TestSessionDeltaReturnsCopy(t *testing.T) {
	s := newSession(callerA)
	require.NoError(t, s.takeDebt(tokenX, big.NewInt(7)))

	d := s.delta(callerA, tokenX)
	d.SetInt64(9999)
	assert.Zero(t, s.delta(callerA, tokenX).Cmp(big.NewInt(7)))
}

func TestSessionDeferTransferAccumulates(t *testing.T) {
	s := newSession(callerA)
	assert.True(t, s.pendingOutOf(tokenX).IsZero())

	s.deferTransfer(tokenX, callerB, uint256.NewInt(100))
	s.deferTransfer(tokenX, callerB, uint256.NewInt(50))
	s.deferTransfer(tokenY, callerB, uint256.NewInt(7))

	assert.Zero(t, s.pendingOutOf(tokenX).Cmp(uint256.NewInt(150)))
	assert.Zero(t, s.pendingOutOf(tokenY).Cmp(uint256.NewInt(7)))
	require.Len(t, s.transfers, 3)

	// The queue copies amounts; later mutation of the argument is isolated.
	arg := uint256.NewInt(9)
	s.deferTransfer(tokenY, callerA, arg)
	arg.SetUint64(0)
	assert.Zero(t, s.transfers[3].amount.Cmp(uint256.NewInt(9)))
}

func TestStagedReserveClonesCanonical(t *testing.T) {
	s := newSession(callerA)
	canonical := map[common.Address]*uint256.Int{
		tokenX: uint256.NewInt(1000),
	}

	staged := s.stagedReserve(canonical, tokenX)
	staged.Sub(staged, uint256.NewInt(400))

	assert.Zero(t, canonical[tokenX].Cmp(uint256.NewInt(1000)), "canonical reserve untouched")
	assert.Zero(t, s.stagedReserve(canonical, tokenX).Cmp(uint256.NewInt(600)), "staged copy is stable")

	// Unknown tokens start at zero.
	assert.True(t, s.stagedReserve(canonical, tokenY).IsZero())
}

func TestStagedPoolClonesCanonical(t *testing.T) {
	canonical := map[common.Address]*poolState{
		tokenX: {
			id:                       tokenX,
			totalSupply:              big.NewInt(1000),
			balancesRaw:              []*big.Int{big.NewInt(50)},
			lastBalancesLiveScaled18: []*big.Int{big.NewInt(50)},
			bptBalances:              map[common.Address]*big.Int{callerA: big.NewInt(1000)},
		},
	}
	s := newSession(callerA)

	ps, err := s.stagedPool(canonical, tokenX)
	require.NoError(t, err)
	ps.totalSupply.SetInt64(1)
	ps.balancesRaw[0].SetInt64(999)
	ps.bptBalances[callerA].SetInt64(0)

	orig := canonical[tokenX]
	assert.Zero(t, orig.totalSupply.Cmp(big.NewInt(1000)))
	assert.Zero(t, orig.balancesRaw[0].Cmp(big.NewInt(50)))
	assert.Zero(t, orig.bptBalances[callerA].Cmp(big.NewInt(1000)))

	// Second touch returns the same staged copy.
	again, err := s.stagedPool(canonical, tokenX)
	require.NoError(t, err)
	assert.Same(t, ps, again)

	_, err = s.stagedPool(canonical, tokenY)
	assert.ErrorIs(t, err, ErrPoolNotRegistered)
}
