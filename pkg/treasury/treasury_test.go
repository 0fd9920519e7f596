package treasury

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/fault"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/token"
)

type fixedClock struct{ at time.Time }

func (c *fixedClock) Now() time.Time { return c.at }

const (
	treasuryAddr = contracts.Address("treasury")
	alice        = contracts.Address("alice")
)

// pushRecorder captures staker snapshots pushed into governance.
type pushRecorder struct {
	caller     contracts.Address
	staker     contracts.Address
	amount     *big.Int
	lockEnd    int64
	multiplier int
	calls      int
	err        error
}

func (r *pushRecorder) UpdateStakerInfo(caller, staker contracts.Address, amount *big.Int, lockEnd int64, multiplier int) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.caller, r.staker = caller, staker
	r.amount = new(big.Int).Set(amount)
	r.lockEnd, r.multiplier = lockEnd, multiplier
	return nil
}

func newTestTreasury(t *testing.T) (*Treasury, *token.MemoryLedger, *pushRecorder, *fixedClock) {
	t.Helper()
	clock := &fixedClock{at: time.Unix(1_700_000_000, 0)}
	book := token.NewMemoryLedger()
	tr := New(treasuryAddr, book.Bind(treasuryAddr), clock, nil)
	rec := &pushRecorder{}
	tr.SetGovernance(rec)

	book.Mint(alice, contracts.Units(1_000_000))
	book.Approve(alice, treasuryAddr, contracts.Units(1_000_000))
	return tr, book, rec, clock
}

func TestStake_PushesSnapshot(t *testing.T) {
	tr, book, rec, clock := newTestTreasury(t)

	require.NoError(t, tr.Stake(alice, contracts.Units(500), LockYear1))

	assert.Equal(t, contracts.Units(500), tr.StakedAmount(alice))
	assert.Equal(t, contracts.Units(500), book.BalanceOf(treasuryAddr))
	assert.Equal(t, treasuryAddr, rec.caller)
	assert.Equal(t, alice, rec.staker)
	assert.Equal(t, contracts.Units(500), rec.amount)
	assert.Equal(t, clock.at.Unix()+365*24*60*60, rec.lockEnd)
	assert.Equal(t, governance.MultiplierYear1, rec.multiplier)
}

func TestStake_Rejections(t *testing.T) {
	tr, _, _, _ := newTestTreasury(t)

	tests := []struct {
		name   string
		caller contracts.Address
		amount *big.Int
		lock   LockChoice
	}{
		{"zero address", contracts.Zero, contracts.Units(1), LockNone},
		{"nil amount", alice, nil, LockNone},
		{"zero amount", alice, new(big.Int), LockNone},
		{"negative amount", alice, big.NewInt(-7), LockNone},
		{"unknown lock", alice, contracts.Units(1), LockChoice(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Stake(tt.caller, tt.amount, tt.lock)
			assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))
		})
	}
}

func TestStake_NoAllowance(t *testing.T) {
	clock := &fixedClock{at: time.Unix(1_700_000_000, 0)}
	book := token.NewMemoryLedger()
	tr := New(treasuryAddr, book.Bind(treasuryAddr), clock, nil)
	book.Mint(alice, contracts.Units(100))

	err := tr.Stake(alice, contracts.Units(100), LockNone)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))
	assert.Equal(t, 0, tr.StakedAmount(alice).Sign())
}

func TestStake_PushFailureUnwinds(t *testing.T) {
	tr, book, rec, _ := newTestTreasury(t)
	rec.err = errors.New("engine sealed")

	err := tr.Stake(alice, contracts.Units(500), LockNone)
	require.Error(t, err)
	assert.Equal(t, fault.CodeStateConflict, fault.CodeOf(err))
	assert.Equal(t, 0, tr.StakedAmount(alice).Sign())
	assert.Equal(t, 0, book.BalanceOf(treasuryAddr).Sign())
	assert.Equal(t, contracts.Units(1_000_000), book.BalanceOf(alice))
}

func TestStake_LockNeverShortens(t *testing.T) {
	tr, _, rec, clock := newTestTreasury(t)

	require.NoError(t, tr.Stake(alice, contracts.Units(100), LockYear4))
	longEnd := rec.lockEnd

	// Topping up with a shorter (or no) lock keeps the existing terms.
	require.NoError(t, tr.Stake(alice, contracts.Units(100), LockNone))
	assert.Equal(t, longEnd, rec.lockEnd)
	assert.Equal(t, governance.MultiplierYear4, rec.multiplier)
	assert.Equal(t, contracts.Units(200), rec.amount)

	// A longer lock extends the whole position.
	clock.at = clock.at.Add(time.Hour)
	require.NoError(t, tr.Stake(alice, contracts.Units(100), LockYear4))
	assert.Equal(t, clock.at.Unix()+4*365*24*60*60, rec.lockEnd)
}

func TestUnstake(t *testing.T) {
	tr, book, rec, clock := newTestTreasury(t)
	require.NoError(t, tr.Stake(alice, contracts.Units(300), LockYear1))

	err := tr.Unstake(alice, contracts.Units(100))
	assert.Equal(t, fault.CodeStateConflict, fault.CodeOf(err), "locked stake must not leave")

	clock.at = clock.at.Add(366 * 24 * time.Hour)
	err = tr.Unstake(alice, contracts.Units(400))
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err), "cannot exceed position")

	require.NoError(t, tr.Unstake(alice, contracts.Units(100)))
	assert.Equal(t, contracts.Units(200), tr.StakedAmount(alice))
	assert.Equal(t, contracts.Units(200), rec.amount)
	assert.Equal(t, governance.MultiplierYear1, rec.multiplier, "partial exit keeps the multiplier")

	require.NoError(t, tr.Unstake(alice, contracts.Units(200)))
	assert.Equal(t, 0, tr.StakedAmount(alice).Sign())
	assert.Equal(t, governance.MultiplierNone, rec.multiplier, "empty position resets terms")
	assert.Equal(t, contracts.Units(1_000_000), book.BalanceOf(alice))
}

func TestUnstake_PushFailureLeavesStateIntact(t *testing.T) {
	tr, book, rec, _ := newTestTreasury(t)
	require.NoError(t, tr.Stake(alice, contracts.Units(300), LockNone))
	rec.err = errors.New("engine sealed")

	err := tr.Unstake(alice, contracts.Units(100))
	require.Error(t, err)
	assert.Equal(t, fault.CodeStateConflict, fault.CodeOf(err))

	// Push failed before any custody movement: position and balances as
	// they were after the stake.
	assert.Equal(t, contracts.Units(300), tr.StakedAmount(alice))
	assert.Equal(t, contracts.Units(300), book.BalanceOf(treasuryAddr))
	assert.Equal(t, contracts.Units(999_700), book.BalanceOf(alice))

	// The operation is retryable once the push target recovers.
	rec.err = nil
	require.NoError(t, tr.Unstake(alice, contracts.Units(100)))
	assert.Equal(t, contracts.Units(200), tr.StakedAmount(alice))
	assert.Equal(t, contracts.Units(999_800), book.BalanceOf(alice))
}

func TestUnstake_NoPosition(t *testing.T) {
	tr, _, _, _ := newTestTreasury(t)
	err := tr.Unstake(alice, contracts.Units(1))
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestLockChoice_Derivations(t *testing.T) {
	assert.Equal(t, governance.MultiplierNone, LockNone.Multiplier())
	assert.Equal(t, governance.MultiplierYear1, LockYear1.Multiplier())
	assert.Equal(t, governance.MultiplierYear2, LockYear2.Multiplier())
	assert.Equal(t, governance.MultiplierYear4, LockYear4.Multiplier())
	assert.Equal(t, int64(0), LockNone.Duration())
	assert.Equal(t, 4*LockYear1.Duration(), LockYear4.Duration())
	assert.False(t, LockChoice(-1).Valid())
}

// End-to-end against a real engine: staking through the treasury makes the
// snapshot visible to voting-power reads.
func TestStake_FeedsVotingPower(t *testing.T) {
	clock := &fixedClock{at: time.Unix(1_700_000_000, 0)}
	book := token.NewMemoryLedger()
	owner := contracts.Address("owner")
	eng := governance.NewEngine("engine", owner, book.Bind("engine"), clock, governance.Options{})
	eng.SetStakeRegistry(treasuryAddr)

	tr := New(treasuryAddr, book.Bind(treasuryAddr), clock, nil)
	tr.SetGovernance(eng)

	book.Mint(alice, contracts.Units(10_000))
	book.Approve(alice, treasuryAddr, contracts.Units(10_000))
	require.NoError(t, tr.Stake(alice, contracts.Units(10_000), LockYear2))

	// sqrt(10000e18) = 1e11, ×2.0 lock multiplier.
	assert.Equal(t, big.NewInt(200_000_000_000), eng.GetVotingPower(alice))
}
