// Package treasury implements the stake registry collaborator: voting stake
// is posted here with an optional lock, the lock duration derives the time
// multiplier, and every change is pushed into the governance engine's cached
// staker snapshot. Reward accrual and fee splitting are out of scope.
package treasury

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/fault"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/token"
)

// LockChoice selects a stake lock duration.
type LockChoice int

const (
	LockNone LockChoice = iota
	LockYear1
	LockYear2
	LockYear4
)

const yearSeconds = 365 * 24 * 60 * 60

// Multiplier returns the time multiplier for the lock choice (100 = 1.0×).
func (c LockChoice) Multiplier() int {
	switch c {
	case LockYear1:
		return governance.MultiplierYear1
	case LockYear2:
		return governance.MultiplierYear2
	case LockYear4:
		return governance.MultiplierYear4
	default:
		return governance.MultiplierNone
	}
}

// Duration returns the lock duration in seconds.
func (c LockChoice) Duration() int64 {
	switch c {
	case LockYear1:
		return yearSeconds
	case LockYear2:
		return 2 * yearSeconds
	case LockYear4:
		return 4 * yearSeconds
	default:
		return 0
	}
}

// Valid reports whether c names a defined lock choice.
func (c LockChoice) Valid() bool { return c >= LockNone && c <= LockYear4 }

// StakerPush is the governance-side snapshot push interface.
type StakerPush interface {
	UpdateStakerInfo(caller, staker contracts.Address, amount *big.Int, lockEnd int64, multiplier int) error
}

// position is one account's staked principal inside the treasury.
type position struct {
	amount     *big.Int
	lockEnd    int64
	multiplier int
}

// Treasury custodies voting stake and pushes snapshots into governance.
type Treasury struct {
	mu sync.Mutex

	addr   contracts.Address // the treasury's registry identity
	ledger token.Ledger
	clock  contracts.Clock
	logger *slog.Logger

	gov StakerPush // wired post-construction

	positions map[contracts.Address]*position
}

// New creates a treasury. addr must match the stake-registry identity wired
// into the governance engine.
func New(addr contracts.Address, ledger token.Ledger, clock contracts.Clock, logger *slog.Logger) *Treasury {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Treasury{
		addr:      addr,
		ledger:    ledger,
		clock:     clock,
		logger:    logger,
		positions: make(map[contracts.Address]*position),
	}
}

// Addr returns the treasury's registry identity.
func (t *Treasury) Addr() contracts.Address { return t.addr }

// SetGovernance wires the snapshot push target.
func (t *Treasury) SetGovernance(gov StakerPush) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gov = gov
}

// Stake pulls amount from the caller into treasury custody, extends the
// position, and pushes the updated snapshot into governance. A new lock
// choice applies to the whole position; the lock end never moves backwards.
func (t *Treasury) Stake(caller contracts.Address, amount *big.Int, lock LockChoice) error {
	if !t.mu.TryLock() {
		return fault.Reentrant("treasury")
	}
	defer t.mu.Unlock()

	if caller == contracts.Zero {
		return fault.Invalid("empty staker address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fault.Invalid("stake amount must be positive")
	}
	if !lock.Valid() {
		return fault.Invalid("unknown lock choice %d", lock)
	}
	// Compute the candidate position first so a failed push can unwind
	// without leaving partial state behind.
	now := t.clock.Now().Unix()
	next := position{amount: new(big.Int), multiplier: governance.MultiplierNone}
	if pos, ok := t.positions[caller]; ok {
		next = position{
			amount:     new(big.Int).Set(pos.amount),
			lockEnd:    pos.lockEnd,
			multiplier: pos.multiplier,
		}
	}
	next.amount.Add(next.amount, amount)
	if lockEnd := now + lock.Duration(); lockEnd > next.lockEnd {
		next.lockEnd = lockEnd
	}
	if m := lock.Multiplier(); m > next.multiplier {
		next.multiplier = m
	}

	if !t.ledger.TransferFrom(caller, t.addr, amount) {
		return fault.Invalid("stake transfer of %s units refused by ledger", amount)
	}
	if err := t.pushLocked(caller, &next); err != nil {
		// Unwind the custody transfer; the operation fails atomically.
		t.ledger.Transfer(caller, amount)
		return err
	}

	t.positions[caller] = &next
	return nil
}

// Unstake returns amount to the caller after the lock expiry and pushes the
// reduced snapshot.
func (t *Treasury) Unstake(caller contracts.Address, amount *big.Int) error {
	if !t.mu.TryLock() {
		return fault.Reentrant("treasury")
	}
	defer t.mu.Unlock()

	pos, ok := t.positions[caller]
	if !ok {
		return fault.NotFound("no stake position for %s", caller)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fault.Invalid("unstake amount must be positive")
	}
	now := t.clock.Now().Unix()
	if now < pos.lockEnd {
		return fault.Conflict("stake for %s locked until %s", caller,
			time.Unix(pos.lockEnd, 0).UTC().Format(time.RFC3339))
	}
	if pos.amount.Cmp(amount) < 0 {
		return fault.Invalid("unstake %s exceeds position %s", amount, pos.amount)
	}

	// Same candidate-then-commit shape as Stake, but the push goes first:
	// the treasury cannot pull funds back without an allowance, so custody
	// must not move until governance has accepted the reduced snapshot.
	next := position{
		amount:     new(big.Int).Sub(pos.amount, amount),
		lockEnd:    pos.lockEnd,
		multiplier: pos.multiplier,
	}
	if next.amount.Sign() == 0 {
		next.lockEnd = 0
		next.multiplier = governance.MultiplierNone
	}
	if err := t.pushLocked(caller, &next); err != nil {
		return err
	}
	if !t.ledger.Transfer(caller, amount) {
		// Restore the committed snapshot; custody never moved.
		if err := t.pushLocked(caller, pos); err != nil {
			t.logger.Error("staker snapshot restore failed",
				"staker", string(caller), "error", err)
		}
		return fault.Invalid("unstake transfer of %s units refused by ledger", amount)
	}

	t.positions[caller] = &next
	return nil
}

// StakedAmount returns a copy of the caller's staked principal.
func (t *Treasury) StakedAmount(addr contracts.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos, ok := t.positions[addr]; ok {
		return new(big.Int).Set(pos.amount)
	}
	return new(big.Int)
}

func (t *Treasury) pushLocked(staker contracts.Address, pos *position) error {
	if t.gov == nil {
		return nil
	}
	if err := t.gov.UpdateStakerInfo(t.addr, staker, pos.amount, pos.lockEnd, pos.multiplier); err != nil {
		t.logger.Error("staker snapshot push failed", "staker", string(staker), "error", err)
		return fault.Wrap(fault.CodeStateConflict, err, "staker snapshot push")
	}
	return nil
}
