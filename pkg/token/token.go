// Package token defines the fungible asset ledger interface the governance
// engine and treasury consume, plus an in-memory implementation used by the
// daemon in standalone mode and by tests.
//
// The ledger is an external collaborator: components only post and return
// stake through it and treat a false return as a hard abort.
package token

import (
	"math/big"
	"sync"

	"github.com/kara-bolt/karadao/pkg/contracts"
)

// Ledger is the opaque fungible-asset primitive, seen from one component's
// point of view. All amounts are base units with 18 implicit fractional
// digits.
type Ledger interface {
	// Transfer moves amount from the component's own balance to `to`.
	Transfer(to contracts.Address, amount *big.Int) bool
	// TransferFrom moves amount from `from` to `to`, consuming the allowance
	// `from` granted to this component.
	TransferFrom(from, to contracts.Address, amount *big.Int) bool
	// BalanceOf returns the current balance of account.
	BalanceOf(account contracts.Address) *big.Int
	// Approve authorizes spender to pull up to amount from owner.
	Approve(owner, spender contracts.Address, amount *big.Int) bool
}

// MemoryLedger is a process-local balance/allowance book. Components obtain
// a Ledger view of it via Bind, which fixes their spender identity.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[contracts.Address]*big.Int
	allowances map[contracts.Address]map[contracts.Address]*big.Int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[contracts.Address]*big.Int),
		allowances: make(map[contracts.Address]map[contracts.Address]*big.Int),
	}
}

// Mint credits account with amount. Genesis/test helper.
func (l *MemoryLedger) Mint(account contracts.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

// BalanceOf returns a copy of account's balance.
func (l *MemoryLedger) BalanceOf(account contracts.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(account))
}

// Approve records that owner authorizes spender to pull up to amount.
func (l *MemoryLedger) Approve(owner, spender contracts.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[contracts.Address]*big.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return true
}

// Bind returns the Ledger view for one component identity.
func (l *MemoryLedger) Bind(component contracts.Address) Ledger {
	return &boundLedger{book: l, self: component}
}

func (l *MemoryLedger) transfer(from, to contracts.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 || to == contracts.Zero {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return true
}

func (l *MemoryLedger) transferFrom(spender, from, to contracts.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 || to == contracts.Zero {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return false
	}
	allowed := l.allowanceLocked(from, spender)
	if allowed.Cmp(amount) < 0 {
		return false
	}
	allowed.Sub(allowed, amount)
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return true
}

func (l *MemoryLedger) balanceLocked(account contracts.Address) *big.Int {
	bal, ok := l.balances[account]
	if !ok {
		bal = new(big.Int)
		l.balances[account] = bal
	}
	return bal
}

func (l *MemoryLedger) allowanceLocked(owner, spender contracts.Address) *big.Int {
	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[contracts.Address]*big.Int)
		l.allowances[owner] = byOwner
	}
	allowed, ok := byOwner[spender]
	if !ok {
		allowed = new(big.Int)
		byOwner[spender] = allowed
	}
	return allowed
}

func (l *MemoryLedger) credit(account contracts.Address, amount *big.Int) {
	l.balanceLocked(account).Add(l.balanceLocked(account), amount)
}

// boundLedger is a MemoryLedger view with a fixed spender identity.
type boundLedger struct {
	book *MemoryLedger
	self contracts.Address
}

func (b *boundLedger) Transfer(to contracts.Address, amount *big.Int) bool {
	return b.book.transfer(b.self, to, amount)
}

func (b *boundLedger) TransferFrom(from, to contracts.Address, amount *big.Int) bool {
	return b.book.transferFrom(b.self, from, to, amount)
}

func (b *boundLedger) BalanceOf(account contracts.Address) *big.Int {
	return b.book.BalanceOf(account)
}

func (b *boundLedger) Approve(owner, spender contracts.Address, amount *big.Int) bool {
	return b.book.Approve(owner, spender, amount)
}
