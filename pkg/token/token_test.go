package token_test

import (
	"math/big"
	"testing"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/token"
	"github.com/stretchr/testify/assert"
)

const custody = contracts.Address("governance")

func TestTransferFrom_RequiresAllowance(t *testing.T) {
	book := token.NewMemoryLedger()
	book.Mint("alice", contracts.Units(1000))
	gov := book.Bind(custody)

	// No approval yet.
	assert.False(t, gov.TransferFrom("alice", custody, contracts.Units(100)))

	assert.True(t, book.Approve("alice", custody, contracts.Units(500)))
	assert.True(t, gov.TransferFrom("alice", custody, contracts.Units(100)))
	assert.Equal(t, contracts.Units(900), gov.BalanceOf("alice"))
	assert.Equal(t, contracts.Units(100), gov.BalanceOf(custody))

	// Allowance is consumed.
	assert.False(t, gov.TransferFrom("alice", custody, contracts.Units(450)))
	assert.True(t, gov.TransferFrom("alice", custody, contracts.Units(400)))
}

func TestTransferFrom_SpenderIdentityMatters(t *testing.T) {
	book := token.NewMemoryLedger()
	book.Mint("alice", contracts.Units(100))
	book.Approve("alice", "treasury", contracts.Units(100))

	// governance was never approved; treasury was.
	assert.False(t, book.Bind(custody).TransferFrom("alice", custody, contracts.Units(10)))
	assert.True(t, book.Bind("treasury").TransferFrom("alice", "treasury", contracts.Units(10)))
}

func TestTransfer_FromOwnBalance(t *testing.T) {
	book := token.NewMemoryLedger()
	book.Mint(custody, contracts.Units(50))
	gov := book.Bind(custody)

	assert.True(t, gov.Transfer("bob", contracts.Units(20)))
	assert.Equal(t, contracts.Units(30), gov.BalanceOf(custody))
	assert.Equal(t, contracts.Units(20), gov.BalanceOf("bob"))

	// Insufficient balance fails without mutation.
	assert.False(t, gov.Transfer("bob", contracts.Units(31)))
	assert.Equal(t, contracts.Units(30), gov.BalanceOf(custody))
}

func TestTransfer_RejectsBadArgs(t *testing.T) {
	book := token.NewMemoryLedger()
	book.Mint(custody, contracts.Units(10))
	gov := book.Bind(custody)

	assert.False(t, gov.Transfer(contracts.Zero, contracts.Units(1)))
	assert.False(t, gov.Transfer("bob", nil))
	assert.False(t, gov.Transfer("bob", big.NewInt(-1)))
}

func TestBalanceOf_ReturnsCopy(t *testing.T) {
	book := token.NewMemoryLedger()
	book.Mint("alice", contracts.Units(5))

	bal := book.BalanceOf("alice")
	bal.SetInt64(0)
	assert.Equal(t, contracts.Units(5), book.BalanceOf("alice"))
}
