package governance

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kara-bolt/karadao/pkg/audit"
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
	"github.com/kara-bolt/karadao/pkg/token"
)

type fixedClock struct{ at time.Time }

func (c *fixedClock) Now() time.Time { return c.at }

const (
	engineAddr   = contracts.Address("engine")
	registryAddr = contracts.Address("registry")
)

// harness bundles the engine's collaborators for tests.
type harness struct {
	e     *Engine
	owner contracts.Address
	clock *fixedClock
	book  *token.MemoryLedger
	bus   *events.Bus
	trail *audit.Log

	events   []events.Event
	nextHash byte
}

func newTestEngine(t *testing.T) (*Engine, *harness) {
	t.Helper()
	h := &harness{
		owner: "owner",
		clock: &fixedClock{at: time.Unix(1_700_000_000, 0)},
		book:  token.NewMemoryLedger(),
	}
	h.bus = events.NewBus(h.clock)
	h.bus.Subscribe(func(ev events.Event) { h.events = append(h.events, ev) })
	h.trail = audit.NewLog(h.clock)

	e := NewEngine(engineAddr, h.owner, h.book.Bind(engineAddr), h.clock, Options{
		Bus:   h.bus,
		Trail: h.trail,
	})
	e.SetStakeRegistry(registryAddr)
	h.e = e
	return e, h
}

// fund credits addr with the registration stake and approves the engine.
func (h *harness) fund(t *testing.T, addr contracts.Address) {
	t.Helper()
	h.book.Mint(addr, contracts.Units(50_000))
	h.book.Approve(addr, engineAddr, contracts.Units(50_000))
}

// registerAgent funds and registers addr as an active agent.
func (h *harness) registerAgent(t *testing.T, addr contracts.Address) {
	t.Helper()
	h.fund(t, addr)
	require.NoError(t, h.e.RegisterAgent(addr, `{"name":"`+string(addr)+`"}`))
}

// pushStake installs a staker snapshot via the owner override path.
func (h *harness) pushStake(t *testing.T, addr contracts.Address, amount *big.Int, lockEnd int64, multiplier int) {
	t.Helper()
	require.NoError(t, h.e.UpdateStakerInfo(h.owner, addr, amount, lockEnd, multiplier))
}

// submit creates a proposal in tier with a fresh content hash.
func (h *harness) submit(t *testing.T, proposer contracts.Address, tier contracts.Tier) uint64 {
	t.Helper()
	h.nextHash++
	id, err := h.e.SubmitProposal(proposer, contracts.Hash{0xca, h.nextHash}, tier)
	require.NoError(t, err)
	return id
}

func TestUpdateTierConfig(t *testing.T) {
	e, h := newTestEngine(t)

	cfg := TierConfig{
		VotingPeriod: time.Minute,
		Threshold:    7000,
		MinStake:     contracts.Units(500),
		Active:       true,
	}
	require.NoError(t, e.UpdateTierConfig(h.owner, contracts.TierAction, cfg))

	got, err := e.TierConfigFor(contracts.TierAction)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.Threshold)
	assert.True(t, got.Active)
}

func TestUpdateTierConfig_Rejections(t *testing.T) {
	e, h := newTestEngine(t)
	valid := TierConfig{VotingPeriod: time.Minute, Threshold: 6000, MinStake: contracts.Units(1)}

	err := e.UpdateTierConfig("intruder", contracts.TierInfo, valid)
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	err = e.UpdateTierConfig(h.owner, contracts.Tier(9), valid)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	bad := valid
	bad.Threshold = contracts.BasisPoints + 1
	err = e.UpdateTierConfig(h.owner, contracts.TierInfo, bad)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	bad = valid
	bad.VotingPeriod = 0
	err = e.UpdateTierConfig(h.owner, contracts.TierInfo, bad)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	bad = valid
	bad.MinStake = nil
	err = e.UpdateTierConfig(h.owner, contracts.TierInfo, bad)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))
}

func TestSetTierActive(t *testing.T) {
	e, h := newTestEngine(t)

	err := e.SetTierActive("intruder", contracts.TierAction, true)
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	require.NoError(t, e.SetTierActive(h.owner, contracts.TierAction, true))
	cfg, err := e.TierConfigFor(contracts.TierAction)
	require.NoError(t, err)
	assert.True(t, cfg.Active)
}

func TestUpdateStakerInfo(t *testing.T) {
	e, h := newTestEngine(t)

	// Both the wired registry and the owner may push.
	require.NoError(t, e.UpdateStakerInfo(registryAddr, "alice", contracts.Units(100), 0, MultiplierYear1))
	require.NoError(t, e.UpdateStakerInfo(h.owner, "alice", contracts.Units(200), 0, 0))

	s, err := e.GetStaker("alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.Units(200), s.Amount, "last write wins")

	err = e.UpdateStakerInfo("intruder", "alice", contracts.Units(1), 0, 0)
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	err = e.UpdateStakerInfo(h.owner, contracts.Zero, contracts.Units(1), 0, 0)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	err = e.UpdateStakerInfo(h.owner, "alice", big.NewInt(-1), 0, 0)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	err = e.UpdateStakerInfo(h.owner, "alice", contracts.Units(1), 0, 137)
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))
}

func TestAuthorizeReputationSource(t *testing.T) {
	e, h := newTestEngine(t)
	h.registerAgent(t, "agent")

	err := e.AuthorizeReputationSource("intruder", "gate")
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	err = e.AdjustReputation("gate", "agent", 10)
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	require.NoError(t, e.AuthorizeReputationSource(h.owner, "gate"))
	require.NoError(t, e.AdjustReputation("gate", "agent", 10))

	a, err := e.GetAgent("agent")
	require.NoError(t, err)
	assert.Equal(t, 60, a.Reputation)
}

func TestVetoProposal_Authority(t *testing.T) {
	e, h := newTestEngine(t)
	h.registerAgent(t, "proposer")
	h.pushStake(t, "proposer", contracts.Units(100), 0, 0)
	id := h.submit(t, "proposer", contracts.TierInfo)

	err := e.VetoProposal("stranger", id)
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	err = e.VetoProposal(contracts.Zero, id)
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err))

	e.SetSafetyGate("gate", nil)
	require.NoError(t, e.VetoProposal("gate", id))

	p, errGet := e.GetProposal(id)
	require.NoError(t, errGet)
	assert.True(t, p.Vetoed)

	err = e.VetoProposal(h.owner, id)
	assert.Equal(t, fault.CodeStateConflict, fault.CodeOf(err), "veto is final")
}

func TestQueries_CopySemantics(t *testing.T) {
	e, h := newTestEngine(t)
	h.pushStake(t, "alice", contracts.Units(100), 0, 0)

	s, err := e.GetStaker("alice")
	require.NoError(t, err)
	s.Amount.SetInt64(0)

	again, err := e.GetStaker("alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.Units(100), again.Amount, "query results are copies")

	_, err = e.GetProposal(404)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
	_, err = e.GetAgent("nobody")
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
	_, err = e.TierConfigFor(contracts.Tier(9))
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestEngine_EmitsAuditTrail(t *testing.T) {
	_, h := newTestEngine(t)
	h.registerAgent(t, "proposer")
	h.pushStake(t, "proposer", contracts.Units(100), 0, 0)
	h.submit(t, "proposer", contracts.TierInfo)

	require.NoError(t, h.trail.Verify())
	assert.GreaterOrEqual(t, h.trail.Len(), 2)
	assert.NotEmpty(t, h.events)
}
