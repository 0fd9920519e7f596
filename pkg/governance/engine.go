// Package governance implements the proposal/voting/cycle state machine:
// agent registration, quadratic voting power, 30-second governance cycles,
// tier-gated proposal submission, and forwarding of winning proposals to the
// execution bridge.
package governance

import (
	"log/slog"
	"math/big"
	"sync"

	"github.com/kara-bolt/karadao/pkg/audit"
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
	"github.com/kara-bolt/karadao/pkg/token"
)

// SafetyGate is the read-side of the safety layer consulted before any
// tier-gated operation.
type SafetyGate interface {
	IsPaused(tier contracts.Tier) bool
	CanExecute(tier contracts.Tier) bool
}

// ExecutionSink receives winning proposals. Implemented by the execution
// bridge; caller identity is the engine's own component address.
type ExecutionSink interface {
	ReceiveExecution(caller contracts.Address, contentHash contracts.Hash, tier contracts.Tier) (uint64, error)
}

// AdmissionPolicy optionally screens proposal submissions (CEL rules).
type AdmissionPolicy interface {
	// Admit returns a non-nil error to reject the submission.
	Admit(proposer contracts.Address, tier contracts.Tier, cycle uint64, reputation int) error
}

// MetadataValidator optionally validates agent registration metadata.
type MetadataValidator interface {
	Validate(metadata string) error
}

// Engine is the governance state machine. All mutating operations reject
// re-entrant invocation: the execution environment serializes transactions,
// so an already-held lock means a callee looped back mid-operation.
type Engine struct {
	mu sync.Mutex

	addr  contracts.Address // the engine's own caller identity
	owner contracts.Address
	clock contracts.Clock

	ledger token.Ledger
	logger *slog.Logger
	bus    *events.Bus
	trail  *audit.Log

	// Late-bound collaborators (wire-up step, administrative).
	gate      SafetyGate
	gateAddr  contracts.Address // safety gate caller identity (veto authority)
	sink      ExecutionSink
	registry  contracts.Address // stake registry push identity
	admission AdmissionPolicy
	metadata  MetadataValidator

	// Addresses authorized to mutate reputation besides the owner
	// (the safety gate and the execution bridge).
	reputationSources map[contracts.Address]bool

	params Params
	tiers  map[contracts.Tier]*TierConfig

	proposals      map[uint64]*Proposal
	nextProposalID uint64
	voted          map[uint64]map[contracts.Address]bool

	agents       map[contracts.Address]*Agent
	activeAgents int
	whitelist    map[contracts.Address]bool

	stakers map[contracts.Address]*Staker

	currentCycle uint64
	cycleStart   int64

	// Events staged during the current operation, emitted by flush after
	// the mutex is released. The bus is synchronous and subscribers may
	// call back into the engine, so emitting under the lock would deadlock.
	staged []stagedEvent
}

type stagedEvent struct {
	typ    events.Type
	actor  string
	fields map[string]any
}

// Options configures optional Engine collaborators.
type Options struct {
	Logger *slog.Logger
	Bus    *events.Bus
	Trail  *audit.Log
	Params *Params
	Tiers  map[contracts.Tier]*TierConfig
}

// NewEngine creates a governance engine with genesis defaults. addr is the
// engine's own component identity (used on outbound calls), owner the
// administrative identity. Collaborators that reference the engine back
// (safety gate, execution bridge, stake registry) are wired afterwards.
func NewEngine(addr, owner contracts.Address, ledger token.Ledger, clock contracts.Clock, opts Options) *Engine {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params := DefaultParams()
	if opts.Params != nil {
		params = *opts.Params
	}
	tiers := opts.Tiers
	if tiers == nil {
		tiers = DefaultTierConfigs()
	}

	return &Engine{
		addr:              addr,
		owner:             owner,
		clock:             clock,
		ledger:            ledger,
		logger:            logger,
		bus:               opts.Bus,
		trail:             opts.Trail,
		reputationSources: make(map[contracts.Address]bool),
		params:            params,
		tiers:             tiers,
		proposals:         make(map[uint64]*Proposal),
		nextProposalID:    1,
		voted:             make(map[uint64]map[contracts.Address]bool),
		agents:            make(map[contracts.Address]*Agent),
		whitelist:         make(map[contracts.Address]bool),
		stakers:           make(map[contracts.Address]*Staker),
		currentCycle:      1,
		cycleStart:        clock.Now().Unix(),
	}
}

// Addr returns the engine's component identity.
func (e *Engine) Addr() contracts.Address { return e.addr }

// --- Wire-up (administrative; see design note on circular references) ---

// SetSafetyGate wires the safety gate consulted for tier gating. addr is the
// gate's caller identity, which also carries veto authority.
func (e *Engine) SetSafetyGate(addr contracts.Address, g SafetyGate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = g
	e.gateAddr = addr
}

// SetExecutionSink wires the execution bridge.
func (e *Engine) SetExecutionSink(s ExecutionSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

// SetStakeRegistry sets the identity allowed to push staker snapshots.
func (e *Engine) SetStakeRegistry(addr contracts.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry = addr
}

// SetAdmissionPolicy wires the optional proposal admission policy.
func (e *Engine) SetAdmissionPolicy(p AdmissionPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admission = p
}

// SetMetadataValidator wires the optional agent-metadata validator.
func (e *Engine) SetMetadataValidator(v MetadataValidator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metadata = v
}

// AuthorizeReputationSource allows addr to adjust agent reputation.
// Owner-only.
func (e *Engine) AuthorizeReputationSource(caller, addr contracts.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return fault.Unauthorized("only owner may authorize reputation sources")
	}
	e.reputationSources[addr] = true
	return nil
}

// --- Administration ---

// UpdateTierConfig replaces a tier's configuration. Owner-only. Proposals
// already open keep their creation-time end timestamps.
func (e *Engine) UpdateTierConfig(caller contracts.Address, tier contracts.Tier, cfg TierConfig) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fault.Unauthorized("only owner may update tier config")
	}
	if !tier.Valid() {
		return fault.Invalid("unknown tier %d", tier)
	}
	if cfg.Threshold < 0 || cfg.Threshold > contracts.BasisPoints {
		return fault.Invalid("threshold %d out of range [0,%d]", cfg.Threshold, contracts.BasisPoints)
	}
	if cfg.VotingPeriod <= 0 {
		return fault.Invalid("voting period must be positive")
	}
	if cfg.MinStake == nil || cfg.MinStake.Sign() < 0 {
		return fault.Invalid("min stake must be non-negative")
	}

	e.tiers[tier] = &cfg
	e.publish(events.TypeTierConfigUpdated, string(caller), map[string]any{
		"tier":      tier.String(),
		"threshold": cfg.Threshold,
		"active":    cfg.Active,
	})
	e.record(string(caller), "TIER_CONFIG_UPDATED", "tier/"+tier.String(), map[string]any{
		"threshold": cfg.Threshold,
		"active":    cfg.Active,
	})
	return nil
}

// SetTierActive flips a tier's active flag. Owner-only.
func (e *Engine) SetTierActive(caller contracts.Address, tier contracts.Tier, active bool) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fault.Unauthorized("only owner may activate tiers")
	}
	cfg, ok := e.tiers[tier]
	if !ok {
		return fault.Invalid("unknown tier %d", tier)
	}
	cfg.Active = active
	e.publish(events.TypeTierConfigUpdated, string(caller), map[string]any{
		"tier":   tier.String(),
		"active": active,
	})
	return nil
}

// SetBetaMode toggles whitelist/cap enforcement on registration. Owner-only.
func (e *Engine) SetBetaMode(caller contracts.Address, on bool, maxAgents int) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fault.Unauthorized("only owner may toggle beta mode")
	}
	if maxAgents <= 0 {
		return fault.Invalid("beta agent cap must be positive")
	}
	e.params.BetaMode = on
	e.params.MaxBetaAgents = maxAgents
	return nil
}

// SetWhitelisted adds or removes an identity from the beta whitelist.
// Owner-only.
func (e *Engine) SetWhitelisted(caller, addr contracts.Address, allowed bool) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fault.Unauthorized("only owner may edit the whitelist")
	}
	if allowed {
		e.whitelist[addr] = true
	} else {
		delete(e.whitelist, addr)
	}
	return nil
}

// UpdateStakerInfo overwrites the cached staker snapshot, last-write-wins.
// Callable only by the stake registry or the owner.
func (e *Engine) UpdateStakerInfo(caller, staker contracts.Address, amount *big.Int, lockEnd int64, multiplier int) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.registry && caller != e.owner {
		return fault.Unauthorized("only the stake registry or owner may push staker info")
	}
	if staker == contracts.Zero {
		return fault.Invalid("empty staker address")
	}
	if amount == nil || amount.Sign() < 0 {
		return fault.Invalid("stake amount must be non-negative")
	}
	if !ValidMultiplier(multiplier) {
		return fault.Invalid("multiplier %d is not a recognized tier", multiplier)
	}

	prev := e.stakers[staker]
	next := &Staker{
		Address:    staker,
		Amount:     new(big.Int).Set(amount),
		LockEnd:    lockEnd,
		Multiplier: multiplier,
	}
	if prev != nil {
		next.DelegatedTo = prev.DelegatedTo
	}
	e.stakers[staker] = next

	e.publish(events.TypeStakerUpdated, string(caller), map[string]any{
		"staker":     string(staker),
		"amount":     amount.String(),
		"multiplier": multiplier,
	})
	return nil
}

// --- Queries ---

// GetProposal returns a copy of the proposal record.
func (e *Engine) GetProposal(id uint64) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[id]
	if !ok {
		return nil, fault.NotFound("proposal %d", id)
	}
	cp := *p
	cp.ForVotes = new(big.Int).Set(p.ForVotes)
	cp.AgainstVotes = new(big.Int).Set(p.AgainstVotes)
	return &cp, nil
}

// GetAgent returns a copy of the agent record.
func (e *Engine) GetAgent(addr contracts.Address) (*Agent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[addr]
	if !ok {
		return nil, fault.NotFound("agent %s", addr)
	}
	cp := *a
	cp.Stake = new(big.Int).Set(a.Stake)
	return &cp, nil
}

// GetStaker returns a copy of the cached staker snapshot.
func (e *Engine) GetStaker(addr contracts.Address) (*Staker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stakers[addr]
	if !ok {
		return nil, fault.NotFound("staker %s", addr)
	}
	cp := *s
	cp.Amount = new(big.Int).Set(s.Amount)
	return &cp, nil
}

// TierConfigFor returns a copy of the tier's current configuration.
func (e *Engine) TierConfigFor(tier contracts.Tier) (*TierConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.tiers[tier]
	if !ok {
		return nil, fault.NotFound("tier %d", tier)
	}
	cp := *cfg
	cp.MinStake = new(big.Int).Set(cfg.MinStake)
	return &cp, nil
}

// HasVoted reports whether voter already voted on proposal id.
func (e *Engine) HasVoted(id uint64, voter contracts.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voted[id][voter]
}

// ActiveAgentCount returns the number of active agents.
func (e *Engine) ActiveAgentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeAgents
}

// --- internal helpers ---

// publish stages an event under the held mutex. Mutating operations pair it
// with a deferred flush so emission happens strictly after commit.
func (e *Engine) publish(typ events.Type, actor string, fields map[string]any) {
	if e.bus == nil {
		return
	}
	e.staged = append(e.staged, stagedEvent{typ: typ, actor: actor, fields: fields})
}

// flush emits staged events outside the operation's critical section. Deferred
// before the mutex unlock so it runs after it.
func (e *Engine) flush() {
	e.mu.Lock()
	staged := e.staged
	e.staged = nil
	e.mu.Unlock()
	for _, ev := range staged {
		e.bus.Publish(ev.typ, ev.actor, ev.fields)
	}
}

func (e *Engine) record(actor, action, target string, details any) {
	if e.trail == nil {
		return
	}
	if _, err := e.trail.Append(actor, action, target, details); err != nil {
		e.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
