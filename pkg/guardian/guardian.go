// Package guardian implements the safety gate: per-tier pause state, circuit
// breakers, slashing with appeals, and the critical-veto registry that gates
// governance and execution.
//
// Authority tiers: the chief (single emergency identity), the system owner,
// and guardians (may record failures, trip breakers, and slash, but hold no
// chief- or owner-level powers).
package guardian

import (
	"log/slog"
	"math/big"
	"sync"

	"github.com/kara-bolt/karadao/pkg/audit"
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// VetoSink is the governance-side veto entry point for best-effort
// propagation of critical vetoes.
type VetoSink interface {
	VetoProposal(caller contracts.Address, proposalID uint64) error
}

// tierSafety is the per-tier pause/breaker state.
type tierSafety struct {
	paused      bool  // explicit emergency pause
	pauseEnd    int64 // breaker cooldown deadline (unix seconds); 0 = none
	failures    int
	lastFailure int64
	breaker     BreakerConfig
}

// BreakerConfig configures one tier's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	WindowCycles     int   // sliding-window size, informational at this fidelity
	Cooldown         int64 // seconds
	AutoTrigger      bool
}

// DefaultBreakerConfig returns the genesis breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		WindowCycles:     10,
		Cooldown:         300,
		AutoTrigger:      true,
	}
}

// Gate is the safety state machine. Mutating operations reject re-entrant
// invocation the same way the governance engine does.
type Gate struct {
	mu sync.Mutex

	addr  contracts.Address // the gate's own caller identity
	owner contracts.Address
	chief contracts.Address
	clock contracts.Clock

	logger *slog.Logger
	bus    *events.Bus
	trail  *audit.Log

	guardians map[contracts.Address]bool

	globalPaused bool
	tiers        map[contracts.Tier]*tierSafety

	slashes      map[uint64]*SlashRecord
	nextSlashID  uint64
	totalSlashed *big.Int
	appealWindow int64 // seconds from slash timestamp

	vetoes map[uint64]*VetoRecord

	gov VetoSink // best-effort propagation target; see design notes

	// Events staged during the current operation, emitted by flush after
	// the mutex is released; bus subscribers may call back into the gate.
	staged []stagedEvent
}

type stagedEvent struct {
	typ    events.Type
	actor  string
	fields map[string]any
}

// Options configures optional Gate collaborators.
type Options struct {
	Logger       *slog.Logger
	Bus          *events.Bus
	Trail        *audit.Log
	AppealWindow int64 // seconds; 0 means the 3-day default
	Breakers     map[contracts.Tier]BreakerConfig
}

// defaultAppealWindow is 3 days in seconds.
const defaultAppealWindow = 3 * 24 * 60 * 60

// NewGate creates a safety gate. addr is the gate's own component identity,
// owner/chief the administrative and emergency identities.
func NewGate(addr, owner, chief contracts.Address, clock contracts.Clock, opts Options) *Gate {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appealWindow := opts.AppealWindow
	if appealWindow <= 0 {
		appealWindow = defaultAppealWindow
	}

	tiers := make(map[contracts.Tier]*tierSafety, contracts.TierCount)
	for t := contracts.Tier(0); t < contracts.TierCount; t++ {
		cfg := DefaultBreakerConfig()
		if opts.Breakers != nil {
			if c, ok := opts.Breakers[t]; ok {
				cfg = c
			}
		}
		tiers[t] = &tierSafety{breaker: cfg}
	}

	return &Gate{
		addr:         addr,
		owner:        owner,
		chief:        chief,
		clock:        clock,
		logger:       logger,
		bus:          opts.Bus,
		trail:        opts.Trail,
		guardians:    make(map[contracts.Address]bool),
		tiers:        tiers,
		slashes:      make(map[uint64]*SlashRecord),
		nextSlashID:  1,
		totalSlashed: new(big.Int),
		appealWindow: appealWindow,
		vetoes:       make(map[uint64]*VetoRecord),
	}
}

// Addr returns the gate's component identity.
func (g *Gate) Addr() contracts.Address { return g.addr }

// SetGovernance wires the veto propagation target.
func (g *Gate) SetGovernance(gov VetoSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gov = gov
}

// SetChief replaces the emergency identity. Owner-only.
func (g *Gate) SetChief(caller, chief contracts.Address) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()
	if caller != g.owner {
		return fault.Unauthorized("only owner may set the chief")
	}
	if chief == contracts.Zero {
		return fault.Invalid("empty chief address")
	}
	g.chief = chief
	return nil
}

// AddGuardian grants guardian authority. Owner-only.
func (g *Gate) AddGuardian(caller, guardian contracts.Address) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()
	if caller != g.owner {
		return fault.Unauthorized("only owner may add guardians")
	}
	if guardian == contracts.Zero {
		return fault.Invalid("empty guardian address")
	}
	g.guardians[guardian] = true
	return nil
}

// RemoveGuardian revokes guardian authority. Owner-only.
func (g *Gate) RemoveGuardian(caller, guardian contracts.Address) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()
	if caller != g.owner {
		return fault.Unauthorized("only owner may remove guardians")
	}
	delete(g.guardians, guardian)
	return nil
}

// isGuardianLevel reports whether caller holds guardian authority or above.
func (g *Gate) isGuardianLevel(caller contracts.Address) bool {
	return caller == g.owner || caller == g.chief || g.guardians[caller]
}

// --- Pause state ---

// EmergencyPause pauses one tier immediately. Chief or owner only.
func (g *Gate) EmergencyPause(caller contracts.Address, tier contracts.Tier) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if caller != g.chief && caller != g.owner {
		return fault.Unauthorized("only chief or owner may pause a tier")
	}
	ts, ok := g.tiers[tier]
	if !ok {
		return fault.Invalid("unknown tier %d", tier)
	}
	ts.paused = true

	g.publish(events.TypeTierPaused, string(caller), map[string]any{"tier": tier.String()})
	g.record(string(caller), "TIER_PAUSED", "tier/"+tier.String(), nil)
	g.logger.Warn("tier emergency paused", "tier", tier.String(), "by", string(caller))
	return nil
}

// EmergencyUnpause clears a tier's explicit pause. Chief or owner only; any
// other caller path (DAO-vote unpause) is not implemented at this fidelity.
func (g *Gate) EmergencyUnpause(caller contracts.Address, tier contracts.Tier) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if caller != g.chief && caller != g.owner {
		return fault.Unauthorized("only chief or owner may unpause a tier")
	}
	ts, ok := g.tiers[tier]
	if !ok {
		return fault.Invalid("unknown tier %d", tier)
	}
	ts.paused = false

	g.publish(events.TypeTierUnpaused, string(caller), map[string]any{"tier": tier.String()})
	g.record(string(caller), "TIER_UNPAUSED", "tier/"+tier.String(), nil)
	return nil
}

// GlobalPause blocks every tier regardless of individual state. Chief-only.
func (g *Gate) GlobalPause(caller contracts.Address) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if caller != g.chief {
		return fault.Unauthorized("only chief may pause globally")
	}
	g.globalPaused = true

	g.publish(events.TypeGlobalPaused, string(caller), nil)
	g.record(string(caller), "GLOBAL_PAUSED", "global", nil)
	g.logger.Error("global pause engaged", "by", string(caller))
	return nil
}

// GlobalUnpause lifts the global pause. Chief-only.
func (g *Gate) GlobalUnpause(caller contracts.Address) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if caller != g.chief {
		return fault.Unauthorized("only chief may unpause globally")
	}
	g.globalPaused = false

	g.publish(events.TypeGlobalUnpaused, string(caller), nil)
	g.record(string(caller), "GLOBAL_UNPAUSED", "global", nil)
	return nil
}

// IsPaused reports whether the tier is blocked: global pause, explicit tier
// pause, or an unexpired breaker cooldown.
func (g *Gate) IsPaused(tier contracts.Tier) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isPausedLocked(tier)
}

// GloballyPaused reports the system-wide pause flag alone, ignoring
// per-tier state.
func (g *Gate) GloballyPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.globalPaused
}

// CanExecute is the negation of IsPaused, kept as a separate named predicate
// for interface parity with the execution bridge's check.
func (g *Gate) CanExecute(tier contracts.Tier) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.isPausedLocked(tier)
}

func (g *Gate) isPausedLocked(tier contracts.Tier) bool {
	if g.globalPaused {
		return true
	}
	ts, ok := g.tiers[tier]
	if !ok {
		return true // unknown tiers are never executable
	}
	if ts.paused {
		return true
	}
	return g.clock.Now().Unix() <= ts.pauseEnd
}

// --- helpers ---

// publish stages an event under the held mutex; the paired deferred flush
// emits it after the operation commits and unlocks.
func (g *Gate) publish(typ events.Type, actor string, fields map[string]any) {
	if g.bus == nil {
		return
	}
	g.staged = append(g.staged, stagedEvent{typ: typ, actor: actor, fields: fields})
}

func (g *Gate) flush() {
	g.mu.Lock()
	staged := g.staged
	g.staged = nil
	g.mu.Unlock()
	for _, ev := range staged {
		g.bus.Publish(ev.typ, ev.actor, ev.fields)
	}
}

func (g *Gate) record(actor, action, target string, details any) {
	if g.trail == nil {
		return
	}
	if _, err := g.trail.Append(actor, action, target, details); err != nil {
		g.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
