package guardian

import (
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// ConfigureBreaker replaces a tier's circuit-breaker configuration.
// Owner-only.
func (g *Gate) ConfigureBreaker(caller contracts.Address, tier contracts.Tier, cfg BreakerConfig) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if caller != g.owner {
		return fault.Unauthorized("only owner may configure breakers")
	}
	ts, ok := g.tiers[tier]
	if !ok {
		return fault.Invalid("unknown tier %d", tier)
	}
	if cfg.FailureThreshold <= 0 || cfg.Cooldown <= 0 {
		return fault.Invalid("breaker threshold and cooldown must be positive")
	}
	ts.breaker = cfg
	return nil
}

// RecordFailure increments a tier's failure counter and evaluates the
// auto-trigger: at or above the threshold with auto-trigger enabled, the
// tier enters cooldown and the counter resets. No manual action required —
// this is the automatic containment path. Guardian-level.
func (g *Gate) RecordFailure(caller contracts.Address, tier contracts.Tier) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if !g.isGuardianLevel(caller) {
		return fault.Unauthorized("only guardians, chief, or owner may record failures")
	}
	ts, ok := g.tiers[tier]
	if !ok {
		return fault.Invalid("unknown tier %d", tier)
	}

	now := g.clock.Now().Unix()
	ts.failures++
	ts.lastFailure = now

	if ts.breaker.AutoTrigger && ts.failures >= ts.breaker.FailureThreshold {
		ts.pauseEnd = now + ts.breaker.Cooldown
		ts.failures = 0

		g.publish(events.TypeBreakerTripped, string(caller), map[string]any{
			"tier":      tier.String(),
			"pause_end": ts.pauseEnd,
			"auto":      true,
		})
		g.record(string(caller), "BREAKER_TRIPPED", "tier/"+tier.String(), map[string]any{
			"pause_end": ts.pauseEnd,
		})
		g.logger.Warn("circuit breaker auto-tripped",
			"tier", tier.String(), "cooldown_until", ts.pauseEnd)
	}
	return nil
}

// TriggerCircuitBreaker trips a tier's breaker manually for the given
// duration in seconds. Guardian-level.
func (g *Gate) TriggerCircuitBreaker(caller contracts.Address, tier contracts.Tier, durationSecs int64) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if !g.isGuardianLevel(caller) {
		return fault.Unauthorized("only guardians, chief, or owner may trigger breakers")
	}
	if durationSecs <= 0 {
		return fault.Invalid("breaker duration must be positive")
	}
	ts, ok := g.tiers[tier]
	if !ok {
		return fault.Invalid("unknown tier %d", tier)
	}
	ts.pauseEnd = g.clock.Now().Unix() + durationSecs

	g.publish(events.TypeBreakerTripped, string(caller), map[string]any{
		"tier":      tier.String(),
		"pause_end": ts.pauseEnd,
		"auto":      false,
	})
	g.record(string(caller), "BREAKER_TRIPPED", "tier/"+tier.String(), map[string]any{
		"pause_end": ts.pauseEnd,
	})
	return nil
}

// FailureCount returns a tier's current failure counter.
func (g *Gate) FailureCount(tier contracts.Tier) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, ok := g.tiers[tier]; ok {
		return ts.failures
	}
	return 0
}
