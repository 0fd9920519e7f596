package governance

import (
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// CurrentCycle returns the cycle counter and its start timestamp as last
// committed. It does not lazily advance; use AdvanceCycle for that.
func (e *Engine) CurrentCycle() (cycle uint64, startedAt int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentCycle, e.cycleStart
}

// AdvanceCycle advances the cycle counter from elapsed time. It is invoked
// lazily on every proposal submission and may also be called explicitly by
// anyone; with no elapsed full cycle it is a no-op.
func (e *Engine) AdvanceCycle() (uint64, error) {
	if !e.mu.TryLock() {
		return 0, fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()
	e.advanceCycleLocked()
	return e.currentCycle, nil
}

// ForceNewCycle starts a new cycle immediately regardless of elapsed time.
// Owner-only; operational recovery.
func (e *Engine) ForceNewCycle(caller contracts.Address) (uint64, error) {
	if !e.mu.TryLock() {
		return 0, fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner {
		return 0, fault.Unauthorized("only owner may force a new cycle")
	}
	e.currentCycle++
	e.cycleStart = e.clock.Now().Unix()
	e.publish(events.TypeCycleAdvanced, string(caller), map[string]any{
		"cycle":  e.currentCycle,
		"forced": true,
	})
	e.record(string(caller), "CYCLE_FORCED", "cycle", map[string]any{"cycle": e.currentCycle})
	return e.currentCycle, nil
}

// advanceCycleLocked applies the deterministic step function: whole elapsed
// cycles advance the counter and move cycleStart forward by exactly
// steps*duration, so cycleStart always lands on a cycle boundary. Idempotent
// when no full cycle has elapsed.
func (e *Engine) advanceCycleLocked() {
	duration := int64(e.params.CycleDuration.Seconds())
	if duration <= 0 {
		return
	}
	now := e.clock.Now().Unix()
	elapsed := now - e.cycleStart
	steps := elapsed / duration
	if steps <= 0 {
		return
	}
	e.currentCycle += uint64(steps)
	e.cycleStart += steps * duration
	e.publish(events.TypeCycleAdvanced, string(e.addr), map[string]any{
		"cycle": e.currentCycle,
		"steps": steps,
	})
}
