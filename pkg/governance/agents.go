package governance

import (
	"math/big"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// RegisterAgent registers the caller as a governance agent, pulling the
// fixed registration stake from the asset ledger into custody. While beta
// mode is on, the caller must be whitelisted and the active-agent cap not
// reached. Re-registration after deregistration resets agent state.
func (e *Engine) RegisterAgent(caller contracts.Address, metadata string) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if existing, ok := e.agents[caller]; ok && existing.Active {
		return fault.Conflict("%s is already an active agent", caller)
	}
	if metadata == "" {
		return fault.Invalid("empty agent metadata")
	}
	if e.metadata != nil {
		if err := e.metadata.Validate(metadata); err != nil {
			return fault.Wrap(fault.CodeInvalidInput, err, "agent metadata rejected")
		}
	}
	if e.params.BetaMode {
		if !e.whitelist[caller] {
			return fault.Unauthorized("%s is not whitelisted during beta", caller)
		}
		if e.activeAgents >= e.params.MaxBetaAgents {
			return fault.Limit("beta agent cap %d reached", e.params.MaxBetaAgents)
		}
	}

	stake := new(big.Int).Set(e.params.RegistrationStake)
	if !e.ledger.TransferFrom(caller, e.addr, stake) {
		return fault.Invalid("registration stake transfer of %s units refused by ledger", stake)
	}

	e.agents[caller] = &Agent{
		Address:      caller,
		RegisteredAt: e.clock.Now().Unix(),
		Stake:        stake,
		Reputation:   ReputationDefault,
		Metadata:     metadata,
		Active:       true,
	}
	e.activeAgents++

	e.publish(events.TypeAgentRegistered, string(caller), map[string]any{
		"stake": stake.String(),
	})
	e.record(string(caller), "AGENT_REGISTERED", "agent/"+string(caller), map[string]any{
		"stake": stake.String(),
	})
	return nil
}

// DeregisterAgent marks the caller inactive and returns the custodied
// registration stake. By accepted design there is no in-flight-proposal
// check unless the operator disables AllowDeregisterWithOpenProposals.
func (e *Engine) DeregisterAgent(caller contracts.Address) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	agent, ok := e.agents[caller]
	if !ok || !agent.Active {
		return fault.Conflict("%s is not an active agent", caller)
	}

	if !e.params.AllowDeregisterWithOpenProposals {
		now := e.clock.Now().Unix()
		for _, p := range e.proposals {
			if p.Proposer == caller && p.Open(now) {
				return fault.Conflict("agent %s has proposal %d still open", caller, p.ID)
			}
		}
	}

	if !e.ledger.Transfer(caller, agent.Stake) {
		return fault.Invalid("stake return of %s units refused by ledger", agent.Stake)
	}
	agent.Active = false
	e.activeAgents--

	e.publish(events.TypeAgentDeregistered, string(caller), nil)
	e.record(string(caller), "AGENT_DEREGISTERED", "agent/"+string(caller), nil)
	return nil
}

// AdjustReputation moves an agent's reputation by delta, clamped to
// [0, 100]. Callable only by the safety gate, the execution bridge, or the
// owner (authorized via AuthorizeReputationSource).
func (e *Engine) AdjustReputation(caller, agent contracts.Address, delta int) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner && !e.reputationSources[caller] {
		return fault.Unauthorized("%s may not mutate reputation", caller)
	}
	a, ok := e.agents[agent]
	if !ok {
		return fault.NotFound("agent %s", agent)
	}

	rep := a.Reputation + delta
	if rep < ReputationMin {
		rep = ReputationMin
	}
	if rep > ReputationMax {
		rep = ReputationMax
	}
	a.Reputation = rep
	return nil
}

// Reputation feedback applied on execution confirmation: +1 for success,
// −2 for failure, clamped to the reputation range.
const (
	reputationSuccessDelta = 1
	reputationFailureDelta = -2
)

// ReportExecutionOutcome applies confirm-time reputation feedback to the
// proposer of the executed proposal carrying contentHash. Callable only by
// authorized reputation sources (the execution bridge). A hash with no
// matching executed proposal is ignored: attribution is best-effort.
func (e *Engine) ReportExecutionOutcome(caller contracts.Address, contentHash contracts.Hash, success bool) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller != e.owner && !e.reputationSources[caller] {
		return fault.Unauthorized("%s may not report execution outcomes", caller)
	}

	// Latest executed proposal with this content hash wins attribution.
	var match *Proposal
	for _, p := range e.proposals {
		if p.Executed && p.ContentHash == contentHash {
			if match == nil || p.ID > match.ID {
				match = p
			}
		}
	}
	if match == nil {
		return nil
	}
	a, ok := e.agents[match.Proposer]
	if !ok {
		return nil
	}

	delta := reputationSuccessDelta
	if !success {
		delta = reputationFailureDelta
	}
	rep := a.Reputation + delta
	if rep < ReputationMin {
		rep = ReputationMin
	}
	if rep > ReputationMax {
		rep = ReputationMax
	}
	a.Reputation = rep
	return nil
}
