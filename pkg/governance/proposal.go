package governance

import (
	"fmt"
	"math/big"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

func proposalTarget(id uint64) string { return fmt.Sprintf("proposal/%d", id) }

// SubmitProposal creates a proposal in the current cycle. The caller must be
// an active registered agent with cached voting stake at or above the tier
// minimum; the tier must be active and unblocked by the safety gate; the
// content hash must be non-zero. Lazily advances the cycle first.
func (e *Engine) SubmitProposal(caller contracts.Address, contentHash contracts.Hash, tier contracts.Tier) (uint64, error) {
	if !e.mu.TryLock() {
		return 0, fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	agent, ok := e.agents[caller]
	if !ok || !agent.Active {
		return 0, fault.Unauthorized("%s is not an active agent", caller)
	}
	if contentHash.IsZero() {
		return 0, fault.Invalid("empty content hash")
	}
	cfg, ok := e.tiers[tier]
	if !ok {
		return 0, fault.Invalid("unknown tier %d", tier)
	}
	if !cfg.Active {
		return 0, fault.Blocked("tier %s inactive", tier)
	}
	if e.gate != nil && e.gate.IsPaused(tier) {
		return 0, fault.Blocked("tier %s paused", tier)
	}

	staked := new(big.Int)
	if s, ok := e.stakers[caller]; ok {
		staked = s.Amount
	}
	// Insufficient stake maps to STATE_CONFLICT: the account is valid but
	// its staked balance is in the wrong state for this tier. The detail
	// string carries the amounts so clients can tell it apart from other
	// conflicts.
	if staked.Cmp(cfg.MinStake) < 0 {
		return 0, fault.Conflict("insufficient stake: %s < tier %s minimum %s", staked, tier, cfg.MinStake)
	}

	// Cycle membership is decided against the freshly advanced counter and
	// never changes retroactively; admission rules see the same cycle the
	// proposal will carry.
	e.advanceCycleLocked()

	if e.admission != nil {
		if err := e.admission.Admit(caller, tier, e.currentCycle, agent.Reputation); err != nil {
			return 0, fault.Wrap(fault.CodeBlocked, err, "admission policy rejected proposal")
		}
	}

	now := e.clock.Now().Unix()
	id := e.nextProposalID
	e.nextProposalID++

	e.proposals[id] = &Proposal{
		ID:           id,
		ContentHash:  contentHash,
		Tier:         tier,
		Proposer:     caller,
		Start:        now,
		End:          now + int64(cfg.VotingPeriod.Seconds()),
		Cycle:        e.currentCycle,
		ForVotes:     new(big.Int),
		AgainstVotes: new(big.Int),
	}
	e.voted[id] = make(map[contracts.Address]bool)

	e.publish(events.TypeProposalSubmitted, string(caller), map[string]any{
		"proposal": id,
		"tier":     tier.String(),
		"cycle":    e.currentCycle,
		"hash":     contentHash.String(),
	})
	e.record(string(caller), "PROPOSAL_SUBMITTED", proposalTarget(id), map[string]any{
		"tier":  tier.String(),
		"cycle": e.currentCycle,
		"hash":  contentHash.String(),
	})

	e.logger.Info("proposal submitted",
		"proposal", id, "tier", tier.String(), "cycle", e.currentCycle, "proposer", string(caller))
	return id, nil
}

// ExecuteWinningProposal finalizes a proposal whose voting window has closed
// and forwards it to the execution bridge. Callable by anyone. The forward is
// synchronous: if the bridge refuses to enqueue, nothing is marked executed
// and the whole operation fails.
func (e *Engine) ExecuteWinningProposal(caller contracts.Address, proposalID uint64) (uint64, error) {
	if !e.mu.TryLock() {
		return 0, fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return 0, fault.NotFound("proposal %d", proposalID)
	}
	now := e.clock.Now().Unix()
	if now < p.End {
		return 0, fault.Conflict("voting still open for proposal %d", proposalID)
	}
	if p.Executed || p.Vetoed {
		return 0, fault.Conflict("proposal %d already finalized", proposalID)
	}
	if e.gate != nil && !e.gate.CanExecute(p.Tier) {
		return 0, fault.Blocked("tier %s blocked by safety gate", p.Tier)
	}

	total := new(big.Int).Add(p.ForVotes, p.AgainstVotes)
	if total.Sign() == 0 {
		return 0, fault.New(fault.CodeThresholdNotMet, "proposal %d received no votes", proposalID)
	}

	cfg := e.tiers[p.Tier]
	// forPct = forVotes×10000/totalVotes, truncating. Both checks are
	// independent and both must hold.
	forPct := new(big.Int).Mul(p.ForVotes, big.NewInt(contracts.BasisPoints))
	forPct.Div(forPct, total)
	if forPct.Cmp(big.NewInt(cfg.Threshold)) < 0 {
		return 0, fault.New(fault.CodeThresholdNotMet,
			"proposal %d at %s bps below tier %s threshold %d", proposalID, forPct, p.Tier, cfg.Threshold)
	}
	if p.ForVotes.Cmp(p.AgainstVotes) <= 0 {
		return 0, fault.New(fault.CodeThresholdNotMet,
			"proposal %d for-votes do not exceed against-votes", proposalID)
	}

	if e.sink == nil {
		return 0, fault.Conflict("execution bridge not wired")
	}
	execID, err := e.sink.ReceiveExecution(e.addr, p.ContentHash, p.Tier)
	if err != nil {
		return 0, fmt.Errorf("forward proposal %d to execution bridge: %w", proposalID, err)
	}
	p.Executed = true

	e.publish(events.TypeProposalExecuted, string(caller), map[string]any{
		"proposal":  proposalID,
		"execution": execID,
		"tier":      p.Tier.String(),
	})
	e.record(string(caller), "PROPOSAL_EXECUTED", proposalTarget(proposalID), map[string]any{
		"execution": execID,
	})

	e.logger.Info("proposal executed",
		"proposal", proposalID, "execution", execID, "tier", p.Tier.String())
	return execID, nil
}

// VetoProposal marks a proposal vetoed, blocking voting and execution
// immediately and irreversibly. Callable by the safety gate or the owner.
func (e *Engine) VetoProposal(caller contracts.Address, proposalID uint64) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	if caller == contracts.Zero || (caller != e.owner && caller != e.gateAddr) {
		return fault.Unauthorized("only the safety gate or owner may veto")
	}
	p, ok := e.proposals[proposalID]
	if !ok {
		return fault.NotFound("proposal %d", proposalID)
	}
	if p.Executed || p.Vetoed {
		return fault.Conflict("proposal %d already finalized", proposalID)
	}
	p.Vetoed = true

	e.publish(events.TypeProposalVetoed, string(caller), map[string]any{
		"proposal": proposalID,
	})
	e.record(string(caller), "PROPOSAL_VETOED", proposalTarget(proposalID), nil)
	return nil
}
