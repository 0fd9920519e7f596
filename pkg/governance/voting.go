package governance

import (
	"math/big"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

var (
	bigOne = big.NewInt(1)
	big100 = big.NewInt(100)
)

// Isqrt returns floor(sqrt(x)) via the Babylonian method. The exact iteration
// is consensus-critical: any deviation changes vote tallies. For x=0 the
// result is 0; otherwise iterate z=(x/z+z)/2 from z=(x+1)/2, y=x while z<y.
func Isqrt(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return new(big.Int)
	}
	z := new(big.Int).Add(x, bigOne)
	z.Rsh(z, 1) // (x+1)/2
	y := new(big.Int).Set(x)
	t := new(big.Int)
	for z.Cmp(y) < 0 {
		y.Set(z)
		// z = (x/z + z) / 2
		t.Div(x, z)
		t.Add(t, z)
		t.Rsh(t, 1)
		z, t = t, z
	}
	return y
}

// GetVotingPower computes the voter's quadratic voting power from the cached
// staker snapshot and the delegated agent's current reputation. Pure read;
// computed fresh on every vote, never cached.
func (e *Engine) GetVotingPower(voter contracts.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.votingPowerLocked(voter)
}

func (e *Engine) votingPowerLocked(voter contracts.Address) *big.Int {
	s, ok := e.stakers[voter]
	if !ok {
		return new(big.Int)
	}
	if s.Amount.Cmp(e.params.MinVotingStake) < 0 {
		return new(big.Int)
	}

	power := Isqrt(s.Amount)

	multiplier := s.Multiplier
	if multiplier == 0 {
		multiplier = MultiplierNone
	}
	power.Mul(power, big.NewInt(int64(multiplier)))
	power.Div(power, big100)

	if s.DelegatedTo != contracts.Zero {
		if agent, ok := e.agents[s.DelegatedTo]; ok && agent.Active && agent.Reputation >= DelegateBonusFloor {
			power.Mul(power, big.NewInt(DelegateBonusNum))
			power.Div(power, big.NewInt(DelegateBonusDen))
		}
	}
	return power
}

// CastVote records the caller's vote on an open proposal. Exactly one vote
// per (proposal, voter) pair; weight is the voter's power at vote time.
func (e *Engine) CastVote(caller contracts.Address, proposalID uint64, support bool) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return fault.NotFound("proposal %d", proposalID)
	}
	now := e.clock.Now().Unix()
	if p.Executed || p.Vetoed {
		return fault.Conflict("proposal %d already finalized", proposalID)
	}
	if now >= p.End {
		return fault.Conflict("voting closed for proposal %d", proposalID)
	}
	if e.voted[proposalID][caller] {
		return fault.Conflict("%s already voted on proposal %d", caller, proposalID)
	}

	// Zero power maps to THRESHOLD_NOT_MET, the same code as a failed
	// tally: the vote is well-formed but carries no weight. The detail
	// string names the voter so clients can distinguish the two.
	power := e.votingPowerLocked(caller)
	if power.Sign() == 0 {
		return fault.New(fault.CodeThresholdNotMet, "%s has no voting power", caller)
	}

	voters, ok := e.voted[proposalID]
	if !ok {
		voters = make(map[contracts.Address]bool)
		e.voted[proposalID] = voters
	}
	voters[caller] = true

	if support {
		p.ForVotes.Add(p.ForVotes, power)
	} else {
		p.AgainstVotes.Add(p.AgainstVotes, power)
	}

	e.publish(events.TypeVoteCast, string(caller), map[string]any{
		"proposal": proposalID,
		"support":  support,
		"weight":   power.String(),
	})
	e.record(string(caller), "VOTE_CAST", proposalTarget(proposalID), map[string]any{
		"support": support,
		"weight":  power.String(),
	})
	return nil
}

// Delegate sets or clears (target == contracts.Zero) the caller's delegation
// target. The target must be an active agent. Affects only future power
// reads; already-cast votes keep their recorded weight.
func (e *Engine) Delegate(caller, target contracts.Address) error {
	if !e.mu.TryLock() {
		return fault.Reentrant("governance")
	}
	defer e.flush()
	defer e.mu.Unlock()

	s, ok := e.stakers[caller]
	if !ok {
		return fault.NotFound("staker %s", caller)
	}
	if target != contracts.Zero {
		agent, ok := e.agents[target]
		if !ok || !agent.Active {
			return fault.Invalid("delegation target %s is not an active agent", target)
		}
	}
	s.DelegatedTo = target

	e.publish(events.TypeDelegationChanged, string(caller), map[string]any{
		"target": string(target),
	})
	return nil
}
