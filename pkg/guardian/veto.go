package guardian

import (
	"fmt"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// VetoRecord is one entry in the gate's local veto registry, keyed by
// proposal id.
type VetoRecord struct {
	ProposalID uint64
	Reason     string
	Timestamp  int64
	VetoedBy   contracts.Address
}

// VetoCritical records a veto in the gate's local registry and then
// propagates it into the governance engine best-effort: the local record is
// authoritative here, and a propagation failure is logged and audited but
// never fails the veto (the two registries are intentionally independent).
// Chief-only.
func (g *Gate) VetoCritical(caller contracts.Address, proposalID uint64, reason string) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()

	if caller != g.chief {
		g.mu.Unlock()
		return fault.Unauthorized("only chief may veto critical proposals")
	}
	if proposalID == 0 {
		g.mu.Unlock()
		return fault.Invalid("proposal id 0 is the none sentinel")
	}
	if reason == "" {
		g.mu.Unlock()
		return fault.Invalid("empty veto reason")
	}
	if _, exists := g.vetoes[proposalID]; exists {
		g.mu.Unlock()
		return fault.Conflict("proposal %d already vetoed", proposalID)
	}

	g.vetoes[proposalID] = &VetoRecord{
		ProposalID: proposalID,
		Reason:     reason,
		Timestamp:  g.clock.Now().Unix(),
		VetoedBy:   caller,
	}

	g.publish(events.TypeProposalVetoed, string(caller), map[string]any{
		"proposal": proposalID,
		"reason":   reason,
	})
	g.record(string(caller), "CRITICAL_VETO", fmt.Sprintf("proposal/%d", proposalID), map[string]any{
		"reason": reason,
	})

	gov := g.gov
	// Release before the cross-component call: governance must not observe
	// the gate mid-operation, and the local registry is already committed.
	g.mu.Unlock()

	if gov != nil {
		if err := gov.VetoProposal(g.addr, proposalID); err != nil {
			g.logger.Warn("veto propagation to governance failed",
				"proposal", proposalID, "error", err)
			g.record(string(g.addr), "VETO_PROPAGATION_FAILED",
				fmt.Sprintf("proposal/%d", proposalID), map[string]any{"error": err.Error()})
		}
	}
	return nil
}

// IsVetoed reports whether the gate's local registry holds a veto for the
// proposal.
func (g *Gate) IsVetoed(proposalID uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.vetoes[proposalID]
	return ok
}

// GetVeto returns a copy of the local veto record.
func (g *Gate) GetVeto(proposalID uint64) (*VetoRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.vetoes[proposalID]
	if !ok {
		return nil, fault.NotFound("veto for proposal %d", proposalID)
	}
	cp := *rec
	return &cp, nil
}
