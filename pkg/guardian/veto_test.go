package guardian

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// vetoRecorder captures propagated vetoes and can simulate refusal.
type vetoRecorder struct {
	callers []contracts.Address
	ids     []uint64
	err     error
}

func (r *vetoRecorder) VetoProposal(caller contracts.Address, proposalID uint64) error {
	if r.err != nil {
		return r.err
	}
	r.callers = append(r.callers, caller)
	r.ids = append(r.ids, proposalID)
	return nil
}

func TestVetoCritical(t *testing.T) {
	g, clock := newTestGate(t)
	gov := &vetoRecorder{}
	g.SetGovernance(gov)

	require.NoError(t, g.VetoCritical(chief, 7, "unsafe payload"))

	assert.True(t, g.IsVetoed(7))
	rec, err := g.GetVeto(7)
	require.NoError(t, err)
	assert.Equal(t, chief, rec.VetoedBy)
	assert.Equal(t, "unsafe payload", rec.Reason)
	assert.Equal(t, clock.at.Unix(), rec.Timestamp)

	// Propagation carries the gate's identity, not the chief's.
	assert.Equal(t, []contracts.Address{gateAddr}, gov.callers)
	assert.Equal(t, []uint64{7}, gov.ids)
}

func TestVetoCritical_Rejections(t *testing.T) {
	g, _ := newTestGate(t)

	err := g.VetoCritical(gateOwn, 7, "r")
	assert.Equal(t, fault.CodeUnauthorized, fault.CodeOf(err), "vetoes are chief-only")

	err = g.VetoCritical(chief, 0, "r")
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	err = g.VetoCritical(chief, 7, "")
	assert.Equal(t, fault.CodeInvalidInput, fault.CodeOf(err))

	require.NoError(t, g.VetoCritical(chief, 7, "r"))
	err = g.VetoCritical(chief, 7, "r")
	assert.Equal(t, fault.CodeStateConflict, fault.CodeOf(err), "one veto per proposal")
}

func TestVetoCritical_PropagationFailureIsLocal(t *testing.T) {
	g, _ := newTestGate(t)
	g.SetGovernance(&vetoRecorder{err: errors.New("engine sealed")})

	// The local registry is authoritative; a refused propagation does not
	// undo the veto.
	require.NoError(t, g.VetoCritical(chief, 7, "unsafe payload"))
	assert.True(t, g.IsVetoed(7))
}

func TestVetoCritical_NoGovernanceWired(t *testing.T) {
	g, _ := newTestGate(t)
	require.NoError(t, g.VetoCritical(chief, 7, "unsafe payload"))
	assert.True(t, g.IsVetoed(7))
}

func TestGetVeto_NotFound(t *testing.T) {
	g, _ := newTestGate(t)
	assert.False(t, g.IsVetoed(7))
	_, err := g.GetVeto(7)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}
