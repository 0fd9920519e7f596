package audit_test

import (
	"testing"
	"time"

	"github.com/kara-bolt/karadao/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestLog_ChainLinks(t *testing.T) {
	log := audit.NewLog(fixedClock{at: time.Unix(1_700_000_000, 0)})

	first, err := log.Append("governance", "PROPOSAL_SUBMITTED", "proposal/1", map[string]any{"tier": "INFO"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Empty(t, first.PreviousHash)
	assert.NotEmpty(t, first.Hash)

	second, err := log.Append("governance", "VOTE_CAST", "proposal/1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PreviousHash)

	require.NoError(t, log.Verify())
	assert.Equal(t, 2, log.Len())
}

func TestLog_DeterministicDetails(t *testing.T) {
	clock := fixedClock{at: time.Unix(1_700_000_000, 0)}
	a := audit.NewLog(clock)
	b := audit.NewLog(clock)

	ea, err := a.Append("bridge", "EXECUTION_REQUESTED", "execution/1", map[string]any{"tier": "INFO", "hash": "ab"})
	require.NoError(t, err)
	eb, err := b.Append("bridge", "EXECUTION_REQUESTED", "execution/1", map[string]any{"hash": "ab", "tier": "INFO"})
	require.NoError(t, err)
	assert.Equal(t, ea.Hash, eb.Hash)
}

func TestLog_EntriesReturnsCopy(t *testing.T) {
	log := audit.NewLog(fixedClock{at: time.Unix(1_700_000_000, 0)})
	_, err := log.Append("guardian", "TIER_PAUSED", "tier/FUNDS", nil)
	require.NoError(t, err)

	entries := log.Entries()
	entries[0].Action = "MUTATED"
	require.NoError(t, log.Verify())
	assert.Equal(t, "TIER_PAUSED", log.Entries()[0].Action)
}
