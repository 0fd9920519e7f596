package store

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/token"
)

type proposalSourceFunc func(id uint64) (*governance.Proposal, error)

func (f proposalSourceFunc) GetProposal(id uint64) (*governance.Proposal, error) { return f(id) }

func TestSnapshot_PersistsProposalOnEvent(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)
	p := sampleProposal()

	src := proposalSourceFunc(func(id uint64) (*governance.Proposal, error) {
		require.Equal(t, uint64(7), id)
		return p, nil
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO proposals")).
		WithArgs(int64(7), p.ContentHash.String(), "INFO", "alice",
			p.Start, p.End, int64(42), "20000000000", "0", true, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	h := s.Snapshot(src, nil, nil, nil)
	h(events.Event{
		ID:     "ev-1",
		Type:   events.TypeProposalSubmitted,
		At:     time.Unix(1_700_000_000, 0),
		Actor:  "alice",
		Fields: map[string]any{"proposal": uint64(7)},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot_IgnoresUnrelatedEvents(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	h := s.Snapshot(proposalSourceFunc(func(uint64) (*governance.Proposal, error) {
		t.Fatal("should not be consulted")
		return nil, nil
	}), nil, nil, nil)

	h(events.Event{Type: events.TypeCycleAdvanced, Fields: map[string]any{"cycle": uint64(3)}})
	h(events.Event{Type: events.TypeProposalSubmitted, Fields: map[string]any{}}) // no id

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot_SwallowsSourceErrors(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	h := s.Snapshot(proposalSourceFunc(func(uint64) (*governance.Proposal, error) {
		return nil, fault.NotFound("proposal 9 does not exist")
	}), nil, nil, nil)

	h(events.Event{Type: events.TypeProposalVetoed, Fields: map[string]any{"proposal": uint64(9)}})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventID_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  uint64
		ok    bool
	}{
		{"uint64", uint64(5), 5, true},
		{"int64", int64(5), 5, true},
		{"int", 5, 5, true},
		{"float64", float64(5), 5, true},
		{"negative", int64(-1), 0, false},
		{"string", "5", 0, false},
		{"missing", nil, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := map[string]any{}
			if tc.value != nil {
				fields["k"] = tc.value
			}
			got, ok := eventID(fields, "k")
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

type frozenClock struct{ at time.Time }

func (c *frozenClock) Now() time.Time { return c.at }

// Same wiring as the daemon: a live engine publishing on a shared bus with
// the snapshot handler subscribed. The submit must complete and drive the
// row upsert; the handler reads the engine back mid-event, so emission has
// to happen after the engine releases its lock.
func TestSnapshot_PersistsThroughLiveEngine(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	clock := &frozenClock{at: time.Unix(1_700_000_000, 0)}
	bus := events.NewBus(clock)
	book := token.NewMemoryLedger()
	eng := governance.NewEngine("engine", "owner", book.Bind("engine"), clock, governance.Options{Bus: bus})
	bus.Subscribe(s.Snapshot(eng, nil, nil, nil))

	book.Mint("alice", contracts.Units(50_000))
	book.Approve("alice", "engine", contracts.Units(50_000))
	require.NoError(t, eng.RegisterAgent("alice", `{"name":"alice"}`))
	require.NoError(t, eng.UpdateStakerInfo("owner", "alice", contracts.Units(100), 0, 0))

	hash := contracts.Hash{0xab}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO proposals")).
		WithArgs(int64(1), hash.String(), "INFO", "alice",
			clock.at.Unix(), clock.at.Unix()+30, int64(1), "0", "0", false, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := eng.SubmitProposal("alice", hash, contracts.TierInfo)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
