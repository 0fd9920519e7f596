// Package events provides the observability event feed described by the
// external interface contract: proposal, cycle, agent, pause, breaker, slash,
// and execution lifecycle events fanned out to in-process subscribers and,
// optionally, mirrored into a Redis Stream.
//
// Events are observational only; no component behavior depends on delivery.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kara-bolt/karadao/pkg/contracts"
)

// Type names an event kind.
type Type string

const (
	TypeProposalSubmitted Type = "proposal.submitted"
	TypeVoteCast          Type = "proposal.voted"
	TypeProposalExecuted  Type = "proposal.executed"
	TypeProposalVetoed    Type = "proposal.vetoed"
	TypeCycleAdvanced     Type = "cycle.advanced"
	TypeAgentRegistered   Type = "agent.registered"
	TypeAgentDeregistered Type = "agent.deregistered"
	TypeDelegationChanged Type = "delegation.changed"
	TypeTierConfigUpdated Type = "tier.config_updated"
	TypeTierPaused        Type = "tier.paused"
	TypeTierUnpaused      Type = "tier.unpaused"
	TypeGlobalPaused      Type = "global.paused"
	TypeGlobalUnpaused    Type = "global.unpaused"
	TypeBreakerTripped    Type = "breaker.tripped"
	TypeBreakerSignal     Type = "breaker.signal" // bridge-local consecutive-failure threshold
	TypeSlashCreated      Type = "slash.created"
	TypeSlashAppealed     Type = "slash.appealed"
	TypeSlashOverturned   Type = "slash.overturned"
	TypeStakerUpdated     Type = "staker.updated"
	TypeExecutionRequest  Type = "execution.requested"
	TypeExecutionClaimed  Type = "execution.claimed"
	TypeExecutionDone     Type = "execution.completed"
	TypeExecutionRetried  Type = "execution.retried"
	TypeExecutionForced   Type = "execution.force_failed"
)

// Event is a single observability record.
type Event struct {
	ID     string         `json:"id"`
	Type   Type           `json:"type"`
	At     time.Time      `json:"at"`
	Actor  string         `json:"actor,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Handler consumes events. Handlers must not block.
type Handler func(Event)

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	clock    contracts.Clock
}

// NewBus creates an event bus using the given clock for timestamps.
func NewBus(clock contracts.Clock) *Bus {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	return &Bus{clock: clock}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers an event to every subscriber. Never fails: the feed is
// observational and must not gate the operation that produced it.
func (b *Bus) Publish(typ Type, actor string, fields map[string]any) {
	ev := Event{
		ID:     uuid.New().String(),
		Type:   typ,
		At:     b.clock.Now().UTC(),
		Actor:  actor,
		Fields: fields,
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
