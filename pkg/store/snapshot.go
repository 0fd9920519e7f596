package store

import (
	"context"
	"log/slog"

	"github.com/kara-bolt/karadao/pkg/bridge"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/guardian"
)

// Record sources the snapshotter reads current state from. Each component's
// Get* query returns a copy, so the save races with nothing.
type (
	ProposalSource interface {
		GetProposal(id uint64) (*governance.Proposal, error)
	}
	ExecutionSource interface {
		GetExecution(id uint64) (*bridge.Execution, error)
	}
	SlashSource interface {
		GetSlash(id uint64) (*guardian.SlashRecord, error)
	}
)

// Snapshot returns an event handler that persists the affected record after
// each state change. Write-behind and best-effort like Journal: a failed save
// is logged, never surfaced into the operation that emitted the event.
func (s *Store) Snapshot(proposals ProposalSource, execs ExecutionSource, slashes SlashSource, logger *slog.Logger) events.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev events.Event) {
		ctx := context.Background()
		switch ev.Type {
		case events.TypeProposalSubmitted, events.TypeVoteCast,
			events.TypeProposalExecuted, events.TypeProposalVetoed:
			if proposals == nil {
				return
			}
			id, ok := eventID(ev.Fields, "proposal")
			if !ok {
				return
			}
			p, err := proposals.GetProposal(id)
			if err == nil {
				err = s.SaveProposal(ctx, p)
			}
			if err != nil {
				logger.Warn("proposal snapshot failed", "id", id, "error", err)
			}
		case events.TypeExecutionRequest, events.TypeExecutionClaimed,
			events.TypeExecutionDone, events.TypeExecutionRetried,
			events.TypeExecutionForced:
			if execs == nil {
				return
			}
			id, ok := eventID(ev.Fields, "execution")
			if !ok {
				return
			}
			ex, err := execs.GetExecution(id)
			if err == nil {
				err = s.SaveExecution(ctx, ex)
			}
			if err != nil {
				logger.Warn("execution snapshot failed", "id", id, "error", err)
			}
		case events.TypeSlashCreated, events.TypeSlashAppealed,
			events.TypeSlashOverturned:
			if slashes == nil {
				return
			}
			id, ok := eventID(ev.Fields, "slash")
			if !ok {
				return
			}
			rec, err := slashes.GetSlash(id)
			if err == nil {
				err = s.SaveSlash(ctx, rec)
			}
			if err != nil {
				logger.Warn("slash snapshot failed", "id", id, "error", err)
			}
		}
	}
}

// eventID pulls a record id out of published event fields. Ids travel as
// uint64 in-process; other integer kinds cover re-decoded payloads.
func eventID(fields map[string]any, key string) (uint64, bool) {
	switch v := fields[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}
