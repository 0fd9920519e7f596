// Package store persists governance state snapshots and the event journal
// to SQL. It speaks both SQLite (modernc driver, standalone deployments) and
// Postgres (lib/pq); queries are written with ? placeholders and rebound for
// Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kara-bolt/karadao/pkg/bridge"
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/guardian"
)

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a SQL-backed snapshot and journal store.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects and migrates. dsn follows the driver's own syntax.
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	s := New(db, driver)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without migrating.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema if absent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS proposals (
			id BIGINT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			tier TEXT NOT NULL,
			proposer TEXT NOT NULL,
			start_at BIGINT NOT NULL,
			end_at BIGINT NOT NULL,
			cycle BIGINT NOT NULL,
			for_votes TEXT NOT NULL,
			against_votes TEXT NOT NULL,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			vetoed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id BIGINT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			tier TEXT NOT NULL,
			requested_at BIGINT NOT NULL,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			executor TEXT NOT NULL DEFAULT '',
			result_ref TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS slashes (
			id BIGINT PRIMARY KEY,
			agent TEXT NOT NULL,
			amount TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			appealed BOOLEAN NOT NULL DEFAULT FALSE,
			overturned BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS event_journal (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			at BIGINT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			fields TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Proposals ---

// SaveProposal upserts one proposal snapshot.
func (s *Store) SaveProposal(ctx context.Context, p *governance.Proposal) error {
	query := s.rebind(`
		INSERT INTO proposals (id, content_hash, tier, proposer, start_at, end_at, cycle, for_votes, against_votes, executed, vetoed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			for_votes = excluded.for_votes,
			against_votes = excluded.against_votes,
			executed = excluded.executed,
			vetoed = excluded.vetoed`)
	_, err := s.db.ExecContext(ctx, query,
		int64(p.ID), p.ContentHash.String(), p.Tier.String(), string(p.Proposer),
		p.Start, p.End, int64(p.Cycle), p.ForVotes.String(), p.AgainstVotes.String(),
		p.Executed, p.Vetoed)
	if err != nil {
		return fmt.Errorf("save proposal %d: %w", p.ID, err)
	}
	return nil
}

// GetProposal loads one proposal snapshot.
func (s *Store) GetProposal(ctx context.Context, id uint64) (*governance.Proposal, error) {
	query := s.rebind(`
		SELECT id, content_hash, tier, proposer, start_at, end_at, cycle, for_votes, against_votes, executed, vetoed
		FROM proposals WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, int64(id))

	var (
		p                 governance.Proposal
		rawID, rawCycle   int64
		hashHex, tierName string
		proposer, forStr  string
		againstStr        string
	)
	err := row.Scan(&rawID, &hashHex, &tierName, &proposer, &p.Start, &p.End,
		&rawCycle, &forStr, &againstStr, &p.Executed, &p.Vetoed)
	if err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	p.ID = uint64(rawID)
	p.Cycle = uint64(rawCycle)
	if p.ContentHash, err = contracts.HashFromHex(hashHex); err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	if p.Tier, err = contracts.ParseTier(tierName); err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	p.Proposer = contracts.Address(proposer)
	if p.ForVotes, err = parseBig(forStr); err != nil {
		return nil, fmt.Errorf("load proposal %d for-votes: %w", id, err)
	}
	if p.AgainstVotes, err = parseBig(againstStr); err != nil {
		return nil, fmt.Errorf("load proposal %d against-votes: %w", id, err)
	}
	return &p, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed integer %q", s)
	}
	return v, nil
}

// --- Executions ---

// SaveExecution upserts one execution snapshot.
func (s *Store) SaveExecution(ctx context.Context, ex *bridge.Execution) error {
	query := s.rebind(`
		INSERT INTO executions (id, content_hash, tier, requested_at, executed, success, executor, result_ref, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			requested_at = excluded.requested_at,
			executed = excluded.executed,
			success = excluded.success,
			executor = excluded.executor,
			result_ref = excluded.result_ref,
			retry_count = excluded.retry_count`)
	_, err := s.db.ExecContext(ctx, query,
		int64(ex.ID), ex.ContentHash.String(), ex.Tier.String(), ex.RequestedAt,
		ex.Executed, ex.Success, string(ex.Executor), ex.ResultRef, ex.RetryCount)
	if err != nil {
		return fmt.Errorf("save execution %d: %w", ex.ID, err)
	}
	return nil
}

// --- Slashes ---

// SaveSlash upserts one slash record.
func (s *Store) SaveSlash(ctx context.Context, rec *guardian.SlashRecord) error {
	query := s.rebind(`
		INSERT INTO slashes (id, agent, amount, reason, created_at, appealed, overturned)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			appealed = excluded.appealed,
			overturned = excluded.overturned`)
	_, err := s.db.ExecContext(ctx, query,
		int64(rec.ID), string(rec.Agent), rec.Amount.String(), rec.Reason,
		rec.Timestamp, rec.Appealed, rec.Overturned)
	if err != nil {
		return fmt.Errorf("save slash %d: %w", rec.ID, err)
	}
	return nil
}

// --- Event journal ---

// AppendEvent journals one observability event.
func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	fields := "{}"
	if ev.Fields != nil {
		raw, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("journal event %s: %w", ev.ID, err)
		}
		fields = string(raw)
	}
	query := s.rebind(`
		INSERT INTO event_journal (id, type, at, actor, fields)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Type), ev.At.Unix(), ev.Actor, fields)
	if err != nil {
		return fmt.Errorf("journal event %s: %w", ev.ID, err)
	}
	return nil
}

// Journal returns a bus handler that persists every event. Journaling is
// best-effort like the rest of the feed: failures are logged, never raised.
func (s *Store) Journal(logger *slog.Logger) events.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev events.Event) {
		if err := s.AppendEvent(context.Background(), ev); err != nil {
			logger.Warn("event journal append failed", "event", ev.ID, "type", string(ev.Type), "error", err)
		}
	}
}
