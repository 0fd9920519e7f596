// Package audit provides a tamper-evident, hash-chained log of every
// state-changing governance, safety, and execution operation.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/kara-bolt/karadao/pkg/canonicalize"
	"github.com/kara-bolt/karadao/pkg/contracts"
)

// Entry is a single tamper-evident log record.
type Entry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Details   string    `json:"details,omitempty"` // JCS-canonical details document

	// PreviousHash links this entry to the preceding one.
	PreviousHash string `json:"previous_hash"`
	// Hash is the SHA-256 digest of this entry (excluding Hash itself).
	Hash string `json:"hash"`
}

// Log manages an append-only sequence of hash-chained entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	clock   contracts.Clock
}

// NewLog creates an empty audit log using the given clock.
func NewLog(clock contracts.Clock) *Log {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	return &Log{
		entries: make([]Entry, 0, 128),
		clock:   clock,
	}
}

// Append adds a new entry linked to the previous one and returns it.
// details may be any JSON-marshalable value; it is canonicalized before
// hashing so replays produce byte-identical chains.
func (l *Log) Append(actor, action, target string, details any) (*Entry, error) {
	var detailsDoc string
	if details != nil {
		b, err := canonicalize.JCS(details)
		if err != nil {
			return nil, fmt.Errorf("audit: canonicalize details: %w", err)
		}
		detailsDoc = string(b)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	if n := len(l.entries); n > 0 {
		prevHash = l.entries[n-1].Hash
	}

	entry := Entry{
		Sequence:     uint64(len(l.entries)) + 1,
		Timestamp:    l.clock.Now().UTC(),
		Actor:        actor,
		Action:       action,
		Target:       target,
		Details:      detailsDoc,
		PreviousHash: prevHash,
	}

	hash, err := entryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	l.entries = append(l.entries, entry)
	return &entry, nil
}

// Verify walks the chain and reports the first break, if any.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := ""
	for i := range l.entries {
		e := l.entries[i]
		if e.PreviousHash != prevHash {
			return fmt.Errorf("audit: entry %d chain break: previous_hash mismatch", e.Sequence)
		}
		want, err := entryHash(&e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("audit: entry %d content hash mismatch", e.Sequence)
		}
		prevHash = e.Hash
	}
	return nil
}

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// entryHash computes the canonical hash of an entry with the Hash field blank.
func entryHash(e *Entry) (string, error) {
	stripped := *e
	stripped.Hash = ""
	return canonicalize.CanonicalHash(stripped)
}
