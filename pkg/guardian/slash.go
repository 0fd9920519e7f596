package guardian

import (
	"fmt"
	"math/big"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// SlashRecord documents one slashing action. Fund settlement and agent
// deregistration are downstream collaborator concerns; the gate only keeps
// the book.
type SlashRecord struct {
	ID         uint64
	Agent      contracts.Address
	Amount     *big.Int
	Reason     string
	Timestamp  int64
	Appealed   bool
	Overturned bool
}

func slashTarget(id uint64) string { return fmt.Sprintf("slash/%d", id) }

// SlashAgent creates a slash record and accumulates the running total.
// Guardian-level.
func (g *Gate) SlashAgent(caller, agent contracts.Address, amount *big.Int, reason string) (uint64, error) {
	if !g.mu.TryLock() {
		return 0, fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if !g.isGuardianLevel(caller) {
		return 0, fault.Unauthorized("only guardians, chief, or owner may slash")
	}
	if agent == contracts.Zero {
		return 0, fault.Invalid("empty agent address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fault.Invalid("slash amount must be positive")
	}
	if reason == "" {
		return 0, fault.Invalid("empty slash reason")
	}

	id := g.nextSlashID
	g.nextSlashID++
	rec := &SlashRecord{
		ID:        id,
		Agent:     agent,
		Amount:    new(big.Int).Set(amount),
		Reason:    reason,
		Timestamp: g.clock.Now().Unix(),
	}
	g.slashes[id] = rec
	g.totalSlashed.Add(g.totalSlashed, rec.Amount)

	g.publish(events.TypeSlashCreated, string(caller), map[string]any{
		"slash":  id,
		"agent":  string(agent),
		"amount": amount.String(),
		"reason": reason,
	})
	g.record(string(caller), "SLASH_CREATED", slashTarget(id), map[string]any{
		"agent":  string(agent),
		"amount": amount.String(),
		"reason": reason,
	})
	g.logger.Warn("agent slashed", "slash", id, "agent", string(agent), "amount", amount.String())
	return id, nil
}

// AppealSlash marks a record appealed. Anyone may appeal, exactly once per
// record, only within the appeal window from the slash timestamp.
func (g *Gate) AppealSlash(caller contracts.Address, id uint64, reason string) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	rec, ok := g.slashes[id]
	if !ok {
		return fault.NotFound("slash record %d", id)
	}
	if rec.Appealed {
		return fault.Conflict("slash record %d already appealed", id)
	}
	if g.clock.Now().Unix() > rec.Timestamp+g.appealWindow {
		return fault.Limit("appeal window for slash record %d expired", id)
	}
	if reason == "" {
		return fault.Invalid("empty appeal reason")
	}
	rec.Appealed = true

	g.publish(events.TypeSlashAppealed, string(caller), map[string]any{
		"slash":  id,
		"reason": reason,
	})
	g.record(string(caller), "SLASH_APPEALED", slashTarget(id), map[string]any{"reason": reason})
	return nil
}

// OverturnSlash reverses an appealed slash and reduces the running total.
// Chief or owner only; requires a prior appeal.
func (g *Gate) OverturnSlash(caller contracts.Address, id uint64, reason string) error {
	if !g.mu.TryLock() {
		return fault.Reentrant("guardian")
	}
	defer g.flush()
	defer g.mu.Unlock()

	if caller != g.chief && caller != g.owner {
		return fault.Unauthorized("only chief or owner may overturn a slash")
	}
	rec, ok := g.slashes[id]
	if !ok {
		return fault.NotFound("slash record %d", id)
	}
	if !rec.Appealed {
		return fault.Conflict("slash record %d was never appealed", id)
	}
	if rec.Overturned {
		return fault.Conflict("slash record %d already overturned", id)
	}
	if reason == "" {
		return fault.Invalid("empty overturn reason")
	}
	rec.Overturned = true
	g.totalSlashed.Sub(g.totalSlashed, rec.Amount)

	g.publish(events.TypeSlashOverturned, string(caller), map[string]any{
		"slash":  id,
		"reason": reason,
	})
	g.record(string(caller), "SLASH_OVERTURNED", slashTarget(id), map[string]any{"reason": reason})
	return nil
}

// GetSlash returns a copy of a slash record.
func (g *Gate) GetSlash(id uint64) (*SlashRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.slashes[id]
	if !ok {
		return nil, fault.NotFound("slash record %d", id)
	}
	cp := *rec
	cp.Amount = new(big.Int).Set(rec.Amount)
	return &cp, nil
}

// TotalSlashed returns the running slashed total (net of overturns).
func (g *Gate) TotalSlashed() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.totalSlashed)
}
