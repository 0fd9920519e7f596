// Package bridge implements the execution bridge: winning proposals arrive
// from governance, off-chain workers claim and confirm them, failures are
// retried up to a cap, and a consecutive-failure counter emits a
// circuit-breaker signal for the safety layer.
package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kara-bolt/karadao/pkg/audit"
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// SafetyGate is the execution-side safety check.
type SafetyGate interface {
	CanExecute(tier contracts.Tier) bool
}

// ReputationSink receives confirm-time reputation feedback. The bridge only
// knows content hashes, so the governance engine resolves the hash to the
// proposing agent itself.
type ReputationSink interface {
	ReportExecutionOutcome(caller contracts.Address, contentHash contracts.Hash, success bool) error
}

// Execution is one claim/confirm unit of work. At most one pending (not yet
// executed) execution exists per content hash at any time.
type Execution struct {
	ID          uint64
	ContentHash contracts.Hash
	Tier        contracts.Tier
	RequestedAt int64
	Executed    bool
	Success     bool
	Executor    contracts.Address // claiming executor; empty until claimed
	ResultRef   string
	RetryCount  int
}

// Fixed bridge policy.
const (
	// MaxBatchSize caps ReceiveBatchExecution.
	MaxBatchSize = 10
	// MaxRetries caps RequestRetry per execution.
	MaxRetries = 3
	// DefaultClaimTimeout is how long after request an execution stays
	// claimable, in seconds.
	DefaultClaimTimeout = 3600
	// DefaultFailureSignalThreshold is the consecutive-failure count that
	// emits a breaker signal.
	DefaultFailureSignalThreshold = 5
)

// Bridge is the execution-side state machine. Mutating operations reject
// re-entrant invocation.
type Bridge struct {
	mu sync.Mutex

	addr     contracts.Address // the bridge's own caller identity
	owner    contracts.Address
	governor contracts.Address // only accepted ReceiveExecution caller
	clock    contracts.Clock

	logger *slog.Logger
	bus    *events.Bus
	trail  *audit.Log

	gate       SafetyGate
	reputation ReputationSink

	executors map[contracts.Address]bool

	executions    map[uint64]*Execution
	pendingByHash map[contracts.Hash]uint64
	nextID        uint64
	pendingCount  int

	claimTimeout    int64
	failureSignalAt int

	consecutiveFailures int
	lastFailureAt       int64

	// Events staged during the current operation, emitted by flush after
	// the mutex is released; bus subscribers may call back into the bridge.
	staged []stagedEvent
}

type stagedEvent struct {
	typ    events.Type
	actor  string
	fields map[string]any
}

// Options configures optional Bridge collaborators and policy overrides.
type Options struct {
	Logger          *slog.Logger
	Bus             *events.Bus
	Trail           *audit.Log
	ClaimTimeout    int64 // seconds; 0 means DefaultClaimTimeout
	FailureSignalAt int   // 0 means DefaultFailureSignalThreshold
}

// New creates an execution bridge. governor is the governance engine's
// component identity, the only caller ReceiveExecution accepts.
func New(addr, owner, governor contracts.Address, clock contracts.Clock, opts Options) *Bridge {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	claimTimeout := opts.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = DefaultClaimTimeout
	}
	failureSignalAt := opts.FailureSignalAt
	if failureSignalAt <= 0 {
		failureSignalAt = DefaultFailureSignalThreshold
	}

	return &Bridge{
		addr:            addr,
		owner:           owner,
		governor:        governor,
		clock:           clock,
		logger:          logger,
		bus:             opts.Bus,
		trail:           opts.Trail,
		executors:       make(map[contracts.Address]bool),
		executions:      make(map[uint64]*Execution),
		pendingByHash:   make(map[contracts.Hash]uint64),
		nextID:          1,
		claimTimeout:    claimTimeout,
		failureSignalAt: failureSignalAt,
	}
}

// Addr returns the bridge's component identity.
func (b *Bridge) Addr() contracts.Address { return b.addr }

// SetSafetyGate wires the execution-side safety check.
func (b *Bridge) SetSafetyGate(g SafetyGate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = g
}

// SetReputationSink wires confirm-time reputation feedback.
func (b *Bridge) SetReputationSink(r ReputationSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reputation = r
}

// AddExecutor authorizes an off-chain executor identity. Owner-only.
func (b *Bridge) AddExecutor(caller, executor contracts.Address) error {
	if !b.mu.TryLock() {
		return fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()
	if caller != b.owner {
		return fault.Unauthorized("only owner may add executors")
	}
	if executor == contracts.Zero {
		return fault.Invalid("empty executor address")
	}
	b.executors[executor] = true
	return nil
}

// RemoveExecutor revokes an executor identity. Owner-only.
func (b *Bridge) RemoveExecutor(caller, executor contracts.Address) error {
	if !b.mu.TryLock() {
		return fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()
	if caller != b.owner {
		return fault.Unauthorized("only owner may remove executors")
	}
	delete(b.executors, executor)
	return nil
}

// --- Intake ---

// ReceiveExecution enqueues a winning proposal's action for off-chain
// pickup. Governor-only; the tier must be executable; duplicate pending
// executions for the same content hash are rejected.
func (b *Bridge) ReceiveExecution(caller contracts.Address, contentHash contracts.Hash, tier contracts.Tier) (uint64, error) {
	if !b.mu.TryLock() {
		return 0, fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()
	return b.receiveLocked(caller, contentHash, tier)
}

// ReceiveBatchExecution enqueues several actions atomically: the whole batch
// is validated first and any per-element failure aborts everything.
func (b *Bridge) ReceiveBatchExecution(caller contracts.Address, hashes []contracts.Hash, tiers []contracts.Tier) ([]uint64, error) {
	if !b.mu.TryLock() {
		return nil, fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()

	if len(hashes) == 0 || len(hashes) != len(tiers) {
		return nil, fault.Invalid("batch hashes and tiers must be equal non-zero length")
	}
	if len(hashes) > MaxBatchSize {
		return nil, fault.Limit("batch size %d exceeds cap %d", len(hashes), MaxBatchSize)
	}

	// Validate every element before mutating anything.
	seen := make(map[contracts.Hash]bool, len(hashes))
	for i, h := range hashes {
		if err := b.validateIntakeLocked(caller, h, tiers[i]); err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		if seen[h] {
			return nil, fault.Conflict("batch contains duplicate content hash %s", h)
		}
		seen[h] = true
	}

	ids := make([]uint64, len(hashes))
	for i, h := range hashes {
		id, err := b.receiveLocked(caller, h, tiers[i])
		if err != nil {
			// Unreachable after validation; kept as a hard failure so a bug
			// cannot half-apply a batch.
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (b *Bridge) validateIntakeLocked(caller contracts.Address, contentHash contracts.Hash, tier contracts.Tier) error {
	if caller != b.governor {
		return fault.Unauthorized("only the governor may submit executions")
	}
	if contentHash.IsZero() {
		return fault.Invalid("empty content hash")
	}
	if !tier.Valid() {
		return fault.Invalid("unknown tier %d", tier)
	}
	if b.gate != nil && !b.gate.CanExecute(tier) {
		return fault.Blocked("tier %s blocked by safety gate", tier)
	}
	if _, pending := b.pendingByHash[contentHash]; pending {
		return fault.Conflict("pending execution already exists for content hash %s", contentHash)
	}
	return nil
}

func (b *Bridge) receiveLocked(caller contracts.Address, contentHash contracts.Hash, tier contracts.Tier) (uint64, error) {
	if err := b.validateIntakeLocked(caller, contentHash, tier); err != nil {
		return 0, err
	}

	id := b.nextID
	b.nextID++
	b.executions[id] = &Execution{
		ID:          id,
		ContentHash: contentHash,
		Tier:        tier,
		RequestedAt: b.clock.Now().Unix(),
	}
	b.pendingByHash[contentHash] = id
	b.pendingCount++

	b.publish(events.TypeExecutionRequest, string(caller), map[string]any{
		"execution": id,
		"tier":      tier.String(),
		"hash":      contentHash.String(),
	})
	b.record(string(caller), "EXECUTION_REQUESTED", executionTarget(id), map[string]any{
		"tier": tier.String(),
		"hash": contentHash.String(),
	})
	return id, nil
}

// --- Claim / confirm / retry ---

// ClaimExecution assigns an unclaimed, unexecuted execution to the calling
// executor, within the claim timeout from request.
func (b *Bridge) ClaimExecution(caller contracts.Address, id uint64) error {
	if !b.mu.TryLock() {
		return fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()

	if !b.executors[caller] {
		return fault.Unauthorized("%s is not an authorized executor", caller)
	}
	ex, ok := b.executions[id]
	if !ok {
		return fault.NotFound("execution %d", id)
	}
	if ex.Executed {
		return fault.Conflict("execution %d already executed", id)
	}
	if ex.Executor != contracts.Zero {
		return fault.Conflict("execution %d already claimed by %s", id, ex.Executor)
	}
	if b.clock.Now().Unix() > ex.RequestedAt+b.claimTimeout {
		return fault.Limit("claim window for execution %d expired", id)
	}
	ex.Executor = caller

	b.publish(events.TypeExecutionClaimed, string(caller), map[string]any{
		"execution": id,
	})
	b.record(string(caller), "EXECUTION_CLAIMED", executionTarget(id), nil)
	return nil
}

// ConfirmExecution records the outcome of a claimed execution. Only the
// claiming executor may confirm. On failure the bridge-local consecutive
// failure counter advances and, at the threshold, a breaker signal event is
// emitted; wiring that signal into the safety gate's own counters belongs to
// the integration layer.
func (b *Bridge) ConfirmExecution(caller contracts.Address, id uint64, success bool, resultRef string) error {
	if !b.mu.TryLock() {
		return fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()

	ex, ok := b.executions[id]
	if !ok {
		return fault.NotFound("execution %d", id)
	}
	if ex.Executor == contracts.Zero {
		return fault.Conflict("execution %d is unclaimed", id)
	}
	if caller != ex.Executor {
		return fault.Unauthorized("only the claiming executor may confirm execution %d", id)
	}
	if ex.Executed {
		return fault.Conflict("execution %d already executed", id)
	}

	ex.Executed = true
	ex.Success = success
	ex.ResultRef = resultRef
	delete(b.pendingByHash, ex.ContentHash)
	b.pendingCount--

	now := b.clock.Now().Unix()
	if success {
		b.consecutiveFailures = 0
	} else {
		b.consecutiveFailures++
		b.lastFailureAt = now
		if b.consecutiveFailures >= b.failureSignalAt {
			b.publish(events.TypeBreakerSignal, string(b.addr), map[string]any{
				"consecutive_failures": b.consecutiveFailures,
				"tier":                 ex.Tier.String(),
			})
			b.logger.Warn("consecutive execution failures reached breaker-signal threshold",
				"count", b.consecutiveFailures, "tier", ex.Tier.String())
		}
	}

	b.publish(events.TypeExecutionDone, string(caller), map[string]any{
		"execution": id,
		"success":   success,
	})
	b.record(string(caller), "EXECUTION_CONFIRMED", executionTarget(id), map[string]any{
		"success": success,
		"result":  resultRef,
	})

	// Reputation feedback is best-effort: the confirm itself never fails on
	// a sink error. Governance does not call back into the bridge.
	if b.reputation != nil {
		if err := b.reputation.ReportExecutionOutcome(b.addr, ex.ContentHash, success); err != nil {
			b.logger.Warn("reputation feedback failed",
				"execution", id, "error", err)
		}
	}
	return nil
}

// RequestRetry re-enqueues an executed-and-failed execution for another
// claim/confirm round, up to MaxRetries. Authorized-executor-only.
func (b *Bridge) RequestRetry(caller contracts.Address, id uint64) error {
	if !b.mu.TryLock() {
		return fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()

	if !b.executors[caller] {
		return fault.Unauthorized("%s is not an authorized executor", caller)
	}
	ex, ok := b.executions[id]
	if !ok {
		return fault.NotFound("execution %d", id)
	}
	if !ex.Executed || ex.Success {
		return fault.Conflict("execution %d is not a confirmed failure", id)
	}
	if ex.RetryCount >= MaxRetries {
		return fault.Limit("execution %d reached retry cap %d", id, MaxRetries)
	}
	if _, pending := b.pendingByHash[ex.ContentHash]; pending {
		return fault.Conflict("pending execution already exists for content hash %s", ex.ContentHash)
	}

	ex.Executed = false
	ex.Success = false
	ex.Executor = contracts.Zero
	ex.ResultRef = ""
	ex.RetryCount++
	ex.RequestedAt = b.clock.Now().Unix()
	b.pendingByHash[ex.ContentHash] = id
	b.pendingCount++

	b.publish(events.TypeExecutionRetried, string(caller), map[string]any{
		"execution": id,
		"retry":     ex.RetryCount,
	})
	b.record(string(caller), "EXECUTION_RETRIED", executionTarget(id), map[string]any{
		"retry": ex.RetryCount,
	})
	return nil
}

// ForceFailExecution terminally fails a stuck execution without the
// claim/confirm path. Owner-only emergency override.
func (b *Bridge) ForceFailExecution(caller contracts.Address, id uint64) error {
	if !b.mu.TryLock() {
		return fault.Reentrant("bridge")
	}
	defer b.flush()
	defer b.mu.Unlock()

	if caller != b.owner {
		return fault.Unauthorized("only owner may force-fail executions")
	}
	ex, ok := b.executions[id]
	if !ok {
		return fault.NotFound("execution %d", id)
	}
	if ex.Executed {
		return fault.Conflict("execution %d already executed", id)
	}

	ex.Executed = true
	ex.Success = false
	delete(b.pendingByHash, ex.ContentHash)
	b.pendingCount--

	b.publish(events.TypeExecutionForced, string(caller), map[string]any{
		"execution": id,
	})
	b.record(string(caller), "EXECUTION_FORCE_FAILED", executionTarget(id), nil)
	b.logger.Warn("execution force-failed", "execution", id, "by", string(caller))
	return nil
}

// --- Queries ---

// GetExecution returns a copy of an execution record.
func (b *Bridge) GetExecution(id uint64) (*Execution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.executions[id]
	if !ok {
		return nil, fault.NotFound("execution %d", id)
	}
	cp := *ex
	return &cp, nil
}

// PendingCount returns the number of not-yet-executed executions.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingCount
}

// ConsecutiveFailures returns the bridge-local failure streak.
func (b *Bridge) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

func executionTarget(id uint64) string { return fmt.Sprintf("execution/%d", id) }

// publish stages an event under the held mutex; the paired deferred flush
// emits it after the operation commits and unlocks.
func (b *Bridge) publish(typ events.Type, actor string, fields map[string]any) {
	if b.bus == nil {
		return
	}
	b.staged = append(b.staged, stagedEvent{typ: typ, actor: actor, fields: fields})
}

func (b *Bridge) flush() {
	b.mu.Lock()
	staged := b.staged
	b.staged = nil
	b.mu.Unlock()
	for _, ev := range staged {
		b.bus.Publish(ev.typ, ev.actor, ev.fields)
	}
}

func (b *Bridge) record(actor, action, target string, details any) {
	if b.trail == nil {
		return
	}
	if _, err := b.trail.Append(actor, action, target, details); err != nil {
		b.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
