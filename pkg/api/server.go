package api

import (
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/kara-bolt/karadao/pkg/bridge"
	"github.com/kara-bolt/karadao/pkg/fault"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/guardian"
	"github.com/kara-bolt/karadao/pkg/treasury"
)

const maxBodyBytes = 1 << 20 // 1MB request body limit

// Server exposes the governance engine, safety gate, execution bridge, and
// treasury over HTTP. Every mutating endpoint acts on behalf of the
// authenticated caller; the domain layer decides what that caller may do.
type Server struct {
	engine   *governance.Engine
	gate     *guardian.Gate
	bridge   *bridge.Bridge
	treasury *treasury.Treasury

	auth    *Authenticator
	limiter *CallerRateLimiter
	logger  *slog.Logger
}

// Options configures optional Server collaborators.
type Options struct {
	Auth    *Authenticator
	Limiter *CallerRateLimiter
	Logger  *slog.Logger
}

// NewServer wires the HTTP surface. engine and gate are required; bridge and
// treasury endpoints return 404 when their component is absent.
func NewServer(engine *governance.Engine, gate *guardian.Gate, br *bridge.Bridge, tr *treasury.Treasury, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		gate:     gate,
		bridge:   br,
		treasury: tr,
		auth:     opts.Auth,
		limiter:  opts.Limiter,
		logger:   logger,
	}
}

// Handler builds the full middleware chain: auth binds the caller, then the
// per-caller rate limiter, then routing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	mux.HandleFunc("POST /api/v1/proposals", s.handleSubmitProposal)
	mux.HandleFunc("GET /api/v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /api/v1/proposals/{id}/votes", s.handleCastVote)
	mux.HandleFunc("POST /api/v1/proposals/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /api/v1/proposals/{id}/veto", s.handleVeto)

	mux.HandleFunc("POST /api/v1/agents", s.handleRegisterAgent)
	mux.HandleFunc("DELETE /api/v1/agents/me", s.handleDeregisterAgent)
	mux.HandleFunc("GET /api/v1/agents/{addr}", s.handleGetAgent)

	mux.HandleFunc("POST /api/v1/delegation", s.handleDelegate)
	mux.HandleFunc("GET /api/v1/stakers/{addr}", s.handleGetStaker)
	mux.HandleFunc("POST /api/v1/stake", s.handleStake)
	mux.HandleFunc("POST /api/v1/unstake", s.handleUnstake)

	mux.HandleFunc("POST /api/v1/executions", s.handleReceiveExecution)
	mux.HandleFunc("POST /api/v1/executions/batch", s.handleReceiveBatch)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /api/v1/executions/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/v1/executions/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/v1/executions/{id}/force-fail", s.handleForceFail)

	mux.HandleFunc("POST /api/v1/safety/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/safety/unpause", s.handleUnpause)
	mux.HandleFunc("POST /api/v1/safety/breaker", s.handleTripBreaker)

	mux.HandleFunc("POST /api/v1/slashes", s.handleSlash)
	mux.HandleFunc("GET /api/v1/slashes/{id}", s.handleGetSlash)
	mux.HandleFunc("POST /api/v1/slashes/{id}/appeal", s.handleAppealSlash)
	mux.HandleFunc("POST /api/v1/slashes/{id}/overturn", s.handleOverturnSlash)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	if s.auth != nil {
		h = s.auth.Middleware(h)
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the public node snapshot.
type statusResponse struct {
	Cycle          uint64 `json:"cycle"`
	CycleStartedAt int64  `json:"cycle_started_at"`
	ActiveAgents   int    `json:"active_agents"`
	GlobalPaused   bool   `json:"global_paused"`
	PendingTasks   int    `json:"pending_executions,omitempty"`
	TotalSlashed   string `json:"total_slashed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cycle, startedAt := s.engine.CurrentCycle()
	resp := statusResponse{
		Cycle:          cycle,
		CycleStartedAt: startedAt,
		ActiveAgents:   s.engine.ActiveAgentCount(),
		GlobalPaused:   s.gate.GloballyPaused(),
		TotalSlashed:   s.gate.TotalSlashed().String(),
	}
	if s.bridge != nil {
		resp.PendingTasks = s.bridge.PendingCount()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fault.Invalid("malformed id %q", r.PathValue("id"))
	}
	return id, nil
}

// parseAmount parses a decimal token amount string into base units.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fault.Invalid("malformed amount %q", s)
	}
	return n, nil
}
