package api

import (
	"encoding/json"
	"net/http"

	"github.com/kara-bolt/karadao/pkg/bridge"
	"github.com/kara-bolt/karadao/pkg/contracts"
)

// --- execution bridge ---

type receiveExecutionRequest struct {
	ContentHash string `json:"content_hash"`
	Tier        string `json:"tier"`
}

type executionResponse struct {
	ID          uint64 `json:"id"`
	ContentHash string `json:"content_hash"`
	Tier        string `json:"tier"`
	RequestedAt int64  `json:"requested_at"`
	Executed    bool   `json:"executed"`
	Success     bool   `json:"success"`
	Executor    string `json:"executor,omitempty"`
	ResultRef   string `json:"result_ref,omitempty"`
	RetryCount  int    `json:"retry_count"`
}

func toExecutionResponse(e *bridge.Execution) executionResponse {
	return executionResponse{
		ID:          e.ID,
		ContentHash: e.ContentHash.String(),
		Tier:        e.Tier.String(),
		RequestedAt: e.RequestedAt,
		Executed:    e.Executed,
		Success:     e.Success,
		Executor:    string(e.Executor),
		ResultRef:   e.ResultRef,
		RetryCount:  e.RetryCount,
	}
}

func (s *Server) requireBridge(w http.ResponseWriter) bool {
	if s.bridge == nil {
		WriteNotFound(w, "Execution bridge is not enabled on this node")
		return false
	}
	return true
}

func (s *Server) handleReceiveExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req receiveExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	hash, err := contracts.HashFromHex(req.ContentHash)
	if err != nil {
		WriteBadRequest(w, "Malformed content_hash: expected 32-byte hex")
		return
	}
	tier, err := contracts.ParseTier(req.Tier)
	if err != nil {
		WriteBadRequest(w, "Unknown tier")
		return
	}
	id, err := s.bridge.ReceiveExecution(CallerFrom(r.Context()), hash, tier)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

type receiveBatchRequest struct {
	Items []receiveExecutionRequest `json:"items"`
}

func (s *Server) handleReceiveBatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req receiveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	hashes := make([]contracts.Hash, 0, len(req.Items))
	tiers := make([]contracts.Tier, 0, len(req.Items))
	for _, item := range req.Items {
		hash, err := contracts.HashFromHex(item.ContentHash)
		if err != nil {
			WriteBadRequest(w, "Malformed content_hash: expected 32-byte hex")
			return
		}
		tier, err := contracts.ParseTier(item.Tier)
		if err != nil {
			WriteBadRequest(w, "Unknown tier")
			return
		}
		hashes = append(hashes, hash)
		tiers = append(tiers, tier)
	}
	ids, err := s.bridge.ReceiveBatchExecution(CallerFrom(r.Context()), hashes, tiers)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string][]uint64{"ids": ids})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	e, err := s.bridge.GetExecution(id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, toExecutionResponse(e))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if err := s.bridge.ClaimExecution(CallerFrom(r.Context()), id); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"claimed": true})
}

type confirmRequest struct {
	Success   bool   `json:"success"`
	ResultRef string `json:"result_ref"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.bridge.ConfirmExecution(CallerFrom(r.Context()), id, req.Success, req.ResultRef); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"confirmed": true})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if err := s.bridge.RequestRetry(CallerFrom(r.Context()), id); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"retried": true})
}

func (s *Server) handleForceFail(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if err := s.bridge.ForceFailExecution(CallerFrom(r.Context()), id); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"failed": true})
}

// --- safety gate ---

type pauseRequest struct {
	Tier string `json:"tier,omitempty"` // empty requests a global pause
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	caller := CallerFrom(r.Context())
	if req.Tier == "" {
		if err := s.gate.GlobalPause(caller); err != nil {
			WriteFault(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"paused": true})
		return
	}
	tier, err := contracts.ParseTier(req.Tier)
	if err != nil {
		WriteBadRequest(w, "Unknown tier")
		return
	}
	if err := s.gate.EmergencyPause(caller, tier); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	caller := CallerFrom(r.Context())
	if req.Tier == "" {
		if err := s.gate.GlobalUnpause(caller); err != nil {
			WriteFault(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"paused": false})
		return
	}
	tier, err := contracts.ParseTier(req.Tier)
	if err != nil {
		WriteBadRequest(w, "Unknown tier")
		return
	}
	if err := s.gate.EmergencyUnpause(caller, tier); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type tripBreakerRequest struct {
	Tier         string `json:"tier"`
	DurationSecs int64  `json:"duration_secs"`
}

func (s *Server) handleTripBreaker(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req tripBreakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	tier, err := contracts.ParseTier(req.Tier)
	if err != nil {
		WriteBadRequest(w, "Unknown tier")
		return
	}
	if err := s.gate.TriggerCircuitBreaker(CallerFrom(r.Context()), tier, req.DurationSecs); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"tripped": true})
}

// --- slashing ---

type slashRequest struct {
	Agent  string `json:"agent"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

type slashResponse struct {
	ID         uint64 `json:"id"`
	Agent      string `json:"agent"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
	Timestamp  int64  `json:"timestamp"`
	Appealed   bool   `json:"appealed"`
	Overturned bool   `json:"overturned"`
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req slashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	id, err := s.gate.SlashAgent(CallerFrom(r.Context()), contracts.Address(req.Agent), amount, req.Reason)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleGetSlash(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	rec, err := s.gate.GetSlash(id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, slashResponse{
		ID:         rec.ID,
		Agent:      string(rec.Agent),
		Amount:     rec.Amount.String(),
		Reason:     rec.Reason,
		Timestamp:  rec.Timestamp,
		Appealed:   rec.Appealed,
		Overturned: rec.Overturned,
	})
}

type slashActionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAppealSlash(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req slashActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.gate.AppealSlash(CallerFrom(r.Context()), id, req.Reason); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"appealed": true})
}

func (s *Server) handleOverturnSlash(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req slashActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.gate.OverturnSlash(CallerFrom(r.Context()), id, req.Reason); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"overturned": true})
}
