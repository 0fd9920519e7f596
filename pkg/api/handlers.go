package api

import (
	"encoding/json"
	"net/http"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/treasury"
)

// --- proposals ---

type submitProposalRequest struct {
	ContentHash string `json:"content_hash"` // 32-byte hex
	Tier        string `json:"tier"`
}

type proposalResponse struct {
	ID           uint64 `json:"id"`
	ContentHash  string `json:"content_hash"`
	Tier         string `json:"tier"`
	Proposer     string `json:"proposer"`
	Start        int64  `json:"start"`
	End          int64  `json:"end"`
	Cycle        uint64 `json:"cycle"`
	ForVotes     string `json:"for_votes"`
	AgainstVotes string `json:"against_votes"`
	Executed     bool   `json:"executed"`
	Vetoed       bool   `json:"vetoed"`
}

func toProposalResponse(p *governance.Proposal) proposalResponse {
	return proposalResponse{
		ID:           p.ID,
		ContentHash:  p.ContentHash.String(),
		Tier:         p.Tier.String(),
		Proposer:     string(p.Proposer),
		Start:        p.Start,
		End:          p.End,
		Cycle:        p.Cycle,
		ForVotes:     p.ForVotes.String(),
		AgainstVotes: p.AgainstVotes.String(),
		Executed:     p.Executed,
		Vetoed:       p.Vetoed,
	}
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req submitProposalRequest
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

	id, err := s.engine.SubmitProposal(CallerFrom(r.Context()), hash, tier)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	p, err := s.engine.GetProposal(id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, toProposalResponse(p))
}

type castVoteRequest struct {
	Support bool `json:"support"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.engine.CastVote(CallerFrom(r.Context()), id, req.Support); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	execID, err := s.engine.ExecuteWinningProposal(CallerFrom(r.Context()), id)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]uint64{"execution_id": execID})
}

type vetoRequest struct {
	Reason string `json:"reason"`
}

// handleVeto routes through the safety gate, which records the veto locally
// and propagates it into governance. Chief-only at the domain layer.
func (s *Server) handleVeto(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req vetoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.gate.VetoCritical(CallerFrom(r.Context()), id, req.Reason); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"vetoed": true})
}

// --- agents ---

type registerAgentRequest struct {
	Metadata json.RawMessage `json:"metadata"`
}

type agentResponse struct {
	Address      string `json:"address"`
	RegisteredAt int64  `json:"registered_at"`
	Stake        string `json:"stake"`
	Reputation   int    `json:"reputation"`
	Metadata     string `json:"metadata"`
	Active       bool   `json:"active"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.engine.RegisterAgent(CallerFrom(r.Context()), string(req.Metadata)); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]bool{"registered": true})
}

func (s *Server) handleDeregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeregisterAgent(CallerFrom(r.Context())); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"deregistered": true})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.GetAgent(contracts.Address(r.PathValue("addr")))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, agentResponse{
		Address:      string(a.Address),
		RegisteredAt: a.RegisteredAt,
		Stake:        a.Stake.String(),
		Reputation:   a.Reputation,
		Metadata:     a.Metadata,
		Active:       a.Active,
	})
}

// --- staking and delegation ---

type delegateRequest struct {
	Target string `json:"target"` // empty clears the delegation
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.engine.Delegate(CallerFrom(r.Context()), contracts.Address(req.Target)); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"delegated": true})
}

type stakerResponse struct {
	Address     string `json:"address"`
	Amount      string `json:"amount"`
	LockEnd     int64  `json:"lock_end"`
	DelegatedTo string `json:"delegated_to,omitempty"`
	Multiplier  int    `json:"multiplier"`
	VotingPower string `json:"voting_power"`
}

func (s *Server) handleGetStaker(w http.ResponseWriter, r *http.Request) {
	addr := contracts.Address(r.PathValue("addr"))
	st, err := s.engine.GetStaker(addr)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, stakerResponse{
		Address:     string(st.Address),
		Amount:      st.Amount.String(),
		LockEnd:     st.LockEnd,
		DelegatedTo: string(st.DelegatedTo),
		Multiplier:  st.Multiplier,
		VotingPower: s.engine.GetVotingPower(addr).String(),
	})
}

type stakeRequest struct {
	Amount string `json:"amount"` // base units, decimal string
	Lock   string `json:"lock"`   // none | 1y | 2y | 4y
}

// parseLockChoice maps the wire lock name to a treasury lock tier.
func parseLockChoice(s string) (treasury.LockChoice, bool) {
	switch s {
	case "", "none":
		return treasury.LockNone, true
	case "1y":
		return treasury.LockYear1, true
	case "2y":
		return treasury.LockYear2, true
	case "4y":
		return treasury.LockYear4, true
	}
	return treasury.LockNone, false
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	if s.treasury == nil {
		WriteNotFound(w, "Staking is not enabled on this node")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	lock, ok := parseLockChoice(req.Lock)
	if !ok {
		WriteBadRequest(w, "Unknown lock choice (expected none, 1y, 2y, or 4y)")
		return
	}
	if err := s.treasury.Stake(CallerFrom(r.Context()), amount, lock); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"staked": true})
}

type unstakeRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	if s.treasury == nil {
		WriteNotFound(w, "Staking is not enabled on this node")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req unstakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	if err := s.treasury.Unstake(CallerFrom(r.Context()), amount); err != nil {
		WriteFault(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"unstaked": true})
}
