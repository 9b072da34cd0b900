package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	log "github.com/inconshreveable/log15"

	"github.com/ibizsoftware/auditledger/audit"
)

// Server is the HTTP/JSON transport for FileAuditService and
// BlockChainService: one route per method, matching the request/response
// semantics spec.md §6 lists, with JSON request/response bodies standing
// in for the framing spec.md leaves external to the core.
type Server struct {
	router *httprouter.Router
	audit  AuditBackend
	chain  BlockChainBackend
	log    log.Logger
}

// NewServer wires auditBackend and chainBackend to their routes.
func NewServer(auditBackend AuditBackend, chainBackend BlockChainBackend) *Server {
	s := &Server{
		router: httprouter.New(),
		audit:  auditBackend,
		chain:  chainBackend,
		log:    log.New("component", "rpc-server"),
	}
	s.router.POST("/rpc/SubmitAudit", s.handleSubmitAudit)
	s.router.POST("/rpc/WhisperAuditRequest", s.handleWhisperAuditRequest)
	s.router.POST("/rpc/ProposeBlock", s.handleProposeBlock)
	s.router.POST("/rpc/CommitBlock", s.handleCommitBlock)
	s.router.POST("/rpc/GetBlock", s.handleGetBlock)
	s.router.POST("/rpc/SendHeartbeat", s.handleSendHeartbeat)
	s.router.POST("/rpc/TriggerElection", s.handleTriggerElection)
	s.router.POST("/rpc/NotifyLeadership", s.handleNotifyLeadership)
	return s
}

// ServeHTTP implements http.Handler, so Server can be handed directly to
// http.Server or httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// recover, deferred at the top of every handler, turns a panic inside the
// handler into a 500 and a logged error instead of taking the whole
// process down (spec §7:
// "handlers ... must not crash the server").
func (s *Server) recover(w http.ResponseWriter) {
	if rec := recover(); rec != nil {
		s.log.Error("recovered panic in rpc handler", "panic", rec)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type submitAuditResponse struct {
	ReqID  string `json:"req_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitAudit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var a audit.Audit
	if err := decodeJSON(r, &a); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	reqID, status := s.audit.SubmitAudit(a)
	if status != "success" {
		writeJSON(w, http.StatusBadRequest, submitAuditResponse{ReqID: reqID, Status: status})
		return
	}
	writeJSON(w, http.StatusOK, submitAuditResponse{ReqID: reqID, Status: status})
}

type whisperResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleWhisperAuditRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var a audit.Audit
	if err := decodeJSON(r, &a); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	status := s.chain.WhisperAuditRequest(a)
	if status != "success" {
		writeJSON(w, http.StatusBadRequest, whisperResponse{Status: status})
		return
	}
	writeJSON(w, http.StatusOK, whisperResponse{Status: status})
}

type voteResponse struct {
	Vote         bool   `json:"vote"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (s *Server) handleProposeBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var b audit.Block
	if err := decodeJSON(r, &b); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	vote, status, errMsg := s.chain.ProposeBlock(b)
	writeJSON(w, http.StatusOK, voteResponse{Vote: vote, Status: status, ErrorMessage: errMsg})
}

type commitResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (s *Server) handleCommitBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var b audit.Block
	if err := decodeJSON(r, &b); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	status, errMsg := s.chain.CommitBlock(b)
	writeJSON(w, http.StatusOK, commitResponse{Status: status, ErrorMessage: errMsg})
}

type getBlockRequest struct {
	ID int64 `json:"id"`
}

type getBlockResponse struct {
	Block        audit.Block `json:"block"`
	Status       string      `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var req getBlockRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	b, status, errMsg := s.chain.GetBlock(req.ID)
	writeJSON(w, http.StatusOK, getBlockResponse{Block: b, Status: status, ErrorMessage: errMsg})
}

func (s *Server) handleSendHeartbeat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var req HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	s.chain.SendHeartbeat(req)
	writeJSON(w, http.StatusOK, struct{}{})
}

type triggerElectionRequest struct {
	Term    int64  `json:"term"`
	Address string `json:"address"`
}

type triggerElectionResponse struct {
	Vote bool `json:"vote"`
}

func (s *Server) handleTriggerElection(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var req triggerElectionRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	vote := s.chain.TriggerElection(req.Term, req.Address)
	writeJSON(w, http.StatusOK, triggerElectionResponse{Vote: vote})
}

type notifyLeadershipRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleNotifyLeadership(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer s.recover(w)
	var req notifyLeadershipRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	s.chain.NotifyLeadership(req.Address)
	writeJSON(w, http.StatusOK, struct{}{})
}
