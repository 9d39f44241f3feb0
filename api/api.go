// Package api exposes the engine over HTTP (spec §4.G): creating sessions,
// submitting input to a suspended session, and reading a session's current
// status. Handlers follow the teacher pack's writeJSON/writeError style
// (nevindra-oasis's cmd/sandbox/handler.go) rather than a web framework,
// since the teacher itself sticks to net/http.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/stepflow/stepflow/engine"
)

// maxRequestBodyBytes bounds decoded request bodies, mirroring the
// teacher's io.LimitReader guard against unbounded client input.
const maxRequestBodyBytes = 1 << 20 // 1 MiB

// AwaitingInput mirrors engine.AwaitingInput for the wire: the step id is
// an internal detail, so only prompt/options cross the boundary.
type AwaitingInput struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// SessionResponse is the shape returned by every endpoint that reports
// session status (spec §4.G).
type SessionResponse struct {
	SessionID     string           `json:"session_id"`
	Status        string           `json:"status"`
	Messages      []engine.Message `json:"messages,omitempty"`
	AwaitingInput *AwaitingInput   `json:"awaiting_input,omitempty"`
}

// createSessionRequest is the POST /session body. WorkflowID names the
// graph to run against; adapters that hold a single workflow may ignore it.
type createSessionRequest struct {
	WorkflowID string                 `json:"workflow_id"`
	Input      map[string]interface{} `json:"input"`
}

// messageRequest is the POST /session/{id}/message body.
type messageRequest struct {
	Input interface{} `json:"input"`
}

// Server wires the engine and session store behind http.Handler. It holds
// no other state; every request is independent.
type Server struct {
	engine *engine.Engine
	store  *engine.SessionStore
	logger *log.Logger
}

// New returns a Server backed by eng/store. A nil logger discards log
// output.
func New(eng *engine.Engine, store *engine.SessionStore, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{engine: eng, store: store, logger: logger}
}

// Handler builds the routed http.Handler (Go 1.22+ ServeMux method+path
// patterns, same routing style the teacher pack's sandbox server uses).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /session", s.handleCreateSession)
	mux.HandleFunc("POST /session/{id}/message", s.handleMessage)
	mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	seed := make(map[string]engine.Value, len(req.Input))
	for k, v := range req.Input {
		seed[k] = engine.FromAny(v)
	}

	id, err := s.store.Create(r.Context(), req.WorkflowID, seed)
	if err != nil {
		s.internalError(w, "create session", err)
		return
	}

	result, err := s.engine.Process(r.Context(), id)
	if err != nil {
		s.internalError(w, "process session", err)
		return
	}
	s.respondResult(w, r.Context(), id, result)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.SubmitInput(r.Context(), id, req.Input)
	if err != nil {
		s.respondErr(w, "submit input", err)
		return
	}
	s.respondResult(w, r.Context(), id, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, awaiting, ok, err := s.engine.Snapshot(r.Context(), id)
	if err != nil {
		s.internalError(w, "snapshot session", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	state, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.internalError(w, "read session", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	resp := SessionResponse{
		SessionID: id,
		Status:    string(status),
		Messages:  state.Data.Messages,
	}
	if awaiting != nil {
		resp.AwaitingInput = &AwaitingInput{Prompt: awaiting.Prompt, Options: awaiting.Options}
	}
	writeJSON(w, http.StatusOK, resp)
}

// respondResult renders a ProcessResult as a SessionResponse, re-reading
// message history from the store since ProcessResult itself carries no
// messages.
func (s *Server) respondResult(w http.ResponseWriter, ctx context.Context, sessionID string, result engine.ProcessResult) {
	state, found, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.internalError(w, "read session", err)
		return
	}
	resp := SessionResponse{SessionID: sessionID, Status: string(result.Status)}
	if found {
		resp.Messages = state.Data.Messages
	}
	if result.AwaitingInput != nil {
		resp.AwaitingInput = &AwaitingInput{Prompt: result.AwaitingInput.Prompt, Options: result.AwaitingInput.Options}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) respondErr(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.internalError(w, action, err)
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.logger.Printf("%s: %v", action, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
