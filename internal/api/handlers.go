// ABOUTME: HTTP handlers for asking questions, reading threads and listing agents
// ABOUTME: /api/ask answers as JSON or streams progress and the result as server-sent events

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	sse "github.com/tmaxmax/go-sse"

	"github.com/2389/coven-relay/internal/agentapi"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/relay"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 64 << 10

// AskRequest is the JSON request body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	Agent    string `json:"agent,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// AskResponse is the JSON body returned by /api/ask and carried by the
// "result" event when streaming.
type AskResponse struct {
	*relay.Result
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// ProgressEvent is the data of a "progress" event.
type ProgressEvent struct {
	Message string `json:"message"`
}

// ThreadResponse is the JSON response for GET /api/threads/{id}.
type ThreadResponse struct {
	ThreadID string          `json:"thread_id"`
	Messages history.History `json:"messages"`
}

// AgentsResponse is the JSON response for GET /api/agents.
type AgentsResponse struct {
	Primary string           `json:"primary"`
	Agents  []agentapi.Entry `json:"agents"`
}

var (
	progressType = sse.Type("progress")
	resultType   = sse.Type("result")
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, err := parseAskRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if wantsEventStream(r) {
		s.streamAsk(w, r, req)
		return
	}

	res := s.session.Run(r.Context(), relay.Request{
		Question: req.Question,
		Agent:    req.Agent,
		ThreadID: req.ThreadID,
	})
	status := http.StatusOK
	if res.Failed() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, newAskResponse(res))
}

// streamAsk runs the round trip while forwarding progress as SSE.
func (s *Server) streamAsk(w http.ResponseWriter, r *http.Request, req *AskRequest) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("upgrading to event stream", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	send := func(typ sse.EventType, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		msg := &sse.Message{Type: typ}
		msg.AppendData(string(data))
		if err := sess.Send(msg); err != nil {
			return err
		}
		return sess.Flush()
	}

	res := s.session.Run(r.Context(), relay.Request{
		Question: req.Question,
		Agent:    req.Agent,
		ThreadID: req.ThreadID,
		Progress: func(message string) {
			if err := send(progressType, ProgressEvent{Message: message}); err != nil {
				s.logger.Debug("progress event not delivered", "error", err)
			}
		},
	})
	if err := send(resultType, newAskResponse(res)); err != nil {
		s.logger.Warn("result event not delivered", "thread_id", res.ThreadID, "error", err)
	}
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	store := s.session.Store()
	if !store.Has(r.Context(), threadID) {
		sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	h, err := store.Get(r.Context(), threadID)
	if err != nil {
		s.logger.Error("failed to load thread", "thread_id", threadID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ThreadResponse{ThreadID: threadID, Messages: h})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	catalog := s.session.Catalog()
	writeJSON(w, http.StatusOK, AgentsResponse{
		Primary: catalog.Primary(),
		Agents:  catalog.Entries(),
	})
}

func newAskResponse(res *relay.Result) AskResponse {
	resp := AskResponse{Result: res, ElapsedMS: res.Elapsed.Milliseconds()}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// parseAskRequest decodes and validates an AskRequest.
func parseAskRequest(r io.Reader) (*AskRequest, error) {
	var req AskRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, errors.New("question is required")
	}
	return &req, nil
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
