package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// writeRequest is the POST /write body.
type writeRequest struct {
	GA    string `json:"ga"`
	DPT   string `json:"dpt,omitempty"`
	Value any    `json:"value"`
}

// readRequest is the POST /read body.
type readRequest struct {
	GA string `json:"ga"`
}

// commandResponse acknowledges a /write or /read request. The resulting bus
// indication, if any, still arrives asynchronously on the event stream.
type commandResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

const commandTimeout = 5 * time.Second

// handleWrite drives the gateway's Write API for the requested group address.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.GA == "" {
		writeBadRequest(w, "ga is required")
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	resp := commandResponse{ID: id, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := s.gw.Write(ctx, req.GA, req.DPT, req.Value); err != nil {
		resp.Status = "failed"
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	resp.Status = "accepted"
	writeJSON(w, http.StatusAccepted, resp)
}

// handleRead drives the gateway's Read API for the requested group address.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.GA == "" {
		writeBadRequest(w, "ga is required")
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	resp := commandResponse{ID: id, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := s.gw.Read(ctx, req.GA); err != nil {
		resp.Status = "failed"
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	resp.Status = "accepted"
	writeJSON(w, http.StatusAccepted, resp)
}
