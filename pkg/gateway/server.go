// Package gateway implements the HTTP surface: POST /v1/stream starts a
// session and streams its frames back as Server-Sent Events, GET /health
// reports liveness.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaygrid/framegate/pkg/frame/session"
)

// Server wires the stream session controller to HTTP.
type Server struct {
	Controller *session.Controller
	Logger     *slog.Logger

	mux *http.ServeMux
}

// NewServer creates a Server ready to be used as an http.Handler.
func NewServer(controller *session.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Controller: controller, Logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/stream", s.handleStream)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// streamRequest is the POST /v1/stream body. mode and testKey select one of
// the named test scenarios instead of driving a real prompt; a production
// Provider ignores them, a fixture Provider reads them back via
// session.ModeFromContext.
type streamRequest struct {
	Prompt  string `json:"prompt,omitempty"`
	Mode    string `json:"mode,omitempty"`
	TestKey string `json:"testKey,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Prompt == "" && req.Mode == "" {
		http.Error(w, "prompt or mode must be set", http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		idemKey = sessionID
	}

	var msgs []session.Message
	if req.Prompt != "" {
		msgs = append(msgs, session.Message{Role: "user", Content: req.Prompt})
	}

	ctx := session.WithMode(r.Context(), req.Mode, req.TestKey)
	em := s.Controller.Start(ctx, sessionID, idemKey, msgs)

	if err := em.Run(ctx, w); err != nil {
		s.Logger.Error("frame session aborted", "session_id", sessionID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "model": s.Controller.Model})
}
