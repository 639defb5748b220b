// Package server is the HTTP and WebSocket boundary of the marketplace hub.
// It authenticates agents, translates requests into protocol operations and
// maps refusals onto status codes. All market rules live below it, in the
// negotiation engine and the stores.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/CodeUnit7/Isiziba/auth"
	"github.com/CodeUnit7/Isiziba/config"
	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/hub"
	"github.com/CodeUnit7/Isiziba/logging"
	"github.com/CodeUnit7/Isiziba/negotiation"
)

// Publisher mirrors market items onto the external discovery feed.
type Publisher interface {
	Publish(ctx context.Context, stream string, event any) error
}

// Options configures the Server.
type Options struct {
	// Logger receives structured request events. Defaults to NoOpLogger.
	Logger logging.Logger

	// Publisher mirrors posted items to the discovery stream. Nil
	// disables mirroring.
	Publisher Publisher
}

// Server routes the public API. It implements http.Handler.
type Server struct {
	auth   *auth.Service
	store  core.Store
	engine *negotiation.Engine
	hub    *hub.Hub
	cfg    config.Config
	mux    *http.ServeMux
	opts   Options
}

// New creates a Server with all routes registered.
func New(authSvc *auth.Service, store core.Store, engine *negotiation.Engine, h *hub.Hub, cfg config.Config, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Server{
		auth:   authSvc,
		store:  store,
		engine: engine,
		hub:    h,
		cfg:    cfg,
		mux:    http.NewServeMux(),
		opts:   opts,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleRoot)

	// Agents
	s.mux.HandleFunc("POST /agents/register", s.handleRegister)
	s.mux.HandleFunc("GET /agents", s.handleListAgents)
	s.mux.HandleFunc("GET /market/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /agents/{id}/reputation/history", s.handleReputationHistory)
	s.mux.HandleFunc("POST /agents/status", s.requireAgent(s.handleStatus))

	// Market
	s.mux.HandleFunc("POST /market/requests", s.requireAgent(s.handlePostRequest))
	s.mux.HandleFunc("POST /market/offers", s.requireAgent(s.handlePostOffer))
	s.mux.HandleFunc("POST /market/negotiate", s.requireAgent(s.handleNegotiate))
	s.mux.HandleFunc("GET /market/active", s.handleActiveItems)
	s.mux.HandleFunc("GET /market/feed", s.handleFeed)
	s.mux.HandleFunc("GET /market/negotiations", s.handleNegotiations)
	s.mux.HandleFunc("GET /market/trends", s.handleTrends)

	// Feedback
	s.mux.HandleFunc("POST /feedback/submit", s.handleSubmitFeedback)
	s.mux.HandleFunc("GET /feedback/history", s.handleFeedbackHistory)

	// Real-time channel and introspection
	s.mux.HandleFunc("GET /ws/market", s.handleWebSocket)
	s.mux.HandleFunc("GET /debug/connections", s.handleDebugConnections)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Marketplace API Online"})
}

// requireAgent resolves the X-API-Key header to an agent before invoking the
// handler. Unknown credentials and registry failures both return 403; the
// distinction stays in the logs.
func (s *Server) requireAgent(next func(w http.ResponseWriter, r *http.Request, agent *core.Agent)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusForbidden, "missing API key")
			return
		}
		agent, err := s.auth.Authorize(r.Context(), key)
		if err != nil {
			s.opts.Logger.Warn("authorization refused",
				"path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			writeError(w, http.StatusForbidden, "Invalid API Key")
			return
		}
		next(w, r, agent)
	}
}

// decode parses a JSON body, bounded to keep abusive payloads out.
func decode(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// writeRefusal maps a protocol error onto its status code and wire shape.
// ProtocolViolations carry their machine-checkable reason; everything else
// degrades to a plain detail string.
func (s *Server) writeRefusal(w http.ResponseWriter, err error) {
	var violation *core.ProtocolViolation
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"detail": violation.Detail,
			"reason": violation.Reason,
		})
		return
	}
	var invalid *core.ValidationError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, invalid.Error())
		return
	}
	if errors.Is(err, core.ErrOfferNotFound) || errors.Is(err, core.ErrAgentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var denied *core.AuthorizationError
	if errors.As(err, &denied) {
		writeError(w, http.StatusForbidden, denied.Reason)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// limitParam parses a ?limit= query value with a default and a hard ceiling.
func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
