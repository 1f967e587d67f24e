package rpcserver

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chatvector/internal/logging"
	"chatvector/internal/tools"
)

// maxBodyBytes is the request body ceiling (spec §4.9).
const maxBodyBytes = 1 << 20

const (
	serverName    = "chatvector"
	sessionHeader = "Mcp-Session-Id"
)

// Config configures a Server.
type Config struct {
	Whitelist       []string
	AllowedOrigins  []string
	RateLimitPerMin int
}

// Server is the C9 request server: a single JSON-RPC 2.0 endpoint wrapping
// the C8 tool registry.
type Server struct {
	registry  tools.Registry
	sessions  *sessionStore
	limiter   *sessionLimiter
	whitelist []string
	origins   map[string]bool
	log       zerolog.Logger
	mux       *http.ServeMux
}

// NewServer constructs a Server. Wrap the result in otelhttp via Handler()
// before passing to http.ListenAndServe.
func NewServer(registry tools.Registry, cfg Config) *Server {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 60
	}
	log := logging.For("rpcserver")
	s := &Server{
		sessions:  newSessionStore(),
		limiter:   newSessionLimiter(limit),
		whitelist: cfg.Whitelist,
		origins:   origins,
		log:       log,
		mux:       http.NewServeMux(),
	}
	// Wrap the registry so every tools/call dispatch is audit-logged, win or
	// lose, at the server boundary (spec §4.9's request-level observability).
	s.registry = tools.NewRecordingRegistry(registry, s.logDispatch)
	s.mux.HandleFunc("POST /rpc", s.handleRPC)
	s.mux.HandleFunc("OPTIONS /rpc", s.handleOptions)
	return s
}

// Handler returns the traced http.Handler to serve, wrapped in otelhttp per
// the teacher's observability convention.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, serverName)
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORSHeaders(w, r)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) applyCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !s.origins[origin] {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+sessionHeader)
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// logDispatch is the tools.DispatchEvent sink for the audit-logging
// registry wrapper constructed in NewServer.
func (s *Server) logDispatch(ev tools.DispatchEvent) {
	entry := s.log.Info()
	if ev.Err != nil {
		entry = s.log.Warn().Err(ev.Err)
	}
	entry.Str("tool", ev.Name).Int("args_bytes", len(ev.Args)).Msg("tool dispatched")
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, codeParseOrMalformed, "malformed request: "+err.Error(), nil))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeParseOrMalformed, "missing method", nil))
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, r, req)
		return
	}

	subject := checkBearer(r, s.whitelist)
	if subject == "" {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeAuthFailed, "authentication failed", nil))
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if !s.sessions.validate(sessionID) {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeSessionInvalid, "session invalid or expired", nil))
		return
	}
	if !s.limiter.allow(sessionID) {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeUpstreamFailure, "rate limit exceeded", map[string]any{"provider": "session", "retryable": true}))
		return
	}

	switch req.Method {
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method, nil))
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req request) {
	subject := checkBearer(r, s.whitelist)
	if subject == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	sess := s.sessions.create(subject)
	result := initializeResult{
		SessionID:    sess.SessionID,
		Capabilities: map[string]any{"tools": true},
		ServerInfo:   map[string]any{"name": serverName},
	}
	writeJSON(w, http.StatusOK, resultResponse(req.ID, result))
}

func (s *Server) handleToolsList(w http.ResponseWriter, req request) {
	writeJSON(w, http.StatusOK, resultResponse(req.ID, map[string]any{"tools": s.registry.Schemas()}))
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req request) {
	var params toolsCallParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, codeInvalidParams, "malformed params: "+err.Error(), nil))
			return
		}
	}
	if params.Name == "" {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeInvalidParams, "missing tool name", nil))
		return
	}

	result, err := s.registry.Dispatch(r.Context(), params.Name, params.Arguments)
	if err != nil {
		s.writeToolError(w, req, params.Name, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(req.ID, result))
}

func (s *Server) writeToolError(w http.ResponseWriter, req request, toolName string, err error) {
	switch {
	case err == tools.ErrNotFound:
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeMethodNotFound, "Method not found", nil))
	default:
		if ipe, ok := err.(*tools.InvalidParamsError); ok {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, codeInvalidParams, ipe.Message, nil))
			return
		}
		s.log.Error().Err(err).Str("tool", toolName).Msg("tool dispatch failed")
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeUpstreamFailure, "tool dispatch failed", map[string]any{"provider": toolName, "retryable": true}))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
