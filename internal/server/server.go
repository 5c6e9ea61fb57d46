// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the localhost HTTP API for claim routing.
//
// Endpoints:
//   - POST /v1/claims                 - Register a claim
//   - GET  /v1/claims                 - List claims (optional state/limit)
//   - GET  /v1/claims/{id}            - Fetch a claim
//   - POST /v1/claims/{id}/route      - Route with a submitted assessment
//   - GET  /v1/claims/{id}/decisions  - Decision history for a claim
//   - GET  /v1/decisions/{id}         - Fetch a single decision
//   - GET  /v1/stats                  - Usage statistics
//   - GET  /health                    - Health check
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultHost binds the server to loopback only. Claim data never rides
	// an open interface.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8791

	// MaxRequestBodySize caps request bodies (1MB). Assessment bundles are
	// small documents; anything larger is malformed or hostile.
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxListLimit caps the page size of listing endpoints.
	MaxListLimit = 500

	// Version is the API server version.
	Version = "0.3.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage statistics.
type ServerStats struct {
	TotalRequests    int64     `json:"total_requests"`
	ClaimsRegistered int64     `json:"claims_registered"`
	DecisionsRouted  int64     `json:"decisions_routed"`
	Conflicts        int64     `json:"conflicts"`
	Rejected         int64     `json:"rejected"`
	StartTime        time.Time `json:"start_time"`
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// GetStats returns a copy of the current stats.
func (s *ServerStats) GetStats() ServerStats {
	return ServerStats{
		TotalRequests:    atomic.LoadInt64(&s.TotalRequests),
		ClaimsRegistered: atomic.LoadInt64(&s.ClaimsRegistered),
		DecisionsRouted:  atomic.LoadInt64(&s.DecisionsRouted),
		Conflicts:        atomic.LoadInt64(&s.Conflicts),
		Rejected:         atomic.LoadInt64(&s.Rejected),
		StartTime:        s.StartTime,
	}
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server over the routing pipeline.
type Server struct {
	host   string
	port   int
	router *http.ServeMux
	server *http.Server

	pipe    *pipeline.Service
	stats   *ServerStats
	auth    *AuthConfig
	limiter *RateLimiter
	audit   *audit.Log

	mu sync.RWMutex
}

// NewServer creates a Server over the given pipeline. If port is 0 the
// default port (8791) is used; an empty host binds loopback.
func NewServer(pipe *pipeline.Service, host string, port int) *Server {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		host:    host,
		port:    port,
		router:  http.NewServeMux(),
		pipe:    pipe,
		stats:   NewServerStats(),
		auth:    DefaultAuthConfig(),
		limiter: DefaultRateLimiter(),
	}

	s.setupRoutes()
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = config
	return s
}

// WithRateLimiter sets a custom rate limiter.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
	return s
}

// WithAudit attaches the audit log; denied requests are then recorded.
func (s *Server) WithAudit(log *audit.Log) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = log
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/claims", s.handleRegisterClaim)
	s.router.HandleFunc("GET /v1/claims", s.handleListClaims)
	s.router.HandleFunc("GET /v1/claims/{id}", s.handleGetClaim)
	s.router.HandleFunc("POST /v1/claims/{id}/route", s.handleRouteClaim)
	s.router.HandleFunc("GET /v1/claims/{id}/decisions", s.handleListDecisions)
	s.router.HandleFunc("GET /v1/decisions/{id}", s.handleGetDecision)

	s.router.HandleFunc("GET /v1/stats", s.handleStats)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// RegisterClaimRequest is the body for POST /v1/claims.
type RegisterClaimRequest struct {
	ClaimNumber  string `json:"claim_number"`
	PolicyNumber string `json:"policy_number"`
	ClaimType    string `json:"claim_type"`
	AmountCents  int64  `json:"amount_cents"`
}

// RouteResponse is the body returned by POST /v1/claims/{id}/route.
type RouteResponse struct {
	Claim    *claim.Claim      `json:"claim"`
	Decision *routing.Decision `json:"decision"`
	Attempts int               `json:"attempts"`
	Warning  string            `json:"warning,omitempty"`
}

// ============================================================================
// CLAIM HANDLERS
// ============================================================================

// handleRegisterClaim handles POST /v1/claims.
func (s *Server) handleRegisterClaim(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req RegisterClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	c, err := s.pipe.Register(r.Context(), req.ClaimNumber, req.PolicyNumber, claim.Type(req.ClaimType), req.AmountCents)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	atomic.AddInt64(&s.stats.ClaimsRegistered, 1)
	s.writeJSON(w, http.StatusCreated, c)
}

// handleListClaims handles GET /v1/claims. Optional query parameters:
// state filters by routing state, limit caps the result count.
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var state claim.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := claim.ParseState(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", raw))
			return
		}
		state = parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	claims, err := s.pipe.Store.ListClaims(r.Context(), state, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"claims": claims, "count": len(claims)})
}

// handleGetClaim handles GET /v1/claims/{id}.
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	c, err := s.pipe.Store.GetClaim(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// handleRouteClaim handles POST /v1/claims/{id}/route. The body is an
// assessment document; the claim is routed against it and the committed
// decision returned. A committed decision with a failed downstream hand-off
// still returns 200, with the failure noted.
func (s *Server) handleRouteClaim(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var in assessment.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	res, err := s.pipe.RouteWith(r.Context(), r.PathValue("id"), &in)
	if err != nil && res == nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			atomic.AddInt64(&s.stats.Conflicts, 1)
		}
		s.writeDomainError(w, err)
		return
	}

	atomic.AddInt64(&s.stats.DecisionsRouted, 1)
	resp := RouteResponse{
		Claim:    res.Claim,
		Decision: res.Decision,
		Attempts: res.Attempts,
	}
	if err != nil {
		// Decision is durable; only the fan-out failed.
		log.Printf("ROUTE_FANOUT_ERROR | claim=%s decision=%s error=%v", res.Claim.ID, res.Decision.ID, err)
		resp.Warning = "decision committed; downstream hand-off failed"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleListDecisions handles GET /v1/claims/{id}/decisions.
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	claimID := r.PathValue("id")
	if _, err := s.pipe.Store.GetClaim(r.Context(), claimID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	decisions, err := s.pipe.Store.Decisions(r.Context(), claimID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

// handleGetDecision handles GET /v1/decisions/{id}.
func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	d, err := s.pipe.Store.GetDecision(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// ============================================================================
// STATS HANDLER
// ============================================================================

// StatsResponse represents the usage statistics response.
type StatsResponse struct {
	Server        ServerStats       `json:"server"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Window        *telemetry.Window `json:"window,omitempty"`
	Claims        map[string]int    `json:"claims_by_state"`
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	resp := StatsResponse{
		Server:        s.stats.GetStats(),
		UptimeSeconds: int64(s.stats.Uptime().Seconds()),
		Claims:        make(map[string]int),
	}

	if s.pipe.Metrics != nil {
		resp.Window = s.pipe.Metrics.CurrentWindow()
	}
	if stats, err := s.pipe.Store.Stats(r.Context()); err == nil {
		for state, count := range stats.ByState {
			resp.Claims[string(state)] = count
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	StoreStatus   string `json:"store_status"`
	AuditStatus   string `json:"audit_status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(s.stats.Uptime().Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.pipe.Store.Stats(ctx); err == nil {
		health.StoreStatus = "ok"
	} else {
		health.StoreStatus = "unavailable"
		health.Status = "degraded"
	}

	if s.pipe.Audit != nil {
		health.AuditStatus = "enabled"
	} else {
		health.AuditStatus = "disabled"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Handler returns the fully assembled handler: router behind the
// middleware chain. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	auth := s.auth
	limiter := s.limiter
	s.mu.RUnlock()

	handler := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(limiter, s.recordDenial),
	)(s.router)

	if auth != nil && auth.Enabled {
		if auth.Denied == nil {
			auth.Denied = s.recordDenial
		}
		handler = AuthMiddleware(auth)(handler)
	}
	return handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", s.Addr(), Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// recordDenial writes denied requests to the audit trail when attached.
func (s *Server) recordDenial(ip, reason string) {
	atomic.AddInt64(&s.stats.Rejected, 1)

	s.mu.RLock()
	auditLog := s.audit
	s.mu.RUnlock()
	if auditLog == nil {
		return
	}
	_ = auditLog.Append(audit.Event{
		Kind:   audit.EventAccessDenied,
		Detail: map[string]string{"reason": reason, "surface": "server", "ip": ip},
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}

// writeDecodeError maps body-decoding failures. Details are logged
// internally; the client gets a generic message.
func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
		return
	}
	log.Printf("DECODE_ERROR | error=%v", err)
	s.writeError(w, http.StatusBadRequest, "invalid request body")
}

// writeDomainError maps domain errors onto HTTP statuses:
//
//	404 unknown claim or decision
//	409 duplicate registration, commit conflict, or transition refusal
//	422 invalid amounts and incomplete assessments
//	400 everything else the caller shaped wrong
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateClaim),
		errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, claim.ErrClaimTerminal),
		errors.Is(err, claim.ErrNotRoutable),
		errors.Is(err, claim.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, claim.ErrInvalidClaimAmount),
		errors.Is(err, claim.ErrInvalidClaimNumber),
		errors.Is(err, assessment.ErrIncompleteAssessment),
		errors.Is(err, assessment.ErrMalformedAssessment):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, claim.ErrUnknownState):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("INTERNAL_ERROR | error=%v", err)
		s.writeError(w, status, "request processing failed")
		return
	}
	s.writeError(w, status, err.Error())
}
