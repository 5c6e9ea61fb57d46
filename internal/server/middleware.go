// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server middleware: authentication, rate limiting, security
// headers, request logging, and panic recovery.
//
// Implements security controls for the claim intake API:
//   - API key authentication with constant-time comparison
//   - Token-bucket rate limiting, global and per-caller
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//   - Request logging with timing information
//   - Panic recovery with stack trace logging
package server

import (
	"crypto/subtle"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// Auth Configuration and Middleware
// ============================================================================

// AuthConfig contains authentication configuration options.
type AuthConfig struct {
	// Enabled indicates whether authentication is required.
	Enabled bool

	// Keys holds the accepted API keys. Empty with Enabled set means every
	// request is rejected.
	Keys []string

	// Denied, when set, is called for each rejected request. The server
	// wires this to the audit trail.
	Denied func(ip, reason string)
}

// DefaultAuthConfig returns an AuthConfig with authentication disabled.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{}
}

// deny reports a rejection to the configured sink and logs it.
func (c *AuthConfig) deny(ip, reason string) {
	log.Printf("AUTH_DENIED | ip=%s reason=%s", ip, reason)
	if c.Denied != nil {
		c.Denied(ip, reason)
	}
}

// apiKeyFrom extracts the presented API key from a request. Both the
// Authorization Bearer scheme and the X-Api-Key header are accepted.
func apiKeyFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}

// ValidateAPIKey compares the presented key against each accepted key using
// constant-time comparison. Empty keys never match.
func ValidateAPIKey(presented string, accepted []string) bool {
	if presented == "" {
		return false
	}
	valid := false
	for _, key := range accepted {
		if key == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			valid = true
		}
	}
	return valid
}

// AuthMiddleware returns HTTP middleware that authenticates requests.
// The health endpoint stays open so process supervisors can probe without
// credentials. Returns 401 Unauthorized on failure.
func AuthMiddleware(config *AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := GetClientIP(r)
			key := apiKeyFrom(r)
			if key == "" {
				config.deny(clientIP, "missing_api_key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !ValidateAPIKey(key, config.Keys) {
				config.deny(clientIP, "invalid_api_key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter enforces a global request budget plus an independent budget
// per caller. The per-caller key is the API key when one is presented,
// otherwise the client IP. Idle caller limiters are dropped periodically.
type RateLimiter struct {
	global    *rate.Limiter
	perCaller map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	mu        sync.Mutex
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter allowing perSecond requests with the
// given burst, applied both globally and per caller.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		global:    rate.NewLimiter(rate.Limit(perSecond), burst),
		perCaller: make(map[string]*callerLimiter),
		limit:     rate.Limit(perSecond),
		burst:     burst,
	}
	go rl.cleanup()
	return rl
}

// DefaultRateLimiter returns a RateLimiter with default settings:
// 20 requests per second with a burst of 50.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(20, 50)
}

// Allow reports whether a request from the given caller fits both budgets.
func (rl *RateLimiter) Allow(caller string) bool {
	if !rl.global.Allow() {
		return false
	}
	return rl.limiterFor(caller).Allow()
}

// limiterFor returns the caller's limiter, creating it on first sight.
func (rl *RateLimiter) limiterFor(caller string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.perCaller[caller]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.perCaller[caller] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// cleanup drops limiters for callers idle longer than ten minutes.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for caller, cl := range rl.perCaller {
			if cl.lastSeen.Before(cutoff) {
				delete(rl.perCaller, caller)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware returns HTTP middleware that enforces rate limiting.
// Returns 429 Too Many Requests when either budget is exhausted.
func RateLimitMiddleware(limiter *RateLimiter, denied func(ip, reason string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := apiKeyFrom(r)
			if caller == "" {
				caller = GetClientIP(r)
			}

			if !limiter.Allow(caller) {
				clientIP := GetClientIP(r)
				w.Header().Set("Retry-After", "1")
				log.Printf("RATE_LIMIT_EXCEEDED | ip=%s", clientIP)
				if denied != nil {
					denied(clientIP, "rate_limited")
				}
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware returns HTTP middleware that logs all requests.
//
// Log format: "2024-01-15 14:30:45 | POST /v1/claims | 201 | 0.004s"
func LoggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			logger.Printf("%s | %s %s | %d | %.3fs",
				start.Format("2006-01-02 15:04:05"),
				r.Method,
				r.URL.Path,
				wrapped.statusCode,
				time.Since(start).Seconds(),
			)
		})
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware returns HTTP middleware that adds security
// headers. Responses carry claim and policy identifiers, so caching is
// disabled everywhere.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
			w.Header().Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware returns HTTP middleware that recovers from panics,
// logs the stack trace, and returns 500 to the client.
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s",
						r.Method, r.URL.Path, err, debug.Stack())
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes multiple middleware functions into a single middleware.
// Middlewares are applied in the order provided.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// IP Extraction Helper
// ============================================================================

// GetClientIP extracts the client IP address from an HTTP request.
//
// The server binds to loopback, so forwarded headers are only honored when
// the direct connection itself comes from loopback (a local reverse proxy).
// This prevents header spoofing from bypassing rate limits.
func GetClientIP(r *http.Request) string {
	connIP := remoteIP(r.RemoteAddr)

	ip := net.ParseIP(connIP)
	if ip == nil || !ip.IsLoopback() {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	return connIP
}

// remoteIP strips the port from an "IP:port" remote address.
func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
