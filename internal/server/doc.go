// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the localhost HTTP API for the claim routing
// engine.
//
// Upstream assessment services submit claims and assessment documents over
// this surface; operators and dashboards read state through it. The server
// binds to loopback by default and fronts the same pipeline the CLI and
// filesystem intake use, so every path produces identical decisions and
// audit records.
//
// # Endpoints
//
//   - POST /v1/claims                 - Register a claim
//   - GET  /v1/claims                 - List claims (optional state/limit)
//   - GET  /v1/claims/{id}            - Fetch a claim
//   - POST /v1/claims/{id}/route      - Route with a submitted assessment
//   - GET  /v1/claims/{id}/decisions  - Decision history for a claim
//   - GET  /v1/decisions/{id}         - Fetch a single decision
//   - GET  /v1/stats                  - Usage statistics
//   - GET  /health                    - Health check
//
// # Security Features
//
//   - API key authentication with constant-time comparison
//   - Token-bucket rate limiting, global and per-caller
//   - Request body size caps
//   - Security headers on every response
//   - Denied requests recorded in the audit trail
//
// # Key Types
//
//   - Server: HTTP server with router and middleware chain
//   - AuthConfig: API key configuration
//   - RateLimiter: global plus per-caller token buckets
//
// # Status Mapping
//
// Domain errors surface as conventional statuses: unknown resources are
// 404, duplicate registrations and commit conflicts are 409, invalid
// amounts and incomplete assessments are 422.
package server
