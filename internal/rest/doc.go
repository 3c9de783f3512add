// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rest serves the biokey operations listener: health probes,
// Prometheus metrics and a read-only view of the interactive session.
//
// The listener is started by "biokey shell --listen" and never exposes
// key material or cipher operations.
//
// # Endpoints
//
//   - GET /health - aggregate readiness
//   - GET /health/live - liveness probe
//   - GET /health/ready - readiness probe with per-check results
//   - GET /health/startup - startup probe
//   - GET /metrics - Prometheus exposition (path is configurable)
//   - GET /api/v1/status - biometric availability and session state
package rest
