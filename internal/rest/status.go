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

package rest

import (
	"context"
	"net/http"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
)

// SessionStatus is the read-only view of the interactive session.
type SessionStatus struct {
	Version      string `json:"version"`
	Availability string `json:"availability"`
	Message      string `json:"message"`
	CanEnroll    bool   `json:"can_enroll"`
	State        string `json:"state"`
	Pending      bool   `json:"pending"`
	HasPayload   bool   `json:"has_payload"`
	KeyName      string `json:"key_name"`
	Backend      string `json:"backend"`
}

// StatusFunc produces the current SessionStatus.
type StatusFunc func(ctx context.Context) (*SessionStatus, error)

// StatusHandler handles GET /api/v1/status.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, ErrUnavailable, "No session attached", http.StatusServiceUnavailable)
		return
	}
	st, err := s.status(r.Context())
	if err != nil {
		s.logger.Warn("Failed to read session status", logger.Error(err))
		s.writeError(w, ErrInternalError, "Failed to read session status", http.StatusInternalServerError)
		return
	}
	st.Version = s.version
	s.writeJSON(w, st, http.StatusOK)
}
