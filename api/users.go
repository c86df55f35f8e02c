package api

import (
	"net/http"
	"time"

	"chatserver/models"
)

type updateStatusRequest struct {
	Status string `json:"status"`
}

// userView is a user list entry with live presence folded in.
type userView struct {
	models.UserSummary
	Status     string    `json:"status"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

func validStatus(s string) bool {
	switch s {
	case models.StatusOnline, models.StatusAway, models.StatusBusy, models.StatusOffline:
		return true
	}
	return false
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		status, lastActive := s.presence.Get(r.Context(), u.ID)
		if lastActive.IsZero() {
			// No live entry. The stored row still carries the last chosen
			// status and activity time, but a stored "online" is stale
			// once the presence entry has expired.
			if stored, err := s.store.GetUser(r.Context(), u.ID); err == nil {
				lastActive = stored.LastActive
				if stored.Status != models.StatusOnline {
					status = stored.Status
				}
			}
		}
		out = append(out, userView{UserSummary: u, Status: status, LastActive: lastActive})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), requestUserID(r))
	if err != nil {
		writeStoreError(w, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "status must be one of online, away, busy, offline")
		return
	}
	user, err := s.store.UpdateUserStatus(r.Context(), userID, req.Status)
	if err != nil {
		writeStoreError(w, err, "User not found")
		return
	}
	if err := s.presence.Set(r.Context(), userID, req.Status); err != nil {
		s.logger.Warn("presence update failed")
	}
	s.emit(r.Context(), models.EventUserStatus, "", map[string]string{
		"userId": userID,
		"status": req.Status,
	})
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.store.ListPersonas(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, personas)
}
