package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chatserver/auth"
	"chatserver/models"
)

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// markOnline records a live presence entry for a freshly authenticated user.
func (s *Server) markOnline(r *http.Request, userID string) {
	if err := s.presence.Set(r.Context(), userID, models.StatusOnline); err != nil {
		s.logger.Warn("presence update failed", zap.String("user", userID), zap.Error(err))
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email, name and password are required")
		return
	}
	res, err := s.authSvc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, "email already registered")
			return
		}
		s.serverError(w, err)
		return
	}
	s.markOnline(r, res.UserID)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		default:
			s.serverError(w, err)
		}
		return
	}
	s.markOnline(r, res.UserID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePersonaLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.authSvc.PersonaLogin(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "unknown persona")
			return
		}
		s.serverError(w, err)
		return
	}
	s.markOnline(r, res.UserID)
	writeJSON(w, http.StatusOK, res)
}
