package api

import (
	"net/http"
	"strings"

	"chatserver/models"
)

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

type addWorkspaceMemberRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	ws, err := s.store.CreateWorkspace(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		s.serverError(w, err)
		return
	}
	if err := s.store.AddWorkspaceMember(r.Context(), ws.ID, requestUserID(r)); err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, "User not found")
		return
	}
	// Personas are scoped to the workspaces they were seeded into.
	if user.Type == models.UserTypePersona {
		out, err := s.store.WorkspacesForUser(r.Context(), userID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	out, err := s.store.ListWorkspaces(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.store.GetWorkspace(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "Workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleWorkspaceMembers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetWorkspace(r.Context(), id); err != nil {
		writeStoreError(w, err, "Workspace not found")
		return
	}
	members, err := s.store.WorkspaceUsers(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleAddWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req addWorkspaceMemberRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if _, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		writeStoreError(w, err, "User not found")
		return
	}
	if err := s.store.AddWorkspaceMember(r.Context(), id, req.UserID); err != nil {
		writeStoreError(w, err, "Workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUserWorkspaces(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetUser(r.Context(), id); err != nil {
		writeStoreError(w, err, "User not found")
		return
	}
	out, err := s.store.WorkspacesForUser(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
