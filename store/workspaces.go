package store

import (
	"context"
	"database/sql"
	"errors"

	"chatserver/models"
)

func (s *Store) CreateWorkspace(ctx context.Context, name string) (models.Workspace, error) {
	w := models.Workspace{ID: newID(), Name: name, CreatedAt: now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`,
		w.ID, w.Name, w.CreatedAt)
	return w, err
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (models.Workspace, error) {
	var w models.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Workspace{}, ErrNotFound
	}
	return w, err
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.queryWorkspaces(ctx,
		`SELECT id, name, created_at FROM workspaces ORDER BY name ASC`)
}

// WorkspacesForUser returns workspaces the user was explicitly added to or
// where the user is a member of at least one of the workspace's channels.
func (s *Store) WorkspacesForUser(ctx context.Context, userID string) ([]models.Workspace, error) {
	return s.queryWorkspaces(ctx, `
		SELECT DISTINCT w.id, w.name, w.created_at FROM workspaces w
		WHERE w.id IN (SELECT workspace_id FROM workspace_members WHERE user_id = ?)
		   OR w.id IN (
			SELECT c.workspace_id FROM channels c
			JOIN channel_members cm ON cm.channel_id = c.id
			WHERE cm.user_id = ? AND c.workspace_id IS NOT NULL)
		ORDER BY w.name ASC`, userID, userID)
}

// AddWorkspaceMember is idempotent.
func (s *Store) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workspace_members (workspace_id, user_id, added_at) VALUES (?, ?, ?)`,
		workspaceID, userID, now())
	return err
}

// WorkspaceUsers returns users who are members of at least one channel in
// the workspace.
func (s *Store) WorkspaceUsers(ctx context.Context, workspaceID string) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.name FROM users u
		JOIN channel_members cm ON cm.user_id = u.id
		JOIN channels c ON c.id = cm.channel_id
		WHERE c.workspace_id = ?
		ORDER BY u.name ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.UserSummary
	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) queryWorkspaces(ctx context.Context, query string, args ...any) ([]models.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Workspace
	for rows.Next() {
		var w models.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
