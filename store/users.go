package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatserver/models"

	"github.com/mattn/go-sqlite3"
)

// CreateUser inserts a user. The password is expected to be hashed already.
// A taken email returns ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, email, name, password, userType string) (models.User, error) {
	u := models.User{
		ID:        newID(),
		Email:     email,
		Name:      name,
		Password:  password,
		Type:      userType,
		Status:    models.StatusOnline,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password, type, status, last_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.Password, u.Type, u.Status, u.CreatedAt, u.CreatedAt)
	if isUniqueViolation(err) {
		return models.User{}, fmt.Errorf("email %s: %w", email, ErrDuplicate)
	}
	if err != nil {
		return models.User{}, err
	}
	// Everyone belongs to the general channel from the start.
	if err := s.AddMember(ctx, GeneralChannel, u.ID); err != nil {
		return models.User{}, err
	}
	u.LastActive = u.CreatedAt
	return u, nil
}

const userColumns = `id, email, name, password, type, status, last_active, created_at`

func (s *Store) scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	var lastActive sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Type, &u.Status, &lastActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u.LastActive = lastActive.Time
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// ListUsers returns id and name of every regular user.
func (s *Store) ListUsers(ctx context.Context) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM users WHERE type = ? ORDER BY name ASC`, models.UserTypeRegular)
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

// ListPersonas returns all persona users.
func (s *Store) ListPersonas(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE type = ? ORDER BY name ASC`, models.UserTypePersona)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		var lastActive sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Type, &u.Status, &lastActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.LastActive = lastActive.Time
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateUserStatus sets status and bumps last_active, returning the fresh row.
func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) (models.User, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, last_active = ? WHERE id = ?`, status, now(), userID)
	if err != nil {
		return models.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.User{}, ErrNotFound
	}
	return s.GetUser(ctx, userID)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
