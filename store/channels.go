package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"chatserver/models"
)

// DMName builds the deterministic channel name for a DM pair, so a second
// create for the same two users finds the existing channel.
func DMName(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return fmt.Sprintf("dm_%s_%s", ids[0], ids[1])
}

// CreateChannel inserts a channel and adds the creator as a member, in one
// transaction so a failed create never leaves a partial channel behind. For
// DM channels the other user is added too and the name is derived from the
// pair; a DM with oneself returns ErrSelfDM. A taken name returns
// ErrDuplicate.
func (s *Store) CreateChannel(ctx context.Context, name, chType, createdBy, workspaceID, otherUserID string) (models.Channel, error) {
	if chType == models.ChannelDM && otherUserID != "" {
		if otherUserID == createdBy {
			return models.Channel{}, ErrSelfDM
		}
		name = DMName(createdBy, otherUserID)
	}
	ch := models.Channel{
		ID:          newID(),
		Name:        name,
		Type:        chType,
		CreatedBy:   createdBy,
		WorkspaceID: workspaceID,
		CreatedAt:   now(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Channel{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels (id, name, type, created_by, workspace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.Type, nullable(ch.CreatedBy), nullable(ch.WorkspaceID), ch.CreatedAt)
	if isUniqueViolation(err) {
		return models.Channel{}, fmt.Errorf("channel %s: %w", name, ErrDuplicate)
	}
	if err != nil {
		return models.Channel{}, err
	}

	var members []string
	if createdBy != "" {
		members = append(members, createdBy)
	}
	if chType == models.ChannelDM && otherUserID != "" {
		members = append(members, otherUserID)
	}
	for _, userID := range members {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO channel_members (channel_id, user_id, joined_at, last_read) VALUES (?, ?, ?, ?)`,
			ch.ID, userID, ch.CreatedAt, ch.CreatedAt)
		if err != nil {
			return models.Channel{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Channel{}, err
	}

	if chType == models.ChannelDM && otherUserID != "" {
		ch.Members, err = s.ChannelMembers(ctx, ch.ID)
		if err != nil {
			return models.Channel{}, err
		}
	}
	return ch, nil
}

const channelColumns = `id, name, type, COALESCE(created_by, ''), COALESCE(workspace_id, ''), created_at`

func scanChannel(scan func(dest ...any) error) (models.Channel, error) {
	var ch models.Channel
	err := scan(&ch.ID, &ch.Name, &ch.Type, &ch.CreatedBy, &ch.WorkspaceID, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrNotFound
	}
	return ch, err
}

func (s *Store) GetChannel(ctx context.Context, id string) (models.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row.Scan)
}

// GetDMChannel finds the DM channel between two users, if any.
func (s *Store) GetDMChannel(ctx context.Context, userA, userB string) (models.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE type = 'dm' AND name = ?`, DMName(userA, userB))
	ch, err := scanChannel(row.Scan)
	if err != nil {
		return models.Channel{}, err
	}
	ch.Members, err = s.ChannelMembers(ctx, ch.ID)
	return ch, err
}

// ChannelsForUser lists the channels the user belongs to, each carrying the
// count of messages newer than the member's last_read mark. DM channels get
// their member list attached for name display.
func (s *Store) ChannelsForUser(ctx context.Context, userID string) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.type, COALESCE(c.created_by, ''), COALESCE(c.workspace_id, ''), c.created_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.channel_id = c.id AND m.deleted_at IS NULL AND m.created_at > cm.last_read)
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &ch.CreatedBy, &ch.WorkspaceID, &ch.CreatedAt, &ch.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Type == models.ChannelDM {
			out[i].Members, err = s.ChannelMembers(ctx, out[i].ID)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// AvailableChannels lists public channels the user has not joined.
func (s *Store) AvailableChannels(ctx context.Context, userID string) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE type = 'public'
		  AND id NOT IN (SELECT channel_id FROM channel_members WHERE user_id = ?)
		ORDER BY name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// AddMember enrolls a user in a channel. Joining marks history as read.
func (s *Store) AddMember(ctx context.Context, channelID, userID string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id, joined_at, last_read) VALUES (?, ?, ?, ?)`,
		channelID, userID, ts, ts)
	if isUniqueViolation(err) {
		return fmt.Errorf("member %s in %s: %w", userID, channelID, ErrDuplicate)
	}
	return err
}

func (s *Store) RemoveMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
	return err
}

func (s *Store) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkRead advances the member's last_read mark to now.
func (s *Store) MarkRead(ctx context.Context, channelID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channel_members SET last_read = ? WHERE channel_id = ? AND user_id = ?`,
		now(), channelID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ChannelMembers(ctx context.Context, channelID string) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name FROM users u
		JOIN channel_members cm ON cm.user_id = u.id
		WHERE cm.channel_id = ?
		ORDER BY u.name ASC`, channelID)
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

// MessageCount backs the first-message check for deferred DM channel.new.
func (s *Store) MessageCount(ctx context.Context, channelID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&n)
	return n, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
