package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"chatserver/models"
)

// DeletedPlaceholder replaces the content of soft-deleted messages on read.
const DeletedPlaceholder = "This message was deleted"

// CreateMessage inserts a message. threadID is empty for root messages and
// the root message id for thread replies.
func (s *Store) CreateMessage(ctx context.Context, channelID, userID, content, threadID string) (models.Message, error) {
	m := models.Message{
		ID:        newID(),
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		ThreadID:  threadID,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, user_id, content, thread_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.UserID, m.Content, nullable(m.ThreadID), m.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	if u, err := s.GetUser(ctx, userID); err == nil {
		sum := u.Summary()
		m.User = &sum
	}
	return m, nil
}

const messageColumns = `m.id, m.channel_id, m.user_id, m.content, COALESCE(m.thread_id, ''),
	m.created_at, m.edited_at, m.is_edited, m.deleted_at, COALESCE(u.name, '')`

func scanMessage(scan func(dest ...any) error) (models.Message, error) {
	var (
		m         models.Message
		editedAt  sql.NullTime
		deletedAt sql.NullTime
		userName  string
	)
	err := scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.ThreadID,
		&m.CreatedAt, &editedAt, &m.IsEdited, &deletedAt, &userName)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if deletedAt.Valid {
		m.IsDeleted = true
		m.Content = DeletedPlaceholder
	}
	m.User = &models.UserSummary{ID: m.UserID, Name: userName}
	return m, nil
}

// GetMessage returns a message with its author and grouped reactions.
func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.id = ?`, id)
	m, err := scanMessage(row.Scan)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.attachReactions(ctx, []*models.Message{&m}); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// ChannelMessages returns channel history in ascending order with whole
// threads kept together: messages sort by their thread root's creation time
// first, then their own. before (exclusive) and limit page through history.
func (s *Store) ChannelMessages(ctx context.Context, channelID string, before time.Time, limit int) ([]models.Message, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	args := []any{channelID}
	beforeClause := ""
	if !before.IsZero() {
		beforeClause = "AND m.created_at < ?"
		args = append(args, before.UTC())
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = ? `+beforeClause+`
		ORDER BY COALESCE((SELECT r.created_at FROM messages r WHERE r.id = m.thread_id), m.created_at) ASC,
		         m.created_at ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(ctx, rows)
}

// ThreadMessages returns the root message and its replies, oldest first.
func (s *Store) ThreadMessages(ctx context.Context, rootID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.id = ? OR m.thread_id = ?
		ORDER BY m.created_at ASC`, rootID, rootID)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(ctx, rows)
}

// UserMessages returns messages authored by a user, newest first.
func (s *Store) UserMessages(ctx context.Context, userID string, before time.Time, limit int) ([]models.Message, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	args := []any{userID}
	beforeClause := ""
	if !before.IsZero() {
		beforeClause = "AND m.created_at < ?"
		args = append(args, before.UTC())
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.user_id = ? AND m.deleted_at IS NULL `+beforeClause+`
		ORDER BY m.created_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(ctx, rows)
}

// SearchMessages finds messages containing the query within channels the
// user is a member of, newest first, capped at 50. channelID narrows the
// search to one channel when non-empty.
func (s *Store) SearchMessages(ctx context.Context, userID, query, channelID string) ([]models.Message, error) {
	args := []any{userID, "%" + strings.ToLower(query) + "%"}
	channelClause := ""
	if channelID != "" {
		channelClause = "AND m.channel_id = ?"
		args = append(args, channelID)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.channel_id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)
		  AND m.deleted_at IS NULL
		  AND LOWER(m.content) LIKE ? `+channelClause+`
		ORDER BY m.created_at DESC
		LIMIT 50`, args...)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(ctx, rows)
}

// UpdateMessage replaces the content of a live message and records the edit.
func (s *Store) UpdateMessage(ctx context.Context, id, content string) (models.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited_at = ?, is_edited = 1
		 WHERE id = ? AND deleted_at IS NULL`, content, now(), id)
	if err != nil {
		return models.Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Message{}, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage soft-deletes: the row stays for thread and history integrity
// but reads serve placeholder content.
func (s *Store) DeleteMessage(ctx context.Context, id string) (models.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now(), id)
	if err != nil {
		return models.Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Message{}, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// AddReaction records a reaction; repeating the same (user, emoji) pair on a
// message is a no-op.
func (s *Store) AddReaction(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error) {
	r := models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
		r.MessageID, r.UserID, r.Emoji, r.CreatedAt)
	return r, err
}

// RemoveReaction deletes a reaction; removing an absent one is a no-op.
func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji)
	return err
}

func (s *Store) collectMessages(ctx context.Context, rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]*models.Message, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.attachReactions(ctx, refs); err != nil {
		return nil, err
	}
	return out, nil
}

// attachReactions groups each message's reactions as emoji -> user ids.
func (s *Store) attachReactions(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*models.Message, len(msgs))
	args := make([]any, 0, len(msgs))
	placeholders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		args = append(args, m.ID)
		placeholders = append(placeholders, "?")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji FROM reactions
		WHERE message_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY created_at ASC`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var messageID, userID, emoji string
		if err := rows.Scan(&messageID, &userID, &emoji); err != nil {
			return err
		}
		m := byID[messageID]
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	}
	return rows.Err()
}
