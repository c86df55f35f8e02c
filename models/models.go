package models

import "time"

// User statuses accepted by PUT /users/status.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// User types. Personas are seeded demo users that log in by email alone.
const (
	UserTypeRegular = "user"
	UserTypePersona = "persona"
)

// Channel types.
const (
	ChannelPublic  = "public"
	ChannelPrivate = "private"
	ChannelDM      = "dm"
)

type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Password   string    `json:"-"`
	Type       string    `json:"type,omitempty"`
	Status     string    `json:"status,omitempty"`
	LastActive time.Time `json:"lastActive,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Summary is the author shape embedded in messages and member lists.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name}
}

type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Channel struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	CreatedBy   string        `json:"createdBy,omitempty"`
	WorkspaceID string        `json:"workspaceId,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Members     []UserSummary `json:"members,omitempty"`
	UnreadCount int           `json:"unreadCount"`
}

// Message is a channel message. ThreadID points at the root message of the
// thread and is empty for root messages themselves. Reactions map emoji to
// the ids of users who reacted with it.
type Message struct {
	ID        string              `json:"id"`
	ChannelID string              `json:"channelId"`
	UserID    string              `json:"userId"`
	Content   string              `json:"content"`
	ThreadID  string              `json:"threadId,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	EditedAt  *time.Time          `json:"editedAt,omitempty"`
	IsEdited  bool                `json:"isEdited,omitempty"`
	IsDeleted bool                `json:"isDeleted,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`
	User      *UserSummary        `json:"user,omitempty"`
	Channel   *Channel            `json:"channel,omitempty"`
}

type Reaction struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
