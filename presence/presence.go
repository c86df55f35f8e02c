// Package presence tracks live user status. The database row keeps the last
// written status, but live status decays: a client that stops renewing its
// entry (crash, closed laptop) reads as offline once the TTL lapses.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chatserver/models"
)

// DefaultTTL is how long a status entry survives without renewal.
const DefaultTTL = 5 * time.Minute

type entry struct {
	Status     string    `json:"status"`
	LastActive time.Time `json:"lastActive"`
}

// Tracker records and reports live user status.
type Tracker interface {
	Set(ctx context.Context, userID, status string) error
	// Get reports the live status and last-active time. Expired or unknown
	// users report offline.
	Get(ctx context.Context, userID string) (string, time.Time)
}

// --- in-memory tracker (single instance, no Redis configured) ---

type memoryTracker struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]entry
}

func NewMemoryTracker(ttl time.Duration) Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &memoryTracker{ttl: ttl, m: make(map[string]entry)}
}

func (t *memoryTracker) Set(_ context.Context, userID, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[userID] = entry{Status: status, LastActive: time.Now().UTC()}
	return nil
}

func (t *memoryTracker) Get(_ context.Context, userID string) (string, time.Time) {
	t.mu.RLock()
	e, ok := t.m[userID]
	t.mu.RUnlock()
	if !ok || time.Since(e.LastActive) > t.ttl {
		return models.StatusOffline, e.LastActive
	}
	return e.Status, e.LastActive
}

// --- redis tracker (shared across instances) ---

type redisTracker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisTracker{client: client, ttl: ttl, prefix: "presence:"}
}

func (t *redisTracker) Set(ctx context.Context, userID, status string) error {
	b, err := json.Marshal(entry{Status: status, LastActive: time.Now().UTC()})
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.prefix+userID, b, t.ttl).Err()
}

func (t *redisTracker) Get(ctx context.Context, userID string) (string, time.Time) {
	b, err := t.client.Get(ctx, t.prefix+userID).Bytes()
	if err != nil {
		return models.StatusOffline, time.Time{}
	}
	var e entry
	if json.Unmarshal(b, &e) != nil {
		return models.StatusOffline, time.Time{}
	}
	return e.Status, e.LastActive
}
