// Package events fans socket events out to connected clients. A Bus accepts
// events from the API handlers; the hub drains the broadcast channel on the
// other end. The local bus is a direct in-process hop; the Kafka bus routes
// events through a topic so every instance of the server sees them.
package events

import (
	"context"

	"chatserver/models"
)

type Bus interface {
	Publish(ctx context.Context, ev models.Event) error
}

// LocalBus delivers events straight to the broadcast channel.
type LocalBus struct {
	ch chan<- models.Event
}

func NewLocalBus(ch chan<- models.Event) *LocalBus { return &LocalBus{ch: ch} }

func (b *LocalBus) Publish(ctx context.Context, ev models.Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
