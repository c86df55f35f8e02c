package models

import "encoding/json"

// Server-to-client socket events.
const (
	EventMessageNew    = "message.new"
	EventMessageUpdate = "message.update"
	EventReaction      = "message.reaction"
	EventChannelNew    = "channel.new"
	EventMemberJoined  = "channel.member.joined"
	EventMemberLeft    = "channel.member.left"
	EventUserStatus    = "user.status"
)

// Client-to-server socket events.
const (
	EventChannelJoin  = "channel.join"
	EventChannelLeave = "channel.leave"
)

// Event is the envelope carried over the websocket and the Kafka relay.
// Room scopes delivery to subscribers of a channel id or a thread room;
// an empty Room means every connected client.
type Event struct {
	Name string          `json:"event"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data"`
}

// ThreadRoom is the room name replies to the given root message fan out to.
func ThreadRoom(messageID string) string { return "thread_" + messageID }

// NewEvent marshals payload into an event envelope. Marshal failures are
// returned so callers can route the event to the DLQ instead of dropping it.
func NewEvent(name, room string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Room: room, Data: data}, nil
}
