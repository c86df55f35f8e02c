package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatserver/metrics"
	"chatserver/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// inboundMessage is the inline message-send frame clients may push over the
// socket instead of POSTing to the REST endpoint.
type inboundMessage struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
	ThreadID  string `json:"threadId,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token not provided")
		return
	}
	userID, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := s.hub.Add(conn)
	metrics.WSConnections.Inc()

	go func() {
		defer func() {
			s.hub.Remove(c)
			metrics.WSConnections.Dec()
		}()
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			s.handleClientEvent(c, userID, ev)
		}
	}()
}

func (s *Server) handleClientEvent(c *client, userID string, ev models.Event) {
	switch ev.Name {
	case models.EventChannelJoin:
		if room := decodeRoom(ev.Data); room != "" {
			s.hub.Join(c, room)
		}
	case models.EventChannelLeave:
		if room := decodeRoom(ev.Data); room != "" {
			s.hub.Leave(c, room)
		}
	case models.EventMessageNew:
		var in inboundMessage
		if err := json.Unmarshal(ev.Data, &in); err != nil {
			s.logger.Error("ws message decode failed", zap.Error(err))
			return
		}
		s.ingestSocketMessage(userID, in)
	default:
		s.logger.Debug("ignoring unknown client event", zap.String("event", ev.Name))
	}
}

// ingestSocketMessage runs the same validate/persist/publish path as the
// REST handler; invalid frames are dropped with a log line rather than an
// error reply, matching how the socket side has always behaved.
func (s *Server) ingestSocketMessage(userID string, in inboundMessage) {
	ctx := context.Background()
	content := strings.TrimSpace(in.Content)
	if content == "" || len(content) > s.maxMsgLen || in.ChannelID == "" {
		s.logger.Error("ws message rejected",
			zap.Int("len", len(content)), zap.String("channel_id", in.ChannelID))
		return
	}
	if s.validator != nil {
		if err := s.validator.Validate(in); err != nil {
			s.logger.Error("ws message schema invalid", zap.Error(err))
			return
		}
	}
	ch, err := s.store.GetChannel(ctx, in.ChannelID)
	if err != nil {
		s.logger.Error("ws message for unknown channel", zap.String("channel_id", in.ChannelID))
		return
	}
	if in.ThreadID != "" {
		if err := s.validateThread(ctx, in.ChannelID, in.ThreadID); err != nil {
			s.logger.Error("ws message thread invalid",
				zap.String("thread_id", in.ThreadID), zap.Error(err))
			return
		}
	}
	if _, err := s.createAndAnnounce(ctx, ch, userID, content, in.ThreadID); err != nil {
		s.logger.Error("ws message persist failed", zap.Error(err))
		return
	}
}

// decodeRoom accepts either a bare JSON string or {"channelId": ...}.
func decodeRoom(data json.RawMessage) string {
	var room string
	if err := json.Unmarshal(data, &room); err == nil {
		return room
	}
	var obj struct {
		ChannelID string `json:"channelId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.ChannelID
	}
	return ""
}

func (s *Server) broadcastLoop() {
	if s.broadcastC == nil {
		return
	}
	for ev := range s.broadcastC {
		s.hub.Broadcast(ev)
		metrics.EventsBroadcast.Inc()
	}
}

// emit publishes an event through the bus. If the bus is down the event is
// delivered straight to local clients so connected users are not blocked,
// and parked on the DLQ for the other instances.
func (s *Server) emit(ctx context.Context, name, room string, payload any) {
	ev, err := models.NewEvent(name, room, payload)
	if err != nil {
		s.logger.Error("event marshal failed", zap.Error(err), zap.String("event", name))
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Error("event publish failed, broadcasting locally", zap.Error(err),
			zap.String("event", name))
		s.hub.Broadcast(ev)
		metrics.EventsBroadcast.Inc()
		if dlq, ok := s.bus.(DLQPublisher); ok {
			if derr := dlq.PublishDLQ(ctx, ev, "publish_failure"); derr != nil {
				s.logger.Error("dlq publish failed", zap.Error(derr))
			} else {
				metrics.EventsDLQ.Inc()
			}
		}
	}
}
