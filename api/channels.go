package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatserver/metrics"
	"chatserver/models"
	"chatserver/store"
)

type createChannelRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
	// OtherUserID names the second participant of a DM channel.
	OtherUserID string `json:"otherUserId"`
}

type postMessageRequest struct {
	Content  string `json:"content"`
	ThreadID string `json:"threadId"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ChannelsForUser(r.Context(), requestUserID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleAvailableChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.AvailableChannels(r.Context(), requestUserID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	var req createChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = models.ChannelPublic
	}

	if req.Type == models.ChannelDM {
		if req.OtherUserID == "" {
			writeError(w, http.StatusBadRequest, "otherUserId is required for dm channels")
			return
		}
		if req.OtherUserID == userID {
			writeError(w, http.StatusBadRequest, "cannot open a dm with yourself")
			return
		}
		if _, err := s.store.GetUser(r.Context(), req.OtherUserID); err != nil {
			writeStoreError(w, err, "User not found")
			return
		}
		// An existing DM between the pair is returned as-is.
		if existing, err := s.store.GetDMChannel(r.Context(), userID, req.OtherUserID); err == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			s.serverError(w, err)
			return
		}
		ch, err := s.store.CreateChannel(r.Context(), "", models.ChannelDM, userID, req.WorkspaceID, req.OtherUserID)
		if err != nil {
			writeStoreError(w, err, "Channel not found")
			return
		}
		// channel.new for a DM is deferred until the first message lands,
		// so the other side only learns about it once there is something
		// to read.
		writeJSON(w, http.StatusCreated, ch)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type != models.ChannelPublic && req.Type != models.ChannelPrivate {
		writeError(w, http.StatusBadRequest, "invalid channel type")
		return
	}
	ch, err := s.store.CreateChannel(r.Context(), name, req.Type, userID, req.WorkspaceID, "")
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "channel name already exists")
			return
		}
		s.serverError(w, err)
		return
	}
	s.emit(r.Context(), models.EventChannelNew, "", ch)
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleJoinChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	channelID := r.PathValue("id")
	ch, err := s.store.GetChannel(r.Context(), channelID)
	if err != nil {
		writeStoreError(w, err, "Channel not found")
		return
	}
	if ch.Type == models.ChannelDM {
		writeError(w, http.StatusBadRequest, "cannot join a dm channel")
		return
	}
	if err := s.store.AddMember(r.Context(), channelID, userID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeJSON(w, http.StatusOK, ch)
			return
		}
		s.serverError(w, err)
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.emit(r.Context(), models.EventMemberJoined, channelID, map[string]any{
		"channelId": channelID,
		"user":      user.Summary(),
	})
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleLeaveChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	channelID := r.PathValue("id")
	ch, err := s.store.GetChannel(r.Context(), channelID)
	if err != nil {
		writeStoreError(w, err, "Channel not found")
		return
	}
	if ch.Type == models.ChannelDM {
		writeError(w, http.StatusBadRequest, "cannot leave a dm channel")
		return
	}
	if ch.Name == store.GeneralChannel {
		writeError(w, http.StatusBadRequest, "cannot leave the general channel")
		return
	}
	if err := s.store.RemoveMember(r.Context(), channelID, userID); err != nil {
		s.serverError(w, err)
		return
	}
	s.emit(r.Context(), models.EventMemberLeft, channelID, map[string]any{
		"channelId": channelID,
		"userId":    userID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleMarkChannelRead(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	channelID := r.PathValue("id")
	if err := s.store.MarkRead(r.Context(), channelID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusForbidden, "not a member of this channel")
			return
		}
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChannelMessages(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	if _, err := s.store.GetChannel(r.Context(), channelID); err != nil {
		writeStoreError(w, err, "Channel not found")
		return
	}
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := s.store.ChannelMessages(r.Context(), channelID, before, limit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	channelID := r.PathValue("id")
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(content) > s.maxMsgLen {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}
	ch, err := s.store.GetChannel(r.Context(), channelID)
	if err != nil {
		writeStoreError(w, err, "Channel not found")
		return
	}
	if s.validator != nil {
		payload := inboundMessage{ChannelID: channelID, Content: content, ThreadID: req.ThreadID}
		if err := s.validator.Validate(payload); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.ThreadID != "" {
		if err := s.validateThread(r.Context(), channelID, req.ThreadID); err != nil {
			if errors.Is(err, errThreadMismatch) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeStoreError(w, err, "Thread not found")
			return
		}
	}

	msg, err := s.createAndAnnounce(r.Context(), ch, userID, content, req.ThreadID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

var errThreadMismatch = errors.New("thread belongs to another channel")

// validateThread checks that the thread root exists and lives in channelID.
// A missing root surfaces as store.ErrNotFound.
func (s *Server) validateThread(ctx context.Context, channelID, threadID string) error {
	root, err := s.store.GetMessage(ctx, threadID)
	if err != nil {
		return err
	}
	if root.ChannelID != channelID {
		return errThreadMismatch
	}
	return nil
}

// createAndAnnounce persists a message and publishes the resulting events.
// It is the single ingest point shared by the REST and socket paths, so a
// DM channel's first message announces the channel on both.
func (s *Server) createAndAnnounce(ctx context.Context, ch models.Channel, userID, content, threadID string) (models.Message, error) {
	first := false
	if ch.Type == models.ChannelDM {
		n, err := s.store.MessageCount(ctx, ch.ID)
		if err != nil {
			return models.Message{}, err
		}
		first = n == 0
	}

	msg, err := s.store.CreateMessage(ctx, ch.ID, userID, content, threadID)
	if err != nil {
		return models.Message{}, err
	}
	metrics.MessagesIngested.Inc()

	// The first message in a DM is when the channel itself is announced.
	if first {
		members, err := s.store.ChannelMembers(ctx, ch.ID)
		if err == nil {
			ch.Members = members
		}
		s.emit(ctx, models.EventChannelNew, "", ch)
	}
	s.emit(ctx, models.EventMessageNew, ch.ID, msg)
	if msg.ThreadID != "" {
		s.emit(ctx, models.EventMessageNew, models.ThreadRoom(msg.ThreadID), msg)
	}
	return msg, nil
}
