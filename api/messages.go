package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatserver/metrics"
	"chatserver/models"
)

type updateMessageRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	var req updateMessageRequest
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
	existing, err := s.store.GetMessage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	if existing.UserID != userID {
		writeError(w, http.StatusForbidden, "only the author can edit a message")
		return
	}
	msg, err := s.store.UpdateMessage(r.Context(), id, content)
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	s.emit(r.Context(), models.EventMessageUpdate, msg.ChannelID, msg)
	if msg.ThreadID != "" {
		s.emit(r.Context(), models.EventMessageUpdate, models.ThreadRoom(msg.ThreadID), msg)
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	existing, err := s.store.GetMessage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	if existing.UserID != userID {
		writeError(w, http.StatusForbidden, "only the author can delete a message")
		return
	}
	msg, err := s.store.DeleteMessage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	s.emit(r.Context(), models.EventMessageUpdate, msg.ChannelID, msg)
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	rootID := r.PathValue("id")
	if _, err := s.store.GetMessage(r.Context(), rootID); err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	msgs, err := s.store.ThreadMessages(r.Context(), rootID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleThreadReply(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	rootID := r.PathValue("id")
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
	root, err := s.store.GetMessage(r.Context(), rootID)
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	// Replies always attach to the thread root, even when the client
	// replies to a reply.
	if root.ThreadID != "" {
		rootID = root.ThreadID
	}
	msg, err := s.store.CreateMessage(r.Context(), root.ChannelID, userID, content, rootID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	metrics.MessagesIngested.Inc()
	s.emit(r.Context(), models.EventMessageNew, root.ChannelID, msg)
	s.emit(r.Context(), models.EventMessageNew, models.ThreadRoom(rootID), msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	var req reactionRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Emoji) == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	if _, err := s.store.GetMessage(r.Context(), id); err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	if _, err := s.store.AddReaction(r.Context(), id, userID, req.Emoji); err != nil {
		s.serverError(w, err)
		return
	}
	s.emitReaction(w, r, id)
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	id := r.PathValue("id")
	emoji := r.PathValue("emoji")
	if _, err := s.store.GetMessage(r.Context(), id); err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	if err := s.store.RemoveReaction(r.Context(), id, userID, emoji); err != nil {
		s.serverError(w, err)
		return
	}
	s.emitReaction(w, r, id)
}

// emitReaction re-reads the message so the event and response carry the full
// reaction state rather than a delta.
func (s *Server) emitReaction(w http.ResponseWriter, r *http.Request, messageID string) {
	msg, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeStoreError(w, err, "Message not found")
		return
	}
	s.emit(r.Context(), models.EventReaction, msg.ChannelID, msg)
	if msg.ThreadID != "" {
		s.emit(r.Context(), models.EventReaction, models.ThreadRoom(msg.ThreadID), msg)
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleUserMessages(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("id")
	if _, err := s.store.GetUser(r.Context(), targetID); err != nil {
		writeStoreError(w, err, "User not found")
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
	msgs, err := s.store.UserMessages(r.Context(), targetID, before, limit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
