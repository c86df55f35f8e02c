package api

import (
	"net/http"
	"strings"

	"chatserver/models"
)

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	channelID := r.URL.Query().Get("channel_id")
	msgs, err := s.store.SearchMessages(r.Context(), requestUserID(r), query, channelID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	// Results carry their channel so clients can label and link hits.
	channels := map[string]*models.Channel{}
	for i := range msgs {
		ch, ok := channels[msgs[i].ChannelID]
		if !ok {
			if got, err := s.store.GetChannel(r.Context(), msgs[i].ChannelID); err == nil {
				ch = &got
			}
			channels[msgs[i].ChannelID] = ch
		}
		msgs[i].Channel = ch
	}
	writeJSON(w, http.StatusOK, msgs)
}
