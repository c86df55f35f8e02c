// Package api carries the HTTP and websocket surface of the chat server.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"chatserver/auth"
	"chatserver/events"
	"chatserver/metrics"
	"chatserver/models"
	"chatserver/presence"
	"chatserver/store"
)

// TokenVerifier abstracts bearer token verification. Both the local JWT
// service and the OIDC verifier satisfy it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (userID string, err error)
}

// DLQPublisher is the optional dead-letter side of a bus.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, ev models.Event, reason string) error
}

type Server struct {
	mux       *http.ServeMux
	logger    *zap.Logger
	store     *store.Store
	authSvc   *auth.Service
	verifier  TokenVerifier
	bus       events.Bus
	presence  presence.Tracker
	hub       *Hub
	validator *MessageValidator
	maxMsgLen int

	broadcastC <-chan models.Event
	readyCheck func(ctx context.Context) error
}

type Options struct {
	Logger    *zap.Logger
	Store     *store.Store
	Auth      *auth.Service
	Verifier  TokenVerifier
	Bus       events.Bus
	Presence  presence.Tracker
	Validator *MessageValidator
	MaxMsgLen int
	// Broadcast is drained into the hub; the bus feeds it either directly
	// (local) or through Kafka.
	Broadcast <-chan models.Event
	// ReadyCheck covers dependencies beyond the store (e.g. Kafka).
	ReadyCheck func(ctx context.Context) error
}

func NewServer(opts Options) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		logger:     opts.Logger,
		store:      opts.Store,
		authSvc:    opts.Auth,
		verifier:   opts.Verifier,
		bus:        opts.Bus,
		presence:   opts.Presence,
		hub:        NewHub(opts.Logger),
		validator:  opts.Validator,
		maxMsgLen:  opts.MaxMsgLen,
		broadcastC: opts.Broadcast,
		readyCheck: opts.ReadyCheck,
	}
	if s.maxMsgLen <= 0 {
		s.maxMsgLen = 1000
	}
	s.routes()
	go s.broadcastLoop()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/personas/login", s.handlePersonaLogin)

	s.mux.HandleFunc("GET /channels", s.withAuth(s.handleListChannels))
	s.mux.HandleFunc("POST /channels", s.withAuth(s.handleCreateChannel))
	s.mux.HandleFunc("GET /channels/available", s.withAuth(s.handleAvailableChannels))
	s.mux.HandleFunc("POST /channels/{id}/join", s.withAuth(s.handleJoinChannel))
	s.mux.HandleFunc("POST /channels/{id}/leave", s.withAuth(s.handleLeaveChannel))
	s.mux.HandleFunc("POST /channels/{id}/read", s.withAuth(s.handleMarkChannelRead))
	s.mux.HandleFunc("GET /channels/{id}/messages", s.withAuth(s.handleChannelMessages))
	s.mux.HandleFunc("POST /channels/{id}/messages", s.withAuth(s.handlePostMessage))

	s.mux.HandleFunc("GET /messages/{id}", s.withAuth(s.handleGetMessage))
	s.mux.HandleFunc("PUT /messages/{id}", s.withAuth(s.handleUpdateMessage))
	s.mux.HandleFunc("DELETE /messages/{id}", s.withAuth(s.handleDeleteMessage))
	s.mux.HandleFunc("GET /messages/{id}/thread", s.withAuth(s.handleThreadMessages))
	s.mux.HandleFunc("POST /messages/{id}/thread", s.withAuth(s.handleThreadReply))
	s.mux.HandleFunc("POST /messages/{id}/reactions", s.withAuth(s.handleAddReaction))
	s.mux.HandleFunc("DELETE /messages/{id}/reactions/{emoji}", s.withAuth(s.handleRemoveReaction))
	s.mux.HandleFunc("GET /messages/users/{id}/messages", s.withAuth(s.handleUserMessages))

	s.mux.HandleFunc("GET /users", s.withAuth(s.handleListUsers))
	s.mux.HandleFunc("GET /users/me", s.withAuth(s.handleCurrentUser))
	s.mux.HandleFunc("PUT /users/status", s.withAuth(s.handleUpdateStatus))
	s.mux.HandleFunc("GET /users/personas", s.handleListPersonas)

	s.mux.HandleFunc("GET /search/messages", s.withAuth(s.handleSearchMessages))

	s.mux.HandleFunc("POST /workspaces", s.withAuth(s.handleCreateWorkspace))
	s.mux.HandleFunc("GET /workspaces", s.withAuth(s.handleListWorkspaces))
	s.mux.HandleFunc("GET /workspaces/{id}", s.withAuth(s.handleGetWorkspace))
	s.mux.HandleFunc("GET /workspaces/{id}/members", s.withAuth(s.handleWorkspaceMembers))
	s.mux.HandleFunc("POST /workspaces/{id}/members", s.handleAddWorkspaceMember)
	s.mux.HandleFunc("GET /workspaces/users/{id}/workspaces", s.handleUserWorkspaces)

	s.mux.HandleFunc("GET /ws", s.handleWS)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(sw, r)
	// ServeMux fills in r.Pattern on a match, so reading it afterwards
	// gives the route with path parameters unexpanded.
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	s.logger.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", sw.status),
		zap.Duration("latency", time.Since(start)),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

type ctxKey int

const userIDKey ctxKey = iota

// withAuth enforces Bearer auth and stashes the caller's user id in the
// request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		userID, err := s.verifier.Verify(r.Context(), header[len(prefix):])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
