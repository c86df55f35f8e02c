package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"chatserver/auth"
	"chatserver/events"
	"chatserver/models"
	"chatserver/presence"
	"chatserver/store"
)

type testServer struct {
	http  *httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	broadcast := make(chan models.Event, 256)
	logger := zap.NewNop()
	srv := NewServer(Options{
		Logger:    logger,
		Store:     st,
		Auth:      auth.NewService("test-secret", st, nil),
		Verifier:  auth.NewService("test-secret", st, nil),
		Bus:       events.NewLocalBus(broadcast),
		Presence:  presence.NewMemoryTracker(time.Minute),
		Broadcast: broadcast,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testServer{http: ts, store: st}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (ts *testServer) register(t *testing.T, email, name string) auth.LoginResult {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "name": name, "password": "s3cret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	return decodeBody[auth.LoginResult](t, resp)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/channels", "/users", "/users/me", "/search/messages?q=x"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token: want 401, got %d", path, resp.StatusCode)
		}
	}
	resp := ts.do(t, http.MethodGet, "/channels", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: want 401, got %d", resp.StatusCode)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "a@example.com", "Alice")

	resp := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@example.com", "name": "Clone", "password": "pw",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate email: want 400, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@example.com", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: want 401, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@example.com", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: want 200, got %d", resp.StatusCode)
	}
	res := decodeBody[auth.LoginResult](t, resp)
	if res.Token == "" {
		t.Error("login returned no token")
	}
}

func TestChannelLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")
	bob := ts.register(t, "b@example.com", "Bob")

	resp := ts.do(t, http.MethodPost, "/channels", alice.Token, map[string]string{"name": "random"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create channel: want 201, got %d", resp.StatusCode)
	}
	ch := decodeBody[models.Channel](t, resp)

	resp = ts.do(t, http.MethodPost, "/channels", bob.Token, map[string]string{"name": "random"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate name: want 409, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/channels/available", bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("available: want 200, got %d", resp.StatusCode)
	}
	avail := decodeBody[[]models.Channel](t, resp)
	if len(avail) != 1 || avail[0].ID != ch.ID {
		t.Errorf("want only random available to bob, got %+v", avail)
	}

	resp = ts.do(t, http.MethodPost, "/channels/"+ch.ID+"/join", bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("join: want 200, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/channels/does-not-exist/join", bob.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("join unknown channel: want 404, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/channels/general/leave", bob.Token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("leave general: want 400, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/channels/"+ch.ID+"/leave", bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("leave: want 200, got %d", resp.StatusCode)
	}
}

func TestMessageFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")
	bob := ts.register(t, "b@example.com", "Bob")

	resp := ts.do(t, http.MethodPost, "/channels/general/messages", alice.Token,
		map[string]string{"content": "hello world"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post message: want 201, got %d", resp.StatusCode)
	}
	msg := decodeBody[models.Message](t, resp)
	if msg.User == nil || msg.User.Name != "Alice" {
		t.Errorf("message missing author: %+v", msg)
	}

	resp = ts.do(t, http.MethodPost, "/channels/general/messages", alice.Token,
		map[string]string{"content": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content: want 400, got %d", resp.StatusCode)
	}

	// Only the author may edit.
	resp = ts.do(t, http.MethodPut, "/messages/"+msg.ID, bob.Token,
		map[string]string{"content": "hijacked"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("edit by non-author: want 403, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPut, "/messages/"+msg.ID, alice.Token,
		map[string]string{"content": "hello, edited"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: want 200, got %d", resp.StatusCode)
	}
	edited := decodeBody[models.Message](t, resp)
	if !edited.IsEdited || edited.Content != "hello, edited" {
		t.Errorf("edit not applied: %+v", edited)
	}

	// Thread reply.
	resp = ts.do(t, http.MethodPost, "/messages/"+msg.ID+"/thread", bob.Token,
		map[string]string{"content": "a reply"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("thread reply: want 201, got %d", resp.StatusCode)
	}
	reply := decodeBody[models.Message](t, resp)
	if reply.ThreadID != msg.ID {
		t.Errorf("reply thread id %s, want %s", reply.ThreadID, msg.ID)
	}
	resp = ts.do(t, http.MethodGet, "/messages/"+msg.ID+"/thread", alice.Token, nil)
	thread := decodeBody[[]models.Message](t, resp)
	if len(thread) != 2 || thread[0].ID != msg.ID {
		t.Errorf("thread listing wrong: %+v", thread)
	}

	// Reactions.
	resp = ts.do(t, http.MethodPost, "/messages/"+msg.ID+"/reactions", bob.Token,
		map[string]string{"emoji": "+1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add reaction: want 200, got %d", resp.StatusCode)
	}
	reacted := decodeBody[models.Message](t, resp)
	if len(reacted.Reactions["+1"]) != 1 {
		t.Errorf("reaction missing: %+v", reacted.Reactions)
	}
	resp = ts.do(t, http.MethodDelete, "/messages/"+msg.ID+"/reactions/+1", bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove reaction: want 200, got %d", resp.StatusCode)
	}

	// Soft delete by author.
	resp = ts.do(t, http.MethodDelete, "/messages/"+reply.ID, alice.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete by non-author: want 403, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodDelete, "/messages/"+reply.ID, bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: want 200, got %d", resp.StatusCode)
	}
	deleted := decodeBody[models.Message](t, resp)
	if !deleted.IsDeleted || deleted.Content != store.DeletedPlaceholder {
		t.Errorf("delete not applied: %+v", deleted)
	}
}

func TestDMChannelReuse(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")
	bob := ts.register(t, "b@example.com", "Bob")

	resp := ts.do(t, http.MethodPost, "/channels", alice.Token,
		map[string]string{"type": "dm", "otherUserId": bob.UserID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create dm: want 201, got %d", resp.StatusCode)
	}
	dm := decodeBody[models.Channel](t, resp)
	if len(dm.Members) != 2 {
		t.Errorf("dm must carry both members: %+v", dm)
	}

	// The counterpart creating "another" DM gets the same channel back.
	resp = ts.do(t, http.MethodPost, "/channels", bob.Token,
		map[string]string{"type": "dm", "otherUserId": alice.UserID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recreate dm: want 200, got %d", resp.StatusCode)
	}
	same := decodeBody[models.Channel](t, resp)
	if same.ID != dm.ID {
		t.Errorf("want existing dm %s, got %s", dm.ID, same.ID)
	}

	resp = ts.do(t, http.MethodPost, "/channels", alice.Token,
		map[string]string{"type": "dm", "otherUserId": "nobody"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("dm with unknown user: want 404, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/channels", alice.Token,
		map[string]string{"type": "dm", "otherUserId": alice.UserID})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("dm with self: want 400, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/channels/"+dm.ID+"/join", bob.Token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("join dm: want 400, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/channels/"+dm.ID+"/leave", bob.Token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("leave dm: want 400, got %d", resp.StatusCode)
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")
	bob := ts.register(t, "b@example.com", "Bob")

	resp := ts.do(t, http.MethodPost, "/channels", alice.Token, map[string]string{"name": "random"})
	ch := decodeBody[models.Channel](t, resp)
	ts.do(t, http.MethodPost, "/channels/"+ch.ID+"/join", bob.Token, nil)

	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 2; i++ {
		resp = ts.do(t, http.MethodPost, "/channels/"+ch.ID+"/messages", alice.Token,
			map[string]string{"content": fmt.Sprintf("msg %d", i)})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("post: want 201, got %d", resp.StatusCode)
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp = ts.do(t, http.MethodGet, "/channels", bob.Token, nil)
	channels := decodeBody[[]models.Channel](t, resp)
	var unread int
	for _, c := range channels {
		if c.ID == ch.ID {
			unread = c.UnreadCount
		}
	}
	if unread != 2 {
		t.Fatalf("want 2 unread for bob, got %d", unread)
	}

	resp = ts.do(t, http.MethodPost, "/channels/"+ch.ID+"/read", bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: want 200, got %d", resp.StatusCode)
	}
	// Non-members get a 403.
	carol := ts.register(t, "c@example.com", "Carol")
	resp = ts.do(t, http.MethodPost, "/channels/"+ch.ID+"/read", carol.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("mark read by non-member: want 403, got %d", resp.StatusCode)
	}
}

func TestUserStatus(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")

	resp := ts.do(t, http.MethodPut, "/users/status", alice.Token, map[string]string{"status": "sleeping"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status: want 400, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPut, "/users/status", alice.Token, map[string]string{"status": "busy"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status: want 200, got %d", resp.StatusCode)
	}
	user := decodeBody[models.User](t, resp)
	if user.Status != models.StatusBusy {
		t.Errorf("want busy, got %s", user.Status)
	}

	resp = ts.do(t, http.MethodGet, "/users", alice.Token, nil)
	users := decodeBody[[]userView](t, resp)
	if len(users) != 1 || users[0].Status != models.StatusBusy {
		t.Errorf("live status missing from user list: %+v", users)
	}

	resp = ts.do(t, http.MethodGet, "/users/me", alice.Token, nil)
	me := decodeBody[models.User](t, resp)
	if me.Email != "a@example.com" {
		t.Errorf("unexpected current user: %+v", me)
	}
}

func TestLoginMarksPresence(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")

	// Bob exists in the store with a stale "online" row but has never
	// authenticated, so no live presence entry backs it up.
	bob, err := ts.store.CreateUser(t.Context(), "b@example.com", "Bob", "hash", models.UserTypeRegular)
	if err != nil {
		t.Fatal(err)
	}

	resp := ts.do(t, http.MethodGet, "/users", alice.Token, nil)
	users := decodeBody[[]userView](t, resp)
	byID := map[string]userView{}
	for _, u := range users {
		byID[u.ID] = u
	}
	if got := byID[alice.UserID].Status; got != models.StatusOnline {
		t.Errorf("alice just logged in: want online, got %q", got)
	}
	if got := byID[bob.ID].Status; got != models.StatusOffline {
		t.Errorf("bob has no live presence: want offline, got %q", got)
	}
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")

	resp := ts.do(t, http.MethodGet, "/search/messages?q=", alice.Token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query: want 400, got %d", resp.StatusCode)
	}

	ts.do(t, http.MethodPost, "/channels/general/messages", alice.Token,
		map[string]string{"content": "deploy on friday"})

	resp = ts.do(t, http.MethodGet, "/search/messages?q=DEPLOY", alice.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: want 200, got %d", resp.StatusCode)
	}
	hits := decodeBody[[]models.Message](t, resp)
	if len(hits) != 1 {
		t.Fatalf("want one hit, got %+v", hits)
	}
	if hits[0].Channel == nil || hits[0].Channel.ID != "general" {
		t.Errorf("hit missing channel context: %+v", hits[0])
	}
}

func TestWorkspaceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "a@example.com", "Alice")

	resp := ts.do(t, http.MethodPost, "/workspaces", alice.Token, map[string]string{"name": "Acme"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create workspace: want 201, got %d", resp.StatusCode)
	}
	ws := decodeBody[models.Workspace](t, resp)

	resp = ts.do(t, http.MethodGet, "/workspaces/"+ws.ID, alice.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get workspace: want 200, got %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/workspaces/nope", alice.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown workspace: want 404, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/workspaces/users/"+alice.UserID+"/workspaces", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user workspaces: want 200, got %d", resp.StatusCode)
	}
	list := decodeBody[[]models.Workspace](t, resp)
	if len(list) != 1 || list[0].ID != ws.ID {
		t.Errorf("want creator's workspace, got %+v", list)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: want 200, got %d", path, resp.StatusCode)
		}
	}
	resp := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics: want 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	// Requests are counted by route pattern, not raw path.
	if !bytes.Contains(body, []byte(`route="GET /healthz"`)) {
		t.Error("http request counter is missing the route label")
	}
}
