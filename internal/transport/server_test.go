package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/pigeon/internal/auth"
	"github.com/matheus3301/pigeon/internal/bus"
	"github.com/matheus3301/pigeon/internal/chat"
	"github.com/matheus3301/pigeon/internal/presence"
	"github.com/matheus3301/pigeon/internal/protocol"
	"github.com/matheus3301/pigeon/internal/room"
	"github.com/matheus3301/pigeon/internal/stats"
	"github.com/matheus3301/pigeon/internal/store"
	"go.uber.org/zap"
)

const testSecret = "test-secret-0123456789"

type env struct {
	db    *store.DB
	auth  *auth.Authenticator
	srv   *Server
	ts    *httptest.Server
	alice *store.User
	bob   *store.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "transport.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	alice, err := db.CreateUser(ctx, "alice", "alice-pw")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := db.CreateUser(ctx, "bob", "bob-pw")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetFriendship(ctx, alice.ID, bob.ID, store.FriendshipAccepted); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	reg := presence.NewRegistry()
	rooms := room.NewManager()
	out := chat.NewBroadcaster(reg, rooms, logger)
	pipe := chat.NewPipeline(db, reg, rooms, out, b, chat.Limits{}, logger)
	hub := chat.NewHub(db, reg, rooms, out, pipe, b, logger)
	collector := stats.NewCollector(b, logger)
	collector.Start(ctx)
	t.Cleanup(collector.Stop)

	a := auth.New(testSecret, time.Hour, db)
	srv := NewServer(Options{
		Listen:           "127.0.0.1:0",
		HandshakeTimeout: 5 * time.Second,
		EventsPerSecond:  1000,
		SendQueueSize:    64,
		AllowedOrigins:   []string{"http://localhost:3000"},
	}, hub, a, db, collector, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.closeAll()
		ts.Close()
	})
	return &env{db: db, auth: a, srv: srv, ts: ts, alice: alice, bob: bob}
}

func (e *env) token(t *testing.T, u *store.User) string {
	t.Helper()
	tok, err := e.auth.Issue(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *env) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e *env) dial(t *testing.T, u *store.User) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+e.token(t, u))
	ws, _, err := websocket.DefaultDialer.Dial(e.wsURL(""), h)
	if err != nil {
		t.Fatalf("dial as %s: %v", u.Username, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type received struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// expect reads frames until one named name arrives, skipping others.
func expect(t *testing.T, ws *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		var r received
		if err := ws.ReadJSON(&r); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if r.Name == name {
			return r.Data
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, name string, data any) {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		t.Fatal(err)
	}
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)
	expired, err := auth.New(testSecret, -time.Minute, e.db).Issue(e.alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	ghost, err := e.auth.Issue("no-such-user")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode string
	}{
		{"no credential", "", "", "unauthenticated"},
		{"garbage token", "Bearer not-a-jwt", "", "invalid_credential"},
		{"wrong scheme", "Basic abc", "", "unauthenticated"},
		{"expired", "Bearer " + expired, "", "credential_expired"},
		{"unknown user", "", "token=" + ghost, "identity_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL(tt.query), h)
			if err == nil {
				_ = ws.Close()
				t.Fatal("dial should fail")
			}
			if !errors.Is(err, websocket.ErrBadHandshake) {
				t.Fatalf("err = %v, want ErrBadHandshake", err)
			}
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
			var body errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error, tt.wantCode)
			}
		})
	}
}

func TestOriginCheck(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		origin string
		ok     bool
	}{
		{"http://localhost:3000", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			h := http.Header{}
			h.Set("Origin", tt.origin)
			ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL("token="+e.token(t, e.alice)), h)
			if tt.ok {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				_ = ws.Close()
				return
			}
			if err == nil {
				_ = ws.Close()
				t.Fatal("dial should fail")
			}
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want 403", resp.StatusCode)
			}
		})
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	e := newEnv(t)

	alice := e.dial(t, e.alice)
	var snap protocol.OnlineUsersPayload
	if err := json.Unmarshal(expect(t, alice, protocol.OnlineUsers), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.List) != 1 || snap.List[0].UserID != e.alice.ID {
		t.Fatalf("onlineUsers = %+v", snap.List)
	}

	// Bob uses the query parameter the way a browser would.
	bob, _, err := websocket.DefaultDialer.Dial(e.wsURL("token="+e.token(t, e.bob)), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()
	expect(t, bob, protocol.OnlineUsers)
	expect(t, alice, protocol.UserOnline)

	send(t, alice, protocol.SendMessage, map[string]string{"recipientId": e.bob.ID, "content": "hello", "messageType": "text"})

	var nm struct {
		Message store.Message `json:"message"`
	}
	if err := json.Unmarshal(expect(t, bob, protocol.NewMessage), &nm); err != nil {
		t.Fatal(err)
	}
	if nm.Message.Content != "hello" || nm.Message.Status != store.StatusSent || nm.Message.SenderID != e.alice.ID {
		t.Errorf("newMessage = %+v", nm.Message)
	}
	var delivered protocol.MessageDeliveredPayload
	if err := json.Unmarshal(expect(t, bob, protocol.MessageDelivered), &delivered); err != nil {
		t.Fatal(err)
	}
	if delivered.Status != store.StatusDelivered || delivered.MessageID != nm.Message.ID {
		t.Errorf("messageDelivered = %+v", delivered)
	}

	send(t, bob, protocol.MarkAsRead, map[string]string{"messageId": nm.Message.ID, "senderId": e.alice.ID})

	var read protocol.MessageReadPayload
	if err := json.Unmarshal(expect(t, alice, protocol.MessageRead), &read); err != nil {
		t.Fatal(err)
	}
	if read.MessageID != nm.Message.ID || read.Status != store.StatusRead {
		t.Errorf("messageRead = %+v", read)
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, e.alice)
	expect(t, alice, protocol.OnlineUsers)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var me protocol.MessageErrorPayload
	if err := json.Unmarshal(expect(t, alice, protocol.MessageError), &me); err != nil {
		t.Fatal(err)
	}
	if me.Error != "Invalid request" {
		t.Errorf("messageError = %+v", me)
	}

	send(t, alice, protocol.JoinConversation, map[string]string{"recipientId": e.bob.ID})
	var joined protocol.RoomJoinedPayload
	if err := json.Unmarshal(expect(t, alice, protocol.RoomJoined), &joined); err != nil {
		t.Fatal(err)
	}
	if joined.RoomID != room.Key(e.alice.ID, e.bob.ID) {
		t.Errorf("roomId = %s", joined.RoomID)
	}
}

func TestDisconnectMarksOffline(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, e.alice)
	expect(t, alice, protocol.OnlineUsers)
	bob := e.dial(t, e.bob)
	expect(t, alice, protocol.UserOnline)

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.Close()

	var off protocol.UserOfflinePayload
	if err := json.Unmarshal(expect(t, alice, protocol.UserOffline), &off); err != nil {
		t.Fatal(err)
	}
	if off.UserID != e.bob.ID {
		t.Errorf("userOffline = %+v", off)
	}
	u, err := e.db.FindUserByID(context.Background(), e.bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.IsOnline {
		t.Error("bob should be persisted offline")
	}
}

func (e *env) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodGet, path, token, "")
}

func (e *env) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"ok", `{"username":"alice","password":"alice-pw"}`, http.StatusOK},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"zed","password":"x"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"alice"}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(e.ts.URL+"/api/auth/login", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var lr struct {
				Token string         `json:"token"`
				User  map[string]any `json:"user"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
				t.Fatal(err)
			}
			if _, ok := lr.User["passwordHash"]; ok {
				t.Error("password hash leaked")
			}
			u, err := e.auth.Authenticate(context.Background(), lr.Token)
			if err != nil || u.ID != e.alice.ID {
				t.Errorf("issued token authenticates as %v, %v", u, err)
			}
		})
	}
}

func TestHistoryAPI(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		if err := e.db.InsertMessage(ctx, &store.Message{SenderID: e.alice.ID, RecipientID: e.bob.ID, Content: content}); err != nil {
			t.Fatal(err)
		}
	}
	tok := e.token(t, e.bob)

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		want     string
	}{
		{"newest first by default", "/api/messages/" + e.alice.ID, tok, http.StatusOK, "three,two,one"},
		{"oldest first", "/api/messages/" + e.alice.ID + "?order=asc", tok, http.StatusOK, "one,two,three"},
		{"paged", "/api/messages/" + e.alice.ID + "?order=asc&limit=1&offset=1", tok, http.StatusOK, "two"},
		{"bad limit", "/api/messages/" + e.alice.ID + "?limit=0", tok, http.StatusBadRequest, ""},
		{"bad order", "/api/messages/" + e.alice.ID + "?order=up", tok, http.StatusBadRequest, ""},
		{"no token", "/api/messages/" + e.alice.ID, "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.get(t, tt.path, tt.token)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.want == "" {
				return
			}
			var hr historyResponse
			if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, m := range hr.Messages {
				got = append(got, m.Content)
				if m.Status != store.StatusSent {
					t.Errorf("reading history changed status to %s", m.Status)
				}
			}
			if strings.Join(got, ",") != tt.want {
				t.Errorf("history = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestConversationsOnlineAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.db.InsertMessage(ctx, &store.Message{SenderID: e.alice.ID, RecipientID: e.bob.ID, Content: "ping"}); err != nil {
		t.Fatal(err)
	}
	alice := e.dial(t, e.alice)
	expect(t, alice, protocol.OnlineUsers)
	tok := e.token(t, e.bob)

	resp := e.get(t, "/api/messages/conversations", tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conversations status = %d", resp.StatusCode)
	}
	var convs []store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].PeerID != e.alice.ID || convs[0].UnreadCount != 1 || convs[0].LastMessage != "ping" {
		t.Errorf("conversations = %+v", convs)
	}

	resp = e.get(t, "/api/users/online", tok)
	var online []protocol.OnlineUser
	if err := json.NewDecoder(resp.Body).Decode(&online); err != nil {
		t.Fatal(err)
	}
	if len(online) != 1 || online[0].UserID != e.alice.ID {
		t.Errorf("online = %+v", online)
	}

	resp = e.get(t, "/api/stats", tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}

	resp = e.get(t, "/api/health", "")
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "OK" {
		t.Errorf("health = %+v", h)
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	e := newEnv(t)
	if err := e.srv.Start(); err != nil {
		t.Fatal(err)
	}
	url := "ws://" + e.srv.Addr() + "/ws?token=" + e.token(t, e.alice)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	expect(t, ws, protocol.OnlineUsers)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.srv.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after Stop = %v, want going-away close", err)
	}
	u, _ := e.db.FindUserByID(context.Background(), e.alice.ID)
	if u.IsOnline {
		t.Error("alice should be persisted offline after drain")
	}
}

// untilClosed reads frames until the connection ends and returns that error.
func untilClosed(ws *websocket.Conn, timeout time.Duration) error {
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return err
		}
	}
}

func TestServerStopClosesReplacedConnections(t *testing.T) {
	e := newEnv(t)
	if err := e.srv.Start(); err != nil {
		t.Fatal(err)
	}
	url := "ws://" + e.srv.Addr() + "/ws?token=" + e.token(t, e.alice)

	var phones []*websocket.Conn
	for range 2 {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer ws.Close()
		expect(t, ws, protocol.OnlineUsers)
		phones = append(phones, ws)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := e.srv.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("Stop took %v, want the drain to finish well before the deadline", took)
	}

	for i, ws := range phones {
		if err := untilClosed(ws, 2*time.Second); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("connection %d read after Stop = %v, want going-away close", i, err)
		}
	}
	u, _ := e.db.FindUserByID(context.Background(), e.alice.ID)
	if u.IsOnline {
		t.Error("alice should be persisted offline after drain")
	}
}

func TestSendMessageAPI(t *testing.T) {
	e := newEnv(t)
	carol, err := e.db.CreateUser(context.Background(), "carol", "carol-pw")
	if err != nil {
		t.Fatal(err)
	}
	bob := e.dial(t, e.bob)
	expect(t, bob, protocol.OnlineUsers)
	tok := e.token(t, e.alice)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"empty content", `{"recipientId":"` + e.bob.ID + `","content":"  "}`, http.StatusBadRequest},
		{"self", `{"recipientId":"` + e.alice.ID + `","content":"me"}`, http.StatusBadRequest},
		{"unknown recipient", `{"recipientId":"nobody","content":"hi"}`, http.StatusNotFound},
		{"not a friend", `{"recipientId":"` + carol.ID + `","content":"hi"}`, http.StatusForbidden},
		{"friend", `{"recipientId":"` + e.bob.ID + `","content":"over http"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/messages", tok, tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusCreated {
				return
			}
			var m store.Message
			if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
				t.Fatal(err)
			}
			if m.Content != "over http" || m.Status != store.StatusDelivered {
				t.Errorf("response = %+v, want delivered to online bob", m)
			}

			var nm protocol.NewMessagePayload
			if err := json.Unmarshal(expect(t, bob, protocol.NewMessage), &nm); err != nil {
				t.Fatal(err)
			}
			if nm.Message.ID != m.ID {
				t.Errorf("bob got message %s, want %s", nm.Message.ID, m.ID)
			}
			expect(t, bob, protocol.MessageDelivered)
		})
	}

	n, err := e.db.CountMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("stored messages = %d, want 1", n)
	}
}

func TestMessageStatusAPI(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := &store.Message{SenderID: e.alice.ID, RecipientID: e.bob.ID, Content: "ack me"}
	if err := e.db.InsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	alice := e.dial(t, e.alice)
	expect(t, alice, protocol.OnlineUsers)
	aliceTok, bobTok := e.token(t, e.alice), e.token(t, e.bob)
	path := "/api/messages/" + m.ID + "/status"

	// Steps run in order against the same message.
	steps := []struct {
		name       string
		path       string
		token      string
		body       string
		wantCode   int
		wantStatus store.MessageStatus
		notify     string
	}{
		{"sender cannot ack", path, aliceTok, `{"status":"read"}`, http.StatusNotFound, "", ""},
		{"unknown message", "/api/messages/nope/status", bobTok, `{"status":"read"}`, http.StatusNotFound, "", ""},
		{"backwards status", path, bobTok, `{"status":"sent"}`, http.StatusBadRequest, "", ""},
		{"malformed", path, bobTok, `{`, http.StatusBadRequest, "", ""},
		{"delivered", path, bobTok, `{"status":"delivered"}`, http.StatusOK, store.StatusDelivered, protocol.MessageDelivered},
		{"read", path, bobTok, `{"status":"read"}`, http.StatusOK, store.StatusRead, protocol.MessageRead},
		{"delivered after read", path, bobTok, `{"status":"delivered"}`, http.StatusOK, store.StatusRead, ""},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPut, st.path, st.token, st.body)
			if resp.StatusCode != st.wantCode {
				t.Fatalf("status code = %d, want %d", resp.StatusCode, st.wantCode)
			}
			if st.wantStatus != "" {
				var sr statusResponse
				if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
					t.Fatal(err)
				}
				if sr.MessageID != m.ID || sr.Status != st.wantStatus {
					t.Errorf("response = %+v, want %s", sr, st.wantStatus)
				}
			}
			if st.notify != "" {
				expect(t, alice, st.notify)
			}
		})
	}

	stored, err := e.db.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.StatusRead || stored.ReadAt == nil {
		t.Errorf("stored = %s readAt %v, want read with timestamp", stored.Status, stored.ReadAt)
	}
}

func TestFriendsAPI(t *testing.T) {
	e := newEnv(t)
	resp := e.get(t, "/api/friends", e.token(t, e.bob))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var friends []store.User
	if err := json.NewDecoder(resp.Body).Decode(&friends); err != nil {
		t.Fatal(err)
	}
	if len(friends) != 1 || friends[0].ID != e.alice.ID {
		t.Errorf("friends = %+v, want only alice", friends)
	}

	if resp := e.get(t, "/api/friends", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token status = %d, want 401", resp.StatusCode)
	}
}
