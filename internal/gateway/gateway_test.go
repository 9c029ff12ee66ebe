package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/access"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/auth"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/directory"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/hub"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/store"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/jwt"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/snowflake"
)

const readTimeout = 2 * time.Second

type testEnv struct {
	server   *httptest.Server
	gateway  *Gateway
	registry *hub.Registry
	verifier *auth.Verifier
}

type envOption func(*config.GatewayConfig, *store.Store)

func withPolicy(rejectAnonymous, conceal bool) envOption {
	return func(cfg *config.GatewayConfig, _ *store.Store) {
		cfg.RejectAnonymous = rejectAnonymous
		cfg.ConcealRoomExistence = conceal
	}
}

func withRateLimit(burst int, interval time.Duration) envOption {
	return func(cfg *config.GatewayConfig, _ *store.Store) {
		cfg.RateLimit = config.RateLimitConfig{Burst: burst, Interval: interval}
	}
}

func withStore(wrap func(store.Store) store.Store) envOption {
	return func(_ *config.GatewayConfig, st *store.Store) {
		*st = wrap(*st)
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	team := "team-1"
	dir := directory.NewMemoryDirectory()
	dir.AddUser(domain.User{ID: "u1", Username: "alice"})
	dir.AddUser(domain.User{ID: "u2", Username: "bob"})
	dir.AddUser(domain.User{ID: "u3", Username: "carol"})
	dir.AddRoom(domain.Room{ID: "general", Name: "general"})
	dir.AddRoom(domain.Room{ID: "secret", Name: "secret", IsPrivate: true}, "u1")
	dir.AddRoom(domain.Room{ID: "core", Name: "core", TeamID: &team})
	dir.AddMembership(domain.Membership{UserID: "u1", TeamID: team, Role: domain.RoleAdmin})
	dir.AddMembership(domain.Membership{UserID: "u2", TeamID: team, Role: domain.RoleMember})

	tokens, err := jwt.NewManager("gateway-test-secret", "teamchat", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	verifier := auth.NewVerifier(tokens, dir)

	ids, err := snowflake.NewNode(1, snowflake.DefaultEpoch)
	if err != nil {
		t.Fatalf("NewNode() error = %v", err)
	}
	var st store.Store = store.NewMemoryStore(ids)

	gwCfg := config.GatewayConfig{}
	for _, opt := range opts {
		opt(&gwCfg, &st)
	}

	registry := hub.NewRegistry(zerolog.Nop())
	wsCfg := config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
	gw := New(wsCfg, gwCfg, verifier, access.NewEvaluator(dir), registry, st)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/chat/"), "/")
		gw.Serve(w, r, roomID)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{server: srv, gateway: gw, registry: registry, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, _, err := e.verifier.Issue(userID, username)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

func (e *testEnv) dial(t *testing.T, roomID, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/chat/" + roomID + "/"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", roomID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials and consumes the connection_established frame.
func (e *testEnv) join(t *testing.T, roomID, userID, username string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, roomID, e.token(t, userID, username))
	f := readFrame(t, conn)
	if f["type"] != domain.FrameConnectionEstablished {
		t.Fatalf("first frame = %v, want connection_established", f)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var f map[string]interface{}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %q is not JSON: %v", data, err)
	}
	return f
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	sendJSON(t, conn, map[string]interface{}{"type": "chat_message", "message": text})
}

func expectChat(t *testing.T, conn *websocket.Conn, text string) map[string]interface{} {
	t.Helper()
	f := readFrame(t, conn)
	if f["type"] != domain.FrameChatMessage || f["message"] != text {
		t.Fatalf("frame = %v, want chat_message %q", f, text)
	}
	return f
}

// messageID decodes the string message_id of a chat frame.
func messageID(t *testing.T, f map[string]interface{}) int64 {
	t.Helper()
	raw, ok := f["message_id"].(string)
	if !ok {
		t.Fatalf("message_id = %#v, want a string", f["message_id"])
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("message_id %q is not an integer: %v", raw, err)
	}
	return id
}

func expectError(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	f := readFrame(t, conn)
	if f["type"] != domain.FrameError || f["message"] != message {
		t.Fatalf("frame = %v, want error %q", f, message)
	}
}

// expectClose reads the error frame that precedes a rejection and then the
// close frame itself.
func expectClose(t *testing.T, conn *websocket.Conn, reason domain.CloseReason) {
	t.Helper()
	expectError(t, conn, reason.Message)
	expectCloseCode(t, conn, reason.Code)
}

func expectCloseCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("got frame %q, want close %d", data, code)
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("ReadMessage() error = %v, want close error", err)
	}
	if ce.Code != code {
		t.Errorf("close code = %d, want %d", ce.Code, code)
	}
}

func waitMembers(t *testing.T, r *hub.Registry, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if r.Members(roomID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Members(%s) = %d, want %d", roomID, r.Members(roomID), want)
}

func TestRejections(t *testing.T) {
	tests := []struct {
		name   string
		opts   []envOption
		roomID string
		user   string
		want   domain.CloseReason
	}{
		{"private room without credential", nil, "secret", "", domain.CloseAccessDenied},
		{"private room non member", nil, "secret", "u2", domain.CloseAccessDenied},
		{"team room non member", nil, "core", "u3", domain.CloseAccessDenied},
		{"public room without credential", nil, "general", "", domain.CloseAccessDenied},
		{"missing room", nil, "nowhere", "u1", domain.CloseRoomNotFound},
		{"missing room concealed", []envOption{withPolicy(false, true)}, "nowhere", "u1", domain.CloseAccessDenied},
		{"anonymous rejected early", []envOption{withPolicy(true, false)}, "general", "", domain.CloseUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts...)
			token := ""
			if tt.user != "" {
				token = env.token(t, tt.user, tt.user)
			}
			conn := env.dial(t, tt.roomID, token)
			expectClose(t, conn, tt.want)
			if n := env.registry.Members(tt.roomID); n != 0 {
				t.Errorf("Members() = %d after rejection, want 0", n)
			}
		})
	}
}

func TestInvalidCredentialDegradesToAnonymous(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "general", "not-a-token")
	expectClose(t, conn, domain.CloseAccessDenied)
}

func TestJoinAllowedRooms(t *testing.T) {
	tests := []struct {
		roomID string
		user   string
	}{
		{"general", "u3"},
		{"secret", "u1"},
		{"core", "u2"},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.roomID, func(t *testing.T) {
			env.join(t, tt.roomID, tt.user, tt.user)
			waitMembers(t, env.registry, tt.roomID, 1)
		})
	}
}

func TestChatMessageReachesEveryoneIncludingSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")
	bob := env.join(t, "general", "u2", "bob")
	waitMembers(t, env.registry, "general", 2)

	sendChat(t, alice, "  hello team  ")

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := expectChat(t, conn, "hello team")
		if f["user_id"] != "u1" || f["username"] != "alice" {
			t.Errorf("sender = %v/%v, want u1/alice", f["user_id"], f["username"])
		}
		if id := messageID(t, f); id <= 0 {
			t.Errorf("message_id = %v, want positive", f["message_id"])
		}
		if _, err := time.Parse(time.RFC3339Nano, f["created_at"].(string)); err != nil {
			t.Errorf("created_at %v is not RFC 3339: %v", f["created_at"], err)
		}
	}
}

func TestSenderOrderIsPreserved(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")
	bob := env.join(t, "general", "u2", "bob")
	waitMembers(t, env.registry, "general", 2)

	texts := []string{"one", "two", "three", "four", "five"}
	for _, text := range texts {
		sendChat(t, alice, text)
	}

	var last int64
	for _, text := range texts {
		f := expectChat(t, bob, text)
		id := messageID(t, f)
		if id <= last {
			t.Errorf("message_id %d not after %d", id, last)
		}
		last = id
	}
}

func TestBlankMessageIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")

	sendChat(t, alice, "   \n\t ")
	sendChat(t, alice, "after")

	// The blank message produced nothing, so the next frame is the real one.
	expectChat(t, alice, "after")
}

func TestLegacyFrameWithoutType(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")

	sendJSON(t, alice, map[string]interface{}{"message": "untyped"})
	expectChat(t, alice, "untyped")
}

func TestTypingExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")
	bob := env.join(t, "general", "u2", "bob")
	waitMembers(t, env.registry, "general", 2)

	sendJSON(t, alice, map[string]interface{}{"type": "typing", "is_typing": true})
	sendChat(t, alice, "done typing")

	f := readFrame(t, bob)
	if f["type"] != domain.FrameTyping || f["user_id"] != "u1" || f["is_typing"] != true {
		t.Fatalf("bob frame = %v, want typing from u1", f)
	}
	expectChat(t, bob, "done typing")

	// Alice never sees her own typing event.
	expectChat(t, alice, "done typing")
}

func TestDisconnectedSessionStopsReceiving(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")
	bob := env.join(t, "general", "u2", "bob")
	waitMembers(t, env.registry, "general", 2)

	alice.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	alice.Close()
	waitMembers(t, env.registry, "general", 1)

	sendChat(t, bob, "anyone?")
	expectChat(t, bob, "anyone?")
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	expectError(t, alice, "Invalid JSON")

	sendJSON(t, alice, map[string]interface{}{"type": "typing", "is_typing": "yes"})
	expectError(t, alice, "is_typing must be a boolean")

	sendChat(t, alice, "still here")
	expectChat(t, alice, "still here")
}

type flakyStore struct {
	store.Store
}

func (s flakyStore) Append(ctx context.Context, roomID string, sender domain.Principal, text string) (*domain.Message, error) {
	if text == "fail" {
		return nil, errors.New("disk full")
	}
	return s.Store.Append(ctx, roomID, sender, text)
}

func TestStoreFailureOnlyNotifiesSender(t *testing.T) {
	env := newTestEnv(t, withStore(func(st store.Store) store.Store { return flakyStore{st} }))
	alice := env.join(t, "general", "u1", "alice")
	bob := env.join(t, "general", "u2", "bob")
	waitMembers(t, env.registry, "general", 2)

	sendChat(t, alice, "fail")
	expectError(t, alice, errSaveMessage.Error())

	sendChat(t, alice, "ok")
	expectChat(t, alice, "ok")
	// Bob's first frame is the stored message; the failed one was never broadcast.
	expectChat(t, bob, "ok")
}

type panickyStore struct {
	store.Store
}

func (panickyStore) Append(context.Context, string, domain.Principal, string) (*domain.Message, error) {
	panic("boom")
}

func TestPanicWhileHandlingFrameIsRecovered(t *testing.T) {
	env := newTestEnv(t, withStore(func(st store.Store) store.Store { return panickyStore{st} }))
	alice := env.join(t, "general", "u1", "alice")

	sendChat(t, alice, "explode")
	expectError(t, alice, errInternal.Error())

	sendJSON(t, alice, map[string]interface{}{"type": "typing", "is_typing": false})
	if err := alice.WriteMessage(websocket.TextMessage, []byte("[]")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	expectError(t, alice, "Invalid JSON")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, withRateLimit(2, time.Hour))
	alice := env.join(t, "general", "u1", "alice")

	sendChat(t, alice, "a")
	sendChat(t, alice, "b")
	sendChat(t, alice, "c")

	expectChat(t, alice, "a")
	expectChat(t, alice, "b")
	expectError(t, alice, rateLimitMessage)
}

func TestShutdownClosesWithGoingAway(t *testing.T) {
	env := newTestEnv(t)
	alice := env.join(t, "general", "u1", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.gateway.Shutdown(ctx) }()

	expectCloseCode(t, alice, domain.CloseGoingAway.Code)
	if err := <-done; err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	waitMembers(t, env.registry, "general", 0)
}

func TestConcurrentJoinsAreNotLost(t *testing.T) {
	env := newTestEnv(t)
	users := []string{"u1", "u2", "u3"}

	base := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/chat/general/?token="
	urls := make([]string, len(users))
	for i, u := range users {
		urls[i] = base + url.QueryEscape(env.token(t, u, u))
	}

	conns := make([]*websocket.Conn, len(users))
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], _, errs[i] = websocket.DefaultDialer.Dial(urls[i], nil)
		}(i)
	}
	wg.Wait()

	for i, c := range conns {
		if errs[i] != nil {
			t.Fatalf("Dial(%s) error = %v", users[i], errs[i])
		}
		t.Cleanup(func() { c.Close() })
		if f := readFrame(t, c); f["type"] != domain.FrameConnectionEstablished {
			t.Fatalf("first frame = %v, want connection_established", f)
		}
	}
	waitMembers(t, env.registry, "general", len(users))

	sendChat(t, conns[0], "roll call")
	for _, c := range conns {
		expectChat(t, c, "roll call")
	}
}

func TestPlainHTTPRequestIsRejected(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/ws/chat/general/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if rooms, sessions := env.registry.Stats(); rooms != 0 || sessions != 0 {
		t.Errorf("Stats() = %d rooms, %d sessions; want empty registry", rooms, sessions)
	}
}

func TestConnectAfterShutdownIsRefused(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.gateway.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/chat/general/?token=" + url.QueryEscape(env.token(t, "u1", "alice"))
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		conn.Close()
		t.Fatal("Dial() succeeded after Shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Dial() response = %v, want 503", resp)
	}
}

func TestConnectsRacingShutdown(t *testing.T) {
	env := newTestEnv(t)
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/chat/general/?token=" + url.QueryEscape(env.token(t, "u1", "alice"))

	const dialers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < dialers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			conn, _, err := websocket.DefaultDialer.Dial(u, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	close(start)
	if err := env.gateway.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	wg.Wait()
	waitMembers(t, env.registry, "general", 0)
}
