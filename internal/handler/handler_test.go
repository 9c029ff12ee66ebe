package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/access"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/auth"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/directory"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/gateway"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/hub"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/store"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/jwt"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/middleware"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/snowflake"
)

type fixture struct {
	router   *gin.Engine
	store    *store.MemoryStore
	verifier *auth.Verifier
	gateway  *gateway.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := directory.NewMemoryDirectory()
	dir.AddUser(domain.User{ID: "u1", Username: "alice"})
	dir.AddUser(domain.User{ID: "u2", Username: "bob"})
	dir.AddRoom(domain.Room{ID: "general", Name: "general"})
	dir.AddRoom(domain.Room{ID: "secret", Name: "secret", IsPrivate: true}, "u1")

	tokens, err := jwt.NewManager("handler-test-secret", "teamchat", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	verifier := auth.NewVerifier(tokens, dir)

	ids, err := snowflake.NewNode(1, snowflake.DefaultEpoch)
	if err != nil {
		t.Fatalf("NewNode() error = %v", err)
	}
	st := store.NewMemoryStore(ids)
	evaluator := access.NewEvaluator(dir)
	registry := hub.NewRegistry(zerolog.Nop())
	gw := gateway.New(config.WebSocketConfig{}, config.GatewayConfig{}, verifier, evaluator, registry, st)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	})

	router := gin.New()
	NewHandler(gw, evaluator, st, registry, middleware.NewAuthMiddleware(verifier)).RegisterRoutes(router)

	return &fixture{router: router, store: st, verifier: verifier, gateway: gw}
}

func (f *fixture) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := f.verifier.Issue(userID, userID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return "Bearer " + tok
}

func (f *fixture) seed(t *testing.T, roomID string, n int) []domain.Message {
	t.Helper()
	sender := domain.NewPrincipal("u1", "alice")
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := f.store.Append(context.Background(), roomID, sender, fmt.Sprintf("m%d", i))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		out = append(out, *m)
	}
	return out
}

type historyEnvelope struct {
	Success bool            `json:"success"`
	Data    HistoryResponse `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (f *fixture) get(t *testing.T, path, authHeader string) (int, historyEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env historyEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("body %q is not JSON: %v", w.Body.String(), err)
	}
	return w.Code, env
}

func TestHistoryAccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "secret", 1)

	tests := []struct {
		name     string
		path     string
		user     string
		wantCode int
		wantErr  string
	}{
		{"no credential", "/api/v1/channels/general/messages", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing room", "/api/v1/channels/nowhere/messages", "u1", http.StatusNotFound, "NOT_FOUND"},
		{"private non member", "/api/v1/channels/secret/messages", "u2", http.StatusForbidden, "FORBIDDEN"},
		{"private member", "/api/v1/channels/secret/messages", "u1", http.StatusOK, ""},
		{"public room", "/api/v1/channels/general/messages", "u2", http.StatusOK, ""},
		{"bad cursor", "/api/v1/channels/general/messages?before=abc", "u1", http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authHeader := ""
			if tt.user != "" {
				authHeader = f.bearer(t, tt.user)
			}
			code, env := f.get(t, tt.path, authHeader)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if tt.wantErr == "" {
				if !env.Success {
					t.Errorf("success = false, want true")
				}
				return
			}
			if env.Error == nil || env.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want %s", env.Error, tt.wantErr)
			}
		})
	}
}

func TestHistoryPagination(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, "general", 5)
	bearer := f.bearer(t, "u2")

	code, env := f.get(t, "/api/v1/channels/general/messages?limit=2", bearer)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	page := env.Data
	if len(page.Messages) != 2 || page.Messages[0].Message != "m3" || page.Messages[1].Message != "m4" {
		t.Fatalf("latest page = %+v, want m3,m4", page.Messages)
	}
	if want := strconv.FormatInt(seeded[3].ID, 10); page.NextBefore != want {
		t.Fatalf("next_before = %q, want %s", page.NextBefore, want)
	}
	if page.Messages[0].MessageID != strconv.FormatInt(seeded[3].ID, 10) {
		t.Errorf("message_id = %q, want %d", page.Messages[0].MessageID, seeded[3].ID)
	}

	_, env = f.get(t, "/api/v1/channels/general/messages?limit=2&before="+page.NextBefore, bearer)
	page = env.Data
	if len(page.Messages) != 2 || page.Messages[0].Message != "m1" || page.Messages[1].Message != "m2" {
		t.Fatalf("second page = %+v, want m1,m2", page.Messages)
	}

	_, env = f.get(t, "/api/v1/channels/general/messages?limit=2&before="+page.NextBefore, bearer)
	page = env.Data
	if len(page.Messages) != 1 || page.Messages[0].Message != "m0" {
		t.Fatalf("last page = %+v, want m0", page.Messages)
	}
	if page.NextBefore != "" {
		t.Errorf("next_before = %s on last page, want none", page.NextBefore)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Data struct {
			Status   string `json:"status"`
			Rooms    int    `json:"rooms"`
			Sessions int    `json:"sessions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Data.Status != "ok" || body.Data.Rooms != 0 || body.Data.Sessions != 0 {
		t.Errorf("health = %+v", body.Data)
	}
}

func TestConnectRoutes(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	tok, _, err := f.verifier.Issue("u1", "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for _, path := range []string{"/ws/chat/general", "/ws/chat/general/"} {
		t.Run(path, func(t *testing.T) {
			u := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + tok
			conn, _, err := websocket.DefaultDialer.Dial(u, nil)
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer conn.Close()

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var frame map[string]string
			if err := conn.ReadJSON(&frame); err != nil {
				t.Fatalf("ReadJSON() error = %v", err)
			}
			if frame["type"] != domain.FrameConnectionEstablished {
				t.Errorf("frame = %v, want connection_established", frame)
			}
		})
	}
}
