package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/access"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/audit"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/hub"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/store"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

const rateLimitMessage = "Rate limit exceeded"

var (
	errSaveMessage = errors.New("Failed to save message")
	errInternal    = errors.New("Internal error")
)

// Resolver turns a presented credential into a principal. It never fails;
// bad credentials come back anonymous.
type Resolver interface {
	Resolve(ctx context.Context, token string) domain.Principal
}

// Authorizer decides whether a principal may join a room.
type Authorizer interface {
	Evaluate(ctx context.Context, p domain.Principal, roomID string) (access.Decision, error)
}

// Fanout delivers an encoded frame to the sessions of a room.
type Fanout interface {
	Broadcast(roomID string, payload []byte, exclude ...string) int
}

type Option func(*Gateway)

// WithFanout replaces the local registry as broadcast target, e.g. with a
// cross-process relay.
func WithFanout(f Fanout) Option {
	return func(g *Gateway) { g.fanout = f }
}

// Gateway upgrades HTTP requests to chat connections and drives one Machine
// per connection.
type Gateway struct {
	machine   Machine
	resolver  Resolver
	evaluator Authorizer
	registry  *hub.Registry
	fanout    Fanout
	store     store.Store
	wsCfg     config.WebSocketConfig
	rateCfg   config.RateLimitConfig
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

func New(
	wsCfg config.WebSocketConfig,
	gwCfg config.GatewayConfig,
	resolver Resolver,
	evaluator Authorizer,
	registry *hub.Registry,
	st store.Store,
	opts ...Option,
) *Gateway {
	if wsCfg.PongWait <= 0 {
		wsCfg.PongWait = 60 * time.Second
	}
	if wsCfg.WriteWait <= 0 {
		wsCfg.WriteWait = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		machine: Machine{Policy: Policy{
			RejectAnonymous:      gwCfg.RejectAnonymous,
			ConcealRoomExistence: gwCfg.ConcealRoomExistence,
		}},
		resolver:  resolver,
		evaluator: evaluator,
		registry:  registry,
		fanout:    registry,
		store:     st,
		wsCfg:     wsCfg,
		rateCfg:   gwCfg.RateLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(wsCfg.AllowedOrigins),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Serve upgrades the request and runs the connection for roomID until it
// ends. It blocks for the lifetime of the connection.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, roomID string) {
	if !g.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.active.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	logger := log.Ctx(r.Context()).With().
		Str(log.FieldConnID, connID).
		Str(log.FieldRoomID, roomID).
		Logger()

	ctx, cancel := context.WithCancel(log.WithLogger(r.Context(), logger))
	defer cancel()

	c := &conn{
		g:         g,
		ctx:       ctx,
		roomID:    roomID,
		session:   hub.NewSession(connID, ws, g.wsCfg, logger),
		principal: domain.Anonymous(),
		state:     Connecting,
	}
	if g.rateCfg.Burst > 0 && g.rateCfg.Interval > 0 {
		every := g.rateCfg.Interval / time.Duration(g.rateCfg.Burst)
		c.limiter = rate.NewLimiter(rate.Every(every), g.rateCfg.Burst)
	}

	go c.session.WritePump()
	go func() {
		select {
		case <-g.ctx.Done():
			c.session.Close(domain.CloseGoingAway)
		case <-ctx.Done():
		}
	}()

	defer c.finish()

	c.dispatch(Opened{Token: r.URL.Query().Get("token")})
	if c.state == Joined {
		c.readLoop()
	}
}

// Shutdown closes every live connection with going_away and waits for them
// to finish or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers a connection with the shutdown wait group. It refuses once
// Shutdown has started so Add never races with Wait.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active.Add(1)
	return true
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// conn is the driver side of one connection. Only the goroutine running
// Serve touches it.
type conn struct {
	g         *Gateway
	ctx       context.Context
	roomID    string
	session   *hub.Session
	principal domain.Principal
	state     State
	limiter   *rate.Limiter
}

// dispatch feeds ev to the machine and runs the resulting effects. Effects
// that produce a follow-up event are fed back in order.
func (c *conn) dispatch(ev Event) {
	queue := []Event{ev}
	for len(queue) > 0 {
		ev, queue = queue[0], queue[1:]

		prev := c.state
		next, effects := c.g.machine.Transition(prev, ev)
		c.state = next

		if next == prev && len(effects) == 0 && prev != Joined {
			c.logger().Debug().Str(log.FieldState, prev.String()).Str("event", fmt.Sprintf("%T", ev)).Msg("event ignored")
		} else if next != prev {
			c.logger().Debug().Str(log.FieldState, next.String()).Msg("state changed")
		}

		for _, eff := range effects {
			if follow := c.runSafely(eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
}

func (c *conn) runSafely(eff Effect) (follow Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("effect", fmt.Sprintf("%T", eff)).
				Msg("recovered from panic")

			if c.state == Joined {
				follow = Failed{Err: errInternal}
				return
			}
			c.session.Close(domain.CloseInternalError)
			follow = Disconnected{Err: errInternal}
		}
	}()
	return c.run(eff)
}

func (c *conn) run(eff Effect) Event {
	switch e := eff.(type) {
	case Verify:
		p := c.g.resolver.Resolve(c.ctx, e.Token)
		c.principal = p
		c.ctx = log.WithFields(c.ctx, log.FieldUserID, p.ID, log.FieldUsername, p.Username)
		audit.Log(c.ctx, audit.ActionConnect, "connection opened")
		return Authenticated{Principal: p}

	case Authorize:
		d, err := c.g.evaluator.Evaluate(c.ctx, e.Principal, c.roomID)
		if err != nil {
			c.logger().Error().Err(err).Msg("authorization failed")
		}
		return Authorized{Decision: d, Err: err}

	case Join:
		c.g.registry.Join(c.roomID, c.session)
		audit.Log(c.ctx, audit.ActionJoin, "joined room")

	case Send:
		c.send(e.Frame)

	case Close:
		c.session.Close(e.Reason)
		audit.LogWithDetail(c.ctx, audit.ActionDeny, e.Reason.Name, "connection closed")

	case PostMessage:
		msg, err := c.g.store.Append(c.ctx, c.roomID, c.principal, e.Text)
		if err != nil {
			c.logger().Error().Err(err).Msg("failed to persist message")
			return Failed{Err: errSaveMessage}
		}
		data, err := domain.Encode(domain.NewChatMessageOut(msg))
		if err != nil {
			c.logger().Error().Err(err).Msg("failed to encode message")
			return Failed{Err: errInternal}
		}
		n := c.g.fanout.Broadcast(c.roomID, data)
		c.logger().Debug().Int64(log.FieldMessageID, msg.ID).Int("recipients", n).Msg("message broadcast")
		audit.LogWithDetail(c.ctx, audit.ActionMessage, strconv.FormatInt(msg.ID, 10), "message posted")

	case BroadcastTyping:
		data, err := domain.Encode(domain.NewTypingOut(domain.PresenceEvent{
			UserID:   c.principal.ID,
			Username: c.principal.Username,
			RoomID:   c.roomID,
			IsTyping: e.IsTyping,
		}))
		if err != nil {
			c.logger().Error().Err(err).Msg("failed to encode typing event")
			return nil
		}
		c.g.fanout.Broadcast(c.roomID, data, c.session.ID)

	case Leave:
		c.g.registry.Leave(c.roomID, c.session)
	}
	return nil
}

func (c *conn) send(frame interface{}) {
	data, err := domain.Encode(frame)
	if err != nil {
		c.logger().Error().Err(err).Msg("failed to encode frame")
		return
	}
	if err := c.session.Send(data); err != nil {
		c.logger().Debug().Err(err).Msg("frame dropped")
	}
}

func (c *conn) readLoop() {
	ws := c.session.Conn()
	cfg := c.g.wsCfg

	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger().Info().Err(err).Msg("connection lost")
			}
			c.dispatch(Disconnected{Err: err})
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.send(domain.NewErrorFrame(rateLimitMessage))
			continue
		}

		c.dispatch(FrameReceived{Frame: domain.DecodeInbound(data)})
		if c.state == Closed {
			return
		}
	}
}

// finish runs on every exit path. Leaving is idempotent, so it is safe even
// when the machine already emitted Leave or never joined.
func (c *conn) finish() {
	if c.state != Closed {
		c.dispatch(Disconnected{})
	}
	c.g.registry.Leave(c.roomID, c.session)

	// Let a queued close frame reach the peer before tearing down.
	if c.session.Closing() {
		select {
		case <-c.session.Done():
		case <-time.After(c.g.wsCfg.WriteWait):
		}
	}
	c.session.Shutdown()
	<-c.session.Done()

	audit.Log(c.ctx, audit.ActionDisconnect, "connection closed")
}

func (c *conn) logger() *zerolog.Logger {
	l := log.Ctx(c.ctx)
	return &l
}
