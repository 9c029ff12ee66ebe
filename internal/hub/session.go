package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

type outbound struct {
	data  []byte
	close *domain.CloseReason
}

// Session is the outbound side of one live connection. A single write pump
// owns the socket; everything else talks to it through the send queue.
type Session struct {
	ID string

	conn    *websocket.Conn
	cfg     config.WebSocketConfig
	logger  zerolog.Logger
	send    chan outbound
	quit    chan struct{}
	done    chan struct{}
	closing atomic.Bool

	quitOnce  sync.Once
	closeOnce sync.Once
}

// NewSession wraps conn. conn may be nil for sessions that never write to a
// socket.
func NewSession(id string, conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *Session {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Session{
		ID:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan outbound, buf),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Conn returns the underlying socket.
func (s *Session) Conn() *websocket.Conn {
	return s.conn
}

// Logger returns the session's child logger.
func (s *Session) Logger() zerolog.Logger {
	return s.logger
}

// Send queues an encoded frame without blocking.
func (s *Session) Send(data []byte) error {
	if s.closing.Load() {
		return ErrSessionClosed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- outbound{data: data}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close asks the write pump to flush what is already queued and then send a
// close frame with reason. When the queue is full the socket is closed
// immediately instead. Only the first call has effect.
func (s *Session) Close(reason domain.CloseReason) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		select {
		case s.send <- outbound{close: &reason}:
		default:
			s.abort(reason)
		}
	})
}

// Shutdown stops the write pump without sending anything more. Used when the
// peer is already gone.
func (s *Session) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Closing reports whether Close has been called.
func (s *Session) Closing() bool {
	return s.closing.Load()
}

// Done is closed once the write pump has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) abort(reason domain.CloseReason) {
	s.logger.Warn().Int(log.FieldCloseCode, reason.Code).Msg("closing session without flushing queue")
	if s.conn != nil {
		deadline := time.Now().Add(s.cfg.WriteWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(reason.Code, reason.Name), deadline)
		_ = s.conn.Close()
	}
	s.Shutdown()
}

// WritePump drains the send queue onto the socket and keeps the peer alive
// with pings. It returns when a close frame was written, the session was shut
// down, or a write failed.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		if s.conn != nil {
			s.conn.Close()
		}
		close(s.done)
	}()

	for {
		select {
		case msg := <-s.send:
			if msg.close != nil {
				s.writeClose(*msg.close)
				return
			}
			if err := s.write(websocket.TextMessage, msg.data); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
				return
			}

		case <-s.quit:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) writeClose(reason domain.CloseReason) {
	if s.conn == nil {
		return
	}
	deadline := time.Now().Add(s.cfg.WriteWait)
	if err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(reason.Code, reason.Name), deadline); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write close frame")
	}
}
