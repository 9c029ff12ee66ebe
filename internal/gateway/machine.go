package gateway

import (
	"fmt"
	"strings"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/access"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

// State of one connection.
type State int

const (
	Connecting State = iota
	Authenticating
	Authorizing
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Authorizing:
		return "authorizing"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is an input to the machine.
type Event interface {
	event()
}

// Opened fires once the transport handshake is complete.
type Opened struct {
	Token string
}

type Authenticated struct {
	Principal domain.Principal
}

// Authorized carries the evaluator's decision, or Err when it could not decide.
type Authorized struct {
	Decision access.Decision
	Err      error
}

type FrameReceived struct {
	Frame domain.Inbound
}

// Failed reports an error while handling a frame in the joined state.
type Failed struct {
	Err error
}

// Disconnected fires when the transport is gone, whoever closed it.
type Disconnected struct {
	Err error
}

func (Opened) event()        {}
func (Authenticated) event() {}
func (Authorized) event()    {}
func (FrameReceived) event() {}
func (Failed) event()        {}
func (Disconnected) event()  {}

// Effect is an action the driver performs on behalf of the machine.
type Effect interface {
	effect()
}

type Verify struct {
	Token string
}

type Authorize struct {
	Principal domain.Principal
}

// Join registers the session with the room registry.
type Join struct{}

// Send queues an outbound frame to this connection only.
type Send struct {
	Frame interface{}
}

// Close sends a close frame after everything already queued.
type Close struct {
	Reason domain.CloseReason
}

// PostMessage persists Text and then broadcasts it to the whole room.
type PostMessage struct {
	Text string
}

// BroadcastTyping relays a typing indicator to everyone but the sender.
type BroadcastTyping struct {
	IsTyping bool
}

// Leave removes the session from the room registry.
type Leave struct{}

func (Verify) effect()          {}
func (Authorize) effect()       {}
func (Join) effect()            {}
func (Send) effect()            {}
func (Close) effect()           {}
func (PostMessage) effect()     {}
func (BroadcastTyping) effect() {}
func (Leave) effect()           {}

// Policy holds deployment switches that change transitions.
type Policy struct {
	// RejectAnonymous closes unauthenticated connections right after
	// verification with the unauthenticated reason.
	RejectAnonymous bool
	// ConcealRoomExistence reports missing rooms as access denied.
	ConcealRoomExistence bool
}

// Machine is the connection lifecycle. Transition has no side effects.
type Machine struct {
	Policy Policy
}

// Transition returns the next state and the effects to run, in order. Pairs
// the table does not name leave the state unchanged with no effects.
func (m Machine) Transition(s State, ev Event) (State, []Effect) {
	if s == Closed {
		return Closed, nil
	}
	if _, ok := ev.(Disconnected); ok {
		return Closed, []Effect{Leave{}}
	}

	switch s {
	case Connecting:
		if e, ok := ev.(Opened); ok {
			return Authenticating, []Effect{Verify{Token: e.Token}}
		}

	case Authenticating:
		if e, ok := ev.(Authenticated); ok {
			if m.Policy.RejectAnonymous && !e.Principal.Authenticated {
				return reject(domain.CloseUnauthenticated)
			}
			return Authorizing, []Effect{Authorize{Principal: e.Principal}}
		}

	case Authorizing:
		if e, ok := ev.(Authorized); ok {
			return m.authorized(e)
		}

	case Joined:
		switch e := ev.(type) {
		case FrameReceived:
			return Joined, frameEffects(e.Frame)
		case Failed:
			return Joined, []Effect{Send{Frame: domain.NewErrorFrame(e.Err.Error())}}
		}
	}

	return s, nil
}

func (m Machine) authorized(e Authorized) (State, []Effect) {
	if e.Err != nil {
		return reject(domain.CloseInternalError)
	}
	switch e.Decision {
	case access.Allowed:
		return Joined, []Effect{Join{}, Send{Frame: domain.NewConnectionEstablished()}}
	case access.RoomNotFound:
		if m.Policy.ConcealRoomExistence {
			return reject(domain.CloseAccessDenied)
		}
		return reject(domain.CloseRoomNotFound)
	default:
		return reject(domain.CloseAccessDenied)
	}
}

func frameEffects(f domain.Inbound) []Effect {
	switch f := f.(type) {
	case domain.ChatMessageFrame:
		text := strings.TrimSpace(f.Text)
		if text == "" {
			return nil
		}
		return []Effect{PostMessage{Text: text}}
	case domain.TypingFrame:
		return []Effect{BroadcastTyping{IsTyping: f.IsTyping}}
	case domain.MalformedFrame:
		return []Effect{Send{Frame: domain.NewErrorFrame(f.Reason)}}
	default:
		return nil
	}
}

func reject(reason domain.CloseReason) (State, []Effect) {
	return Closed, []Effect{
		Send{Frame: domain.NewErrorFrame(reason.Message)},
		Close{Reason: reason},
	}
}
