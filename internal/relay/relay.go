package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/pubsub"
)

const publishTimeout = 2 * time.Second

// Local delivers frames to the sessions connected to this process.
type Local interface {
	Broadcast(roomID string, payload []byte, exclude ...string) int
}

// Relay extends room broadcasts to every gateway instance sharing the bus.
// Local sessions are served directly; the event is also published so other
// instances deliver it to theirs.
type Relay struct {
	local   Local
	bus     pubsub.PubSub
	channel string
	origin  string
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(local Local, bus pubsub.PubSub, channel string) *Relay {
	if channel == "" {
		channel = pubsub.ChannelRoomBroadcast
	}
	return &Relay{
		local:   local,
		bus:     bus,
		channel: channel,
		origin:  uuid.New().String(),
	}
}

// Origin identifies this instance on the bus.
func (r *Relay) Origin() string {
	return r.origin
}

// Start subscribes to the bus and delivers events from other instances until
// ctx is cancelled or Close is called.
func (r *Relay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.consume(ctx, events)

	l := log.L()
	l.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("relay started")
	return nil
}

func (r *Relay) consume(ctx context.Context, events <-chan *pubsub.Event) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.deliver(ev)
		}
	}
}

func (r *Relay) deliver(ev *pubsub.Event) {
	if ev.Origin == r.origin {
		return
	}

	var p pubsub.BroadcastPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldRoomID, ev.RoomID).Msg("dropping malformed relay event")
		return
	}

	var exclude []string
	if p.ExcludeConn != "" {
		exclude = append(exclude, p.ExcludeConn)
	}
	r.local.Broadcast(ev.RoomID, p.Frame, exclude...)
}

// Broadcast delivers payload locally and publishes it for the other
// instances. A publish failure is logged; local delivery is unaffected.
func (r *Relay) Broadcast(roomID string, payload []byte, exclude ...string) int {
	n := r.local.Broadcast(roomID, payload, exclude...)

	eventType := pubsub.EventChatMessage
	p := pubsub.BroadcastPayload{Frame: payload}
	if len(exclude) > 0 {
		eventType = pubsub.EventTyping
		p.ExcludeConn = exclude[0]
	}

	ev, err := pubsub.NewEvent(eventType, roomID, p)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to build relay event")
		return n
	}
	ev.Origin = r.origin

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.bus.Publish(ctx, r.channel, ev); err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to publish relay event")
	}
	return n
}

// Close stops consuming and releases the subscription. The bus itself is
// owned by the caller.
func (r *Relay) Close() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.bus.Unsubscribe(ctx, r.channel)
}
