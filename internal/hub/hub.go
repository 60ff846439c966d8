// Package hub fans room events out to the sessions attached to each room.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomcast/internal/metrics"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

// DefaultQueueSize bounds the events waiting for a room's dispatcher.
const DefaultQueueSize = 1024

// flushTimeout bounds publishing what is left in the relay outbox once Run
// is cancelled.
const flushTimeout = 5 * time.Second

// Subscriber receives a room's events. Deliver must not block; it returns
// false when the event could not be accepted.
type Subscriber interface {
	ID() string
	Deliver(e protocol.Event) bool
}

// Relay carries events between processes sharing the same rooms.
type Relay interface {
	Publish(ctx context.Context, roomID uuid.UUID, e protocol.Event) error
	// Run receives events published by other processes until ctx ends.
	Run(ctx context.Context, deliver func(roomID uuid.UUID, e protocol.Event)) error
}

// room is one single-writer dispatch queue.
type room struct {
	mu   sync.Mutex
	subs map[string]Subscriber
	// pending is appended to by broadcasters and drained by the dispatcher.
	pending []protocol.Event
	wake    chan struct{}
	done    chan struct{}
}

// Hub maps room ids to their subscribers. Within a room every subscriber
// sees events in submission order.
type Hub struct {
	mu        sync.Mutex
	rooms     map[uuid.UUID]*room
	queueSize int
	logger    zerolog.Logger
	wg        sync.WaitGroup

	relay  Relay
	outbox chan relayed
}

type relayed struct {
	roomID uuid.UUID
	event  protocol.Event
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize bounds each room's pending queue.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithRelay mirrors every broadcast to other processes through r. Run must
// be called for the relay to operate.
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// New creates a hub.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		rooms:     make(map[uuid.UUID]*room),
		queueSize: DefaultQueueSize,
		logger:    logger.With().Str("component", "hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.relay != nil {
		h.outbox = make(chan relayed, h.queueSize)
	}
	return h
}

// Subscribe attaches s to a room, starting the room's dispatcher if s is
// its first subscriber.
func (h *Hub) Subscribe(roomID uuid.UUID, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{
			subs: make(map[string]Subscriber),
			wake: make(chan struct{}, 1),
			done: make(chan struct{}),
		}
		h.rooms[roomID] = r
		metrics.ActiveRooms.Inc()
		h.wg.Add(1)
		go h.dispatch(r)
	}

	r.mu.Lock()
	r.subs[s.ID()] = s
	r.mu.Unlock()
}

// Unsubscribe detaches s. A room left without subscribers is discarded
// along with anything still queued for it.
func (h *Hub) Unsubscribe(roomID uuid.UUID, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.subs, s.ID())
	empty := len(r.subs) == 0
	r.mu.Unlock()

	if empty {
		delete(h.rooms, roomID)
		close(r.done)
		metrics.ActiveRooms.Dec()
	}
}

// Broadcast queues e for every subscriber of the room and returns without
// waiting for delivery. Events for rooms without local subscribers are
// dropped locally but still relayed.
func (h *Hub) Broadcast(roomID uuid.UUID, e protocol.Event) {
	metrics.Broadcasts.Inc()
	h.enqueue(roomID, e)

	if h.outbox != nil {
		select {
		case h.outbox <- relayed{roomID: roomID, event: e}:
		default:
			metrics.DroppedDeliveries.WithLabelValues("relay").Inc()
			h.logger.Warn().Str("room", roomID.String()).Msg("relay outbox full, event not relayed")
		}
	}
}

func (h *Hub) enqueue(roomID uuid.UUID, e protocol.Event) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if len(r.pending) >= h.queueSize {
		r.mu.Unlock()
		metrics.DroppedDeliveries.WithLabelValues("room").Inc()
		h.logger.Warn().Str("room", roomID.String()).Str("event", e.EventType()).Msg("room queue full, event dropped")
		return
	}
	r.pending = append(r.pending, e)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// dispatch is the only goroutine delivering to a room's subscribers.
func (h *Hub) dispatch(r *room) {
	defer h.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		for {
			r.mu.Lock()
			batch := r.pending
			r.pending = nil
			subs := make([]Subscriber, 0, len(r.subs))
			for _, s := range r.subs {
				subs = append(subs, s)
			}
			r.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				for _, s := range subs {
					if !s.Deliver(e) {
						metrics.DroppedDeliveries.WithLabelValues("subscriber").Inc()
					}
				}
			}
		}
	}
}

// Rooms reports how many rooms currently have subscribers.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Subscribers reports how many subscribers a room has.
func (h *Hub) Subscribers(roomID uuid.UUID) int {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Run drives the relay, if any, until ctx is cancelled. Events already
// queued for the relay are published before it returns, so cancel ctx only
// after the last sessions have said goodbye.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		errc <- h.relay.Run(ctx, h.enqueue)
	}()

	for {
		select {
		case <-ctx.Done():
			h.flush(context.WithoutCancel(ctx))
			return <-errc
		case out := <-h.outbox:
			h.publish(ctx, out)
		case err := <-errc:
			if ctx.Err() != nil {
				h.flush(context.WithoutCancel(ctx))
			}
			return err
		}
	}
}

func (h *Hub) publish(ctx context.Context, out relayed) {
	if err := h.relay.Publish(ctx, out.roomID, out.event); err != nil {
		h.logger.Error().Err(err).Str("room", out.roomID.String()).Msg("relay publish failed")
	}
}

// flush publishes whatever is still queued for the relay.
func (h *Hub) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case out := <-h.outbox:
			h.publish(ctx, out)
		default:
			return
		}
	}
}

// Close stops every dispatcher. Subscribers are dropped without notice.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, r := range h.rooms {
		delete(h.rooms, id)
		close(r.done)
		metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
