package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomcast/internal/metrics"
	"github.com/eldtechnologies/roomcast/internal/protocol"
	"github.com/eldtechnologies/roomcast/internal/store"
)

// RedisRelay shares room events between processes over Redis pub/sub.
// Each process tags what it publishes so it can skip its own echoes.
type RedisRelay struct {
	redis  *store.RedisStore
	origin string
	logger zerolog.Logger
}

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// NewRedisRelay creates a relay with a fresh origin id.
func NewRedisRelay(redis *store.RedisStore, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		redis:  redis,
		origin: uuid.NewString(),
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, roomID uuid.UUID, e protocol.Event) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	payload, err := encodeEnvelope(r.origin, e)
	if err != nil {
		return err
	}
	return r.redis.PublishRoomEvent(ctx, roomID, payload)
}

func (r *RedisRelay) Run(ctx context.Context, deliver func(roomID uuid.UUID, e protocol.Event)) error {
	pubsub := r.redis.SubscribeRooms(ctx)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info().Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID, err := store.RoomFromChannel(msg.Channel)
			if err != nil {
				continue
			}
			origin, e, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("discarding malformed relay payload")
				continue
			}
			if origin == r.origin {
				continue
			}
			deliver(roomID, e)
		}
	}
}

func encodeEnvelope(origin string, e protocol.Event) ([]byte, error) {
	body, err := protocol.Encode(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(relayEnvelope{Origin: origin, Event: body})
}

func decodeEnvelope(data []byte) (string, protocol.Event, error) {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	e, err := protocol.Decode(env.Event)
	if err != nil {
		return "", nil, err
	}
	return env.Origin, e, nil
}
