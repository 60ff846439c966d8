package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "chat:room:"
	presenceTTL       = 2 * time.Minute
)

// RedisStore wraps the Redis client shared by the rate limiter and the
// cross-process broadcast relay.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that talks to Redis
// directly.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// RoomChannel returns the pub/sub channel carrying a room's events.
func RoomChannel(roomID uuid.UUID) string {
	return roomChannelPrefix + roomID.String()
}

// RoomFromChannel is the inverse of RoomChannel.
func RoomFromChannel(channel string) (uuid.UUID, error) {
	id, ok := strings.CutPrefix(channel, roomChannelPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("not a room channel: %q", channel)
	}
	return uuid.Parse(id)
}

// PublishRoomEvent fans an encoded event out to every process subscribed to
// the room channel.
func (s *RedisStore) PublishRoomEvent(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return s.client.Publish(ctx, RoomChannel(roomID), payload).Err()
}

// SubscribeRooms subscribes to the channels of every room.
func (s *RedisStore) SubscribeRooms(ctx context.Context) *redis.PubSub {
	return s.client.PSubscribe(ctx, roomChannelPrefix+"*")
}

// presenceKey returns the key for a room's presence hash.
func presenceKey(roomID uuid.UUID) string {
	return fmt.Sprintf("presence:room:%s", roomID)
}

// SetPresence mirrors a user's presence in a room so other processes can
// read it. The hash expires when the room goes quiet.
func (s *RedisStore) SetPresence(ctx context.Context, roomID, userID uuid.UUID, status string) error {
	key := presenceKey(roomID)

	pipe := s.client.Pipeline()
	if status == "offline" {
		pipe.HDel(ctx, key, userID.String())
	} else {
		pipe.HSet(ctx, key, userID.String(), status)
	}
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RoomPresence returns the mirrored presence of a room keyed by user.
func (s *RedisStore) RoomPresence(ctx context.Context, roomID uuid.UUID) (map[uuid.UUID]string, error) {
	fields, err := s.client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string, len(fields))
	for k, v := range fields {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}
