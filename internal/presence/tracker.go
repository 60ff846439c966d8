// Package presence keeps the transient per-room presence and typing state.
// Nothing here is persisted; the latest update for a user wins.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

// State is one user's presence in a room.
type State struct {
	UserID    uuid.UUID         `json:"user_id"`
	User      string            `json:"user"`
	Status    protocol.Presence `json:"status"`
	IsTyping  bool              `json:"is_typing"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Mirror publishes presence somewhere other processes can read it.
type Mirror interface {
	SetPresence(ctx context.Context, roomID, userID uuid.UUID, status string) error
}

type entry struct {
	State
	sessions int
}

// Tracker records presence and typing per room and renders the events the
// sessions broadcast.
type Tracker struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]map[uuid.UUID]*entry
	mirror Mirror
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker. mirror may be nil.
func NewTracker(mirror Mirror, logger zerolog.Logger) *Tracker {
	return &Tracker{
		rooms:  make(map[uuid.UUID]map[uuid.UUID]*entry),
		mirror: mirror,
		logger: logger.With().Str("component", "presence").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) entry(roomID uuid.UUID, p models.Principal) *entry {
	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[uuid.UUID]*entry)
		t.rooms[roomID] = users
	}
	e, ok := users[p.ID]
	if !ok {
		e = &entry{State: State{UserID: p.ID, User: p.Username, Status: protocol.PresenceOffline}}
		users[p.ID] = e
	}
	return e
}

// Join records a new session of p in the room and marks p online.
func (t *Tracker) Join(ctx context.Context, roomID uuid.UUID, p models.Principal) protocol.UserStatus {
	t.mu.Lock()
	e := t.entry(roomID, p)
	e.sessions++
	e.Status = protocol.PresenceOnline
	e.UpdatedAt = t.now()
	at := e.UpdatedAt
	t.mu.Unlock()

	t.mirrorStatus(ctx, roomID, p.ID, protocol.PresenceOnline)
	return protocol.NewUserStatus(p, protocol.PresenceOnline, at)
}

// Leave ends one session of p. The returned event always reports offline;
// the snapshot keeps p until the last session is gone.
func (t *Tracker) Leave(ctx context.Context, roomID uuid.UUID, p models.Principal) protocol.UserStatus {
	t.mu.Lock()
	at := t.now()
	last := true
	if users, ok := t.rooms[roomID]; ok {
		if e, ok := users[p.ID]; ok {
			e.sessions--
			if e.sessions > 0 {
				last = false
				e.IsTyping = false
				e.UpdatedAt = at
			} else {
				delete(users, p.ID)
				if len(users) == 0 {
					delete(t.rooms, roomID)
				}
			}
		}
	}
	t.mu.Unlock()

	if last {
		t.mirrorStatus(ctx, roomID, p.ID, protocol.PresenceOffline)
	}
	return protocol.NewUserStatus(p, protocol.PresenceOffline, at)
}

// SetStatus records an explicit presence announcement.
func (t *Tracker) SetStatus(ctx context.Context, roomID uuid.UUID, p models.Principal, status protocol.Presence) protocol.UserStatus {
	t.mu.Lock()
	e := t.entry(roomID, p)
	e.Status = status
	e.UpdatedAt = t.now()
	at := e.UpdatedAt
	t.mu.Unlock()

	t.mirrorStatus(ctx, roomID, p.ID, status)
	return protocol.NewUserStatus(p, status, at)
}

// SetTyping records the typing flag of p.
func (t *Tracker) SetTyping(roomID uuid.UUID, p models.Principal, typing bool) protocol.TypingStatus {
	t.mu.Lock()
	at := t.now()
	if users, ok := t.rooms[roomID]; ok {
		if e, ok := users[p.ID]; ok {
			e.IsTyping = typing
			e.UpdatedAt = at
		}
	}
	t.mu.Unlock()

	return protocol.NewTypingStatus(p, typing, at)
}

// Snapshot lists the room's known users ordered by name.
func (t *Tracker) Snapshot(roomID uuid.UUID) []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.rooms[roomID]
	out := make([]State, 0, len(users))
	for _, e := range users {
		out = append(out, e.State)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out
}

func (t *Tracker) mirrorStatus(ctx context.Context, roomID, userID uuid.UUID, status protocol.Presence) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SetPresence(ctx, roomID, userID, string(status)); err != nil {
		t.logger.Warn().Err(err).Str("room", roomID.String()).Str("user", userID.String()).Msg("presence mirror failed")
	}
}
