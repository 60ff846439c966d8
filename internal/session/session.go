// Package session drives one client connection attached to one room.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/hub"
	"github.com/eldtechnologies/roomcast/internal/metrics"
	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/presence"
	"github.com/eldtechnologies/roomcast/internal/protocol"
	"github.com/eldtechnologies/roomcast/internal/store"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Hub is the part of *hub.Hub a session uses.
type Hub interface {
	Subscribe(roomID uuid.UUID, s hub.Subscriber)
	Unsubscribe(roomID uuid.UUID, s hub.Subscriber)
	Broadcast(roomID uuid.UUID, e protocol.Event)
}

// State is a session's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config tunes a session.
type Config struct {
	HistoryLimit    int
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	CleanupTimeout  time.Duration
	MaxMessageBytes int64
	InboundRate     rate.Limit
	InboundBurst    int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:    50,
		SendBuffer:      256,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		CleanupTimeout:  2 * time.Second,
		MaxMessageBytes: 64 << 10,
		InboundRate:     10,
		InboundBurst:    20,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = d.CleanupTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.InboundRate <= 0 {
		c.InboundRate = d.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = d.InboundBurst
	}
	return c
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store   store.DataStore
	Hub     Hub
	Tracker *presence.Tracker
	Logger  zerolog.Logger
	Config  Config
}

var errClientGone = errors.New("client disconnected")

// Session is one client attached to one room. It is a hub subscriber; the
// hub delivers into its send buffer and a single writer goroutine owns the
// connection's write side.
type Session struct {
	id        string
	conn      Conn
	principal *models.Principal
	roomID    uuid.UUID

	store   store.DataStore
	hub     Hub
	tracker *presence.Tracker
	cfg     Config
	logger  zerolog.Logger
	limiter *rate.Limiter

	state atomic.Int32
	send  chan protocol.Event
	acks  chan string
	done  chan struct{}

	closeOnce sync.Once
	closeCode int

	mu        sync.Mutex
	replaying bool
	held      []protocol.Event
}

// New creates a session for principal, which is nil for anonymous clients.
func New(conn Conn, principal *models.Principal, roomID uuid.UUID, deps Deps) *Session {
	cfg := deps.Config.withDefaults()

	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		principal: principal,
		roomID:    roomID,
		store:     deps.Store,
		hub:       deps.Hub,
		tracker:   deps.Tracker,
		cfg:       cfg,
		limiter:   rate.NewLimiter(cfg.InboundRate, cfg.InboundBurst),
		send:      make(chan protocol.Event, cfg.SendBuffer),
		acks:      make(chan string, cfg.SendBuffer),
		done:      make(chan struct{}),
	}

	logger := deps.Logger.With().Str("session", s.id).Str("room", roomID.String())
	if principal != nil {
		logger = logger.Str("user", principal.ID.String())
	}
	s.logger = logger.Logger()
	return s
}

// ID identifies the session to the hub.
func (s *Session) ID() string { return s.id }

// State reports where the session is in its lifecycle.
func (s *Session) State() State { return State(s.state.Load()) }

// CloseCode reports the close code the session ended with, or 0.
func (s *Session) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

// Run attaches the session and serves it until the client goes away or ctx
// is cancelled. A rejected attach returns the reason after closing the
// connection with the matching close code.
func (s *Session) Run(ctx context.Context) error {
	if err := s.attach(ctx); err != nil {
		code := protocol.CloseCodeFor(err)
		s.reject(code, err)
		return err
	}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writePump(gctx) })
	g.Go(func() error { return s.ackLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.done:
		}
		// Unblocks the reader.
		return s.conn.Close()
	})

	s.activate(gctx)
	g.Go(func() error { return s.readPump(gctx) })

	err := g.Wait()
	s.cleanup()

	if errors.Is(err, errClientGone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// attach performs the Connecting checks.
func (s *Session) attach(ctx context.Context) error {
	if s.principal == nil {
		return apperrors.ErrUnauthenticated
	}
	if _, err := s.store.GetRoom(ctx, s.roomID); err != nil {
		return err
	}
	ok, err := s.store.IsMember(ctx, s.roomID, s.principal.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrNotMember
	}
	return nil
}

func (s *Session) reject(code int, reason error) {
	s.state.Store(int32(StateClosed))
	s.recordClose(code)
	metrics.SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()

	text := "connection rejected"
	if apperrors.CodeOf(reason) != apperrors.CodeInternal {
		text = reason.Error()
	}
	s.logger.Info().Err(reason).Int("code", code).Msg("session rejected")

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = s.conn.Close()
}

// activate enters Active: subscribe, replay history, acknowledge delivery
// of replayed messages, then announce the user.
func (s *Session) activate(ctx context.Context) {
	p := *s.principal

	s.mu.Lock()
	s.replaying = true
	s.mu.Unlock()
	s.hub.Subscribe(s.roomID, s)

	replayed := make(map[string]bool)
	page, err := s.store.ListRecent(ctx, s.roomID, "", s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history replay failed")
		s.reply(ctx, protocol.NewError(err))
		page = &models.MessagePage{}
	}
	// ListRecent is newest first.
	for i := len(page.Messages) - 1; i >= 0; i-- {
		msg := page.Messages[i]
		replayed[msg.ID] = true
		s.reply(ctx, protocol.NewChatMessage(&msg))
	}
	s.endReplay(replayed)

	for i := len(page.Messages) - 1; i >= 0; i-- {
		msg := page.Messages[i]
		if msg.SenderID == p.ID || msg.IsDeleted() {
			continue
		}
		s.markDelivered(ctx, msg.ID)
	}

	s.hub.Broadcast(s.roomID, protocol.NewJoin(p, time.Now().UTC()))
	s.hub.Broadcast(s.roomID, s.tracker.Join(ctx, s.roomID, p))
	s.state.Store(int32(StateActive))
	s.logger.Info().Msg("session active")
}

// endReplay releases hub events held back during replay, skipping messages
// the replay already contained.
func (s *Session) endReplay(replayed map[string]bool) {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.replaying = false
	s.mu.Unlock()

	for _, e := range held {
		if cm, ok := e.(protocol.ChatMessage); ok && cm.MessageID != "" && replayed[cm.MessageID] {
			continue
		}
		s.enqueue(e)
	}
}

// Deliver implements hub.Subscriber. It never blocks; a client that
// cannot keep up is disconnected, and so is one whose membership ends.
func (s *Session) Deliver(e protocol.Event) bool {
	if mr, ok := e.(protocol.MemberRemoved); ok && mr.Evicts(s.principal.ID) {
		code := protocol.CloseNotMember
		if mr.RoomDeleted {
			code = protocol.CloseRoomNotFound
		}
		s.logger.Info().Int("code", code).Msg("membership ended, closing session")
		s.closeWith(code)
		return true
	}

	s.mu.Lock()
	if s.replaying {
		if len(s.held) >= s.cfg.SendBuffer {
			s.mu.Unlock()
			s.overflow()
			return false
		}
		s.held = append(s.held, e)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	return s.enqueue(e)
}

func (s *Session) enqueue(e protocol.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- e:
		return true
	case <-s.done:
		return false
	default:
		s.overflow()
		return false
	}
}

// reply queues an event for this client only, waiting up to the write
// timeout for buffer space.
func (s *Session) reply(ctx context.Context, e protocol.Event) {
	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case s.send <- e:
	case <-s.done:
	case <-ctx.Done():
	case <-timer.C:
		s.overflow()
	}
}

func (s *Session) overflow() {
	s.logger.Warn().Msg("send buffer full, disconnecting slow client")
	s.closeWith(protocol.CloseGeneric)
}

func (s *Session) recordClose(code int) {
	s.mu.Lock()
	if s.closeCode == 0 {
		s.closeCode = code
	}
	s.mu.Unlock()
}

// closeWith asks the pumps to stop, sending code to the client.
func (s *Session) closeWith(code int) {
	s.closeOnce.Do(func() {
		s.recordClose(code)
		close(s.done)
	})
}

func (s *Session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway)
			return ctx.Err()
		case <-s.done:
			s.writeClose(s.CloseCode())
			return errClientGone
		case e := <-s.send:
			if err := s.write(e); err != nil {
				return err
			}
			s.maybeAck(e)
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

func (s *Session) write(e protocol.Event) error {
	data, err := protocol.Encode(e)
	if err != nil {
		s.logger.Error().Err(err).Str("event", e.EventType()).Msg("encode failed")
		return nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeClose(code int) {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
}

// maybeAck queues a delivered acknowledgement for another user's message
// that this client has just been sent.
func (s *Session) maybeAck(e protocol.Event) {
	cm, ok := e.(protocol.ChatMessage)
	if !ok || cm.MessageType != protocol.MessageTypeMessage || cm.MessageID == "" {
		return
	}
	if cm.UserID == s.principal.ID || cm.Status != models.StatusSent {
		return
	}
	select {
	case s.acks <- cm.MessageID:
	default:
		s.logger.Warn().Str("message", cm.MessageID).Msg("ack queue full, delivered status skipped")
	}
}

func (s *Session) ackLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return errClientGone
		case id := <-s.acks:
			s.markDelivered(ctx, id)
		}
	}
}

func (s *Session) markDelivered(ctx context.Context, messageID string) {
	change, err := s.store.MarkStatus(ctx, messageID, models.StatusDelivered, s.principal.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("message", messageID).Msg("mark delivered failed")
		return
	}
	if change.Changed {
		s.hub.Broadcast(s.roomID, protocol.NewMessageStatus(*s.principal, change, time.Now().UTC()))
	}
}

func (s *Session) readPump(ctx context.Context) error {
	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.recordClose(ce.Code)
			}
			select {
			case <-s.done:
			case <-ctx.Done():
			default:
				s.logger.Debug().Err(err).Msg("read ended")
			}
			return errClientGone
		}
		s.handle(ctx, data)
	}
}

// cleanup runs every Closed step even if an earlier one fails or panics.
func (s *Session) cleanup() {
	s.state.Store(int32(StateClosed))
	p := *s.principal

	s.bestEffort("presence offline", func(ctx context.Context) {
		s.hub.Broadcast(s.roomID, s.tracker.Leave(ctx, s.roomID, p))
	})
	s.bestEffort("typing off", func(context.Context) {
		s.hub.Broadcast(s.roomID, s.tracker.SetTyping(s.roomID, p, false))
	})
	s.bestEffort("leave event", func(context.Context) {
		s.hub.Broadcast(s.roomID, protocol.NewLeave(p, time.Now().UTC()))
	})
	s.bestEffort("unsubscribe", func(context.Context) {
		s.hub.Unsubscribe(s.roomID, s)
	})

	code := s.CloseCode()
	if code == 0 {
		code = websocket.CloseNormalClosure
		s.recordClose(code)
	}
	metrics.SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
	s.logger.Info().Int("code", code).Msg("session closed")
}

func (s *Session) bestEffort(step string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("step", step).Str("panic", fmt.Sprint(r)).Msg("cleanup step panicked")
		}
	}()
	fn(ctx)
}
