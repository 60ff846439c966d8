package session

import (
	"context"
	"time"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/metrics"
	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

// handle processes one inbound frame. Failures are reported to this client
// only and never end the session.
func (s *Session) handle(ctx context.Context, data []byte) {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		s.fail(ctx, "decode", err)
		return
	}
	kind := in.InboundType()

	if !s.limiter.Allow() {
		metrics.InboundEvents.WithLabelValues(kind, "throttled").Inc()
		s.fail(ctx, kind, apperrors.ErrThrottled)
		return
	}

	switch ev := in.(type) {
	case protocol.SendMessage:
		err = s.onSendMessage(ctx, ev)
	case protocol.StatusUpdate:
		s.hub.Broadcast(s.roomID, s.tracker.SetStatus(ctx, s.roomID, *s.principal, ev.Status))
	case protocol.Typing:
		s.hub.Broadcast(s.roomID, s.tracker.SetTyping(s.roomID, *s.principal, ev.IsTyping))
	case protocol.ReadReceipt:
		err = s.onReadReceipt(ctx, ev)
	default:
		err = apperrors.ErrUnknownEvent
	}

	if err != nil {
		metrics.InboundEvents.WithLabelValues(kind, "error").Inc()
		s.fail(ctx, kind, err)
		return
	}
	metrics.InboundEvents.WithLabelValues(kind, "ok").Inc()
}

func (s *Session) fail(ctx context.Context, event string, err error) {
	logEvent := s.logger.Warn()
	if apperrors.CodeOf(err) == apperrors.CodeInternal {
		logEvent = s.logger.Error()
	}
	logEvent.Err(err).Str("event", event).Msg("event failed")
	s.reply(ctx, protocol.NewError(err))
}

func (s *Session) onSendMessage(ctx context.Context, ev protocol.SendMessage) error {
	p := *s.principal
	s.hub.Broadcast(s.roomID, s.tracker.SetTyping(s.roomID, p, false))

	msg, err := s.store.Append(ctx, s.roomID, p, ev.Message, ev.Attachment)
	if err != nil {
		return err
	}
	s.hub.Broadcast(s.roomID, protocol.NewChatMessage(msg))

	// Explicit advance to sent. A no-op once Append has done it.
	change, err := s.store.MarkStatus(ctx, msg.ID, models.StatusSent, p.ID)
	if err != nil {
		return err
	}
	if change.Changed {
		s.hub.Broadcast(s.roomID, protocol.NewMessageStatus(p, change, time.Now().UTC()))
	}
	return nil
}

func (s *Session) onReadReceipt(ctx context.Context, ev protocol.ReadReceipt) error {
	msg, err := s.store.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	if msg.RoomID != s.roomID {
		return apperrors.ErrMessageNotFound
	}

	change, err := s.store.MarkStatus(ctx, ev.MessageID, models.StatusSeen, s.principal.ID)
	if err != nil {
		return err
	}
	if change.Changed {
		s.hub.Broadcast(s.roomID, protocol.NewMessageStatus(*s.principal, change, time.Now().UTC()))
	}
	return nil
}
