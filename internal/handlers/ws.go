package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/session"
)

// ServeWS upgrades the request and attaches a session to the room. Attach
// failures are reported with a websocket close code rather than an HTTP
// status, so anonymous callers are upgraded too.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// A malformed id cannot name a room; uuid.Nil attaches as "not found".
	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		roomID = uuid.Nil
	}

	if h.sessions != nil {
		h.sessions.Add(1)
		defer h.sessions.Done()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context ends with the handler; the session must also
	// end on server shutdown.
	ctx, cancel := context.WithCancel(h.shutdown)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	s := session.New(conn, auth.PrincipalFrom(r.Context()), roomID, session.Deps{
		Store:   h.store,
		Hub:     h.hub,
		Tracker: h.tracker,
		Logger:  h.logger,
		Config:  h.session,
	})
	if err := s.Run(ctx); err != nil {
		event := h.logger.Warn()
		if apperrors.CodeOf(err) != apperrors.CodeInternal {
			event = h.logger.Debug()
		}
		event.Err(err).
			Str("room", roomID.String()).
			Int("close_code", s.CloseCode()).
			Msg("session ended")
	}
}
