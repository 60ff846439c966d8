package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/presence"
	"github.com/eldtechnologies/roomcast/internal/session"
	"github.com/eldtechnologies/roomcast/internal/store"
)

// Deps are the collaborators the HTTP handlers share.
type Deps struct {
	Store   store.DataStore
	Redis   *store.RedisStore // optional
	Hub     Hub
	Tracker *presence.Tracker
	Logger  zerolog.Logger
	Session session.Config

	// Shutdown is cancelled when the server stops; live websocket sessions
	// end with it.
	Shutdown context.Context
	// Sessions, if set, counts running websocket sessions so shutdown can
	// wait for their cleanup.
	Sessions *sync.WaitGroup
}

// Hub is the part of *hub.Hub the handlers use.
type Hub interface {
	session.Hub
	Rooms() int
	Subscribers(roomID uuid.UUID) int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	hub      Hub
	tracker  *presence.Tracker
	logger   zerolog.Logger
	session  session.Config
	shutdown context.Context
	sessions *sync.WaitGroup
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	shutdown := deps.Shutdown
	if shutdown == nil {
		shutdown = context.Background()
	}
	return &Handler{
		store:    deps.Store,
		redis:    deps.Redis,
		hub:      deps.Hub,
		tracker:  deps.Tracker,
		logger:   deps.Logger,
		session:  deps.Session,
		shutdown: shutdown,
		sessions: deps.Sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers attach from any origin; the token authorises them.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail answers with the status matching err's code. Internal failures are
// logged and reported without detail.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeInternal {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": string(code)})
		return
	}
	h.JSON(w, apperrors.HTTPStatus(code), map[string]string{"error": err.Error(), "code": string(code)})
}

// principal returns the caller. Routes using it sit behind RequireAuth.
func principal(r *http.Request) models.Principal {
	if p := auth.PrincipalFrom(r.Context()); p != nil {
		return *p
	}
	return models.Principal{}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperrors.InvalidArgument("invalid " + name + " format")
	}
	return id, nil
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidArgument("invalid JSON body")
	}
	return nil
}

// requireMember fails unless userID belongs to the existing room roomID.
func (h *Handler) requireMember(ctx context.Context, roomID, userID uuid.UUID) error {
	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		return err
	}
	ok, err := h.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrNotMember
	}
	return nil
}

// sanitizeName trims and limits name to 255 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 255 characters
	if runes := []rune(name); len(runes) > 255 {
		name = string(runes[:255])
	}

	return name
}
