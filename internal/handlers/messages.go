package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

// ReactionRequest represents the add reaction request.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// MarkReadResponse reports how many messages were newly read.
type MarkReadResponse struct {
	Marked int `json:"marked"`
}

// ReceiptsResponse lists per-recipient progress for a message.
type ReceiptsResponse struct {
	MessageID string           `json:"message_id"`
	Status    models.Status    `json:"status"`
	Receipts  []models.Receipt `json:"receipts"`
	ReadBy    []uuid.UUID      `json:"read_by"`
}

// GetMessages pages through a room's history, newest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.requireMember(r.Context(), roomID, principal(r).ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit < 1 {
			h.Fail(w, r, apperrors.InvalidArgument("limit must be a positive integer"))
			return
		}
	}

	page, err := h.store.ListRecent(r.Context(), roomID, r.URL.Query().Get("before"), limit)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

// MarkRead marks every message in the room as read by the caller.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	n, err := h.store.MarkRead(r.Context(), roomID, principal(r).ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, MarkReadResponse{Marked: n})
}

// DeleteMessage tombstones the caller's own message and tells the room.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	msg, err := h.store.SoftDelete(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.hub.Broadcast(msg.RoomID, protocol.NewMessageDeleted(msg.ID, p.ID, time.Now().UTC()))
	h.JSON(w, http.StatusOK, msg)
}

// AddReaction records the caller's reaction and tells the room.
func (h *Handler) AddReaction(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	p := principal(r)
	msg, err := h.store.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	reaction, err := h.store.AddReaction(r.Context(), msg.ID, p.ID, req.Emoji)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.hub.Broadcast(msg.RoomID, protocol.NewMessageReaction(p, msg.ID, reaction.Emoji, protocol.ReactionAdded, reaction.CreatedAt))
	h.JSON(w, http.StatusCreated, reaction)
}

// RemoveReaction withdraws the caller's reaction given by the emoji query
// parameter and tells the room.
func (h *Handler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	emoji := r.URL.Query().Get("emoji")
	if emoji == "" {
		h.Fail(w, r, apperrors.ErrInvalidEmoji)
		return
	}

	p := principal(r)
	msg, err := h.store.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.requireMember(r.Context(), msg.RoomID, p.ID); err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.store.RemoveReaction(r.Context(), msg.ID, p.ID, emoji); err != nil {
		h.Fail(w, r, err)
		return
	}

	h.hub.Broadcast(msg.RoomID, protocol.NewMessageReaction(p, msg.ID, emoji, protocol.ReactionRemoved, time.Now().UTC()))
	w.WriteHeader(http.StatusNoContent)
}

// Receipts lists per-recipient receipts and the read-by set of a message.
func (h *Handler) Receipts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msg, err := h.store.GetMessage(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.requireMember(ctx, msg.RoomID, principal(r).ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	receipts, err := h.store.Receipts(ctx, msg.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	readBy, err := h.store.ReadBy(ctx, msg.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	if readBy == nil {
		readBy = []uuid.UUID{}
	}
	h.JSON(w, http.StatusOK, ReceiptsResponse{
		MessageID: msg.ID,
		Status:    msg.Status,
		Receipts:  receipts,
		ReadBy:    readBy,
	})
}
