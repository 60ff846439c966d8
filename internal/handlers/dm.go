package handlers

import (
	"net/http"

	"github.com/eldtechnologies/roomcast/internal/models"
)

// DirectRoomResponse represents the ensure direct room response.
type DirectRoomResponse struct {
	Room    *models.Room `json:"room"`
	Created bool         `json:"created"`
}

// EnsureDirect returns the direct room between the caller and userID,
// creating it on first contact.
func (h *Handler) EnsureDirect(w http.ResponseWriter, r *http.Request) {
	other, err := uuidParam(r, "userID")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	room, created, err := h.store.EnsureDirectRoom(r.Context(), principal(r).ID, other)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, DirectRoomResponse{Room: room, Created: created})
}
