package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/presence"
)

// WhoResponse lists who is in a room right now.
type WhoResponse struct {
	RoomID uuid.UUID        `json:"room_id"`
	Users  []presence.State `json:"users"`

	// Cluster is the presence other instances published to Redis, when
	// Redis is configured.
	Cluster map[uuid.UUID]string `json:"cluster,omitempty"`
}

// Who handles the room presence lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.requireMember(r.Context(), roomID, principal(r).ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	resp := WhoResponse{RoomID: roomID, Users: h.tracker.Snapshot(roomID)}
	if h.redis != nil {
		cluster, err := h.redis.RoomPresence(r.Context(), roomID)
		if err != nil {
			h.logger.Warn().Err(err).Str("room", roomID.String()).Msg("redis presence lookup failed")
		} else {
			resp.Cluster = cluster
		}
	}
	h.JSON(w, http.StatusOK, resp)
}
