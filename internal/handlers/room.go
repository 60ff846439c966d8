package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

// CreateRoomRequest represents the group room creation request.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// AddMemberRequest represents the add member request.
type AddMemberRequest struct {
	UserID uuid.UUID   `json:"user_id"`
	Role   models.Role `json:"role,omitempty"` // defaults to member
}

// ChangeRoleRequest represents the role change request.
type ChangeRoleRequest struct {
	Role models.Role `json:"role"`
}

// MembersResponse lists a room's members.
type MembersResponse struct {
	Room    *models.Room        `json:"room"`
	Members []models.Membership `json:"members"`
}

// CreateRoom creates a group room administered by the caller.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	room, err := h.store.CreateGroupRoom(r.Context(), sanitizeName(req.Name), principal(r).ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, room)
}

// ListMembers lists a room's members to another member.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if err := h.requireMember(r.Context(), roomID, principal(r).ID); err != nil {
		h.Fail(w, r, err)
		return
	}

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	members, err := h.store.ListMembers(r.Context(), roomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, MembersResponse{Room: room, Members: members})
}

// AddMember adds a user to a group room. Admin only.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	var req AddMemberRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}

	m, err := h.store.AddMember(r.Context(), roomID, req.UserID, req.Role, principal(r).ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, m)
}

// RemoveMember removes a user from a room. Members may remove themselves;
// removing anyone else needs an admin. When the sole admin leaves, the room
// is deleted.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	userID, err := uuidParam(r, "userID")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	actor := principal(r).ID
	result, err := h.store.RemoveMember(r.Context(), roomID, userID, actor)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	// Closes the removed user's sessions, or all of them if the room is gone.
	h.hub.Broadcast(roomID, protocol.NewMemberRemoved(userID, actor, result.RoomDeleted, time.Now().UTC()))
	h.logger.Info().
		Str("room", roomID.String()).
		Str("user", userID.String()).
		Bool("room_deleted", result.RoomDeleted).
		Msg("member removed")
	h.JSON(w, http.StatusOK, result)
}

// ChangeRole promotes or demotes a member. Admin only.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuidParam(r, "id")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	userID, err := uuidParam(r, "userID")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	var req ChangeRoleRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	m, err := h.store.ChangeRole(r.Context(), roomID, userID, req.Role, principal(r).ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, m)
}
