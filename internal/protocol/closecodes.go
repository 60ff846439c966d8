package protocol

import (
	"errors"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
)

// Close codes sent when a connection attempt is rejected or a session
// ends abnormally. They live in the 4000-4999 range reserved for
// applications.
const (
	CloseGeneric         = 4000
	CloseUnauthenticated = 4001
	CloseNotMember       = 4002
	CloseRoomNotFound    = 4004
)

// CloseCodeFor maps an attach failure onto its close code.
func CloseCodeFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeUnauthenticated:
		return CloseUnauthenticated
	case apperrors.CodeForbidden:
		return CloseNotMember
	case apperrors.CodeNotFound:
		if errors.Is(err, apperrors.ErrMembershipNotFound) {
			return CloseNotMember
		}
		return CloseRoomNotFound
	default:
		return CloseGeneric
	}
}
