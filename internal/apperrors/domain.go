package apperrors

var (
	ErrUnauthenticated    = Unauthenticated("authentication required")
	ErrRoomNotFound       = NotFound("room not found")
	ErrMessageNotFound    = NotFound("message not found")
	ErrMembershipNotFound = NotFound("user is not a member of this room")
	ErrNotMember          = Forbidden("sender is not a member of this room")
	ErrForbidden          = Forbidden("only room admins may do this")
	ErrNotSender          = Forbidden("only the sender may delete a message")
	ErrAlreadyMember      = AlreadyExists("user is already a member of this room")
	ErrReactionExists     = AlreadyExists("reaction already exists")
	ErrLastAdmin          = Conflict("cannot remove or demote the last admin of a room")
	ErrDirectRoomFixed    = Conflict("direct rooms have a fixed pair of members")
	ErrEmptyMessage       = InvalidArgument("message needs content or an attachment")
	ErrInvalidStatus      = InvalidArgument("invalid status")
	ErrInvalidRole        = InvalidArgument("role must be admin or member")
	ErrGroupNameRequired  = InvalidArgument("group rooms require a name")
	ErrSelfDirectRoom     = InvalidArgument("direct rooms need two distinct users")
	ErrInvalidEmoji       = InvalidArgument("emoji must be 1-10 characters")
	ErrInvalidCursor      = InvalidArgument("invalid cursor")
	ErrUnknownEvent       = InvalidArgument("unknown event type")
	ErrThrottled          = RateLimited("too many events, slow down")
)
