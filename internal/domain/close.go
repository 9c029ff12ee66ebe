package domain

// CloseReason is a gateway-initiated close, sent as an error frame followed
// by a close frame carrying Code.
type CloseReason struct {
	Code    int
	Name    string
	Message string
}

var (
	CloseInternalError   = CloseReason{Code: 4000, Name: "internal_error", Message: "Internal error"}
	CloseUnauthenticated = CloseReason{Code: 4001, Name: "unauthenticated", Message: "User not authenticated"}
	CloseAccessDenied    = CloseReason{Code: 4003, Name: "access_denied", Message: "You do not have access to this channel"}
	CloseRoomNotFound    = CloseReason{Code: 4004, Name: "room_not_found", Message: "Channel not found"}
)

func (r CloseReason) String() string {
	return r.Name
}

// CloseGoingAway is used when the server shuts down under a live session.
var CloseGoingAway = CloseReason{Code: 1001, Name: "going_away", Message: "Server shutting down"}
