package dto

// Client frame events accepted on the realtime channel
const (
	ClientEventJoinSession  = "join_session_room"
	ClientEventLeaveSession = "leave_session_room"
	ClientEventInitSession  = "request_init_session"
)
