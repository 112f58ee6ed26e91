package session

// State is the lifecycle state of one session handle
type State string

const (
	StateInitializing   State = "INITIALIZING"
	StatePairingPending State = "PAIRING_PENDING"
	StateAuthenticated  State = "AUTHENTICATED"
	StateReady          State = "READY"
	StateDisconnected   State = "DISCONNECTED"
	StateInitFailed     State = "INIT_FAILED"
)

// StatusReinitializing is reported by Create when a broken handle was replaced
const StatusReinitializing = "RE_INITIALIZING"

// Terminal reports whether a handle in s will never transition again
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateInitFailed
}

func (s State) String() string {
	return string(s)
}
