package cnst

import "errors"

var (
	// ErrSessionNotFound is returned when no handle is registered for a session key
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotReady is returned when an operation needs a READY session
	ErrSessionNotReady = errors.New("session not ready")
	// ErrSessionNotConnected is returned when the backend does not report CONNECTED
	ErrSessionNotConnected = errors.New("session not connected")
	// ErrEmptySessionKey is returned when a caller passes an empty session key
	ErrEmptySessionKey = errors.New("session key cannot be empty")
	// ErrRegistryClosed is returned by Create after the registry has been closed
	ErrRegistryClosed = errors.New("session registry closed")

	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by user stores when a username is unknown
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateUser is returned when seeding a username that already exists
	ErrDuplicateUser = errors.New("duplicate user")
)
