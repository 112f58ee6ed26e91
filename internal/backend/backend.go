// Package backend defines the boundary between the gateway and a concrete
// messaging-protocol client. One Backend instance serves one session key.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrChatNotFound is returned by chat scoped calls when the chat is unknown
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotInitialized is returned when a call needs a running client
	ErrNotInitialized = errors.New("backend not initialized")
	// ErrDestroyed is returned by calls made after Destroy
	ErrDestroyed = errors.New("backend destroyed")
)

// ConnectionState is the protocol client's own view of its connection
type ConnectionState string

const (
	StateConnected  ConnectionState = "CONNECTED"
	StateOpening    ConnectionState = "OPENING"
	StatePairing    ConnectionState = "PAIRING"
	StateUnpaired   ConnectionState = "UNPAIRED"
	StateConflict   ConnectionState = "CONFLICT"
	StateTimeout    ConnectionState = "TIMEOUT"
	StateUnlaunched ConnectionState = "UNLAUNCHED"
)

// Backend is the messaging-protocol client for a single session.
//
// Initialize starts connecting and returns once the attempt has either been
// launched or failed; progress is reported on Events. The Events channel is
// closed after Destroy.
type Backend interface {
	Initialize(ctx context.Context) error
	Events() <-chan Event
	State(ctx context.Context) (ConnectionState, error)
	Destroy(ctx context.Context) error

	SendMessage(ctx context.Context, to string, content Content, opts SendOptions) (*SentMessage, error)
	IsRegisteredUser(ctx context.Context, id string) (bool, error)
	// NumberID resolves a bare number to a chat id; "" when unknown
	NumberID(ctx context.Context, number string) (string, error)
	Chats(ctx context.Context) ([]Chat, error)
	Contact(ctx context.Context, id string) (*Contact, error)
	SetStatus(ctx context.Context, status string) error
	SendTyping(ctx context.Context, chatID string) error
	SendSeen(ctx context.Context, chatID string) (bool, error)
	SendPresenceAvailable(ctx context.Context) error
}

// Factory builds the backend for a session key
type Factory func(sessionKey string) (Backend, error)
