package broadcast

import (
	"encoding/json"
	"time"
)

// Kind is the closed set of events pushed to subscribers
type Kind string

const (
	KindQRCode           Kind = "qr_code"
	KindAuthenticated    Kind = "authenticated"
	KindAuthFailure      Kind = "auth_failure"
	KindReady            Kind = "ready"
	KindNewMessage       Kind = "new_message"
	KindMessageSent      Kind = "message_sent"
	KindMediaSent        Kind = "media_sent"
	KindLocationSent     Kind = "location_sent"
	KindStatusMessageSet Kind = "status_message_set"
	KindDisconnected     Kind = "disconnected"
	KindInitError        Kind = "init_error"
	KindSessionRemoved   Kind = "session_removed"
	KindStatusUpdate     Kind = "status_update"
)

// Payload is implemented only by the payload types of this package
type Payload interface {
	Kind() Kind
}

// Event is an immutable notification about one session
type Event struct {
	SessionKey string
	Kind       Kind
	Payload    Payload
	EmittedAt  time.Time
}

// NewEvent stamps p for sessionKey
func NewEvent(sessionKey string, p Payload) Event {
	return Event{
		SessionKey: sessionKey,
		Kind:       p.Kind(),
		Payload:    p,
		EmittedAt:  time.Now(),
	}
}

// MarshalJSON encodes the event as the realtime wire frame
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event Kind    `json:"event"`
		Data  Payload `json:"data"`
	}{e.Kind, e.Payload})
}

type QRCode struct {
	SessionID string `json:"sessionId"`
	QR        string `json:"qr"`
}

type Authenticated struct {
	SessionID string `json:"sessionId"`
}

type AuthFailure struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type Ready struct {
	SessionID string `json:"sessionId"`
}

// InboundMessage is the normalized record of a received message
type InboundMessage struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	Timestamp  int64  `json:"timestamp"`
	ID         string `json:"id"`
	Author     string `json:"author,omitempty"`
	IsStatus   bool   `json:"isStatus"`
	IsGroupMsg bool   `json:"isGroupMsg"`
	HasMedia   bool   `json:"hasMedia"`
	Type       string `json:"type"`
	FromMe     bool   `json:"fromMe"`
}

type NewMessage struct {
	SessionID string         `json:"sessionId"`
	Message   InboundMessage `json:"message"`
}

type MessageSent struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Body      string `json:"body"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type MediaSent struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Filename  string `json:"filename"`
	Caption   string `json:"caption"`
	ID        string `json:"id"`
}

type LocationSent struct {
	SessionID   string  `json:"sessionId"`
	To          string  `json:"to"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description,omitempty"`
	ID          string  `json:"id"`
}

type StatusMessageSet struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type Disconnected struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type InitError struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

type SessionRemoved struct {
	SessionID string `json:"sessionId"`
}

// StatusUpdate is the human readable summary sent on every transition
type StatusUpdate struct {
	SessionID string  `json:"sessionId"`
	Message   string  `json:"message"`
	Status    string  `json:"status,omitempty"`
	QR        *string `json:"qr,omitempty"`
}

func (QRCode) Kind() Kind { return KindQRCode }
func (Authenticated) Kind() Kind { return KindAuthenticated }
func (AuthFailure) Kind() Kind { return KindAuthFailure }
func (Ready) Kind() Kind { return KindReady }
func (NewMessage) Kind() Kind { return KindNewMessage }
func (MessageSent) Kind() Kind { return KindMessageSent }
func (MediaSent) Kind() Kind { return KindMediaSent }
func (LocationSent) Kind() Kind { return KindLocationSent }
func (StatusMessageSet) Kind() Kind { return KindStatusMessageSet }
func (Disconnected) Kind() Kind { return KindDisconnected }
func (InitError) Kind() Kind { return KindInitError }
func (SessionRemoved) Kind() Kind { return KindSessionRemoved }
func (StatusUpdate) Kind() Kind { return KindStatusUpdate }
