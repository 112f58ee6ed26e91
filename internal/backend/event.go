package backend

// EventType enumerates what a backend can report
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailure   EventType = "auth_failure"
	EventReady         EventType = "ready"
	EventMessage       EventType = "message"
	EventDisconnected  EventType = "disconnected"
)

// Event is a single backend notification. Only the field matching Type is set.
type Event struct {
	Type EventType
	// QR holds the pairing challenge for EventQR
	QR string
	// Message holds the failure text for EventAuthFailure
	Message string
	// Reason holds the cause for EventDisconnected
	Reason string
	// Inbound holds the received message for EventMessage
	Inbound *Message
}

// Message is a message as seen by the protocol client
type Message struct {
	ID         string
	From       string
	To         string
	Body       string
	Author     string
	Type       string
	Timestamp  int64
	IsStatus   bool
	IsGroupMsg bool
	HasMedia   bool
	FromMe     bool
}

func QREvent(qr string) Event { return Event{Type: EventQR, QR: qr} }
func AuthenticatedEvent() Event { return Event{Type: EventAuthenticated} }
func AuthFailureEvent(msg string) Event { return Event{Type: EventAuthFailure, Message: msg} }
func ReadyEvent() Event { return Event{Type: EventReady} }
func MessageEvent(m *Message) Event { return Event{Type: EventMessage, Inbound: m} }
func DisconnectedEvent(reason string) Event { return Event{Type: EventDisconnected, Reason: reason} }
