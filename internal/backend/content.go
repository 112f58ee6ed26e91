package backend

// Content is the body of an outbound message: TextContent, MediaContent or
// LocationContent.
type Content interface {
	contentType() string
}

type TextContent struct {
	Body string
}

type MediaContent struct {
	MimeType string
	Data     []byte
	Filename string
}

type LocationContent struct {
	Latitude    float64
	Longitude   float64
	Description string
}

func (TextContent) contentType() string { return "chat" }
func (MediaContent) contentType() string { return "image" }
func (LocationContent) contentType() string { return "location" }

// TypeOf returns the protocol message type for c
func TypeOf(c Content) string {
	if c == nil {
		return ""
	}
	return c.contentType()
}

type SendOptions struct {
	QuotedMessageID string
	Caption         string
}

type SentMessage struct {
	ID        string
	Timestamp int64
}

type Chat struct {
	ID          string
	Name        string
	IsGroup     bool
	UnreadCount int
	Timestamp   int64
	LastMessage *Message
}

type Contact struct {
	ID            string
	Name          string
	Number        string
	Pushname      string
	IsMe          bool
	IsUser        bool
	IsGroup       bool
	IsWAUser      bool
	IsBlocked     bool
	ProfilePicURL string
}
