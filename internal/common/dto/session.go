package dto

// Response is the envelope shared by every plain acknowledgement
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type InitSessionResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Status  string  `json:"status"`
	QR      *string `json:"qr,omitempty"`
}

type SessionSummary struct {
	SessionID string `json:"sessionId"`
	IsReady   bool   `json:"isReady"`
	HasQR     bool   `json:"hasQr"`
}

type ListSessionsResponse struct {
	Success  bool             `json:"success"`
	Sessions []SessionSummary `json:"sessions"`
}

type IsRegisteredResponse struct {
	Success      bool   `json:"success"`
	IsRegistered bool   `json:"isRegistered"`
	NumberID     string `json:"numberId,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SendMessageRequest struct {
	Number          string `json:"number" binding:"required"`
	Message         string `json:"message" binding:"required"`
	QuotedMessageID string `json:"quotedMessageId"`
}

type MessageData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type SendMessageResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	MsgData MessageData `json:"msgData"`
}

// SendImageForm binds the multipart or urlencoded send-image body
type SendImageForm struct {
	Number          string `form:"number" json:"number" binding:"required"`
	Caption         string `form:"caption" json:"caption"`
	ImageURL        string `form:"imageUrl" json:"imageUrl"`
	QuotedMessageID string `form:"quotedMessageId" json:"quotedMessageId"`
}

// SendLocationRequest keeps coordinates as pointers so a zero value passes
// the required check and only a missing one fails it
type SendLocationRequest struct {
	Number      string   `json:"number" binding:"required"`
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	Description string   `json:"description"`
}

type SetStatusRequest struct {
	StatusMessage *string `json:"statusMessage" binding:"required"`
}

type LastMessage struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	From      string `json:"from"`
	To        string `json:"to"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`
	HasMedia  bool   `json:"hasMedia"`
	Type      string `json:"type"`
	Author    string `json:"author,omitempty"`
}

type Chat struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	IsGroup     bool         `json:"isGroup"`
	UnreadCount int          `json:"unreadCount"`
	Timestamp   int64        `json:"timestamp"`
	LastMessage *LastMessage `json:"lastMessage"`
}

type ChatsResponse struct {
	Success bool   `json:"success"`
	Chats   []Chat `json:"chats"`
}

type ContactInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Number        string  `json:"number"`
	Pushname      string  `json:"pushname"`
	IsMe          bool    `json:"isMe"`
	IsUser        bool    `json:"isUser"`
	IsGroup       bool    `json:"isGroup"`
	IsWAUser      bool    `json:"isWAUser"`
	IsBlocked     bool    `json:"isBlocked"`
	ProfilePicURL *string `json:"profilePicUrl"`
}

type ContactInfoResponse struct {
	Success     bool        `json:"success"`
	ContactInfo ContactInfo `json:"contactInfo"`
}
