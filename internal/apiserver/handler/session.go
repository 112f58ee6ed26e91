package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/common/dto"
	"github.com/amoylab/msgate/internal/common/errorx"
	"github.com/amoylab/msgate/internal/media"
	"github.com/amoylab/msgate/internal/session"
	"github.com/amoylab/msgate/pkg/metrics"
	"github.com/amoylab/msgate/pkg/utils"
)

// Session serves the session management and messaging endpoints
type Session struct {
	logger       *zap.Logger
	registry     *session.Registry
	media        *media.Loader
	metrics      *metrics.Metrics
	errs         *errorx.ErrorHandler
	stateTimeout time.Duration
}

func NewSession(logger *zap.Logger, registry *session.Registry, loader *media.Loader,
	m *metrics.Metrics, errs *errorx.ErrorHandler, stateTimeout time.Duration) *Session {
	if stateTimeout <= 0 {
		stateTimeout = 10 * time.Second
	}
	return &Session{
		logger:       logger.Named("handler.session"),
		registry:     registry,
		media:        loader,
		metrics:      m,
		errs:         errs,
		stateTimeout: stateTimeout,
	}
}

// HandleInitSession creates the session or reports the existing one
func (h *Session) HandleInitSession(c *gin.Context) {
	key := c.Param("sessionId")
	h.logger.Info("session init requested",
		zap.String("session_id", key),
		zap.String("username", c.GetString(errorx.CtxKeyUsername)))

	res, err := h.registry.Create(c.Request.Context(), key)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}

	var msg string
	switch res.Outcome {
	case session.OutcomeExisting:
		msg = fmt.Sprintf("Session '%s' exists/processing.", key)
	case session.OutcomeReinitialized:
		msg = fmt.Sprintf("Session '%s' re-initializing due to previous error.", key)
	default:
		msg = fmt.Sprintf("Session '%s' initialization started.", key)
	}
	c.JSON(http.StatusOK, dto.InitSessionResponse{
		Success: true,
		Message: msg,
		Status:  res.Status,
		QR:      res.QR,
	})
}

func (h *Session) HandleListSessions(c *gin.Context) {
	list := h.registry.List()
	out := make([]dto.SessionSummary, 0, len(list))
	for _, s := range list {
		out = append(out, dto.SessionSummary{SessionID: s.SessionID, IsReady: s.IsReady, HasQR: s.HasQR})
	}
	c.JSON(http.StatusOK, dto.ListSessionsResponse{Success: true, Sessions: out})
}

// HandleRemoveSession tears the session down; unknown ids succeed
func (h *Session) HandleRemoveSession(c *gin.Context) {
	key := c.Param("sessionId")
	if err := h.registry.Remove(c.Request.Context(), key); err != nil {
		h.errs.HandleError(c, err)
		return
	}
	h.logger.Info("session removed via API",
		zap.String("session_id", key),
		zap.String("username", c.GetString(errorx.CtxKeyUsername)))
	c.JSON(http.StatusOK, dto.Response{
		Success: true,
		Message: fmt.Sprintf("Session '%s' removed/state cleared.", key),
	})
}

// HandleIsRegistered checks whether a number can receive messages. Errors
// keep isRegistered in the body.
func (h *Session) HandleIsRegistered(c *gin.Context) {
	key := c.Param("sessionId")
	number := c.Param("number")

	if number == "" {
		c.JSON(http.StatusBadRequest, dto.IsRegisteredResponse{Error: "Number to check is required."})
		return
	}
	hd, err := h.registry.ReadyHandle(key)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.IsRegisteredResponse{Error: fmt.Sprintf("Session %s not ready.", key)})
		return
	}

	ctx := c.Request.Context()
	b := hd.Backend()
	chatID := utils.NormalizeChatID(number)

	start := time.Now()
	registered, err := b.IsRegisteredUser(ctx, chatID)
	h.metrics.BackendOpDone("is_registered", start, err)
	if err != nil {
		h.isRegisteredFailed(c, key, number, err)
		return
	}
	if registered {
		c.JSON(http.StatusOK, dto.IsRegisteredResponse{
			Success:      true,
			IsRegistered: true,
			NumberID:     chatID,
			Message:      "Number is registered on WhatsApp.",
		})
		return
	}

	start = time.Now()
	numberID, err := b.NumberID(ctx, utils.DigitsOnly(number))
	h.metrics.BackendOpDone("number_id", start, err)
	if err != nil {
		h.isRegisteredFailed(c, key, number, err)
		return
	}
	if numberID != "" {
		c.JSON(http.StatusOK, dto.IsRegisteredResponse{
			Success:  true,
			NumberID: numberID,
			Message:  "Number format appears valid but not actively on WhatsApp or privacy settings may hide status.",
		})
		return
	}
	c.JSON(http.StatusOK, dto.IsRegisteredResponse{
		Success:  true,
		NumberID: chatID,
		Message:  "Number is not registered on WhatsApp or format is invalid for lookup.",
	})
}

func (h *Session) isRegisteredFailed(c *gin.Context, key, number string, err error) {
	h.logger.Error("failed to check number",
		zap.String("session_id", key),
		zap.String("number", number),
		zap.String("username", c.GetString(errorx.CtxKeyUsername)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.IsRegisteredResponse{
		Error: fmt.Sprintf("Failed to check number: %v", err),
	})
}

func (h *Session) HandleChats(c *gin.Context) {
	key, b, ok := h.readyBackend(c)
	if !ok || !h.requireConnected(c, key, b, "Chat fetch fail") {
		return
	}

	start := time.Now()
	chats, err := b.Chats(c.Request.Context())
	h.metrics.BackendOpDone("chats", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Chat fetch fail"))
		return
	}

	out := make([]dto.Chat, 0, len(chats))
	for _, ch := range chats {
		item := dto.Chat{
			ID:          ch.ID,
			Name:        ch.Name,
			IsGroup:     ch.IsGroup,
			UnreadCount: ch.UnreadCount,
			Timestamp:   ch.Timestamp,
		}
		if m := ch.LastMessage; m != nil {
			item.LastMessage = &dto.LastMessage{
				ID:        m.ID,
				Body:      m.Body,
				From:      m.From,
				To:        m.To,
				FromMe:    m.FromMe,
				Timestamp: m.Timestamp,
				HasMedia:  m.HasMedia,
				Type:      m.Type,
				Author:    m.Author,
			}
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, dto.ChatsResponse{Success: true, Chats: out})
}

func (h *Session) HandleContactInfo(c *gin.Context) {
	contactID := c.Param("contactId")
	if contactID == "" {
		h.errs.HandleError(c, errorx.Validation("Contact ID required."))
		return
	}
	_, b, ok := h.readyBackend(c)
	if !ok {
		return
	}

	start := time.Now()
	contact, err := b.Contact(c.Request.Context(), utils.NormalizeChatID(contactID))
	h.metrics.BackendOpDone("contact", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Contact info fail"))
		return
	}

	info := dto.ContactInfo{
		ID:        contact.ID,
		Name:      contact.Name,
		Number:    contact.Number,
		Pushname:  contact.Pushname,
		IsMe:      contact.IsMe,
		IsUser:    contact.IsUser,
		IsGroup:   contact.IsGroup,
		IsWAUser:  contact.IsWAUser,
		IsBlocked: contact.IsBlocked,
	}
	if contact.ProfilePicURL != "" {
		pic := contact.ProfilePicURL
		info.ProfilePicURL = &pic
	}
	c.JSON(http.StatusOK, dto.ContactInfoResponse{Success: true, ContactInfo: info})
}

// readySession resolves the READY session named by the path or writes the
// not-ready response. Events about work done through the handle go out via
// registry.PublishFor so a removed handle stays silent.
func (h *Session) readySession(c *gin.Context) (*session.Handle, bool) {
	key := c.Param("sessionId")
	hd, err := h.registry.ReadyHandle(key)
	if err != nil {
		h.errs.HandleError(c, errorx.NotReady("Session %s not ready.", key))
		return nil, false
	}
	return hd, true
}

func (h *Session) readyBackend(c *gin.Context) (string, backend.Backend, bool) {
	hd, ok := h.readySession(c)
	if !ok {
		return c.Param("sessionId"), nil, false
	}
	return hd.Key(), hd.Backend(), true
}

// requireConnected checks the backend's own connection state. A failing
// query is reported with failPrefix like the operation itself would be.
func (h *Session) requireConnected(c *gin.Context, key string, b backend.Backend, failPrefix string) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.stateTimeout)
	defer cancel()

	start := time.Now()
	st, err := b.State(ctx)
	h.metrics.BackendOpDone("state", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "%s", failPrefix))
		return false
	}
	if st != backend.StateConnected {
		h.errs.HandleError(c, errorx.NotReady("Client %s not connected.", key))
		return false
	}
	return true
}
