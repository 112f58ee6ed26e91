package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/dto"
	"github.com/amoylab/msgate/internal/common/errorx"
	"github.com/amoylab/msgate/internal/media"
	"github.com/amoylab/msgate/pkg/utils"
)

func (h *Session) HandleSendMessage(c *gin.Context) {
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleError(c, errorx.Validation("Recipient & message required."))
		return
	}
	hd, ok := h.readySession(c)
	if !ok || !h.requireConnected(c, hd.Key(), hd.Backend(), "Send fail") {
		return
	}
	key, b := hd.Key(), hd.Backend()

	chatID := utils.NormalizeChatID(req.Number)
	start := time.Now()
	sent, err := b.SendMessage(c.Request.Context(), chatID, backend.TextContent{Body: req.Message},
		backend.SendOptions{QuotedMessageID: req.QuotedMessageID})
	h.metrics.BackendOpDone("send_message", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Send fail"))
		return
	}

	h.logger.Info("message sent",
		zap.String("session_id", key),
		zap.String("to", chatID),
		zap.Bool("reply", req.QuotedMessageID != ""),
		zap.String("username", c.GetString(errorx.CtxKeyUsername)))
	h.registry.PublishFor(hd, broadcast.MessageSent{
		SessionID: key,
		To:        chatID,
		Body:      req.Message,
		ID:        sent.ID,
		Timestamp: sent.Timestamp,
	})
	c.JSON(http.StatusOK, dto.SendMessageResponse{
		Success: true,
		Message: "Message sent!",
		MsgData: dto.MessageData{ID: sent.ID, Timestamp: sent.Timestamp},
	})
}

// HandleSendImage sends an uploaded imageFile or the image at imageUrl
func (h *Session) HandleSendImage(c *gin.Context) {
	var form dto.SendImageForm
	if err := c.ShouldBind(&form); err != nil {
		h.errs.HandleError(c, errorx.Validation("Recipient required."))
		return
	}
	upload, _ := c.FormFile("imageFile")
	if upload == nil && form.ImageURL == "" {
		h.errs.HandleError(c, errorx.Validation("Image file or URL required."))
		return
	}
	hd, ok := h.readySession(c)
	if !ok || !h.requireConnected(c, hd.Key(), hd.Backend(), "Image send fail") {
		return
	}
	key, b := hd.Key(), hd.Backend()

	var (
		content *backend.MediaContent
		err     error
	)
	if upload != nil {
		content, err = h.media.FromUpload(upload)
	} else {
		content, err = h.media.Fetch(c.Request.Context(), form.ImageURL)
	}
	if errors.Is(err, media.ErrTooLarge) {
		h.errs.HandleError(c, errorx.Validation("Image exceeds the size limit."))
		return
	}
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Image send fail"))
		return
	}

	chatID := utils.NormalizeChatID(form.Number)
	start := time.Now()
	sent, err := b.SendMessage(c.Request.Context(), chatID, *content, backend.SendOptions{
		Caption:         form.Caption,
		QuotedMessageID: form.QuotedMessageID,
	})
	h.metrics.BackendOpDone("send_media", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Image send fail"))
		return
	}

	h.registry.PublishFor(hd, broadcast.MediaSent{
		SessionID: key,
		To:        chatID,
		Type:      content.MimeType,
		Filename:  content.Filename,
		Caption:   form.Caption,
		ID:        sent.ID,
	})
	c.JSON(http.StatusOK, dto.Response{Success: true, Message: "Image sent!"})
}

func (h *Session) HandleSendLocation(c *gin.Context) {
	var req dto.SendLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleError(c, errorx.Validation("Recipient, latitude, longitude required."))
		return
	}
	hd, ok := h.readySession(c)
	if !ok || !h.requireConnected(c, hd.Key(), hd.Backend(), "Location send fail") {
		return
	}
	key, b := hd.Key(), hd.Backend()

	chatID := utils.NormalizeChatID(req.Number)
	loc := backend.LocationContent{
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		Description: req.Description,
	}
	start := time.Now()
	sent, err := b.SendMessage(c.Request.Context(), chatID, loc, backend.SendOptions{})
	h.metrics.BackendOpDone("send_location", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Location send fail"))
		return
	}

	h.registry.PublishFor(hd, broadcast.LocationSent{
		SessionID:   key,
		To:          chatID,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Description: loc.Description,
		ID:          sent.ID,
	})
	c.JSON(http.StatusOK, dto.Response{Success: true, Message: "Location sent!"})
}

func (h *Session) HandleSetStatus(c *gin.Context) {
	var req dto.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleError(c, errorx.Validation("statusMessage (string) required."))
		return
	}
	hd, ok := h.readySession(c)
	if !ok {
		return
	}
	key, b := hd.Key(), hd.Backend()

	status := *req.StatusMessage
	start := time.Now()
	err := b.SetStatus(c.Request.Context(), status)
	h.metrics.BackendOpDone("set_status", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Set status fail"))
		return
	}

	h.registry.PublishFor(hd, broadcast.StatusMessageSet{SessionID: key, Status: status})
	c.JSON(http.StatusOK, dto.Response{Success: true, Message: "Status updated!"})
}

func (h *Session) HandleSendTyping(c *gin.Context) {
	chatID := c.Param("chatId")
	if chatID == "" {
		h.errs.HandleError(c, errorx.Validation("Chat ID required."))
		return
	}
	key, b, ok := h.readyBackend(c)
	if !ok {
		return
	}

	start := time.Now()
	err := b.SendTyping(c.Request.Context(), chatID)
	h.metrics.BackendOpDone("send_typing", start, err)
	if err != nil {
		h.chatOpFailed(c, key, chatID, err, "Typing state fail")
		return
	}
	c.JSON(http.StatusOK, dto.Response{Success: true, Message: fmt.Sprintf("Typing state sent to %s", chatID)})
}

// HandleSendSeen reports the backend's own verdict in success
func (h *Session) HandleSendSeen(c *gin.Context) {
	chatID := c.Param("chatId")
	if chatID == "" {
		h.errs.HandleError(c, errorx.Validation("Chat ID required."))
		return
	}
	key, b, ok := h.readyBackend(c)
	if !ok {
		return
	}

	start := time.Now()
	seen, err := b.SendSeen(c.Request.Context(), chatID)
	h.metrics.BackendOpDone("send_seen", start, err)
	if err != nil {
		h.chatOpFailed(c, key, chatID, err, "Send seen fail")
		return
	}
	msg := "Failed to send seen"
	if seen {
		msg = "Seen receipt sent"
	}
	c.JSON(http.StatusOK, dto.Response{Success: seen, Message: msg})
}

func (h *Session) HandleSetPresenceOnline(c *gin.Context) {
	_, b, ok := h.readyBackend(c)
	if !ok {
		return
	}

	start := time.Now()
	err := b.SendPresenceAvailable(c.Request.Context())
	h.metrics.BackendOpDone("set_presence", start, err)
	if err != nil {
		h.errs.HandleError(c, errorx.Backend(err, "Set presence fail"))
		return
	}
	c.JSON(http.StatusOK, dto.Response{Success: true, Message: "Presence set online."})
}

func (h *Session) chatOpFailed(c *gin.Context, key, chatID string, err error, prefix string) {
	if errors.Is(err, backend.ErrChatNotFound) {
		h.errs.HandleError(c, errorx.NotFound("Chat %s not found in session %s.", chatID, key))
		return
	}
	h.errs.HandleError(c, errorx.Backend(err, "%s", prefix))
}
