package errorx

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// HeaderTraceID carries the request correlation id
	HeaderTraceID = "X-Trace-Id"
	ctxKeyTraceID = "trace_id"
	// CtxKeyUsername is set by the auth middleware for error logs
	CtxKeyUsername = "username"
)

// ErrorHandler renders classified errors as {success:false,error} responses
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger.Named("errorx")}
}

// HandleError writes err as JSON with the mapped status and aborts the chain
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	e := From(err)
	status := e.HTTPStatus()
	h.logError(c, e, status)

	msg := e.Message
	if e.Kind == KindBackend && e.Err != nil {
		msg = e.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

func (h *ErrorHandler) logError(c *gin.Context, e *Error, status int) {
	fields := []zap.Field{
		zap.String("trace_id", ExtractTraceID(c)),
		zap.String("kind", string(e.Kind)),
		zap.Int("http_status", status),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("client_ip", c.ClientIP()),
	}
	if sessionID := c.Param("sessionId"); sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if username := c.GetString(CtxKeyUsername); username != "" {
		fields = append(fields, zap.String("username", username))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(e.Message, fields...)
		return
	}
	h.logger.Info(e.Message, fields...)
}

// RecoveryMiddleware converts panics into 500 responses
func (h *ErrorHandler) RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		h.logger.Error("panic recovered",
			zap.String("trace_id", ExtractTraceID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.String("panic", fmt.Sprintf("%v", rec)),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Internal server error",
		})
	})
}

// ExtractTraceID returns the request trace id, creating one when absent
func ExtractTraceID(c *gin.Context) string {
	if traceID := c.GetString(ctxKeyTraceID); traceID != "" {
		return traceID
	}
	traceID := c.GetHeader(HeaderTraceID)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	c.Set(ctxKeyTraceID, traceID)
	return traceID
}
