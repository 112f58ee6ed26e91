package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/apiserver/handler"
	"github.com/amoylab/msgate/internal/apiserver/middleware"
	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/internal/common/errorx"
	"github.com/amoylab/msgate/internal/media"
	"github.com/amoylab/msgate/internal/session"
	"github.com/amoylab/msgate/pkg/metrics"
)

// Deps are the long-lived components the HTTP surface is built on
type Deps struct {
	Gate     *auth.Gate
	Registry *session.Registry
	Bus      *broadcast.Broadcaster
	Media    *media.Loader
	Metrics  *metrics.Metrics
}

// Server exposes the REST API and the realtime channel
type Server struct {
	logger *zap.Logger
	cfg    *config.GatewayConfig
	router *gin.Engine
	srv    *http.Server
}

// NewServer builds the router and registers every route
func NewServer(logger *zap.Logger, cfg *config.GatewayConfig, deps Deps) *Server {
	s := &Server{
		logger: logger.Named("apiserver"),
		cfg:    cfg,
		router: gin.New(),
	}
	eh := errorx.NewErrorHandler(logger)

	s.router.Use(eh.RecoveryMiddleware())
	s.router.Use(s.loggerMiddleware())
	if cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		s.router.Use(deps.Metrics.Middleware())
		s.router.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}
	if len(cfg.CORS.AllowOrigins) > 0 {
		cors := s.corsMiddleware(&cfg.CORS)
		s.router.Use(cors)
		s.router.OPTIONS("/*path", cors)
	}

	s.registerRoutes(eh, deps)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(eh *errorx.ErrorHandler, deps Deps) {
	s.router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Health check passed.",
		})
	})

	authHandler := handler.NewAuth(s.logger, deps.Gate, eh)
	sessionHandler := handler.NewSession(s.logger, deps.Registry, deps.Media, deps.Metrics, eh, s.cfg.Session.StateTimeout)
	realtimeHandler := handler.NewRealtime(s.logger, deps.Gate, deps.Bus, deps.Registry, &s.cfg.Realtime, &s.cfg.CORS)

	s.router.POST("/auth/login", authHandler.HandleLogin)
	// the upgrade authenticates from the query string as well as the header
	s.router.GET(s.cfg.Realtime.Path, realtimeHandler.HandleWebSocket)

	api := s.router.Group("")
	api.Use(middleware.JWTAuthMiddleware(s.logger, deps.Gate, eh))
	{
		api.GET("/sessions", sessionHandler.HandleListSessions)
		api.POST("/session/init/:sessionId", sessionHandler.HandleInitSession)
		api.POST("/session/remove/:sessionId", sessionHandler.HandleRemoveSession)
		api.GET("/session/is-registered/:sessionId/:number", sessionHandler.HandleIsRegistered)
		api.GET("/session/chats/:sessionId", sessionHandler.HandleChats)
		api.GET("/session/contact-info/:sessionId/:contactId", sessionHandler.HandleContactInfo)

		api.POST("/session/send-message/:sessionId", sessionHandler.HandleSendMessage)
		api.POST("/session/send-image/:sessionId", sessionHandler.HandleSendImage)
		api.POST("/session/send-location/:sessionId", sessionHandler.HandleSendLocation)
		api.POST("/session/set-status/:sessionId", sessionHandler.HandleSetStatus)

		api.POST("/session/:sessionId/chat/:chatId/send-typing", sessionHandler.HandleSendTyping)
		api.POST("/session/:sessionId/chat/:chatId/send-seen", sessionHandler.HandleSendSeen)
		api.POST("/session/:sessionId/set-presence-online", sessionHandler.HandleSetPresenceOnline)
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. Listen failures are logged and reported
// on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start server", zap.Error(err))
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// ends. Upgraded websocket connections are not tracked here; they end when
// their subscriptions do.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("trace_id", errorx.ExtractTraceID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		}
		if username := c.GetString(errorx.CtxKeyUsername); username != "" {
			fields = append(fields, zap.String("username", username))
		}
		s.logger.Debug("request served", fields...)
	}
}

// corsMiddleware answers preflights and stamps allowed origins
func (s *Server) corsMiddleware(cors *config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		allowed := false
		for _, allowedOrigin := range cors.AllowOrigins {
			if allowedOrigin == "*" || origin == allowedOrigin {
				allowed = true
				c.Header("Access-Control-Allow-Origin", allowedOrigin)
				break
			}
		}
		if !allowed {
			c.Next()
			return
		}

		if len(cors.AllowMethods) > 0 {
			c.Header("Access-Control-Allow-Methods", strings.Join(cors.AllowMethods, ", "))
		}
		if len(cors.AllowHeaders) > 0 {
			c.Header("Access-Control-Allow-Headers", strings.Join(cors.AllowHeaders, ", "))
		}
		if len(cors.ExposeHeaders) > 0 {
			c.Header("Access-Control-Expose-Headers", strings.Join(cors.ExposeHeaders, ", "))
		}
		if cors.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
