package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/apiserver/middleware"
	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/internal/common/dto"
	"github.com/amoylab/msgate/internal/session"
)

const maxFrameBytes = 64 << 10

// Realtime upgrades authenticated clients to a websocket carrying session events
type Realtime struct {
	logger   *zap.Logger
	verifier middleware.TokenVerifier
	bus      *broadcast.Broadcaster
	registry *session.Registry
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
}

func NewRealtime(logger *zap.Logger, verifier middleware.TokenVerifier, bus *broadcast.Broadcaster,
	registry *session.Registry, cfg *config.RealtimeConfig, cors *config.CORSConfig) *Realtime {
	rt := &Realtime{
		logger:   logger.Named("handler.realtime"),
		verifier: verifier,
		bus:      bus,
		registry: registry,
		cfg:      *cfg,
	}
	if rt.cfg.PingInterval <= 0 {
		rt.cfg.PingInterval = 30 * time.Second
	}
	if rt.cfg.PongWait <= rt.cfg.PingInterval {
		rt.cfg.PongWait = 2 * rt.cfg.PingInterval
	}
	if rt.cfg.WriteTimeout <= 0 {
		rt.cfg.WriteTimeout = 10 * time.Second
	}
	rt.upgrader = websocket.Upgrader{
		HandshakeTimeout: rt.cfg.HandshakeTimeout,
		CheckOrigin:      originChecker(cors),
	}
	return rt
}

// originChecker accepts requests without Origin and origins listed in cors.
// An empty list accepts everything.
func originChecker(cors *config.CORSConfig) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || cors == nil || len(cors.AllowOrigins) == 0 {
			return true
		}
		for _, allowed := range cors.AllowOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket authenticates before upgrading: no valid token, no socket
func (rt *Realtime) HandleWebSocket(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		rt.logger.Info("websocket refused", zap.String("reason", "no token"), zap.String("remote_addr", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Response{Error: "Authentication error: No token provided"})
		return
	}
	principal, err := rt.verifier.Verify(token)
	if err != nil {
		rt.logger.Info("websocket refused", zap.String("reason", "invalid token"), zap.String("remote_addr", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Response{Error: "Authentication error: Invalid token"})
		return
	}

	conn, err := rt.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rt.logger.Error("failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	sub := rt.bus.Subscribe(principal)
	log := rt.logger.With(zap.String("subscriber", sub.ID()), zap.String("username", principal.Username))
	log.Info("WebSocket client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.writePump(conn, sub, log)
	}()
	rt.readPump(conn, sub, log)

	rt.bus.Unsubscribe(sub)
	<-done
	log.Info("WebSocket client disconnected", zap.Bool("evicted", sub.Evicted()))
}

// readPump handles client frames until the socket fails or closes
func (rt *Realtime) readPump(conn *websocket.Conn, sub *broadcast.Subscription, log *zap.Logger) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(rt.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(rt.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket connection error", zap.Error(err))
			}
			return
		}
		rt.handleFrame(sub, data, log)
	}
}

// writePump is the only writer on conn. It ends when the subscription queue
// closes (unsubscribe or eviction) or a write fails, and closes the socket.
func (rt *Realtime) writePump(conn *websocket.Conn, sub *broadcast.Subscription, log *zap.Logger) {
	ticker := time.NewTicker(rt.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(rt.cfg.WriteTimeout))
			if !ok {
				code, reason := websocket.CloseNormalClosure, ""
				if sub.Evicted() {
					code, reason = websocket.CloseTryAgainLater, "subscriber too slow"
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("failed to write event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(rt.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handleFrame dispatches {"event":..., "data":"<sessionId>"}. data may also
// be an object carrying sessionId.
func (rt *Realtime) handleFrame(sub *broadcast.Subscription, data []byte, log *zap.Logger) {
	if !gjson.ValidBytes(data) {
		log.Debug("ignoring malformed frame")
		return
	}
	event := gjson.GetBytes(data, "event").String()
	payload := gjson.GetBytes(data, "data")
	key := payload.String()
	if payload.IsObject() {
		key = payload.Get("sessionId").String()
	}
	if key == "" {
		log.Debug("ignoring frame without session id", zap.String("event", event))
		return
	}

	switch event {
	case dto.ClientEventJoinSession:
		if err := rt.bus.Join(sub, key); err != nil {
			log.Debug("join failed", zap.String("session_id", key), zap.Error(err))
			return
		}
		log.Info("joined session room", zap.String("session_id", key))
	case dto.ClientEventLeaveSession:
		rt.bus.Leave(sub, key)
		log.Info("left session room", zap.String("session_id", key))
	case dto.ClientEventInitSession:
		rt.requestInit(key, log)
	default:
		log.Debug("ignoring unknown event", zap.String("event", event))
	}
}

// requestInit creates the session and reports the outcome to its room
func (rt *Realtime) requestInit(key string, log *zap.Logger) {
	res, err := rt.registry.Create(context.Background(), key)
	if err != nil {
		log.Error("session init over websocket failed", zap.String("session_id", key), zap.Error(err))
		return
	}

	switch res.Outcome {
	case session.OutcomeExisting:
		rt.bus.Publish(broadcast.NewEvent(key, broadcast.StatusUpdate{
			SessionID: key,
			Message:   fmt.Sprintf("Session '%s' exists. State: %s", key, res.Status),
			Status:    res.Status,
			QR:        res.QR,
		}))
		if res.QR != nil {
			rt.bus.Publish(broadcast.NewEvent(key, broadcast.QRCode{SessionID: key, QR: *res.QR}))
		}
	case session.OutcomeReinitialized:
		rt.bus.Publish(broadcast.NewEvent(key, broadcast.StatusUpdate{
			SessionID: key,
			Message:   fmt.Sprintf("Session '%s' re-initializing.", key),
		}))
	default:
		rt.bus.Publish(broadcast.NewEvent(key, broadcast.StatusUpdate{
			SessionID: key,
			Message:   fmt.Sprintf("Session '%s' initialization started.", key),
		}))
	}
}
