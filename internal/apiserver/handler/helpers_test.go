package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/msgate/internal/apiserver/middleware"
	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/auth/jwt"
	"github.com/amoylab/msgate/internal/auth/storage"
	"github.com/amoylab/msgate/internal/backend/backendtest"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/internal/common/errorx"
	"github.com/amoylab/msgate/internal/media"
	"github.com/amoylab/msgate/internal/session"
)

const testPassword = "devpassword123"

type harness struct {
	router   *gin.Engine
	gate     *auth.Gate
	registry *session.Registry
	factory  *backendtest.Factory
	bus      *broadcast.Broadcaster
	token    string
}

func newHarness(t *testing.T, configure func(*backendtest.Fake)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), &storage.User{Username: "admin", PasswordHash: string(hash)}))
	tokens, err := jwt.NewService(jwt.Config{SecretKey: "this-is-a-very-long-secret-key-for-testing", Duration: time.Hour})
	require.NoError(t, err)
	gate, err := auth.NewGate(zap.NewNop(), store, tokens)
	require.NoError(t, err)

	logger := zap.NewNop()
	eh := errorx.NewErrorHandler(logger)
	bus := broadcast.New(logger, broadcast.WithBuffer(256))
	factory := backendtest.NewFactory(configure)
	registry := session.NewRegistry(logger, &config.SessionConfig{StateTimeout: time.Second, DestroyTimeout: time.Second}, factory.New, bus, nil)
	bus.SetSnapshotSource(registry)
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	sessions := NewSession(logger, registry, media.NewLoader(logger, &config.MediaConfig{MaxBytes: 1 << 20}), nil, eh, time.Second)
	authH := NewAuth(logger, gate, eh)

	r := gin.New()
	r.Use(eh.RecoveryMiddleware())
	r.POST("/auth/login", authH.HandleLogin)
	api := r.Group("", middleware.JWTAuthMiddleware(logger, gate, eh))
	api.POST("/session/init/:sessionId", sessions.HandleInitSession)
	api.GET("/sessions", sessions.HandleListSessions)
	api.POST("/session/remove/:sessionId", sessions.HandleRemoveSession)
	api.GET("/session/is-registered/:sessionId/:number", sessions.HandleIsRegistered)
	api.POST("/session/send-message/:sessionId", sessions.HandleSendMessage)
	api.GET("/session/chats/:sessionId", sessions.HandleChats)
	api.GET("/session/contact-info/:sessionId/:contactId", sessions.HandleContactInfo)
	api.POST("/session/send-image/:sessionId", sessions.HandleSendImage)
	api.POST("/session/send-location/:sessionId", sessions.HandleSendLocation)
	api.POST("/session/set-status/:sessionId", sessions.HandleSetStatus)
	api.POST("/session/:sessionId/chat/:chatId/send-typing", sessions.HandleSendTyping)
	api.POST("/session/:sessionId/chat/:chatId/send-seen", sessions.HandleSendSeen)
	api.POST("/session/:sessionId/set-presence-online", sessions.HandleSetPresenceOnline)

	token, _, err := gate.IssueToken(context.Background(), "admin", testPassword)
	require.NoError(t, err)

	return &harness{router: r, gate: gate, registry: registry, factory: factory, bus: bus, token: token}
}

func (h *harness) request(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		return h.request(t, method, path, nil, "")
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return h.request(t, method, path, bytes.NewReader(data), "application/json")
}

// readySession creates key and drives its fake backend to READY
func (h *harness) readySession(t *testing.T, key string) *backendtest.Fake {
	t.Helper()
	_, err := h.registry.Create(context.Background(), key)
	require.NoError(t, err)
	fake := h.factory.Latest(key)
	fake.MakeReady()
	require.Eventually(t, func() bool {
		_, err := h.registry.ReadyHandle(key)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	return fake
}

// watch joins a subscriber to key and drops the join snapshot
func (h *harness) watch(t *testing.T, key string) *broadcast.Subscription {
	t.Helper()
	sub := h.bus.Subscribe(&auth.Principal{ID: 1, Username: "admin"})
	t.Cleanup(func() { h.bus.Unsubscribe(sub) })
	require.NoError(t, h.bus.Join(sub, key))
	<-sub.C()
	return sub
}

func queued(sub *broadcast.Subscription) []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
