// Package simulator provides an in-process messaging backend. It walks a
// session through pairing, authentication and readiness on timers, keeps
// chats in memory and can echo inbound replies.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/pkg/utils"
)

const (
	eventBuffer     = 16
	qrRefreshPeriod = 20 * time.Second
	echoDelay       = 500 * time.Millisecond
)

// ErrInitFailed is what Initialize returns when fail_init is configured
var ErrInitFailed = errors.New("simulated initialization failure")

// NewFactory returns a backend.Factory producing simulators
func NewFactory(logger *zap.Logger, cfg config.SimulatorConfig) backend.Factory {
	return func(sessionKey string) (backend.Backend, error) {
		return New(logger, sessionKey, cfg), nil
	}
}

// Simulator implements backend.Backend without any network traffic
type Simulator struct {
	logger *zap.Logger
	key    string
	cfg    config.SimulatorConfig
	events chan backend.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	emitMu sync.RWMutex
	closed bool

	mu          sync.Mutex
	state       backend.ConnectionState
	initialized bool
	status      string
	chats       map[string]*backend.Chat
	registered  map[string]bool
}

// New creates a simulator for one session
func New(logger *zap.Logger, sessionKey string, cfg config.SimulatorConfig) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())
	registered := make(map[string]bool, len(cfg.RegisteredNumbers))
	for _, n := range cfg.RegisteredNumbers {
		registered[utils.DigitsOnly(n)] = true
	}
	return &Simulator{
		logger:     logger.Named("simulator").With(zap.String("session_id", sessionKey)),
		key:        sessionKey,
		cfg:        cfg,
		events:     make(chan backend.Event, eventBuffer),
		ctx:        ctx,
		cancel:     cancel,
		state:      backend.StateUnlaunched,
		chats:      make(map[string]*backend.Chat),
		registered: registered,
	}
}

func (s *Simulator) Events() <-chan backend.Event {
	return s.events
}

func (s *Simulator) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.FailInit {
		return ErrInitFailed
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return backend.ErrDestroyed
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.state = backend.StateOpening
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run()
	return nil
}

func (s *Simulator) run() {
	defer s.wg.Done()

	if !s.sleep(s.cfg.PairingDelay) {
		return
	}
	s.setState(backend.StateUnpaired)
	if !s.emit(backend.QREvent(newQR())) {
		return
	}

	if s.cfg.AutoPairAfter <= 0 {
		ticker := time.NewTicker(qrRefreshPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if !s.emit(backend.QREvent(newQR())) {
					return
				}
			}
		}
	}

	if !s.sleep(s.cfg.AutoPairAfter) {
		return
	}
	s.setState(backend.StateOpening)
	if !s.emit(backend.AuthenticatedEvent()) {
		return
	}
	if !s.sleep(s.cfg.ReadyDelay) {
		return
	}
	s.setState(backend.StateConnected)
	s.emit(backend.ReadyEvent())
}

func (s *Simulator) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// emit delivers ev unless the simulator has been destroyed
func (s *Simulator) emit(ev backend.Event) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Simulator) setState(st backend.ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Simulator) State(ctx context.Context) (backend.ConnectionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.ctx.Err() != nil {
		return "", backend.ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Destroy stops the simulator and closes its event channel; repeated calls are no-ops
func (s *Simulator) Destroy(ctx context.Context) error {
	// cancel under mu so no goroutine is added once Wait can start
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
		s.setState(backend.StateUnlaunched)
		s.logger.Debug("simulator destroyed")
	}
	return nil
}

func (s *Simulator) requireConnected() error {
	if s.ctx.Err() != nil {
		return backend.ErrDestroyed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != backend.StateConnected {
		return fmt.Errorf("%w: state %s", backend.ErrNotInitialized, s.state)
	}
	return nil
}

func (s *Simulator) isRegistered(id string) bool {
	if s.cfg.RegisterAll {
		return true
	}
	digits := utils.DigitsOnly(strings.SplitN(id, "@", 2)[0])
	return digits != "" && s.registered[digits]
}

func (s *Simulator) SendMessage(ctx context.Context, to string, content backend.Content, opts backend.SendOptions) (*backend.SentMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(to, "@g.us") && !s.isRegistered(to) {
		return nil, fmt.Errorf("recipient %s is not a registered user", to)
	}

	now := time.Now().Unix()
	sent := &backend.SentMessage{
		ID:        fmt.Sprintf("true_%s_%s", to, strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])),
		Timestamp: now,
	}
	msg := &backend.Message{
		ID:         sent.ID,
		From:       s.key,
		To:         to,
		Body:       describe(content, opts),
		Type:       backend.TypeOf(content),
		Timestamp:  now,
		IsGroupMsg: strings.HasSuffix(to, "@g.us"),
		HasMedia:   backend.TypeOf(content) == "image",
		FromMe:     true,
	}
	s.record(to, msg, false)

	if text, ok := content.(backend.TextContent); ok && s.cfg.Echo {
		s.mu.Lock()
		if s.ctx.Err() == nil {
			s.wg.Add(1)
			go s.echo(to, text.Body)
		}
		s.mu.Unlock()
	}
	return sent, nil
}

func describe(content backend.Content, opts backend.SendOptions) string {
	switch c := content.(type) {
	case backend.TextContent:
		return c.Body
	case backend.MediaContent:
		return opts.Caption
	case backend.LocationContent:
		return c.Description
	}
	return ""
}

func (s *Simulator) echo(from, body string) {
	defer s.wg.Done()
	if !s.sleep(echoDelay) {
		return
	}
	msg := &backend.Message{
		ID:        fmt.Sprintf("false_%s_%s", from, strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])),
		From:      from,
		To:        s.key,
		Body:      "echo: " + body,
		Type:      "chat",
		Timestamp: time.Now().Unix(),
	}
	s.record(from, msg, true)
	s.emit(backend.MessageEvent(msg))
}

func (s *Simulator) record(chatID string, msg *backend.Message, unread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		chat = &backend.Chat{
			ID:      chatID,
			Name:    strings.SplitN(chatID, "@", 2)[0],
			IsGroup: strings.HasSuffix(chatID, "@g.us"),
		}
		s.chats[chatID] = chat
	}
	chat.LastMessage = msg
	chat.Timestamp = msg.Timestamp
	if unread {
		chat.UnreadCount++
	}
}

func (s *Simulator) IsRegisteredUser(ctx context.Context, id string) (bool, error) {
	if err := s.requireConnected(); err != nil {
		return false, err
	}
	return s.isRegistered(id), nil
}

func (s *Simulator) NumberID(ctx context.Context, number string) (string, error) {
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	if !s.isRegistered(number) {
		return "", nil
	}
	return utils.DigitsOnly(number) + utils.ChatIDSuffix, nil
}

func (s *Simulator) Chats(ctx context.Context) ([]backend.Chat, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		cp := *c
		if c.LastMessage != nil {
			lm := *c.LastMessage
			cp.LastMessage = &lm
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

func (s *Simulator) Contact(ctx context.Context, id string) (*backend.Contact, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	number := strings.SplitN(id, "@", 2)[0]
	registered := s.isRegistered(id)
	return &backend.Contact{
		ID:       id,
		Number:   number,
		Pushname: number,
		IsMe:     id == s.key,
		IsUser:   strings.HasSuffix(id, utils.ChatIDSuffix),
		IsGroup:  strings.HasSuffix(id, "@g.us"),
		IsWAUser: registered,
	}, nil
}

func (s *Simulator) SetStatus(ctx context.Context, status string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return nil
}

// Status returns the last status text set on the account
func (s *Simulator) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Simulator) SendTyping(ctx context.Context, chatID string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return backend.ErrChatNotFound
	}
	return nil
}

func (s *Simulator) SendSeen(ctx context.Context, chatID string) (bool, error) {
	if err := s.requireConnected(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return false, backend.ErrChatNotFound
	}
	chat.UnreadCount = 0
	return true, nil
}

func (s *Simulator) SendPresenceAvailable(ctx context.Context) error {
	return s.requireConnected()
}

func newQR() string {
	return "sim-qr-" + uuid.NewString()
}
