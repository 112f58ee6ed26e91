// Package backendtest provides a scriptable backend.Backend for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/msgate/internal/backend"
)

// Sent records one SendMessage call accepted by a Fake
type Sent struct {
	To      string
	Content backend.Content
	Options backend.SendOptions
}

// Fake is a backend driven entirely by the test. Events are pushed with Emit;
// everything else is configured through its exported fields before use.
type Fake struct {
	Key string

	// InitErr is returned by Initialize
	InitErr error
	// OnInit is emitted right after a successful Initialize
	OnInit []backend.Event
	// Registered restricts recipients when non-nil
	Registered map[string]bool
	NumberIDs  map[string]string
	ChatList   []backend.Chat
	Contacts   map[string]*backend.Contact
	SendErr    error
	DestroyErr error
	// DestroyDelay makes Destroy block, honouring its context
	DestroyDelay time.Duration

	mu          sync.Mutex
	events      chan backend.Event
	closed      bool
	state       backend.ConnectionState
	stateErr    error
	initBlock   chan struct{}
	sendBlock   chan struct{}
	sendEntered chan struct{}
	initCalls   int
	destroyed   int
	sent        []Sent
	status      string
	presenceSet bool
	seq         int
}

// NewFake creates a fake reporting OPENING until told otherwise
func NewFake(key string) *Fake {
	return &Fake{
		Key:    key,
		events: make(chan backend.Event, 256),
		state:  backend.StateOpening,
	}
}

// BlockInit makes Initialize wait until the returned func is called or its
// context ends
func (f *Fake) BlockInit() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.initBlock = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// BlockSend makes SendMessage park after its connection check until release
// is called or its context ends. entered is closed when a send is parked.
func (f *Fake) BlockSend() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, in := make(chan struct{}), make(chan struct{})
	f.sendBlock, f.sendEntered = block, in
	var once sync.Once
	return in, func() { once.Do(func() { close(block) }) }
}

func (f *Fake) waitSend(ctx context.Context) error {
	f.mu.Lock()
	block, in := f.sendBlock, f.sendEntered
	f.sendEntered = nil
	f.mu.Unlock()
	if block == nil {
		return nil
	}
	if in != nil {
		close(in)
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit pushes ev to the consumer; false once the fake is destroyed
func (f *Fake) Emit(ev backend.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.events <- ev:
		return true
	default:
		return false
	}
}

// MakeReady emits authenticated and ready and reports CONNECTED
func (f *Fake) MakeReady() {
	f.SetState(backend.StateConnected, nil)
	f.Emit(backend.AuthenticatedEvent())
	f.Emit(backend.ReadyEvent())
}

// SetState controls what State returns
func (f *Fake) SetState(st backend.ConnectionState, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
	f.stateErr = err
}

func (f *Fake) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

// Destroyed reports how many times Destroy was called
func (f *Fake) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *Fake) SentMessages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fake) PresenceSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presenceSet
}

func (f *Fake) Events() <-chan backend.Event {
	return f.events
}

func (f *Fake) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.initCalls++
	block := f.initBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.InitErr != nil {
		return f.InitErr
	}
	for _, ev := range f.OnInit {
		f.Emit(ev)
	}
	return nil
}

func (f *Fake) State(ctx context.Context) (backend.ConnectionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", backend.ErrDestroyed
	}
	return f.state, f.stateErr
}

func (f *Fake) Destroy(ctx context.Context) error {
	if f.DestroyDelay > 0 {
		t := time.NewTimer(f.DestroyDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			f.mu.Lock()
			f.destroyed++
			f.mu.Unlock()
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return f.DestroyErr
}

func (f *Fake) connected() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return backend.ErrDestroyed
	}
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, to string, content backend.Content, opts backend.SendOptions) (*backend.SentMessage, error) {
	if err := f.connected(); err != nil {
		return nil, err
	}
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	if err := f.waitSend(ctx); err != nil {
		return nil, err
	}
	if f.Registered != nil && !f.Registered[to] {
		return nil, fmt.Errorf("recipient %s is not a registered user", to)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.sent = append(f.sent, Sent{To: to, Content: content, Options: opts})
	return &backend.SentMessage{ID: fmt.Sprintf("true_%s_%d", to, f.seq), Timestamp: int64(1700000000 + f.seq)}, nil
}

func (f *Fake) IsRegisteredUser(ctx context.Context, id string) (bool, error) {
	if err := f.connected(); err != nil {
		return false, err
	}
	if f.Registered == nil {
		return true, nil
	}
	return f.Registered[id], nil
}

func (f *Fake) NumberID(ctx context.Context, number string) (string, error) {
	if err := f.connected(); err != nil {
		return "", err
	}
	return f.NumberIDs[number], nil
}

func (f *Fake) Chats(ctx context.Context) ([]backend.Chat, error) {
	if err := f.connected(); err != nil {
		return nil, err
	}
	return append([]backend.Chat(nil), f.ChatList...), nil
}

func (f *Fake) Contact(ctx context.Context, id string) (*backend.Contact, error) {
	if err := f.connected(); err != nil {
		return nil, err
	}
	c, ok := f.Contacts[id]
	if !ok {
		return nil, errors.New("contact not found")
	}
	return c, nil
}

func (f *Fake) SetStatus(ctx context.Context, status string) error {
	if err := f.connected(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	return nil
}

func (f *Fake) hasChat(chatID string) bool {
	for _, c := range f.ChatList {
		if c.ID == chatID {
			return true
		}
	}
	return false
}

func (f *Fake) SendTyping(ctx context.Context, chatID string) error {
	if err := f.connected(); err != nil {
		return err
	}
	if !f.hasChat(chatID) {
		return backend.ErrChatNotFound
	}
	return nil
}

func (f *Fake) SendSeen(ctx context.Context, chatID string) (bool, error) {
	if err := f.connected(); err != nil {
		return false, err
	}
	if !f.hasChat(chatID) {
		return false, backend.ErrChatNotFound
	}
	return true, nil
}

func (f *Fake) SendPresenceAvailable(ctx context.Context) error {
	if err := f.connected(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceSet = true
	return nil
}

// Factory hands out Fakes and remembers every one it built per key
type Factory struct {
	// Configure runs on each new Fake before it is returned
	Configure func(*Fake)
	// Err makes every New call fail
	Err error

	mu    sync.Mutex
	built map[string][]*Fake
}

func NewFactory(configure func(*Fake)) *Factory {
	return &Factory{Configure: configure, built: make(map[string][]*Fake)}
}

// New satisfies backend.Factory through a method value
func (f *Factory) New(key string) (backend.Backend, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	fake := NewFake(key)
	if f.Configure != nil {
		f.Configure(fake)
	}
	f.mu.Lock()
	f.built[key] = append(f.built[key], fake)
	f.mu.Unlock()
	return fake, nil
}

// Built returns every fake created for key, oldest first
func (f *Factory) Built(key string) []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.built[key]...)
}

// Latest returns the newest fake for key or nil
func (f *Factory) Latest(key string) *Fake {
	all := f.Built(key)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
