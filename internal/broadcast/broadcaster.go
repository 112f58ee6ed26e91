package broadcast

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/pkg/metrics"
)

const (
	DefaultBuffer = 64

	snapshotInitializing = "Session initializing..."
	snapshotInactive     = "Session not active. Initialize it first."
)

// ErrSubscriptionClosed is returned when joining with a subscription that was evicted or unsubscribed
var ErrSubscriptionClosed = errors.New("subscription closed")

// SessionView is what the broadcaster needs to build a join snapshot
type SessionView struct {
	Exists bool
	QR     *string
	Ready  bool
}

// SnapshotSource exposes a consistent view of one session.
// fn must run while the session cannot transition, so that the snapshot
// and the subscription become visible together.
type SnapshotSource interface {
	ViewSession(key string, fn func(SessionView))
}

// Sink receives every published event. Deliver must not block.
type Sink interface {
	Deliver(e Event)
}

// Subscription is one connected real-time client
type Subscription struct {
	id        string
	principal *auth.Principal
	ch        chan Event
	topics    map[string]struct{}
	closed    bool
	evicted   atomic.Bool
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Principal() *auth.Principal { return s.principal }

// C yields queued events in publish order. It is closed on unsubscribe or eviction.
func (s *Subscription) C() <-chan Event { return s.ch }

// Evicted reports whether the subscription was dropped for falling behind
func (s *Subscription) Evicted() bool { return s.evicted.Load() }

type Option func(*Broadcaster)

func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithSink(s Sink) Option {
	return func(b *Broadcaster) {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// Broadcaster fans session events out to subscribers joined to the session topic
type Broadcaster struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	buffer  int
	sinks   []Sink

	mu     sync.Mutex
	subs   map[string]*Subscription
	topics map[string]map[string]*Subscription
	source SnapshotSource
}

func New(logger *zap.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger: logger.Named("broadcast"),
		buffer: DefaultBuffer,
		subs:   make(map[string]*Subscription),
		topics: make(map[string]map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetSnapshotSource wires the registry used for join snapshots
func (b *Broadcaster) SetSnapshotSource(src SnapshotSource) {
	b.mu.Lock()
	b.source = src
	b.mu.Unlock()
}

// Subscribe registers a new subscriber with no joined topics
func (b *Broadcaster) Subscribe(p *auth.Principal) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		principal: p,
		ch:        make(chan Event, b.buffer),
		topics:    make(map[string]struct{}),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	b.metrics.SubscriberConnected()
	return sub
}

// Unsubscribe drops sub from every topic and closes its queue. Safe to call twice.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	removed := b.removeLocked(sub)
	b.mu.Unlock()
	if removed {
		b.metrics.SubscriberDisconnected()
	}
}

// Join adds sub to the topic of key and enqueues a catch-up snapshot
func (b *Broadcaster) Join(sub *Subscription, key string) error {
	if key == "" {
		return cnst.ErrEmptySessionKey
	}

	b.mu.Lock()
	src := b.source
	b.mu.Unlock()

	var err error
	join := func(v SessionView) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			err = ErrSubscriptionClosed
			return
		}
		members, ok := b.topics[key]
		if !ok {
			members = make(map[string]*Subscription)
			b.topics[key] = members
		}
		members[sub.id] = sub
		sub.topics[key] = struct{}{}
		b.deliverLocked(sub, snapshot(key, v))
	}

	if src == nil {
		join(SessionView{})
	} else {
		src.ViewSession(key, join)
	}
	return err
}

// Leave removes sub from the topic of key
func (b *Broadcaster) Leave(sub *Subscription, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(sub.topics, key)
	b.dropMemberLocked(key, sub.id)
}

// Publish delivers e to every subscriber joined to e.SessionKey
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	for _, sub := range b.topics[e.SessionKey] {
		b.deliverLocked(sub, e)
	}
	b.mu.Unlock()
	b.afterPublish(e)
}

// PublishGlobal delivers e to every connected subscriber
func (b *Broadcaster) PublishGlobal(e Event) {
	b.mu.Lock()
	for _, sub := range b.subs {
		b.deliverLocked(sub, e)
	}
	b.mu.Unlock()
	b.afterPublish(e)
}

// Count returns the number of connected subscribers
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Members returns the number of subscribers joined to key
func (b *Broadcaster) Members(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[key])
}

// Topics lists the sessions sub has joined
func (b *Broadcaster) Topics(sub *Subscription) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(sub.topics))
	for k := range sub.topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Broadcaster) afterPublish(e Event) {
	b.metrics.EventPublished(string(e.Kind))
	for _, s := range b.sinks {
		s.Deliver(e)
	}
}

// deliverLocked enqueues without blocking; a full queue evicts the subscriber
func (b *Broadcaster) deliverLocked(sub *Subscription, e Event) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- e:
	default:
		b.logger.Warn("evicting slow subscriber",
			zap.String("subscriber", sub.id),
			zap.String("session_id", e.SessionKey),
			zap.String("event", string(e.Kind)))
		sub.evicted.Store(true)
		if b.removeLocked(sub) {
			b.metrics.SubscriberEvicted()
			b.metrics.SubscriberDisconnected()
		}
	}
}

func (b *Broadcaster) removeLocked(sub *Subscription) bool {
	if sub.closed {
		return false
	}
	sub.closed = true
	for key := range sub.topics {
		b.dropMemberLocked(key, sub.id)
	}
	sub.topics = make(map[string]struct{})
	delete(b.subs, sub.id)
	close(sub.ch)
	return true
}

func (b *Broadcaster) dropMemberLocked(key, id string) {
	members, ok := b.topics[key]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(b.topics, key)
	}
}

func snapshot(key string, v SessionView) Event {
	switch {
	case v.QR != nil:
		return NewEvent(key, QRCode{SessionID: key, QR: *v.QR})
	case v.Ready:
		return NewEvent(key, Ready{SessionID: key})
	case v.Exists:
		return NewEvent(key, StatusUpdate{SessionID: key, Message: snapshotInitializing})
	default:
		return NewEvent(key, StatusUpdate{SessionID: key, Message: snapshotInactive})
	}
}
