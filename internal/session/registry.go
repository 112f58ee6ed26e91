package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/pkg/metrics"
)

const (
	defaultStateTimeout   = 10 * time.Second
	defaultDestroyTimeout = 15 * time.Second
)

// Publisher is the part of the broadcaster the registry publishes through
type Publisher interface {
	Publish(e broadcast.Event)
	PublishGlobal(e broadcast.Event)
}

// Outcome tells the caller what Create did
type Outcome int

const (
	// OutcomeCreated means no handle existed and a new one is initializing
	OutcomeCreated Outcome = iota
	// OutcomeExisting means a healthy handle was already registered
	OutcomeExisting
	// OutcomeReinitialized means the registered handle was broken and replaced
	OutcomeReinitialized
)

// CreateResult describes the handle Create left registered for a key
type CreateResult struct {
	Outcome Outcome
	// Status is the backend connection state, a handle state, or RE_INITIALIZING
	Status string
	QR     *string
}

// Summary is one entry of List
type Summary struct {
	SessionID string
	IsReady   bool
	HasQR     bool
}

// Registry owns every session handle, keyed by session id
type Registry struct {
	logger         *zap.Logger
	factory        backend.Factory
	publisher      Publisher
	metrics        *metrics.Metrics
	stateTimeout   time.Duration
	destroyTimeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool

	destroying sync.WaitGroup
}

var _ broadcast.SnapshotSource = (*Registry)(nil)

func NewRegistry(logger *zap.Logger, cfg *config.SessionConfig, factory backend.Factory, pub Publisher, m *metrics.Metrics) *Registry {
	r := &Registry{
		logger:         logger.Named("session.registry"),
		factory:        factory,
		publisher:      pub,
		metrics:        m,
		stateTimeout:   cfg.StateTimeout,
		destroyTimeout: cfg.DestroyTimeout,
		handles:        make(map[string]*Handle),
	}
	if r.stateTimeout <= 0 {
		r.stateTimeout = defaultStateTimeout
	}
	if r.destroyTimeout <= 0 {
		r.destroyTimeout = defaultDestroyTimeout
	}
	return r
}

// Create ensures a handle exists for key. A new handle starts initializing in
// the background. An existing handle whose backend cannot report its state is
// replaced by a fresh one.
func (r *Registry) Create(ctx context.Context, key string) (*CreateResult, error) {
	if key == "" {
		return nil, cnst.ErrEmptySessionKey
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, cnst.ErrRegistryClosed
	}
	h, ok := r.handles[key]
	if !ok {
		h, err := r.installLocked(key)
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		r.started(h)
		return &CreateResult{Outcome: OutcomeCreated, Status: StateInitializing.String()}, nil
	}
	r.mu.Unlock()

	stCtx, cancel := context.WithTimeout(ctx, r.stateTimeout)
	st, err := h.backend.State(stCtx)
	cancel()
	if err == nil {
		snap := h.Snapshot()
		status := string(st)
		if status == "" {
			status = snap.State.String()
		}
		return &CreateResult{Outcome: OutcomeExisting, Status: status, QR: snap.QR}, nil
	}

	r.logger.Warn("state query failed for existing session, re-initializing",
		zap.String("session_id", key),
		zap.String("instance", h.instance),
		zap.Error(err))
	return r.replace(key, h)
}

// replace swaps stale for a fresh handle unless someone else already did
func (r *Registry) replace(key string, stale *Handle) (*CreateResult, error) {
	result := &CreateResult{Outcome: OutcomeReinitialized, Status: StatusReinitializing}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, cnst.ErrRegistryClosed
	}
	cur, ok := r.handles[key]
	if ok && cur != stale {
		r.mu.Unlock()
		return result, nil
	}
	if ok {
		delete(r.handles, key)
		stale.retire()
	} else {
		// removed while its state was being queried: this init wins
		r.logger.Info("session removed during state query, creating a new one",
			zap.String("session_id", key),
			zap.String("stale_instance", stale.instance))
	}
	fresh, err := r.installLocked(key)
	r.mu.Unlock()

	if ok {
		r.destroyAsync(stale)
	}
	if err != nil {
		r.metrics.SetSessions(r.Count())
		return nil, err
	}
	r.started(fresh)
	return result, nil
}

func (r *Registry) installLocked(key string) (*Handle, error) {
	b, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend for session %s: %w", key, err)
	}
	h := newHandle(key, b)
	r.handles[key] = h
	return h, nil
}

func (r *Registry) started(h *Handle) {
	r.logger.Info("session initializing",
		zap.String("session_id", h.key),
		zap.String("instance", h.instance))
	r.metrics.Transition(StateInitializing.String())
	r.metrics.SetSessions(r.Count())
	r.start(h)
}

// Lookup returns the registered handle for key; it never creates one
func (r *Registry) Lookup(key string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cnst.ErrSessionNotFound, key)
	}
	return h, nil
}

// ReadyHandle returns the handle for key when it has reached READY
func (r *Registry) ReadyHandle(key string) (*Handle, error) {
	h, err := r.Lookup(key)
	if err != nil || !h.IsReady() {
		return nil, fmt.Errorf("%w: %s", cnst.ErrSessionNotReady, key)
	}
	return h, nil
}

// Remove drops the handle for key, tears its backend down and announces the
// removal. A missing key is not an error.
func (r *Registry) Remove(ctx context.Context, key string) error {
	if key == "" {
		return cnst.ErrEmptySessionKey
	}
	span := tracer.Start(ctx, "session.remove").WithAttrs(attribute.String("session.id", key))
	defer span.End()
	ctx = span.Ctx

	r.mu.Lock()
	h, ok := r.handles[key]
	if ok {
		delete(r.handles, key)
		h.retire()
	}
	r.mu.Unlock()

	if ok {
		r.metrics.SetSessions(r.Count())
		if err := r.destroy(ctx, h); err != nil {
			span.RecordError(err)
			r.logger.Error("error destroying session backend",
				zap.String("session_id", key),
				zap.Error(err))
		} else {
			r.logger.Info("session removed", zap.String("session_id", key))
		}
	} else {
		r.logger.Info("no active session to remove", zap.String("session_id", key))
	}

	r.publisher.PublishGlobal(broadcast.NewEvent(key, broadcast.SessionRemoved{SessionID: key}))
	r.publisher.PublishGlobal(broadcast.NewEvent(key, broadcast.StatusUpdate{
		SessionID: key,
		Message:   "Session has been removed.",
	}))
	return nil
}

// List summarizes every registered handle, ordered by key
func (r *Registry) List() []Summary {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(handles))
	for _, h := range handles {
		s := h.Snapshot()
		out = append(out, Summary{SessionID: s.Key, IsReady: s.Ready, HasQR: s.QR != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// ViewSession runs fn while the handle for key, if any, cannot transition
func (r *Registry) ViewSession(key string, fn func(broadcast.SessionView)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	if !ok {
		fn(broadcast.SessionView{})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.snapshotLocked()
	fn(broadcast.SessionView{Exists: true, QR: s.QR, Ready: s.Ready})
}

// Close tears down every handle and refuses further Create calls
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for key, h := range r.handles {
		handles = append(handles, h)
		delete(r.handles, key)
		h.retire()
	}
	r.mu.Unlock()
	r.metrics.SetSessions(0)

	for _, h := range handles {
		r.destroyAsync(h)
	}

	done := make(chan struct{})
	go func() {
		r.destroying.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing session registry: %w", ctx.Err())
	}
}

// discard drops a failed handle if it is still the registered one
func (r *Registry) discard(h *Handle) {
	r.mu.Lock()
	if cur, ok := r.handles[h.key]; ok && cur == h {
		delete(r.handles, h.key)
	}
	h.retire()
	r.mu.Unlock()

	r.metrics.SetSessions(r.Count())
	r.destroyAsync(h)
}

func (r *Registry) destroy(ctx context.Context, h *Handle) error {
	ctx, cancel := context.WithTimeout(ctx, r.destroyTimeout)
	defer cancel()
	start := time.Now()
	err := h.backend.Destroy(ctx)
	r.metrics.BackendOpDone("destroy", start, err)
	return err
}

func (r *Registry) destroyAsync(h *Handle) {
	r.destroying.Add(1)
	go func() {
		defer r.destroying.Done()
		if err := r.destroy(context.Background(), h); err != nil {
			r.logger.Warn("best effort backend teardown failed",
				zap.String("session_id", h.key),
				zap.String("instance", h.instance),
				zap.Error(err))
		}
	}()
}
