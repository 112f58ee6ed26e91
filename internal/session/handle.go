package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/amoylab/msgate/internal/backend"
)

// Handle is the registry's record of one live session.
// state, qr and ready change only through lifecycle transitions.
type Handle struct {
	key      string
	instance string
	backend  backend.Backend
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	state   State
	qr      *string
	ready   bool
	retired bool
}

// Snapshot is a point-in-time copy of a handle
type Snapshot struct {
	Key      string
	Instance string
	State    State
	QR       *string
	Ready    bool
}

func newHandle(key string, b backend.Backend) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		key:      key,
		instance: uuid.NewString(),
		backend:  b,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateInitializing,
	}
}

func (h *Handle) Key() string { return h.key }

// Instance distinguishes successive handles created for the same key
func (h *Handle) Instance() string { return h.instance }

func (h *Handle) Backend() backend.Backend { return h.backend }

// Done is closed once the handle's event consumer has exited
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// QR returns the pending pairing payload, if any
func (h *Handle) QR() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.qr == nil {
		return "", false
	}
	return *h.qr, true
}

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() Snapshot {
	s := Snapshot{
		Key:      h.key,
		Instance: h.instance,
		State:    h.state,
		Ready:    h.ready,
	}
	if h.qr != nil {
		qr := *h.qr
		s.QR = &qr
	}
	return s
}

// retire stops the lifecycle and suppresses any later transition
func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	h.mu.Unlock()
	h.cancel()
}

func (h *Handle) isRetired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}
