package session

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/pkg/trace"
)

var tracer = trace.Tracer("msgate/session")

// start launches the handle's initializer and its single event consumer
func (r *Registry) start(h *Handle) {
	go r.consume(h)
	go r.initialize(h)
}

func (r *Registry) initialize(h *Handle) {
	span := tracer.Start(h.ctx, "session.initialize").
		WithAttrs(attribute.String("session.id", h.key), attribute.String("session.instance", h.instance))
	defer span.End()

	if err := h.backend.Initialize(span.Ctx); err != nil {
		span.RecordError(err)
		if h.ctx.Err() != nil {
			// removed or replaced while connecting
			return
		}
		r.logger.Error("session initialization failed",
			zap.String("session_id", h.key),
			zap.String("instance", h.instance),
			zap.Error(err))
		r.fail(h, broadcast.InitError{SessionID: h.key, Error: err.Error()},
			fmt.Sprintf("Initialization Error: %s", err.Error()))
	}
}

func (r *Registry) consume(h *Handle) {
	defer close(h.done)
	events := h.backend.Events()
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.apply(h, ev)
		}
	}
}

// apply performs one transition. It mutates the handle and publishes while
// holding the handle lock, so joins and transitions never interleave.
func (r *Registry) apply(h *Handle, ev backend.Event) {
	if ev.Type == backend.EventAuthFailure {
		r.logger.Warn("session authentication failed",
			zap.String("session_id", h.key),
			zap.String("message", ev.Message))
		r.fail(h, broadcast.AuthFailure{SessionID: h.key, Message: ev.Message},
			fmt.Sprintf("Authentication failure: %s", ev.Message))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired || h.state.Terminal() {
		return
	}

	key := h.key
	switch ev.Type {
	case backend.EventQR:
		qr := ev.QR
		h.state = StatePairingPending
		h.qr = &qr
		h.ready = false
		r.transitionLocked(h, broadcast.QRCode{SessionID: key, QR: qr},
			broadcast.StatusUpdate{SessionID: key, Message: "QR code received. Scan.", QR: &qr})

	case backend.EventAuthenticated:
		h.state = StateAuthenticated
		h.qr = nil
		r.transitionLocked(h, broadcast.Authenticated{SessionID: key},
			broadcast.StatusUpdate{SessionID: key, Message: "Authenticated!"})

	case backend.EventReady:
		h.state = StateReady
		h.ready = true
		h.qr = nil
		r.transitionLocked(h, broadcast.Ready{SessionID: key},
			broadcast.StatusUpdate{SessionID: key, Message: "Client is READY!"})

	case backend.EventDisconnected:
		h.state = StateDisconnected
		h.ready = false
		h.qr = nil
		r.logger.Info("session disconnected",
			zap.String("session_id", key),
			zap.String("reason", ev.Reason))
		r.transitionLocked(h, broadcast.Disconnected{SessionID: key, Reason: ev.Reason},
			broadcast.StatusUpdate{SessionID: key, Message: fmt.Sprintf("Client disconnected: %s.", ev.Reason)})

	case backend.EventMessage:
		if h.state != StateReady || ev.Inbound == nil {
			return
		}
		r.publisher.Publish(broadcast.NewEvent(key, broadcast.NewMessage{
			SessionID: key,
			Message:   inbound(ev.Inbound),
		}))

	default:
		r.logger.Debug("ignoring backend event",
			zap.String("session_id", key),
			zap.String("type", string(ev.Type)))
	}
}

// PublishFor publishes p on h's topic unless h has been removed or replaced.
// The retired check and the publish share h's lock, so nothing published here
// lands on the topic once Remove has returned. Reports whether p was published.
func (r *Registry) PublishFor(h *Handle, p broadcast.Payload) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		r.logger.Debug("dropping event from retired session handle",
			zap.String("session_id", h.key),
			zap.String("instance", h.instance),
			zap.String("kind", string(p.Kind())))
		return false
	}
	r.publisher.Publish(broadcast.NewEvent(h.key, p))
	return true
}

func (r *Registry) transitionLocked(h *Handle, topic broadcast.Payload, global broadcast.StatusUpdate) {
	r.metrics.Transition(h.state.String())
	r.publisher.Publish(broadcast.NewEvent(h.key, topic))
	r.publisher.PublishGlobal(broadcast.NewEvent(h.key, global))
}

// fail moves h to INIT_FAILED, publishes, then drops it from the registry
func (r *Registry) fail(h *Handle, topic broadcast.Payload, summary string) {
	h.mu.Lock()
	if h.retired || h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.state = StateInitFailed
	h.ready = false
	h.qr = nil
	r.transitionLocked(h, topic, broadcast.StatusUpdate{SessionID: h.key, Message: summary})
	h.mu.Unlock()

	r.discard(h)
}

func inbound(m *backend.Message) broadcast.InboundMessage {
	return broadcast.InboundMessage{
		From:       m.From,
		To:         m.To,
		Body:       m.Body,
		Timestamp:  m.Timestamp,
		ID:         m.ID,
		Author:     m.Author,
		IsStatus:   m.IsStatus,
		IsGroupMsg: m.IsGroupMsg,
		HasMedia:   m.HasMedia,
		Type:       m.Type,
		FromMe:     m.FromMe,
	}
}
