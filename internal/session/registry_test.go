package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/backend"
	"github.com/amoylab/msgate/internal/backend/backendtest"
	"github.com/amoylab/msgate/internal/broadcast"
	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
)

type testEnv struct {
	registry *Registry
	factory  *backendtest.Factory
	bus      *broadcast.Broadcaster
}

func newTestEnv(t *testing.T, cfg *config.SessionConfig, configure func(*backendtest.Fake)) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.SessionConfig{StateTimeout: time.Second, DestroyTimeout: time.Second}
	}
	f := backendtest.NewFactory(configure)
	bus := broadcast.New(zap.NewNop(), broadcast.WithBuffer(512))
	r := NewRegistry(zap.NewNop(), cfg, f.New, bus, nil)
	bus.SetSnapshotSource(r)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return &testEnv{registry: r, factory: f, bus: bus}
}

// watch subscribes to key and consumes the join snapshot
func (e *testEnv) watch(t *testing.T, key string) *broadcast.Subscription {
	t.Helper()
	sub := e.bus.Subscribe(&auth.Principal{ID: 1, Username: "admin"})
	t.Cleanup(func() { e.bus.Unsubscribe(sub) })
	require.NoError(t, e.bus.Join(sub, key))
	nextEvent(t, sub)
	return sub
}

func nextEvent(t *testing.T, sub *broadcast.Subscription) broadcast.Event {
	t.Helper()
	select {
	case e, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return broadcast.Event{}
}

func waitEvent(t *testing.T, sub *broadcast.Subscription, kind broadcast.Kind) broadcast.Event {
	t.Helper()
	for {
		if e := nextEvent(t, sub); e.Kind == kind {
			return e
		}
	}
}

func pending(sub *broadcast.Subscription) []broadcast.Event {
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

func kinds(events []broadcast.Event) []broadcast.Kind {
	out := make([]broadcast.Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestCreateStartsInitialization(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	res, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "INITIALIZING", res.Status)
	assert.Nil(t, res.QR)

	fake := env.factory.Latest("s1")
	require.NotNil(t, fake)
	require.Eventually(t, func() bool { return fake.InitCalls() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []Summary{{SessionID: "s1"}}, env.registry.List())
	h, err := env.registry.Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, h.State())
}

func TestCreateRejectsEmptyKey(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.Create(context.Background(), "")
	assert.ErrorIs(t, err, cnst.ErrEmptySessionKey)
	assert.ErrorIs(t, env.registry.Remove(context.Background(), ""), cnst.ErrEmptySessionKey)
}

func TestCreateFactoryFailure(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.factory.Err = errors.New("no browser")

	_, err := env.registry.Create(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")
	assert.Equal(t, 0, env.registry.Count())
}

func TestPairingChallengeScenario(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sub := env.watch(t, "s1")

	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, env.factory.Latest("s1").Emit(backend.QREvent("QR123")))

	e := waitEvent(t, sub, broadcast.KindQRCode)
	assert.Equal(t, broadcast.QRCode{SessionID: "s1", QR: "QR123"}, e.Payload)

	status := waitEvent(t, sub, broadcast.KindStatusUpdate).Payload.(broadcast.StatusUpdate)
	assert.Equal(t, "QR code received. Scan.", status.Message)
	require.NotNil(t, status.QR)
	assert.Equal(t, "QR123", *status.QR)

	assert.Equal(t, []Summary{{SessionID: "s1", IsReady: false, HasQR: true}}, env.registry.List())
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sub := env.watch(t, "s1")

	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	fake := env.factory.Latest("s1")
	h, err := env.registry.Lookup("s1")
	require.NoError(t, err)

	fake.Emit(backend.QREvent("QR1"))
	// inbound traffic before READY is not forwarded
	fake.Emit(backend.MessageEvent(&backend.Message{ID: "early", Body: "too soon"}))
	fake.Emit(backend.AuthenticatedEvent())
	fake.Emit(backend.ReadyEvent())
	fake.Emit(backend.MessageEvent(&backend.Message{
		ID: "m1", From: "15550001111@c.us", To: "me@c.us", Body: "hello", Type: "chat", Timestamp: 1700000000,
	}))
	fake.Emit(backend.DisconnectedEvent("LOGOUT"))

	var got []broadcast.Event
	for len(got) < 9 {
		got = append(got, nextEvent(t, sub))
	}
	assert.Equal(t, []broadcast.Kind{
		broadcast.KindQRCode, broadcast.KindStatusUpdate,
		broadcast.KindAuthenticated, broadcast.KindStatusUpdate,
		broadcast.KindReady, broadcast.KindStatusUpdate,
		broadcast.KindNewMessage,
		broadcast.KindDisconnected, broadcast.KindStatusUpdate,
	}, kinds(got))

	msg := got[6].Payload.(broadcast.NewMessage)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, "m1", msg.Message.ID)
	assert.Equal(t, "hello", msg.Message.Body)
	assert.Equal(t, int64(1700000000), msg.Message.Timestamp)

	assert.Equal(t, broadcast.Disconnected{SessionID: "s1", Reason: "LOGOUT"}, got[7].Payload)
	assert.Equal(t, "Client disconnected: LOGOUT.", got[8].Payload.(broadcast.StatusUpdate).Message)

	snap := h.Snapshot()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.False(t, snap.Ready)
	assert.Nil(t, snap.QR)

	// a disconnected handle stays registered until removed
	_, err = env.registry.Lookup("s1")
	assert.NoError(t, err)
}

func TestReadyHandle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.ReadyHandle("s1")
	assert.ErrorIs(t, err, cnst.ErrSessionNotReady)

	_, err = env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	_, err = env.registry.ReadyHandle("s1")
	assert.ErrorIs(t, err, cnst.ErrSessionNotReady)

	env.factory.Latest("s1").MakeReady()
	require.Eventually(t, func() bool {
		_, err := env.registry.ReadyHandle("s1")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestCreateExistingReportsState(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	fake := env.factory.Latest("s1")
	h, _ := env.registry.Lookup("s1")

	fake.Emit(backend.QREvent("QR123"))
	require.Eventually(t, func() bool { _, ok := h.QR(); return ok }, time.Second, 5*time.Millisecond)

	fake.SetState(backend.StateUnpaired, nil)
	res, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, res.Outcome)
	assert.Equal(t, "UNPAIRED", res.Status)
	require.NotNil(t, res.QR)
	assert.Equal(t, "QR123", *res.QR)

	// no backend state falls back to the handle state
	fake.SetState("", nil)
	res, err = env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "PAIRING_PENDING", res.Status)

	assert.Len(t, env.factory.Built("s1"), 1)
}

func TestCreateReplacesBrokenHandle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	old, _ := env.registry.Lookup("s1")
	oldFake := env.factory.Latest("s1")
	oldFake.SetState("", errors.New("page crashed"))

	res, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReinitialized, res.Outcome)
	assert.Equal(t, StatusReinitializing, res.Status)

	require.Len(t, env.factory.Built("s1"), 2)
	cur, err := env.registry.Lookup("s1")
	require.NoError(t, err)
	assert.NotEqual(t, old.Instance(), cur.Instance())
	assert.True(t, old.isRetired())
	require.Eventually(t, func() bool { return oldFake.Destroyed() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.registry.Count())
}

func TestCreateStateQueryDeadlineExceeded(t *testing.T) {
	cfg := &config.SessionConfig{StateTimeout: 20 * time.Millisecond, DestroyTimeout: time.Second}
	env := newTestEnv(t, cfg, nil)
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	env.factory.Latest("s1").SetState("", context.DeadlineExceeded)

	res, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReinitialized, res.Outcome)
}

func TestConcurrentCreateSettlesToOneHandle(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.registry.Create(context.Background(), "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, env.factory.Built("s1"), 1)
	assert.Equal(t, 1, env.registry.Count())
}

func TestConcurrentCreateWithBrokenStateSettles(t *testing.T) {
	env := newTestEnv(t, nil, func(f *backendtest.Fake) {
		f.SetState("", errors.New("unreachable"))
	})
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.registry.Create(context.Background(), "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.registry.Count())
	built := env.factory.Built("s1")
	latest := built[len(built)-1]
	h, err := env.registry.Lookup("s1")
	require.NoError(t, err)
	assert.Same(t, latest, h.Backend())

	require.Eventually(t, func() bool {
		for _, f := range built[:len(built)-1] {
			if f.Destroyed() == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, latest.Destroyed())
}

func TestInitFailureDiscardsHandle(t *testing.T) {
	env := newTestEnv(t, nil, func(f *backendtest.Fake) {
		f.InitErr = errors.New("browser crashed")
	})
	sub := env.watch(t, "s1")

	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)

	e := waitEvent(t, sub, broadcast.KindInitError)
	assert.Equal(t, broadcast.InitError{SessionID: "s1", Error: "browser crashed"}, e.Payload)
	status := waitEvent(t, sub, broadcast.KindStatusUpdate).Payload.(broadcast.StatusUpdate)
	assert.Equal(t, "Initialization Error: browser crashed", status.Message)

	require.Eventually(t, func() bool {
		_, err := env.registry.Lookup("s1")
		return errors.Is(err, cnst.ErrSessionNotFound)
	}, time.Second, 5*time.Millisecond)
	fake := env.factory.Latest("s1")
	require.Eventually(t, func() bool { return fake.Destroyed() == 1 }, time.Second, 5*time.Millisecond)

	// the key can be initialized again
	env.factory.Configure = nil
	res, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestAuthFailureDiscardsHandle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sub := env.watch(t, "s1")

	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	fake := env.factory.Latest("s1")
	fake.Emit(backend.QREvent("QR1"))
	fake.Emit(backend.AuthFailureEvent("restore failed"))

	e := waitEvent(t, sub, broadcast.KindAuthFailure)
	assert.Equal(t, broadcast.AuthFailure{SessionID: "s1", Message: "restore failed"}, e.Payload)
	status := waitEvent(t, sub, broadcast.KindStatusUpdate).Payload.(broadcast.StatusUpdate)
	assert.Equal(t, "Authentication failure: restore failed", status.Message)

	require.Eventually(t, func() bool { return env.registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sub := env.watch(t, "s1")

	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	fake := env.factory.Latest("s1")

	require.NoError(t, env.registry.Remove(context.Background(), "s1"))

	_, err = env.registry.Lookup("s1")
	assert.ErrorIs(t, err, cnst.ErrSessionNotFound)
	assert.Equal(t, 1, fake.Destroyed())
	assert.Empty(t, env.registry.List())

	assert.Equal(t, broadcast.SessionRemoved{SessionID: "s1"}, waitEvent(t, sub, broadcast.KindSessionRemoved).Payload)
	status := waitEvent(t, sub, broadcast.KindStatusUpdate).Payload.(broadcast.StatusUpdate)
	assert.Equal(t, "Session has been removed.", status.Message)
}

func TestRemoveMissingKeyStillAnnounces(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sub := env.watch(t, "ghost")

	require.NoError(t, env.registry.Remove(context.Background(), "ghost"))
	assert.Equal(t, []broadcast.Kind{broadcast.KindSessionRemoved, broadcast.KindStatusUpdate}, kinds(pending(sub)))
}

func TestRemoveToleratesSlowTeardown(t *testing.T) {
	cfg := &config.SessionConfig{StateTimeout: time.Second, DestroyTimeout: 30 * time.Millisecond}
	env := newTestEnv(t, cfg, func(f *backendtest.Fake) {
		f.DestroyDelay = 10 * time.Second
	})
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, env.registry.Remove(context.Background(), "s1"))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, env.registry.Count())
}

func TestRemoveDuringInitializationSuppressesLateEvents(t *testing.T) {
	cfg := &config.SessionConfig{StateTimeout: time.Second, DestroyTimeout: 30 * time.Millisecond}
	var releases []func()
	var mu sync.Mutex
	built := 0
	env := newTestEnv(t, cfg, func(f *backendtest.Fake) {
		mu.Lock()
		defer mu.Unlock()
		built++
		if built == 1 {
			// the first adapter never finishes tearing down, so it can still emit
			f.DestroyDelay = time.Hour
			releases = append(releases, f.BlockInit())
		}
	})
	sub := env.watch(t, "s1")

	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	oldFake := env.factory.Latest("s1")
	require.Eventually(t, func() bool { return oldFake.InitCalls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, env.registry.Remove(context.Background(), "s1"))
	_, err = env.registry.Lookup("s1")
	assert.ErrorIs(t, err, cnst.ErrSessionNotFound)
	pending(sub)

	_, err = env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	newFake := env.factory.Latest("s1")
	require.NotSame(t, oldFake, newFake)

	mu.Lock()
	for _, release := range releases {
		release()
	}
	mu.Unlock()
	assert.True(t, oldFake.Emit(backend.QREvent("OLD")))
	oldFake.Emit(backend.ReadyEvent())
	newFake.Emit(backend.QREvent("NEW"))

	e := waitEvent(t, sub, broadcast.KindQRCode)
	assert.Equal(t, "NEW", e.Payload.(broadcast.QRCode).QR)
	for _, e := range pending(sub) {
		assert.NotEqual(t, broadcast.KindReady, e.Kind)
		if qr, ok := e.Payload.(broadcast.QRCode); ok {
			assert.NotEqual(t, "OLD", qr.QR)
		}
	}

	h, err := env.registry.Lookup("s1")
	require.NoError(t, err)
	qr, ok := h.QR()
	assert.True(t, ok)
	assert.Equal(t, "NEW", qr)
}

func TestJoinAfterPairingGetsPayload(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	h, _ := env.registry.Lookup("s1")

	sub := env.bus.Subscribe(&auth.Principal{ID: 1, Username: "admin"})
	defer env.bus.Unsubscribe(sub)
	require.NoError(t, env.bus.Join(sub, "s1"))
	assert.Equal(t, broadcast.StatusUpdate{SessionID: "s1", Message: "Session initializing..."}, nextEvent(t, sub).Payload)

	env.factory.Latest("s1").Emit(backend.QREvent("QR123"))
	require.Eventually(t, func() bool { _, ok := h.QR(); return ok }, time.Second, 5*time.Millisecond)

	late := env.bus.Subscribe(&auth.Principal{ID: 1, Username: "admin"})
	defer env.bus.Unsubscribe(late)
	require.NoError(t, env.bus.Join(late, "s1"))
	assert.Equal(t, broadcast.QRCode{SessionID: "s1", QR: "QR123"}, nextEvent(t, late).Payload)

	env.factory.Latest("s1").MakeReady()
	require.Eventually(t, h.IsReady, time.Second, 5*time.Millisecond)

	ready := env.bus.Subscribe(&auth.Principal{ID: 1, Username: "admin"})
	defer env.bus.Unsubscribe(ready)
	require.NoError(t, env.bus.Join(ready, "s1"))
	assert.Equal(t, broadcast.Ready{SessionID: "s1"}, nextEvent(t, ready).Payload)
}

func TestPerSessionOrderAcrossSessions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sub := env.watch(t, "s1")
	require.NoError(t, env.bus.Join(sub, "s2"))
	nextEvent(t, sub)

	for _, key := range []string{"s1", "s2"} {
		_, err := env.registry.Create(context.Background(), key)
		require.NoError(t, err)
	}
	s1, s2 := env.factory.Latest("s1"), env.factory.Latest("s2")

	const n = 20
	for i := 0; i < n; i++ {
		s1.Emit(backend.QREvent(fmt.Sprintf("s1-%d", i)))
		s2.Emit(backend.QREvent(fmt.Sprintf("s2-%d", i)))
	}

	next := map[string]int{}
	for next["s1"]+next["s2"] < 2*n {
		e := waitEvent(t, sub, broadcast.KindQRCode)
		qr := e.Payload.(broadcast.QRCode)
		assert.Equal(t, fmt.Sprintf("%s-%d", e.SessionKey, next[e.SessionKey]), qr.QR)
		next[e.SessionKey]++
	}
}

func TestCloseTearsDownEverything(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for _, key := range []string{"a", "b"} {
		_, err := env.registry.Create(context.Background(), key)
		require.NoError(t, err)
	}

	require.NoError(t, env.registry.Close(context.Background()))
	assert.Equal(t, 0, env.registry.Count())
	assert.Equal(t, 1, env.factory.Latest("a").Destroyed())
	assert.Equal(t, 1, env.factory.Latest("b").Destroyed())

	_, err := env.registry.Create(context.Background(), "c")
	assert.ErrorIs(t, err, cnst.ErrRegistryClosed)
}

func TestPublishForDropsEventsFromRemovedHandle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	old, err := env.registry.Lookup("s1")
	require.NoError(t, err)

	sub := env.watch(t, "s1")
	assert.True(t, env.registry.PublishFor(old, broadcast.StatusMessageSet{SessionID: "s1", Status: "busy"}))
	assert.Equal(t, broadcast.KindStatusMessageSet, nextEvent(t, sub).Kind)

	require.NoError(t, env.registry.Remove(context.Background(), "s1"))
	_, err = env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	fresh, err := env.registry.Lookup("s1")
	require.NoError(t, err)
	require.NotSame(t, old, fresh)
	pending(sub)

	assert.False(t, env.registry.PublishFor(old, broadcast.StatusMessageSet{SessionID: "s1", Status: "late"}))
	assert.Empty(t, pending(sub))

	assert.True(t, env.registry.PublishFor(fresh, broadcast.StatusMessageSet{SessionID: "s1", Status: "new"}))
	e := nextEvent(t, sub)
	assert.Equal(t, broadcast.StatusMessageSet{SessionID: "s1", Status: "new"}, e.Payload)
}

func TestReplaceAfterConcurrentRemoveCreatesFreshHandle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.registry.Create(context.Background(), "s1")
	require.NoError(t, err)
	stale, err := env.registry.Lookup("s1")
	require.NoError(t, err)

	// Remove lands between Create's failed state query and the swap
	require.NoError(t, env.registry.Remove(context.Background(), "s1"))
	res, err := env.registry.replace("s1", stale)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReinitialized, res.Outcome)

	fresh, err := env.registry.Lookup("s1")
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.True(t, stale.isRetired())
	assert.Len(t, env.factory.Built("s1"), 2)
	assert.Equal(t, 1, env.factory.Built("s1")[0].Destroyed())
}
