package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
)

func newTestRelay(t *testing.T) (*Relay, *redis.PubSub) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ps := client.Subscribe(ctx, "msgate:events")
	_, err = ps.Receive(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	relay, err := NewRelay(ctx, zap.NewNop(), &config.RelayConfig{
		Enabled: true,
		Buffer:  16,
		Redis: config.RedisConfig{
			ClusterType: cnst.RedisClusterTypeSingle,
			Addr:        mr.Addr(),
			Channel:     "msgate:events",
		},
	}, nil)
	require.NoError(t, err)
	return relay, ps
}

func TestRelayPublishesEvents(t *testing.T) {
	relay, ps := newTestRelay(t)
	b := New(zap.NewNop(), WithSink(relay))

	b.Publish(NewEvent("s1", QRCode{SessionID: "s1", QR: "QR123"}))

	select {
	case msg := <-ps.Channel():
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "s1", got["sessionId"])
		assert.Equal(t, "qr_code", got["event"])
		assert.Equal(t, map[string]any{"sessionId": "s1", "qr": "QR123"}, got["data"])
		assert.NotEmpty(t, got["emittedAt"])
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not publish")
	}

	require.NoError(t, relay.Close(context.Background()))
}

func TestRelayCloseIsIdempotent(t *testing.T) {
	relay, _ := newTestRelay(t)
	require.NoError(t, relay.Close(context.Background()))
	require.NoError(t, relay.Close(context.Background()))

	// delivering after close is a no-op
	relay.Deliver(NewEvent("s1", Ready{SessionID: "s1"}))
}

func TestNewRelayConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRelay(ctx, zap.NewNop(), &config.RelayConfig{
		Redis: config.RedisConfig{ClusterType: cnst.RedisClusterTypeSingle, Addr: "127.0.0.1:1"},
	}, nil)
	assert.Error(t, err)
}
