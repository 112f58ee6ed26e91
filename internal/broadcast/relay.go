package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/pkg/metrics"
	"github.com/amoylab/msgate/pkg/utils"
)

const relayPublishTimeout = 5 * time.Second

// RelayMessage is the JSON document published to the relay channel
type RelayMessage struct {
	SessionID string    `json:"sessionId"`
	Event     Kind      `json:"event"`
	Data      Payload   `json:"data"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Relay mirrors published events to a Redis pub/sub channel for external consumers
type Relay struct {
	logger  *zap.Logger
	client  redis.UniversalClient
	channel string
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewRelay connects to Redis and starts the publishing loop
func NewRelay(ctx context.Context, logger *zap.Logger, cfg *config.RelayConfig, m *metrics.Metrics) (*Relay, error) {
	rc := cfg.Redis
	opts := &redis.UniversalOptions{
		Addrs:    utils.SplitByMultipleDelimiters(rc.Addr, ";", ","),
		Username: rc.Username,
		Password: rc.Password,
	}
	if rc.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = rc.MasterName
	}
	if rc.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		opts.DB = rc.DB
	}
	client := redis.NewUniversalClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRelay(logger, client, rc.Channel, cfg.Buffer, m), nil
}

func newRelay(logger *zap.Logger, client redis.UniversalClient, channel string, buffer int, m *metrics.Metrics) *Relay {
	if buffer <= 0 {
		buffer = 256
	}
	r := &Relay{
		logger:  logger.Named("broadcast.relay"),
		client:  client,
		channel: channel,
		metrics: m,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Deliver queues e for publishing and drops it when the queue is full
func (r *Relay) Deliver(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.metrics.RelayFailed()
		r.logger.Warn("relay queue full, dropping event",
			zap.String("session_id", e.SessionKey),
			zap.String("event", string(e.Kind)))
	}
}

func (r *Relay) run() {
	defer close(r.done)
	for e := range r.queue {
		r.publish(e)
	}
}

func (r *Relay) publish(e Event) {
	data, err := json.Marshal(RelayMessage{
		SessionID: e.SessionKey,
		Event:     e.Kind,
		Data:      e.Payload,
		EmittedAt: e.EmittedAt,
	})
	if err != nil {
		r.metrics.RelayFailed()
		r.logger.Error("failed to encode relay message", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.metrics.RelayFailed()
		r.logger.Error("failed to publish event to Redis",
			zap.String("channel", r.channel),
			zap.String("session_id", e.SessionKey),
			zap.Error(err))
	}
}

// Close flushes queued events and closes the Redis client
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("relay flush interrupted", zap.Error(ctx.Err()))
	}
	return r.client.Close()
}
