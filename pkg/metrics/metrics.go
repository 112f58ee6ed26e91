package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/msgate/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private registry
type Metrics struct {
	registry      *prometheus.Registry
	namespace     string
	httpReqCnt    *prometheus.CounterVec
	httpDur       *prometheus.HistogramVec
	httpInfl      *prometheus.GaugeVec
	sessions      prometheus.Gauge
	transitions   *prometheus.CounterVec
	eventsCnt     *prometheus.CounterVec
	subscribers   prometheus.Gauge
	evictions     prometheus.Counter
	backendOpCnt  *prometheus.CounterVec
	backendOpDur  *prometheus.HistogramVec
	relayFailures prometheus.Counter
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_active"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "session_transitions_total"}, []string{"state"})
	r.MustRegister(sessions, transitions)

	eventsCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_published_total"}, []string{"kind"})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "realtime_subscribers"})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "realtime_evictions_total"})
	relayFailures := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "relay_failures_total"})
	r.MustRegister(eventsCnt, subscribers, evictions, relayFailures)

	backendOpCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "backend_operations_total"}, []string{"op", "status"})
	backendOpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "backend_operation_duration_seconds", Buckets: buckets}, []string{"op", "status"})
	r.MustRegister(backendOpCnt, backendOpDur)

	return &Metrics{
		registry:      r,
		namespace:     ns,
		httpReqCnt:    httpReqCnt,
		httpDur:       httpDur,
		httpInfl:      httpInfl,
		sessions:      sessions,
		transitions:   transitions,
		eventsCnt:     eventsCnt,
		subscribers:   subscribers,
		evictions:     evictions,
		backendOpCnt:  backendOpCnt,
		backendOpDur:  backendOpDur,
		relayFailures: relayFailures,
	}
}

// SetSessions records the number of registered session handles
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Transition counts a lifecycle state change
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// EventPublished counts an event handed to the broadcaster
func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsCnt.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

// SubscriberEvicted counts a subscriber dropped for a full send buffer
func (m *Metrics) SubscriberEvicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) RelayFailed() {
	if m == nil {
		return
	}
	m.relayFailures.Inc()
}

// BackendOpDone records the outcome of one backend call
func (m *Metrics) BackendOpDone(op string, since time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.backendOpCnt.WithLabelValues(op, status).Inc()
	m.backendOpDur.WithLabelValues(op, status).Observe(time.Since(since).Seconds())
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
