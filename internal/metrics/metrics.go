package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface used by the realtime components.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	PresenceTransition(state string)
	MessagePublished()
	MessagePersistFailed()
	FanoutDelivered(count int)
	FanoutDropped()
	PublishLatency(d time.Duration)
}

// Collector implements Recorder on a Prometheus registry.
type Collector struct {
	activeConnections   prometheus.Gauge
	presenceTransitions *prometheus.CounterVec
	messagesPublished   prometheus.Counter
	persistFailures     prometheus.Counter
	fanoutDelivered     prometheus.Counter
	fanoutDropped       prometheus.Counter
	publishLatency      prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_connections",
			Help: "Number of live WebSocket connections",
		}),
		presenceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_presence_transitions_total",
			Help: "Presence state transitions by resulting state",
		}, []string{"state"}),
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_messages_published_total",
			Help: "Chat messages accepted for persistence and fan-out",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_message_persist_failures_total",
			Help: "Chat messages rejected by the message store",
		}),
		fanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_fanout_delivered_total",
			Help: "Frames enqueued to group members",
		}),
		fanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_fanout_dropped_total",
			Help: "Frames dropped because a member's send buffer was full",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatrelay_publish_latency_seconds",
			Help:    "Latency of persist-then-fan-out per publish",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.activeConnections,
		c.presenceTransitions,
		c.messagesPublished,
		c.persistFailures,
		c.fanoutDelivered,
		c.fanoutDropped,
		c.publishLatency,
	)

	return c
}

func (c *Collector) ConnectionOpened() {
	c.activeConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.activeConnections.Dec()
}

func (c *Collector) PresenceTransition(state string) {
	c.presenceTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) MessagePublished() {
	c.messagesPublished.Inc()
}

func (c *Collector) MessagePersistFailed() {
	c.persistFailures.Inc()
}

func (c *Collector) FanoutDelivered(count int) {
	c.fanoutDelivered.Add(float64(count))
}

func (c *Collector) FanoutDropped() {
	c.fanoutDropped.Inc()
}

func (c *Collector) PublishLatency(d time.Duration) {
	c.publishLatency.Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for the registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop is a Recorder that records nothing. Used in tests.
type Noop struct{}

func (Noop) ConnectionOpened()               {}
func (Noop) ConnectionClosed()               {}
func (Noop) PresenceTransition(state string) {}
func (Noop) MessagePublished()               {}
func (Noop) MessagePersistFailed()           {}
func (Noop) FanoutDelivered(count int)       {}
func (Noop) FanoutDropped()                  {}
func (Noop) PublishLatency(d time.Duration)  {}
