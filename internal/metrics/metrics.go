package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/rtlink/internal/connection"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "rtlink"

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "rtlink").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

var allStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
	connection.StateClosed,
}

// Collector holds the client's Prometheus metrics.
type Collector struct {
	state           *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	reconnects      prometheus.Counter
	reconnectDelay  prometheus.Histogram
	exhausted       prometheus.Counter
	framesReceived  prometheus.Counter
	frameBytes      prometheus.Histogram
	decodeFailures  prometheus.Counter
	archiveRows     prometheus.Counter
	archiveBatch    prometheus.Histogram
	archiveFailures prometheus.Counter
}

// New registers the collectors and returns them.
func New(opts ...Option) *Collector {
	cfg := Config{
		Namespace: DefaultNamespace,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	c := &Collector{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "state",
			Help:        "1 for the current connection state, 0 otherwise",
			ConstLabels: cfg.ConstLabels,
		}, []string{"state"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "transitions_total",
			Help:        "Connection state transitions by target state",
			ConstLabels: cfg.ConstLabels,
		}, []string{"to"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "reconnect_attempts_total",
			Help:        "Automatic reconnect attempts scheduled",
			ConstLabels: cfg.ConstLabels,
		}),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "reconnect_delay_seconds",
			Help:        "Backoff delay before each reconnect attempt",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.5, 2, 8),
		}),

		exhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "reconnect_exhausted_total",
			Help:        "Times automatic reconnection gave up",
			ConstLabels: cfg.ConstLabels,
		}),

		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "stream",
			Name:        "frames_received_total",
			Help:        "Inbound frames received",
			ConstLabels: cfg.ConstLabels,
		}),

		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "stream",
			Name:        "frame_size_bytes",
			Help:        "Inbound frame payload size",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 8),
		}),

		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "stream",
			Name:        "decode_failures_total",
			Help:        "Inbound frames that could not be decoded",
			ConstLabels: cfg.ConstLabels,
		}),

		archiveRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "archive",
			Name:        "rows_written_total",
			Help:        "Rows written to the archive table",
			ConstLabels: cfg.ConstLabels,
		}),

		archiveBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "archive",
			Name:        "batch_size",
			Help:        "Rows per archive flush",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 7),
		}),

		archiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "archive",
			Name:        "flush_failures_total",
			Help:        "Archive flushes that failed",
			ConstLabels: cfg.ConstLabels,
		}),
	}

	c.setState(connection.StateDisconnected)
	return c
}

func (c *Collector) setState(current connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(s.String()).Set(v)
	}
}

// StateChanged implements connection.Observer.
func (c *Collector) StateChanged(from, to connection.State) {
	c.setState(to)
	c.transitions.WithLabelValues(to.String()).Inc()
}

// ReconnectScheduled implements connection.Observer.
func (c *Collector) ReconnectScheduled(attempt int, delay time.Duration) {
	c.reconnects.Inc()
	c.reconnectDelay.Observe(delay.Seconds())
}

// FrameReceived implements connection.Observer.
func (c *Collector) FrameReceived(size int) {
	c.framesReceived.Inc()
	c.frameBytes.Observe(float64(size))
}

// DecodeFailed implements connection.Observer.
func (c *Collector) DecodeFailed() {
	c.decodeFailures.Inc()
}

// ReconnectExhausted implements connection.Observer.
func (c *Collector) ReconnectExhausted(attempts int) {
	c.exhausted.Inc()
}

// ArchiveFlushed records a successful archive flush of n rows.
func (c *Collector) ArchiveFlushed(n int) {
	c.archiveRows.Add(float64(n))
	c.archiveBatch.Observe(float64(n))
}

// ArchiveFailed records a failed archive flush.
func (c *Collector) ArchiveFailed() {
	c.archiveFailures.Inc()
}

var _ connection.Observer = (*Collector)(nil)
