package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_session"

// Collector holds the client's counters on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	connectAttempts  prometheus.Counter
	connectFailures  prometheus.Counter
	state            prometheus.Gauge
	attributePushes  *prometheus.CounterVec
	catalogRejected  prometheus.Counter
	retargetFailures prometheus.Counter
	droppedFrames    *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connect_attempts_total",
			Help: "Connect calls that started a new session.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connect_failures_total",
			Help: "Connect attempts that ended in an error.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting).",
		}),
		attributePushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "attribute_pushes_total",
			Help: "Local attribute pushes by result.",
		}, []string{"result"}),
		catalogRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "voice_catalog_rejected_total",
			Help: "Voice catalog payloads discarded as malformed.",
		}),
		retargetFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "output_retarget_failures_total",
			Help: "Per-sink failures while switching the output device.",
		}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_frames_total",
			Help: "Audio frames dropped on full buffers, by stage.",
		}, []string{"stage"}),
	}
	c.registry.MustRegister(
		c.connectAttempts, c.connectFailures, c.state, c.attributePushes,
		c.catalogRejected, c.retargetFailures, c.droppedFrames,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the private registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectAttempt() {
	if c != nil {
		c.connectAttempts.Inc()
	}
}

func (c *Collector) ConnectFailure() {
	if c != nil {
		c.connectFailures.Inc()
	}
}

func (c *Collector) SetState(state int) {
	if c != nil {
		c.state.Set(float64(state))
	}
}

// AttributePush records a push outcome: "ok", "error", "stale" or "rejected".
func (c *Collector) AttributePush(result string) {
	if c != nil {
		c.attributePushes.WithLabelValues(result).Inc()
	}
}

func (c *Collector) CatalogRejected() {
	if c != nil {
		c.catalogRejected.Inc()
	}
}

func (c *Collector) RetargetFailure() {
	if c != nil {
		c.retargetFailures.Inc()
	}
}

func (c *Collector) DroppedFrame(stage string) {
	if c != nil {
		c.droppedFrames.WithLabelValues(stage).Inc()
	}
}
