package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Stream metrics
	StreamEvents     *prometheus.CounterVec
	StreamReconnects prometheus.Counter
	StreamState      *prometheus.GaugeVec

	// Pipeline metrics
	ConversationsFlushed prometheus.Counter
	PostsPublished       *prometheus.CounterVec
	PublishFailures      *prometheus.CounterVec

	// Workflow metrics
	WorkflowSessions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StreamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orbot_stream_events_total",
			Help: "Stream lines received, by outcome.",
		}, []string{"outcome"}),
		StreamReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "orbot_stream_reconnects_total",
			Help: "Times the stream was re-established after dropping.",
		}),
		StreamState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orbot_stream_state",
			Help: "1 for the current stream connection state.",
		}, []string{"state"}),
		ConversationsFlushed: f.NewCounter(prometheus.CounterOpts{
			Name: "orbot_conversations_flushed_total",
			Help: "Conversations emitted by the aggregator.",
		}),
		PostsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orbot_posts_published_total",
			Help: "Messages sent by the publisher.",
		}, []string{"kind"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orbot_publish_failures_total",
			Help: "Failed publish attempts, by error class.",
		}, []string{"reason"}),
		WorkflowSessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orbot_workflow_sessions_total",
			Help: "Finished post workflow sessions, by outcome.",
		}, []string{"mode", "outcome"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) StreamEvent(outcome string) {
	if m != nil {
		m.StreamEvents.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.StreamReconnects.Inc()
	}
}

// SetStreamState marks state as the only active one among states.
func (m *Metrics) SetStreamState(state string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StreamState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Flushed() {
	if m != nil {
		m.ConversationsFlushed.Inc()
	}
}

func (m *Metrics) Published(kind string, n int) {
	if m != nil {
		m.PostsPublished.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) PublishFailed(reason string) {
	if m != nil {
		m.PublishFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionEnded(mode, outcome string) {
	if m != nil {
		m.WorkflowSessions.WithLabelValues(mode, outcome).Inc()
	}
}
