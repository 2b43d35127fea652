package monitoring

import (
	"livecast/internal/core/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports session signals as prometheus metrics. It is
// registered on the default registry and served by the control surface's
// /metrics endpoint.
type PrometheusCollector struct {
	stateTransitions *prometheus.CounterVec
	currentState     *prometheus.GaugeVec
	viewerCount      prometheus.Gauge
	reconnectsTotal  prometheus.Counter
	heartsActive     prometheus.Gauge
	heartsTotal      prometheus.Counter
	commentsTotal    prometheus.Counter
	tracksAttached   prometheus.Counter
}

var _ session.Metrics = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		stateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"role", "state"}),

		currentState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecast_session_state",
			Help: "Current session state (1 for the active state, 0 otherwise)",
		}, []string{"role", "state"}),

		viewerCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_viewer_count",
			Help: "Viewer count as last reported by the session channel",
		}),

		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecast_channel_reconnects_total",
			Help: "Total number of event channel reconnects",
		}),

		heartsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_hearts_active",
			Help: "Hearts currently within their display window",
		}),

		heartsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecast_hearts_total",
			Help: "Total number of hearts shown",
		}),

		commentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecast_comments_total",
			Help: "Total number of comments received",
		}),

		tracksAttached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecast_tracks_attached_total",
			Help: "Total number of remote tracks bound to a render target",
		}),
	}
}

func (p *PrometheusCollector) StateChanged(role, state string) {
	p.stateTransitions.WithLabelValues(role, state).Inc()

	// Reset the per-role gauge family so exactly one state reads 1.
	p.currentState.DeletePartialMatch(prometheus.Labels{"role": role})
	p.currentState.WithLabelValues(role, state).Set(1)
}

func (p *PrometheusCollector) ViewerCount(n int) {
	p.viewerCount.Set(float64(n))
}

func (p *PrometheusCollector) Reconnected() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) HeartShown() {
	p.heartsTotal.Inc()
	p.heartsActive.Inc()
}

func (p *PrometheusCollector) HeartExpired() {
	p.heartsActive.Dec()
}

func (p *PrometheusCollector) CommentReceived() {
	p.commentsTotal.Inc()
}

func (p *PrometheusCollector) TrackAttached() {
	p.tracksAttached.Inc()
}
