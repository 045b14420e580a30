package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "affilink"

// Outcome labels for ResultsTotal.
const (
	OutcomeReported     = "reported"
	OutcomeReportFailed = "report_failed"
	OutcomeAbandoned    = "abandoned"
	OutcomeOpenFailed   = "open_failed"
)

var (
	CommandsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_commands_received_total",
		Help:      "Commands decoded from the command stream, by type.",
	}, []string{"type"})

	StreamDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_decode_failures_total",
		Help:      "Stream messages dropped because they could not be decoded.",
	})

	CommandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_commands_dropped_total",
		Help:      "Commands dropped because the orchestrator queue was full.",
	})

	StreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_ready_state",
		Help:      "Command stream ready state (0 connecting, 1 open, 2 closed).",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnect_attempts_total",
		Help:      "Connection attempts made after the initial connect.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Workflow sessions currently held in the session store.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_transitions_total",
		Help:      "Applied workflow state transitions.",
	}, []string{"from", "to"})

	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_transitions_rejected_total",
		Help:      "Signals that did not match a transition for the session's state.",
	}, []string{"state", "trigger"})

	OrphanSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_orphan_signals_total",
		Help:      "Agent signals from surfaces with no session, by action.",
	}, []string{"action"})

	ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_results_total",
		Help:      "Terminal workflow outcomes.",
	}, []string{"outcome"})

	SurfacesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_surfaces_open",
		Help:      "Automation surfaces currently open.",
	})

	SurfaceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_surface_errors_total",
		Help:      "Failed surface operations, by operation.",
	}, []string{"op"})

	EventFeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_event_feed_clients",
		Help:      "WebSocket clients attached to the lifecycle event feed.",
	})

	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolver_duration_seconds",
		Help:      "Time spent resolving inbound URLs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"branch"})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
