package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Panel API metrics
var (
	PanelPowerCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_panel_power_commands_total",
			Help: "Total number of power commands sent to the panel",
		},
		[]string{"signal", "result"},
	)

	PanelOnlineChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_panel_online_checks_total",
			Help: "Total number of online-check attempts, including retries",
		},
		[]string{"dialect", "result"},
	)

	PanelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wakegate_panel_request_duration_seconds",
			Help:    "Duration of panel HTTP requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	PanelRateLimitLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_panel_ratelimit_limit",
			Help: "Request limit last reported by the panel",
		},
	)

	PanelRateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_panel_ratelimit_remaining",
			Help: "Remaining requests last reported by the panel",
		},
	)

	PanelCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wakegate_panel_circuit_breaker_state",
			Help: "Panel circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// Lifecycle metrics
var (
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_gate_decisions_total",
			Help: "Connection gate decisions by outcome",
		},
		[]string{"decision"},
	)

	StartingBackends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_starting_backends",
			Help: "Number of backends with an unconfirmed power-on",
		},
	)

	PollerChainsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_poller_chains_active",
			Help: "Number of live readiness polling chains",
		},
	)

	PollerChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_poller_checks_total",
			Help: "Readiness poll ticks by outcome",
		},
		[]string{"result"},
	)

	IdleTasksPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_idle_tasks_pending",
			Help: "Number of scheduled idle-shutdown checks not yet fired",
		},
	)

	IdleShutdowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_idle_shutdowns_total",
			Help: "Idle-shutdown checks by outcome",
		},
		[]string{"result"},
	)

	SchedulerTasksPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_scheduler_tasks_pending",
			Help: "Delayed tasks waiting for their timer",
		},
	)
)

// Backend and session gauges, refreshed by the Collector
var (
	BackendsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakegate_backends_registered",
			Help: "Number of backends in the registry",
		},
	)

	BackendSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wakegate_backend_sessions",
			Help: "Sessions currently attached to each backend",
		},
		[]string{"server"},
	)
)

// Integration metrics
var (
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_config_reloads_total",
			Help: "Configuration reloads by result",
		},
		[]string{"result"},
	)

	ProxyCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_proxy_callbacks_total",
			Help: "Callbacks sent to the game proxy",
		},
		[]string{"endpoint", "result"},
	)

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_audit_events_total",
			Help: "Power events written to the audit store",
		},
		[]string{"action", "result"},
	)

	HTTPAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakegate_http_api_requests_total",
			Help: "Requests served by the hook and admin API",
		},
		[]string{"method", "status"},
	)
)
