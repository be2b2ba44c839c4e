package observability

import (
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the lead engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	routingDecisions *prometheus.CounterVec
	ruleExecutions   *prometheus.CounterVec
	signalsRecorded  *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	eventsProcessed  *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		routingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_routing_decisions_total",
				Help: "Routing evaluation outcomes by action.",
			},
			[]string{"action"},
		),
		ruleExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_rule_executions_total",
				Help: "Automation rule executions by status.",
			},
			[]string{"status"},
		),
		signalsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_intent_signals_total",
				Help: "Intent signals recorded by bucket.",
			},
			[]string{"intent"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadengine_action_duration_seconds",
				Help:    "Duration of automation actions by kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		eventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_events_processed_total",
				Help: "Ingested events by processing status.",
			},
			[]string{"status"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// IncrRoutingDecision counts one routing outcome.
func (m *Metrics) IncrRoutingDecision(action domain.RoutingAction) {
	m.routingDecisions.WithLabelValues(string(action)).Inc()
}

// IncrRuleExecution counts one rule execution with a status label.
func (m *Metrics) IncrRuleExecution(status string) {
	m.ruleExecutions.WithLabelValues(status).Inc()
}

// IncrSignalRecorded counts one recorded intent signal.
func (m *Metrics) IncrSignalRecorded(intent domain.Intent) {
	m.signalsRecorded.WithLabelValues(string(intent)).Inc()
}

// RecordActionDuration records the duration of an automation action.
func (m *Metrics) RecordActionDuration(action domain.ActionKind, d time.Duration) {
	m.actionDuration.WithLabelValues(string(action)).Observe(d.Seconds())
}

// IncrEventProcessed counts one ingested event.
func (m *Metrics) IncrEventProcessed(status string) {
	m.eventsProcessed.WithLabelValues(status).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// EngineSnapshot returns cumulative engine counters for the GET /v1/stats
// endpoint.
func (m *Metrics) EngineSnapshot() *domain.EngineStats {
	routed := getCounterValue(m.routingDecisions, string(domain.RouteRouted))
	review := getCounterValue(m.routingDecisions, string(domain.RouteManualReview))
	waited := getCounterValue(m.routingDecisions, string(domain.RouteWait))
	skipped := getCounterValue(m.routingDecisions, string(domain.RouteSkip))

	ruleOK := getCounterValue(m.ruleExecutions, "success")
	ruleFail := getCounterValue(m.ruleExecutions, "failure")

	failureRate := float64(0)
	if ruleOK+ruleFail > 0 {
		failureRate = ruleFail / (ruleOK + ruleFail)
	}

	return &domain.EngineStats{
		EventsProcessed: int64(getCounterValue(m.eventsProcessed, "success") +
			getCounterValue(m.eventsProcessed, "error")),
		LeadsRouted:     int64(routed),
		ManualReviews:   int64(review),
		Waits:           int64(waited),
		Skips:           int64(skipped),
		RuleExecutions:  int64(ruleOK + ruleFail),
		RuleFailureRate: failureRate,
		SignalsRecorded: int64(m.signalTotal()),
		Period:          "all_time",
	}
}

func (m *Metrics) signalTotal() float64 {
	total := float64(0)
	for _, intent := range domain.Intents {
		total += getCounterValue(m.signalsRecorded, string(intent))
	}
	return total
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
