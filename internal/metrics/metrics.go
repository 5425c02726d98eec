package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. Every recording method is safe on a nil
// *Registry so components can run without metrics wired in.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Consumer loop metrics
	messagesConsumed *prometheus.CounterVec
	consumerErrors   *prometheus.CounterVec

	// Stage metrics
	sourceTicks        *prometheus.CounterVec
	sourceFailures     *prometheus.CounterVec
	qualityFlags       *prometheus.CounterVec
	snapshotsEmitted   *prometheus.CounterVec
	signalsEmitted     *prometheus.CounterVec
	strategyFailures   *prometheus.CounterVec
	opportunityChanges *prometheus.CounterVec
	opportunitiesLive  prometheus.Gauge
	riskAlerts         *prometheus.CounterVec
	pipelineProcessed  *prometheus.CounterVec
	pipelineReplicated *prometheus.CounterVec
	batchesFlushed     *prometheus.CounterVec
	batchRecords       prometheus.Histogram

	// Broadcast metrics
	broadcastSubscribers prometheus.Gauge
	broadcastDropped     prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.messagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_messages_consumed_total",
			Help: "Stream entries delivered to a stage handler",
		},
		[]string{"stage"},
	)
	r.consumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_consumer_errors_total",
			Help: "Consumer loop errors by stage and kind",
		},
		[]string{"stage", "kind"},
	)
	r.sourceTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_source_ticks_total",
			Help: "Raw ticks published by source adapters",
		},
		[]string{"source"},
	)
	r.sourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_source_failures_total",
			Help: "Failed fetches per data source",
		},
		[]string{"source"},
	)
	r.qualityFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_quality_flags_total",
			Help: "Repair rules applied by the tick cleaner",
		},
		[]string{"flag"},
	)
	r.snapshotsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_snapshots_emitted_total",
			Help: "Feature snapshots emitted per window",
		},
		[]string{"window"},
	)
	r.signalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_signals_emitted_total",
			Help: "Strategy signals emitted",
		},
		[]string{"strategy", "signal_type"},
	)
	r.strategyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_strategy_failures_total",
			Help: "Strategy evaluations that failed or panicked",
		},
		[]string{"strategy"},
	)
	r.opportunityChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_opportunity_transitions_total",
			Help: "Opportunity state transitions by resulting state",
		},
		[]string{"state"},
	)
	r.opportunitiesLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickflow_opportunities_live",
			Help: "Opportunities currently NEW or TRACKING",
		},
	)
	r.riskAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_risk_alerts_total",
			Help: "Risk alerts emitted",
		},
		[]string{"risk_type", "severity"},
	)
	r.pipelineProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_pipeline_processed_total",
			Help: "Source entries processed by a replication pipeline",
		},
		[]string{"pipeline"},
	)
	r.pipelineReplicated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_pipeline_replicated_total",
			Help: "Entries written to replication targets",
		},
		[]string{"pipeline", "target"},
	)
	r.batchesFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickflow_batches_flushed_total",
			Help: "Batch writer flush attempts by outcome",
		},
		[]string{"status"},
	)
	r.batchRecords = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tickflow_batch_records",
			Help:    "Records per flushed batch",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
	r.broadcastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickflow_broadcast_subscribers",
			Help: "Active broadcast subscribers",
		},
	)
	r.broadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tickflow_broadcast_dropped_total",
			Help: "Subscribers removed after a failed or blocked send",
		},
	)

	reg.MustRegister(
		r.messagesConsumed,
		r.consumerErrors,
		r.sourceTicks,
		r.sourceFailures,
		r.qualityFlags,
		r.snapshotsEmitted,
		r.signalsEmitted,
		r.strategyFailures,
		r.opportunityChanges,
		r.opportunitiesLive,
		r.riskAlerts,
		r.pipelineProcessed,
		r.pipelineReplicated,
		r.batchesFlushed,
		r.batchRecords,
		r.broadcastSubscribers,
		r.broadcastDropped,
	)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// ObserveBatch counts entries handed to a stage handler.
func (r *Registry) ObserveBatch(stage string, size int) {
	if r == nil {
		return
	}
	r.messagesConsumed.WithLabelValues(stage).Add(float64(size))
}

// ObserveConsumerError counts a consumer loop error ("setup", "read", "handle", "ack").
func (r *Registry) ObserveConsumerError(stage, kind string) {
	if r == nil {
		return
	}
	r.consumerErrors.WithLabelValues(stage, kind).Inc()
}

// RecordSourceTicks counts ticks published from a source.
func (r *Registry) RecordSourceTicks(source string, n int) {
	if r == nil {
		return
	}
	r.sourceTicks.WithLabelValues(source).Add(float64(n))
}

// RecordSourceFailure counts a failed fetch.
func (r *Registry) RecordSourceFailure(source string) {
	if r == nil {
		return
	}
	r.sourceFailures.WithLabelValues(source).Inc()
}

// RecordQualityFlag counts an applied repair rule.
func (r *Registry) RecordQualityFlag(flag string) {
	if r == nil {
		return
	}
	r.qualityFlags.WithLabelValues(flag).Inc()
}

// RecordSnapshot counts an emitted feature snapshot.
func (r *Registry) RecordSnapshot(window string) {
	if r == nil {
		return
	}
	r.snapshotsEmitted.WithLabelValues(window).Inc()
}

// RecordSignal records a generated signal.
func (r *Registry) RecordSignal(strategy, signalType string) {
	if r == nil {
		return
	}
	r.signalsEmitted.WithLabelValues(strategy, signalType).Inc()
}

// RecordStrategyFailure counts a failed evaluation.
func (r *Registry) RecordStrategyFailure(strategy string) {
	if r == nil {
		return
	}
	r.strategyFailures.WithLabelValues(strategy).Inc()
}

// RecordOpportunity counts a transition into state.
func (r *Registry) RecordOpportunity(state string) {
	if r == nil {
		return
	}
	r.opportunityChanges.WithLabelValues(state).Inc()
}

// SetLiveOpportunities sets the live opportunity gauge.
func (r *Registry) SetLiveOpportunities(n int) {
	if r == nil {
		return
	}
	r.opportunitiesLive.Set(float64(n))
}

// RecordRiskAlert counts an emitted alert.
func (r *Registry) RecordRiskAlert(riskType, severity string) {
	if r == nil {
		return
	}
	r.riskAlerts.WithLabelValues(riskType, severity).Inc()
}

// RecordPipelineProcessed counts a processed source entry.
func (r *Registry) RecordPipelineProcessed(pipeline string) {
	if r == nil {
		return
	}
	r.pipelineProcessed.WithLabelValues(pipeline).Inc()
}

// RecordPipelineReplicated counts one entry written to target.
func (r *Registry) RecordPipelineReplicated(pipeline, target string) {
	if r == nil {
		return
	}
	r.pipelineReplicated.WithLabelValues(pipeline, target).Inc()
}

// RecordFlush records a flush attempt; records is only observed on success.
func (r *Registry) RecordFlush(status string, records int) {
	if r == nil {
		return
	}
	r.batchesFlushed.WithLabelValues(status).Inc()
	if status == "ok" {
		r.batchRecords.Observe(float64(records))
	}
}

// SetSubscribers sets the broadcast subscriber gauge.
func (r *Registry) SetSubscribers(n int) {
	if r == nil {
		return
	}
	r.broadcastSubscribers.Set(float64(n))
}

// RecordSubscriberDropped counts a removed subscriber.
func (r *Registry) RecordSubscriberDropped() {
	if r == nil {
		return
	}
	r.broadcastDropped.Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
