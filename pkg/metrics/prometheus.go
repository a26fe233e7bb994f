package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TradeCore/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	polls       *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	degraded    *prometheus.GaugeVec
	patterns    *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	riskExits   *prometheus.CounterVec
	executions  *prometheus.HistogramVec
	signals     *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_price_polls_total",
			Help: "Price polls by token and status",
		}, []string{"token", "status"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecore_last_price",
			Help: "Last observed price per token",
		}, []string{"token"}),
		degraded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradecore_token_degraded",
			Help: "1 when a token is excluded from decisions",
		}, []string{"token"}),
		patterns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_patterns_total",
			Help: "Classified patterns by token and kind",
		}, []string{"token", "kind"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_decisions_total",
			Help: "Decisions by action, triggering source and outcome",
		}, []string{"action", "source", "outcome"}),
		riskExits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_risk_exits_total",
			Help: "Risk thresholds fired by reason",
		}, []string{"reason"}),
		executions: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradecore_execution_seconds",
			Help:    "Trigger-to-result latency of gateway submissions",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, .75, 1, 2, 5},
		}, []string{"source", "status"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_signal_cache_total",
			Help: "Signal cache lookups by kind and status",
		}, []string{"kind", "status"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradecore_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordPoll(token, status string) {
	r.polls.WithLabelValues(token, status).Inc()
}

func (r *Recorder) RecordLastPrice(token string, price float64) {
	r.lastPrice.WithLabelValues(token).Set(price)
}

func (r *Recorder) RecordDegraded(token string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	r.degraded.WithLabelValues(token).Set(v)
}

func (r *Recorder) RecordPattern(token string, kind models.PatternKind) {
	r.patterns.WithLabelValues(token, string(kind)).Inc()
}

func (r *Recorder) RecordDecision(action models.Action, source models.TriggerSource, outcome models.Outcome) {
	r.decisions.WithLabelValues(string(action), string(source), string(outcome)).Inc()
}

func (r *Recorder) RecordRiskExit(reason models.CloseReason) {
	r.riskExits.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) RecordExecution(source models.TriggerSource, status string, latency time.Duration) {
	r.executions.WithLabelValues(string(source), status).Observe(latency.Seconds())
}

func (r *Recorder) RecordSignal(kind models.SignalKind, status string) {
	r.signals.WithLabelValues(string(kind), status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordPoll(string, string)                                         {}
func (Nop) RecordLastPrice(string, float64)                                   {}
func (Nop) RecordDegraded(string, bool)                                       {}
func (Nop) RecordPattern(string, models.PatternKind)                          {}
func (Nop) RecordDecision(models.Action, models.TriggerSource, models.Outcome) {}
func (Nop) RecordRiskExit(models.CloseReason)                                 {}
func (Nop) RecordExecution(models.TriggerSource, string, time.Duration)       {}
func (Nop) RecordSignal(models.SignalKind, string)                            {}
func (Nop) RecordError(string)                                                {}
func (Nop) RecordLatency(string, float64)                                     {}
