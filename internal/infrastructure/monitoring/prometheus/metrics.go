package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
)

// AppMetrics holds every metric the service exports.
type AppMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Pipeline
	PipelineRequestsTotal      CounterVec
	PipelineStageDuration      HistogramVec
	OracleCallsTotal           CounterVec
	OracleCallDuration         HistogramVec
	ClarificationQuestionTotal CounterVec
	AskCacheTotal              CounterVec
	InteractionsTotal          CounterVec

	// Health
	HealthCheckStatus GaugeVec
}

var (
	DefaultHTTPDurationBuckets   = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	DefaultStageDurationBuckets  = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 60, 120}
	DefaultOracleDurationBuckets = []float64{.5, 1, 2, 5, 10, 30, 60, 120, 180}
)

// NewAppMetrics registers all metrics on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	m.PipelineRequestsTotal = collector.RegisterCounter("pipeline_requests_total", "Prescription pipeline runs by terminal outcome", "outcome")
	m.PipelineStageDuration = collector.RegisterHistogram("pipeline_stage_duration_seconds", "Pipeline stage wall time", DefaultStageDurationBuckets, "stage")
	m.OracleCallsTotal = collector.RegisterCounter("oracle_calls_total", "External oracle calls", "oracle", "outcome")
	m.OracleCallDuration = collector.RegisterHistogram("oracle_call_duration_seconds", "External oracle call latency", DefaultOracleDurationBuckets, "oracle")
	m.ClarificationQuestionTotal = collector.RegisterCounter("clarification_questions_total", "Clarification questions emitted by field", "field")
	m.AskCacheTotal = collector.RegisterCounter("ask_cache_total", "Ask-path response cache lookups", "result")
	m.InteractionsTotal = collector.RegisterCounter("interactions_total", "Detected interactions by kind", "kind")

	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")

	return m
}

// ObserveHTTP records one finished HTTP request.
func (m *AppMetrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// SetHealth records a component health check result.
func (m *AppMetrics) SetHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// ─────────────────────────────────────────────────────────────────────────────
// PipelineMetrics adapter
// ─────────────────────────────────────────────────────────────────────────────

type pipelineMetrics struct {
	m *AppMetrics
}

// NewPipelineMetrics adapts AppMetrics to the pipeline telemetry contract.
func NewPipelineMetrics(m *AppMetrics) common.PipelineMetrics {
	return &pipelineMetrics{m: m}
}

func (p *pipelineMetrics) RecordRequest(_ context.Context, outcome string) {
	p.m.PipelineRequestsTotal.WithLabelValues(outcome).Inc()
}

func (p *pipelineMetrics) RecordStage(_ context.Context, stage string, d time.Duration) {
	p.m.PipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *pipelineMetrics) RecordOracleCall(_ context.Context, oracle, outcome string, d time.Duration) {
	p.m.OracleCallsTotal.WithLabelValues(oracle, outcome).Inc()
	p.m.OracleCallDuration.WithLabelValues(oracle).Observe(d.Seconds())
}

func (p *pipelineMetrics) RecordClarification(_ context.Context, field string) {
	p.m.ClarificationQuestionTotal.WithLabelValues(field).Inc()
}

func (p *pipelineMetrics) RecordAskCache(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.m.AskCacheTotal.WithLabelValues(result).Inc()
}

func (p *pipelineMetrics) RecordInteractions(_ context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	p.m.InteractionsTotal.WithLabelValues(kind).Add(float64(n))
}
