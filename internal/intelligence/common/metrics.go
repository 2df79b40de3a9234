package common

import (
	"context"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// PipelineMetrics
// ---------------------------------------------------------------------------

// PipelineMetrics is the telemetry sink for the prescription pipeline.
// Implementations: Prometheus (infrastructure/monitoring/prometheus), Noop,
// and InMemory for tests.
type PipelineMetrics interface {
	// RecordRequest counts one pipeline run by terminal outcome
	// ("success", "needs_confirmation", or an error code).
	RecordRequest(ctx context.Context, outcome string)

	// RecordStage observes the wall time of one pipeline stage.
	RecordStage(ctx context.Context, stage string, d time.Duration)

	// RecordOracleCall counts one oracle call ("llm" or "ocr") by outcome.
	RecordOracleCall(ctx context.Context, oracle, outcome string, d time.Duration)

	// RecordClarification counts a clarification question for field.
	RecordClarification(ctx context.Context, field string)

	// RecordAskCache counts an ask-path cache lookup.
	RecordAskCache(ctx context.Context, hit bool)

	// RecordInteractions counts n detected interactions of kind.
	RecordInteractions(ctx context.Context, kind string, n int)
}

// ---------------------------------------------------------------------------
// Noop
// ---------------------------------------------------------------------------

type noopPipelineMetrics struct{}

// NewNoopPipelineMetrics returns a PipelineMetrics that records nothing.
func NewNoopPipelineMetrics() PipelineMetrics { return noopPipelineMetrics{} }

func (noopPipelineMetrics) RecordRequest(context.Context, string)                           {}
func (noopPipelineMetrics) RecordStage(context.Context, string, time.Duration)              {}
func (noopPipelineMetrics) RecordOracleCall(context.Context, string, string, time.Duration) {}
func (noopPipelineMetrics) RecordClarification(context.Context, string)                     {}
func (noopPipelineMetrics) RecordAskCache(context.Context, bool)                            {}
func (noopPipelineMetrics) RecordInteractions(context.Context, string, int)                 {}

// ---------------------------------------------------------------------------
// InMemory
// ---------------------------------------------------------------------------

// InMemoryPipelineMetrics keeps counters in maps for assertions in tests.
type InMemoryPipelineMetrics struct {
	mu             sync.Mutex
	Requests       map[string]int
	Stages         []string
	OracleCalls    map[string]int
	Clarifications map[string]int
	CacheHits      int
	CacheMisses    int
	Interactions   map[string]int
}

// NewInMemoryPipelineMetrics returns an empty recorder.
func NewInMemoryPipelineMetrics() *InMemoryPipelineMetrics {
	return &InMemoryPipelineMetrics{
		Requests:       map[string]int{},
		OracleCalls:    map[string]int{},
		Clarifications: map[string]int{},
		Interactions:   map[string]int{},
	}
}

func (m *InMemoryPipelineMetrics) RecordRequest(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[outcome]++
}

func (m *InMemoryPipelineMetrics) RecordStage(_ context.Context, stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stages = append(m.Stages, stage)
}

func (m *InMemoryPipelineMetrics) RecordOracleCall(_ context.Context, oracle, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OracleCalls[oracle+":"+outcome]++
}

func (m *InMemoryPipelineMetrics) RecordClarification(_ context.Context, field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Clarifications[field]++
}

func (m *InMemoryPipelineMetrics) RecordAskCache(_ context.Context, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.CacheHits++
	} else {
		m.CacheMisses++
	}
}

func (m *InMemoryPipelineMetrics) RecordInteractions(_ context.Context, kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Interactions[kind] += n
}

// StageList returns a copy of the recorded stage names in order.
func (m *InMemoryPipelineMetrics) StageList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Stages...)
}
