package observability

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/featurepulse-backend/internal/pkg/envutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

// Metrics holds the pipeline's process-level counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	apiRequests   *CounterVec
	apiLatency    *HistogramVec
	stageRuns     *CounterVec
	stageDuration *HistogramVec
	rowOutcomes   *CounterVec
	llmRequests   *CounterVec
	llmLatency    *HistogramVec
	llmTokens     *CounterVec
	jobRuns       *CounterVec
	dueRows       *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds an unregistered instance; Init is the process-wide entry point.
func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("fp_api_requests_total", "Admin API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"fp_api_request_duration_seconds",
			"Admin API request latency in seconds.",
			[]string{"method", "route"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		stageRuns: NewCounterVec("fp_stage_runs_total", "Pipeline stage runs by stage/status.", []string{"stage", "status"}),
		stageDuration: NewHistogramVec(
			"fp_stage_run_duration_seconds",
			"Pipeline stage run duration in seconds.",
			[]string{"stage"},
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		),
		rowOutcomes: NewCounterVec("fp_row_outcomes_total", "Per-row outcomes by stage/outcome.", []string{"stage", "outcome"}),
		llmRequests: NewCounterVec("fp_llm_requests_total", "LLM requests by provider/schema/status.", []string{"provider", "schema", "status"}),
		llmLatency: NewHistogramVec(
			"fp_llm_request_duration_seconds",
			"LLM request latency in seconds.",
			[]string{"provider", "schema"},
			[]float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		),
		llmTokens: NewCounterVec("fp_llm_tokens_total", "LLM tokens by provider/direction.", []string{"provider", "direction"}),
		jobRuns:   NewCounterVec("fp_job_runs_total", "Job runs by type/status.", []string{"job_type", "status"}),
		dueRows:   NewGaugeVec("fp_due_rows", "Due rows observed by the scheduler per stage.", []string{"stage"}),
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ObserveStageRun(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.Inc(stage, status)
	if dur > 0 {
		m.stageDuration.Observe(dur.Seconds(), stage)
	}
}

func (m *Metrics) IncRowOutcome(stage, outcome string) {
	if m == nil {
		return
	}
	m.rowOutcomes.Inc(stage, outcome)
}

func (m *Metrics) RowOutcomes(stage, outcome string) float64 {
	if m == nil {
		return 0
	}
	return m.rowOutcomes.Value(stage, outcome)
}

func (m *Metrics) ObserveLLMRequest(provider, schema, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	provider = strings.TrimSpace(provider)
	m.llmRequests.Inc(provider, schema, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), provider, schema)
	}
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), provider, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), provider, "output")
	}
}

func (m *Metrics) IncJobRun(jobType, status string) {
	if m == nil {
		return
	}
	m.jobRuns.Inc(jobType, status)
}

func (m *Metrics) SetDueRows(stage string, n int64) {
	if m == nil {
		return
	}
	m.dueRows.Set(float64(n), stage)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, wr := range []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency,
		m.stageRuns, m.stageDuration, m.rowOutcomes,
		m.llmRequests, m.llmLatency, m.llmTokens,
		m.jobRuns, m.dueRows,
	} {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}
