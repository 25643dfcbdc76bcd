package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/healthz", "200", time.Millisecond)
	m.ObserveStageRun("score", "succeeded", time.Second)
	m.IncRowOutcome("score", "classified")
	m.IncJobRun("content_score", "succeeded")
	m.SetDueRows("score", 3)
	assert.Equal(t, 0.0, m.RowOutcomes("score", "classified"))

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.IncRowOutcome("extract", "extracted")
	m.IncRowOutcome("extract", "extracted")
	m.SetDueRows("score", 12)
	m.ObserveStageRun("aggregate", "succeeded", 2*time.Second)

	assert.Equal(t, 2.0, m.RowOutcomes("extract", "extracted"))

	var buf bytes.Buffer
	require.NoError(t, m.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `fp_row_outcomes_total{stage="extract",outcome="extracted"} 2`)
	assert.Contains(t, out, `fp_due_rows{stage="score"} 12`)
	assert.Contains(t, out, `fp_stage_run_duration_seconds_bucket{stage="aggregate",le="5"} 1`)
	assert.Contains(t, out, `fp_stage_run_duration_seconds_bucket{stage="aggregate",le="1"} 0`)
	assert.Contains(t, out, `fp_stage_run_duration_seconds_count{stage="aggregate"} 1`)
	assert.Contains(t, out, "# TYPE fp_job_runs_total counter")
}

func TestLabelStringFillsMissingValues(t *testing.T) {
	assert.Equal(t, `{a="x",b="unknown"}`, labelString([]string{"a", "b"}, []string{"x"}))
	assert.Equal(t, "", labelString(nil, nil))
	assert.Equal(t, `{le="+Inf"}`, withLe("", "+Inf"))
}
