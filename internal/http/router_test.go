package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/data/repos/testutil"
	httpH "github.com/yungbote/featurepulse-backend/internal/http/handlers"
	"github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/services"
)

type testAPI struct {
	engine *gin.Engine
	seed   func(ws uuid.UUID)
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	coord := repos.NewClaimCoordinator(db, log, 3)
	units := repos.NewContentUnitRepo(db, coord, log)
	chunks := repos.NewContentChunkRepo(db, coord, log)
	facts := repos.NewExtractedFactRepo(db, log)
	features := repos.NewFeatureRepo(db, log)
	runs := repos.NewAggregationRunRepo(db, log)
	jobs := services.NewJobService(log, repos.NewJobRunRepo(db, log), runtime.DefaultRetryPolicy(), nil, "")
	pipeline := services.NewPipelineService(log, jobs, units, chunks, facts, features, runs)

	engine := NewRouter(RouterConfig{
		Log:             log,
		Metrics:         observability.NewMetrics(),
		HealthHandler:   httpH.NewHealthHandler(db),
		PipelineHandler: httpH.NewPipelineHandler(log, pipeline),
		JobHandler:      httpH.NewJobHandler(jobs),
	})
	return testAPI{
		engine: engine,
		seed: func(ws uuid.UUID) {
			ctx := context.Background()
			now := time.Now().UTC()
			testutil.SeedUnit(t, ctx, db, ws, "please add sso", now)
			testutil.SeedFeature(t, ctx, db, ws, nil, "SSO", now)
		},
	}
}

func (a testAPI) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(t, nethttp.MethodGet, "/healthz")
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestTriggerCreatesThenReturnsExistingJob(t *testing.T) {
	api := newTestAPI(t)
	ws := uuid.New()

	w, body := api.do(t, nethttp.MethodPost, "/api/workspaces/"+ws.String()+"/pipeline/score/trigger")
	require.Equal(t, nethttp.StatusAccepted, w.Code)
	assert.Equal(t, true, body["created"])
	job := body["job"].(map[string]any)
	jobID := job["id"].(string)
	assert.Equal(t, "content_score", job["job_type"])

	w, body = api.do(t, nethttp.MethodPost, "/api/workspaces/"+ws.String()+"/pipeline/score/trigger")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, jobID, body["job"].(map[string]any)["id"])

	w, body = api.do(t, nethttp.MethodGet, "/api/jobs/"+jobID)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "queued", body["job"].(map[string]any)["status"])
}

func TestTriggerRejectsUnknownStage(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, nethttp.MethodPost, "/api/workspaces/"+uuid.NewString()+"/pipeline/publish/trigger")
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
	assert.Equal(t, "trigger_failed", body["error"].(map[string]any)["code"])
}

func TestInvalidWorkspaceID(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, nethttp.MethodGet, "/api/workspaces/not-a-uuid/pipeline/stats")
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_workspace_id", body["error"].(map[string]any)["code"])
}

func TestStatsCountsRows(t *testing.T) {
	api := newTestAPI(t)
	ws := uuid.New()
	api.seed(ws)

	w, body := api.do(t, nethttp.MethodGet, "/api/workspaces/"+ws.String()+"/pipeline/stats")
	require.Equal(t, nethttp.StatusOK, w.Code)
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["features"])
	units := stats["units"].([]any)
	require.Len(t, units, 1)
	assert.Equal(t, "ingested", units[0].(map[string]any)["stage"])
}

func TestAggregationRunsEmpty(t *testing.T) {
	api := newTestAPI(t)
	w, body := api.do(t, nethttp.MethodGet, "/api/workspaces/"+uuid.NewString()+"/aggregation-runs")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Empty(t, body["runs"])
}

func TestUnknownJob(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(t, nethttp.MethodGet, "/api/jobs/"+uuid.NewString())
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, nethttp.MethodGet, "/healthz")
	w, _ := api.do(t, nethttp.MethodGet, "/metrics")
	assert.Equal(t, nethttp.StatusOK, w.Code)
}
