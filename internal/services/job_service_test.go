package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/data/repos/testutil"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/pkg/ctxutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/featurepulse-backend/internal/pkg/errors"
)

func newJobService(t *testing.T) JobService {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return NewJobService(log, repos.NewJobRunRepo(db, log), runtime.DefaultRetryPolicy(), nil, "")
}

func TestEnqueueStoresWorkspaceAndTrace(t *testing.T) {
	svc := newJobService(t)
	ws := uuid.New()
	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "t-1", RequestID: "r-1"})

	job, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, &ws, types.JobTypeContentScore, map[string]any{"batch_size": 3})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, job.Status)
	require.NotNil(t, job.WorkspaceID)
	assert.Equal(t, ws, *job.WorkspaceID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, ws.String(), payload["workspace_id"])
	assert.Equal(t, "t-1", payload["trace_id"])
	assert.Equal(t, "r-1", payload["request_id"])
	assert.EqualValues(t, 3, payload["batch_size"])

	got, err := svc.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestEnqueueIfNeededSkipsWhenRunnableExists(t *testing.T) {
	svc := newJobService(t)
	ws := uuid.New()
	dbc := dbctx.Context{Ctx: context.Background()}

	first, created, err := svc.EnqueueIfNeeded(dbc, &ws, types.JobTypeFeatureAggregate, "chain")
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, first)

	again, created, err := svc.EnqueueIfNeeded(dbc, &ws, types.JobTypeFeatureAggregate, "scheduler")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, again)

	other := uuid.New()
	_, created, err = svc.EnqueueIfNeeded(dbc, &other, types.JobTypeFeatureAggregate, "scheduler")
	require.NoError(t, err)
	assert.True(t, created)

	latest, err := svc.GetLatest(dbc, &ws, types.JobTypeFeatureAggregate)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}

func TestGlobalJobsUseNullWorkspace(t *testing.T) {
	svc := newJobService(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	job, created, err := svc.EnqueueIfNeeded(dbc, nil, types.JobTypeStaleReap, "scheduler")
	require.NoError(t, err)
	if created {
		assert.Nil(t, job.WorkspaceID)
	}

	_, created, err = svc.EnqueueIfNeeded(dbc, nil, types.JobTypeStaleReap, "scheduler")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGetByIDMissing(t *testing.T) {
	svc := newJobService(t)
	_, err := svc.GetByID(dbctx.Context{Ctx: context.Background()}, uuid.New())
	assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
}

func TestEnqueueRejectsEmptyType(t *testing.T) {
	svc := newJobService(t)
	_, err := svc.Enqueue(dbctx.Context{Ctx: context.Background()}, nil, "", nil)
	assert.True(t, errors.Is(err, pkgerrors.ErrInvalidArgument))
}
