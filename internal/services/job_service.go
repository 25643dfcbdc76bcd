package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/jobs/runtime"
	"github.com/yungbote/featurepulse-backend/internal/pkg/ctxutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/featurepulse-backend/internal/pkg/errors"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/temporalx/jobrun"
)

type JobService interface {
	Enqueue(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string, payload map[string]any) (*types.JobRun, error)
	// EnqueueIfNeeded enqueues unless a runnable job of the same type already exists
	// for the workspace. The bool reports whether a job was created.
	EnqueueIfNeeded(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string, trigger string) (*types.JobRun, bool, error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	GetLatest(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string) (*types.JobRun, error)
}

type jobService struct {
	log   *logger.Logger
	repo  repos.JobRunRepo
	retry runtime.RetryPolicy

	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

// NewJobService returns a service that persists job runs. With a Temporal client the
// run is also started as a workflow; without one the database worker claims it.
func NewJobService(
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	retry runtime.RetryPolicy,
	tc temporalsdkclient.Client,
	taskQueue string,
) JobService {
	return &jobService{
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		retry:             retry,
		temporal:          tc,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string, payload map[string]any) (*types.JobRun, error) {
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type: %w", pkgerrors.ErrInvalidArgument)
	}
	if workspaceID != nil && *workspaceID == uuid.Nil {
		workspaceID = nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if workspaceID != nil {
		payload["workspace_id"] = workspaceID.String()
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if _, ok := payload["trace_id"]; !ok && td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
		if _, ok := payload["request_id"]; !ok && td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		JobType:     jobType,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Debug("Job enqueued", "job_id", job.ID, "job_type", jobType, "workspace_id", workspaceID)

	// Inside a caller transaction the workflow must wait for commit; callers dispatch afterwards.
	if isDBTransaction(dbc.Tx) {
		return job, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

func (s *jobService) EnqueueIfNeeded(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string, trigger string) (*types.JobRun, bool, error) {
	exists, err := s.repo.ExistsRunnable(dbc, workspaceID, jobType, s.retry.MaxAttempts)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}
	job, err := s.Enqueue(dbc, workspaceID, jobType, map[string]any{"trigger": trigger})
	if err != nil {
		return job, job != nil, err
	}
	return job, true, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

// gorm.DB values are cloned freely, so pointer comparison cannot detect a transaction.
func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if s.temporal == nil {
		return nil
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id: %w", pkgerrors.ErrInvalidArgument)
	}
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.startWorkflow(ctx, jobID)
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.WorkflowExecutionAlreadyStarted); ok {
		return nil
	}

	now := time.Now().UTC()
	_ = s.repo.UpdateFields(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, jobID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"stage":         "dispatch",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) startWorkflow(ctx context.Context, jobID uuid.UUID) error {
	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "featurepulse"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, jobrun.WorkflowName, jobrun.Params{
		MaxAttempts:     int32(s.retry.MaxAttempts),
		InitialInterval: s.retry.Base,
		MaximumInterval: s.retry.Max,
	})
	return err
}

func (s *jobService) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	rows, err := s.repo.GetByIDs(dbc, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return rows[0], nil
}

func (s *jobService) GetLatest(dbc dbctx.Context, workspaceID *uuid.UUID, jobType string) (*types.JobRun, error) {
	job, err := s.repo.GetLatest(dbc, workspaceID, jobType)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return job, nil
}
