package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/featurepulse-backend/internal/pkg/errors"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

// StageJobTypes maps the public stage names to job types.
var StageJobTypes = map[string]string{
	"score":     types.JobTypeContentScore,
	"extract":   types.JobTypeFeatureExtract,
	"aggregate": types.JobTypeFeatureAggregate,
	"reap":      types.JobTypeStaleReap,
}

type PipelineStats struct {
	WorkspaceID uuid.UUID          `json:"workspace_id"`
	Units       []repos.StageCount `json:"units"`
	Chunks      []repos.StageCount `json:"chunks"`
	Facts       []repos.StageCount `json:"facts"`
	Features    int64              `json:"features"`
}

type PipelineService interface {
	// Trigger enqueues the stage's job unless one is already runnable, in which
	// case the existing job is returned with created=false.
	Trigger(dbc dbctx.Context, workspaceID uuid.UUID, stage string) (*types.JobRun, bool, error)
	Stats(dbc dbctx.Context, workspaceID uuid.UUID) (*PipelineStats, error)
	AggregationRuns(dbc dbctx.Context, workspaceID uuid.UUID, limit int) ([]*types.AggregationRun, error)
}

type pipelineService struct {
	log      *logger.Logger
	jobs     JobService
	units    repos.ContentUnitRepo
	chunks   repos.ContentChunkRepo
	facts    repos.ExtractedFactRepo
	features repos.FeatureRepo
	runs     repos.AggregationRunRepo
}

func NewPipelineService(
	baseLog *logger.Logger,
	jobs JobService,
	units repos.ContentUnitRepo,
	chunks repos.ContentChunkRepo,
	facts repos.ExtractedFactRepo,
	features repos.FeatureRepo,
	runs repos.AggregationRunRepo,
) PipelineService {
	return &pipelineService{
		log:      baseLog.With("service", "PipelineService"),
		jobs:     jobs,
		units:    units,
		chunks:   chunks,
		facts:    facts,
		features: features,
		runs:     runs,
	}
}

func (s *pipelineService) Trigger(dbc dbctx.Context, workspaceID uuid.UUID, stage string) (*types.JobRun, bool, error) {
	jobType, ok := StageJobTypes[strings.ToLower(strings.TrimSpace(stage))]
	if !ok {
		return nil, false, fmt.Errorf("unknown stage %q: %w", stage, pkgerrors.ErrInvalidArgument)
	}
	var ws *uuid.UUID
	if jobType != types.JobTypeStaleReap {
		if workspaceID == uuid.Nil {
			return nil, false, fmt.Errorf("missing workspace id: %w", pkgerrors.ErrInvalidArgument)
		}
		ws = &workspaceID
	}

	job, created, err := s.jobs.EnqueueIfNeeded(dbc, ws, jobType, "manual")
	if err != nil {
		return job, created, err
	}
	if created {
		s.log.Info("Stage triggered", "job_type", jobType, "workspace_id", ws, "job_id", job.ID)
		return job, true, nil
	}
	existing, err := s.jobs.GetLatest(dbc, ws, jobType)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *pipelineService) Stats(dbc dbctx.Context, workspaceID uuid.UUID) (*PipelineStats, error) {
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("missing workspace id: %w", pkgerrors.ErrInvalidArgument)
	}
	out := &PipelineStats{WorkspaceID: workspaceID}
	var err error
	if out.Units, err = s.units.CountByStage(dbc, workspaceID); err != nil {
		return nil, fmt.Errorf("count units: %w", err)
	}
	if out.Chunks, err = s.chunks.CountByStage(dbc, workspaceID); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if out.Facts, err = s.facts.CountByStatus(dbc, workspaceID); err != nil {
		return nil, fmt.Errorf("count facts: %w", err)
	}
	if out.Features, err = s.features.CountByWorkspace(dbc, workspaceID); err != nil {
		return nil, fmt.Errorf("count features: %w", err)
	}
	return out, nil
}

func (s *pipelineService) AggregationRuns(dbc dbctx.Context, workspaceID uuid.UUID, limit int) ([]*types.AggregationRun, error) {
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("missing workspace id: %w", pkgerrors.ErrInvalidArgument)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.runs.ListByWorkspace(dbc, workspaceID, limit)
}
