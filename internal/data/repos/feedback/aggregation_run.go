package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

// RunTotals are the per-run outcome counters.
type RunTotals struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Merged     int `json:"merged"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

type AggregationRunRepo interface {
	// Start returns the run with runID, creating it in running state if absent.
	Start(dbc dbctx.Context, workspaceID, runID uuid.UUID) (*types.AggregationRun, error)
	Finish(dbc dbctx.Context, id uuid.UUID, status string, totals RunTotals, errMsg string) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AggregationRun, error)
	ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID, limit int) ([]*types.AggregationRun, error)
}

type aggregationRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAggregationRunRepo(db *gorm.DB, baseLog *logger.Logger) AggregationRunRepo {
	return &aggregationRunRepo{db: db, log: baseLog.With("repo", "AggregationRunRepo")}
}

func (r *aggregationRunRepo) Start(dbc dbctx.Context, workspaceID, runID uuid.UUID) (*types.AggregationRun, error) {
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	existing, err := r.GetByID(dbc, runID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	run := &types.AggregationRun{
		ID:          runID,
		WorkspaceID: workspaceID,
		Status:      types.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := dbc.DB(r.db).Create(run).Error; err != nil {
		if IsUniqueViolation(err) {
			return r.GetByID(dbc, runID)
		}
		return nil, err
	}
	return run, nil
}

func (r *aggregationRunRepo) Finish(dbc dbctx.Context, id uuid.UUID, status string, totals RunTotals, errMsg string) error {
	now := time.Now().UTC()
	return dbc.DB(r.db).Model(&types.AggregationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
			"processed":   totals.Processed,
			"created":     totals.Created,
			"merged":      totals.Merged,
			"duplicates":  totals.Duplicates,
			"errors":      totals.Errors,
			"error":       TruncateError(errMsg),
			"updated_at":  now,
		}).Error
}

func (r *aggregationRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AggregationRun, error) {
	var run types.AggregationRun
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&run).Error; err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *aggregationRunRepo) ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID, limit int) ([]*types.AggregationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	out := []*types.AggregationRun{}
	if err := dbc.DB(r.db).
		Where("workspace_id = ?", workspaceID).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
