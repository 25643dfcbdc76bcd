package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type ContentUnitRepo interface {
	Create(dbc dbctx.Context, units []*types.ContentUnit) ([]*types.ContentUnit, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContentUnit, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ContentUnit, error)

	ClaimDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentUnit, error)
	ClaimDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentUnit, error)
	MarkClassified(dbc dbctx.Context, id uuid.UUID, claimToken string, c Classification) (bool, error)
	MarkExtracted(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error)
	MarkError(dbc dbctx.Context, id uuid.UUID, claimToken, message string, incrementRetry bool) (bool, error)

	// RollUpClassified stamps chunked parents whose chunks have all left the ingested stage.
	RollUpClassified(dbc dbctx.Context, parentIDs []uuid.UUID) (int, error)
	// RollUpExtracted stamps relevant chunked parents with no chunk still due for Tier-1 or Tier-2.
	RollUpExtracted(dbc dbctx.Context, parentIDs []uuid.UUID) (int, error)

	CountDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error)
	CountDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error)
	WorkspacesDueForScoring(dbc dbctx.Context) ([]uuid.UUID, error)
	WorkspacesDueForExtraction(dbc dbctx.Context) ([]uuid.UUID, error)
	CountByStage(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error)
	ReleaseStaleLocks(dbc dbctx.Context, cutoff time.Time) (int64, error)
}

type contentUnitRepo struct {
	db  *gorm.DB
	log *logger.Logger
	ops stageOps[types.ContentUnit]
}

func NewContentUnitRepo(db *gorm.DB, coord *Coordinator, baseLog *logger.Logger) ContentUnitRepo {
	return &contentUnitRepo{
		db:  db,
		log: baseLog.With("repo", "ContentUnitRepo"),
		ops: stageOps[types.ContentUnit]{
			db:    db,
			coord: coord,
			due: func(q *gorm.DB) *gorm.DB {
				return q.Where("is_chunked = ?", false)
			},
		},
	}
}

func (r *contentUnitRepo) Create(dbc dbctx.Context, units []*types.ContentUnit) ([]*types.ContentUnit, error) {
	if len(units) == 0 {
		return []*types.ContentUnit{}, nil
	}
	if err := dbc.DB(r.db).Create(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}

func (r *contentUnitRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContentUnit, error) {
	var u types.ContentUnit
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&u).Error; err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}

func (r *contentUnitRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ContentUnit, error) {
	var out []*types.ContentUnit
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentUnitRepo) ClaimDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentUnit, error) {
	return r.ops.claimDueForScoring(dbc, workspaceID, limit, claimToken)
}

func (r *contentUnitRepo) ClaimDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentUnit, error) {
	return r.ops.claimDueForExtraction(dbc, workspaceID, limit, claimToken)
}

func (r *contentUnitRepo) MarkClassified(dbc dbctx.Context, id uuid.UUID, claimToken string, c Classification) (bool, error) {
	return r.ops.markClassified(dbc, id, claimToken, c)
}

func (r *contentUnitRepo) MarkExtracted(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error) {
	return r.ops.markExtracted(dbc, id, claimToken)
}

func (r *contentUnitRepo) MarkError(dbc dbctx.Context, id uuid.UUID, claimToken, message string, incrementRetry bool) (bool, error) {
	return r.ops.markError(dbc, id, claimToken, message, incrementRetry)
}

func (r *contentUnitRepo) RollUpClassified(dbc dbctx.Context, parentIDs []uuid.UUID) (int, error) {
	if len(parentIDs) == 0 {
		return 0, nil
	}
	db := dbc.DB(r.db)
	var parents []*types.ContentUnit
	if err := db.Where("id IN ? AND is_chunked = ? AND classified_at IS NULL", parentIDs, true).Find(&parents).Error; err != nil {
		return 0, err
	}
	n := 0
	for _, p := range parents {
		var pending int64
		if err := db.Model(&types.ContentChunk{}).
			Where("content_unit_id = ? AND processing_stage = ?", p.ID, string(types.StageIngested)).
			Count(&pending).Error; err != nil {
			return n, err
		}
		if pending > 0 {
			continue
		}
		var agg struct {
			Relevant int64
			MaxScore *float64
		}
		if err := db.Model(&types.ContentChunk{}).
			Select("COALESCE(SUM(CASE WHEN is_feature_relevant = ? THEN 1 ELSE 0 END), 0) AS relevant, MAX(relevance_score) AS max_score", true).
			Where("content_unit_id = ?", p.ID).
			Scan(&agg).Error; err != nil {
			return n, err
		}
		now := time.Now().UTC()
		res := db.Model(&types.ContentUnit{}).
			Where("id = ? AND classified_at IS NULL AND processing_stage = ?", p.ID, string(types.StageIngested)).
			Updates(map[string]interface{}{
				"processing_stage":    types.StageClassified,
				"classified_at":       now,
				"is_feature_relevant": agg.Relevant > 0,
				"relevance_score":     agg.MaxScore,
				"relevance_reasoning": "rolled up from chunks",
				"updated_at":          now,
			})
		if res.Error != nil {
			return n, res.Error
		}
		if res.RowsAffected > 0 {
			n++
		}
	}
	if n > 0 {
		r.log.Debug("Rolled up classified parents", "count", n)
	}
	return n, nil
}

func (r *contentUnitRepo) RollUpExtracted(dbc dbctx.Context, parentIDs []uuid.UUID) (int, error) {
	if len(parentIDs) == 0 {
		return 0, nil
	}
	db := dbc.DB(r.db)
	var parents []*types.ContentUnit
	if err := db.Where(
		"id IN ? AND is_chunked = ? AND processing_stage = ? AND is_feature_relevant = ? AND extracted_at IS NULL",
		parentIDs, true, string(types.StageClassified), true,
	).Find(&parents).Error; err != nil {
		return 0, err
	}
	n := 0
	for _, p := range parents {
		var remaining int64
		if err := db.Model(&types.ContentChunk{}).
			Where("content_unit_id = ?", p.ID).
			Where(
				"(processing_stage = ? OR (processing_stage = ? AND is_feature_relevant = ? AND extracted_at IS NULL))",
				string(types.StageIngested), string(types.StageClassified), true,
			).
			Count(&remaining).Error; err != nil {
			return n, err
		}
		if remaining > 0 {
			continue
		}
		now := time.Now().UTC()
		res := db.Model(&types.ContentUnit{}).
			Where("id = ? AND extracted_at IS NULL AND processing_stage = ?", p.ID, string(types.StageClassified)).
			Updates(map[string]interface{}{
				"processing_stage": types.StageExtracted,
				"extracted_at":     now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return n, res.Error
		}
		if res.RowsAffected > 0 {
			n++
		}
	}
	if n > 0 {
		r.log.Debug("Rolled up extracted parents", "count", n)
	}
	return n, nil
}

func (r *contentUnitRepo) CountDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error) {
	return r.ops.countDue(dbc, workspaceID, dueForScoring)
}

func (r *contentUnitRepo) CountDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error) {
	return r.ops.countDue(dbc, workspaceID, dueForExtraction)
}

func (r *contentUnitRepo) WorkspacesDueForScoring(dbc dbctx.Context) ([]uuid.UUID, error) {
	return r.ops.workspacesWithDue(dbc, dueForScoring)
}

func (r *contentUnitRepo) WorkspacesDueForExtraction(dbc dbctx.Context) ([]uuid.UUID, error) {
	return r.ops.workspacesWithDue(dbc, dueForExtraction)
}

func (r *contentUnitRepo) CountByStage(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error) {
	return r.ops.countByStage(dbc, workspaceID)
}

func (r *contentUnitRepo) ReleaseStaleLocks(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	n, err := r.ops.releaseStaleLocks(dbc, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("Released stale content unit claims", "count", n)
	}
	return n, nil
}
