package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
)

// Classification is the Tier-1 outcome written alongside the classified stamp.
type Classification struct {
	Relevant  bool
	Score     float64
	Reasoning string
}

// stageOps implements the due queries and transitions shared by units and chunks.
type stageOps[T Claimable] struct {
	db    *gorm.DB
	coord *Coordinator
	// due narrows every due query; units use it to exclude chunked parents.
	due func(*gorm.DB) *gorm.DB
}

func (s stageOps[T]) scope(workspaceID uuid.UUID, cond func(*gorm.DB) *gorm.DB) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("workspace_id = ?", workspaceID)
		if s.due != nil {
			q = s.due(q)
		}
		return cond(q)
	}
}

func dueForScoring(q *gorm.DB) *gorm.DB {
	return q.Where("processing_stage = ? AND classified_at IS NULL", string(types.StageIngested))
}

func dueForExtraction(q *gorm.DB) *gorm.DB {
	return q.Where("processing_stage = ? AND is_feature_relevant = ? AND extracted_at IS NULL", string(types.StageClassified), true)
}

func (s stageOps[T]) claimDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID, limit int, token string) ([]*T, error) {
	return Acquire[T](dbc, s.coord, AcquireQuery{
		Scope:      s.scope(workspaceID, dueForScoring),
		BatchSize:  limit,
		ClaimToken: token,
	})
}

func (s stageOps[T]) claimDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID, limit int, token string) ([]*T, error) {
	return Acquire[T](dbc, s.coord, AcquireQuery{
		Scope:      s.scope(workspaceID, dueForExtraction),
		BatchSize:  limit,
		ClaimToken: token,
	})
}

func (s stageOps[T]) markClassified(dbc dbctx.Context, id uuid.UUID, token string, c Classification) (bool, error) {
	return MarkProcessed[T](dbc, s.coord, id, types.StageClassified, types.ColClassifiedAt, token, map[string]interface{}{
		"is_feature_relevant": c.Relevant,
		"relevance_score":     c.Score,
		"relevance_reasoning": c.Reasoning,
	})
}

func (s stageOps[T]) markExtracted(dbc dbctx.Context, id uuid.UUID, token string) (bool, error) {
	return MarkProcessed[T](dbc, s.coord, id, types.StageExtracted, types.ColExtractedAt, token, nil)
}

func (s stageOps[T]) markError(dbc dbctx.Context, id uuid.UUID, token, message string, incrementRetry bool) (bool, error) {
	return MarkError[T](dbc, s.coord, id, message, token, incrementRetry)
}

func (s stageOps[T]) countDue(dbc dbctx.Context, workspaceID uuid.UUID, cond func(*gorm.DB) *gorm.DB) (int64, error) {
	var n int64
	q := s.scope(workspaceID, cond)(dbc.DB(s.db).Model(new(T)).Where("lock_token IS NULL"))
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (s stageOps[T]) workspacesWithDue(dbc dbctx.Context, cond func(*gorm.DB) *gorm.DB) ([]uuid.UUID, error) {
	q := dbc.DB(s.db).Model(new(T)).Where("lock_token IS NULL")
	if s.due != nil {
		q = s.due(q)
	}
	var ids []uuid.UUID
	if err := cond(q).Distinct("workspace_id").Pluck("workspace_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// releaseStaleLocks clears claims older than cutoff on rows still due for the
// stage they were claimed for. Stage and stamps are left untouched.
func (s stageOps[T]) releaseStaleLocks(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	res := dbc.DB(s.db).Model(new(T)).
		Where("lock_token IS NOT NULL AND locked_at < ?", cutoff.UTC()).
		Where(
			"((processing_stage = ? AND classified_at IS NULL) OR (processing_stage = ? AND extracted_at IS NULL))",
			string(types.StageIngested), string(types.StageClassified),
		).
		Updates(map[string]interface{}{
			"lock_token": nil,
			"locked_at":  nil,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// StageCount is one row of a per-stage histogram.
type StageCount struct {
	Stage string `json:"stage"`
	Count int64  `json:"count"`
}

func (s stageOps[T]) countByStage(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error) {
	var out []StageCount
	err := dbc.DB(s.db).Model(new(T)).
		Select("processing_stage AS stage, COUNT(*) AS count").
		Where("workspace_id = ?", workspaceID).
		Group("processing_stage").
		Order("processing_stage").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
