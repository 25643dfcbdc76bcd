package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type ExtractedFactRepo interface {
	// CreateIdempotent inserts the fact unless one already exists for its source_key.
	CreateIdempotent(dbc dbctx.Context, fact *types.ExtractedFact) (bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ExtractedFact, error)
	GetBySourceKey(dbc dbctx.Context, sourceKey string) (*types.ExtractedFact, error)

	ClaimPendingForRun(dbc dbctx.Context, workspaceID, runID uuid.UUID, limit int) ([]*types.ExtractedFact, error)
	FindResolvedByHash(dbc dbctx.Context, workspaceID uuid.UUID, contentHash string, excludeID uuid.UUID) (*types.ExtractedFact, error)
	MarkOutcome(dbc dbctx.Context, id, runID uuid.UUID, status types.AggregationStatus, featureID *uuid.UUID, similarity *float64) (bool, error)
	MarkError(dbc dbctx.Context, id, runID uuid.UUID, message string) (bool, error)
	// RunTotals counts the outcomes of every fact resolved under runID, across attempts.
	RunTotals(dbc dbctx.Context, runID uuid.UUID) (RunTotals, error)

	ResetStaleProcessing(dbc dbctx.Context, cutoff time.Time) (int64, error)
	CountPending(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error)
	WorkspacesWithPending(dbc dbctx.Context) ([]uuid.UUID, error)
	CountByStatus(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error)
}

type extractedFactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtractedFactRepo(db *gorm.DB, baseLog *logger.Logger) ExtractedFactRepo {
	return &extractedFactRepo{
		db:  db,
		log: baseLog.With("repo", "ExtractedFactRepo"),
	}
}

func (r *extractedFactRepo) CreateIdempotent(dbc dbctx.Context, fact *types.ExtractedFact) (bool, error) {
	if fact == nil {
		return false, nil
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_key"}}, DoNothing: true}).
		Create(fact)
	if res.Error != nil {
		if IsUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Debug("Fact already exists for source; skipping insert", "source_key", fact.SourceKey)
		return false, nil
	}
	return true, nil
}

func (r *extractedFactRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ExtractedFact, error) {
	var f types.ExtractedFact
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *extractedFactRepo) GetBySourceKey(dbc dbctx.Context, sourceKey string) (*types.ExtractedFact, error) {
	var f types.ExtractedFact
	if err := dbc.DB(r.db).Where("source_key = ?", sourceKey).Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

// ClaimPendingForRun moves up to limit pending facts to processing under runID and
// returns every fact the run owns, including ones left behind by a crashed attempt.
func (r *extractedFactRepo) ClaimPendingForRun(dbc dbctx.Context, workspaceID, runID uuid.UUID, limit int) ([]*types.ExtractedFact, error) {
	out := []*types.ExtractedFact{}
	now := time.Now().UTC()
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var owned int64
		if err := txx.Model(&types.ExtractedFact{}).
			Where("aggregation_run_id = ? AND aggregation_status = ?", runID, string(types.AggregationProcessing)).
			Count(&owned).Error; err != nil {
			return err
		}
		if room := limit - int(owned); room > 0 {
			var ids []uuid.UUID
			if err := txx.Model(&types.ExtractedFact{}).
				Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("workspace_id = ? AND aggregation_status = ?", workspaceID, string(types.AggregationPending)).
				Order("created_at ASC").
				Limit(room).
				Pluck("id", &ids).Error; err != nil {
				return err
			}
			if len(ids) > 0 {
				if err := txx.Model(&types.ExtractedFact{}).
					Where("id IN ? AND aggregation_status = ?", ids, string(types.AggregationPending)).
					Updates(map[string]interface{}{
						"aggregation_status": types.AggregationProcessing,
						"aggregation_run_id": runID,
						"locked_at":          now,
						"updated_at":         now,
					}).Error; err != nil {
					return err
				}
			}
		}
		return txx.
			Where("aggregation_run_id = ? AND aggregation_status = ?", runID, string(types.AggregationProcessing)).
			Order("created_at ASC").
			Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindResolvedByHash returns an earlier fact with the same content hash that already
// resolved to a feature.
func (r *extractedFactRepo) FindResolvedByHash(dbc dbctx.Context, workspaceID uuid.UUID, contentHash string, excludeID uuid.UUID) (*types.ExtractedFact, error) {
	if contentHash == "" {
		return nil, nil
	}
	var f types.ExtractedFact
	err := dbc.DB(r.db).
		Where("workspace_id = ? AND content_hash = ? AND id <> ? AND feature_id IS NOT NULL", workspaceID, contentHash, excludeID).
		Where("aggregation_status IN ?", []string{
			string(types.AggregationAggregated),
			string(types.AggregationMerged),
			string(types.AggregationDuplicate),
		}).
		Order("created_at ASC").
		Limit(1).
		Find(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *extractedFactRepo) MarkOutcome(dbc dbctx.Context, id, runID uuid.UUID, status types.AggregationStatus, featureID *uuid.UUID, similarity *float64) (bool, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Where("id = ? AND aggregation_run_id = ? AND aggregation_status = ?", id, runID, string(types.AggregationProcessing)).
		Updates(map[string]interface{}{
			"aggregation_status": status,
			"feature_id":         featureID,
			"similarity":         similarity,
			"aggregated_at":      now,
			"locked_at":          nil,
			"last_error":         nil,
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Warn("Fact no longer owned by run; outcome skipped", "fact_id", id, "run_id", runID)
		return false, nil
	}
	return true, nil
}

func (r *extractedFactRepo) MarkError(dbc dbctx.Context, id, runID uuid.UUID, message string) (bool, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Where("id = ? AND aggregation_run_id = ? AND aggregation_status = ?", id, runID, string(types.AggregationProcessing)).
		Updates(map[string]interface{}{
			"aggregation_status": types.AggregationError,
			"retry_count":        gorm.Expr("retry_count + 1"),
			"last_error":         TruncateError(message),
			"locked_at":          nil,
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *extractedFactRepo) RunTotals(dbc dbctx.Context, runID uuid.UUID) (RunTotals, error) {
	var rows []StageCount
	err := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Select("aggregation_status AS stage, COUNT(*) AS count").
		Where("aggregation_run_id = ?", runID).
		Group("aggregation_status").
		Scan(&rows).Error
	if err != nil {
		return RunTotals{}, err
	}
	var t RunTotals
	for _, row := range rows {
		n := int(row.Count)
		switch types.AggregationStatus(row.Stage) {
		case types.AggregationAggregated:
			t.Created += n
		case types.AggregationMerged:
			t.Merged += n
		case types.AggregationDuplicate:
			t.Duplicates += n
		case types.AggregationError:
			t.Errors += n
		default:
			continue
		}
		t.Processed += n
	}
	return t, nil
}

// ResetStaleProcessing returns facts stuck in processing since before cutoff to pending.
func (r *extractedFactRepo) ResetStaleProcessing(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	res := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Where("aggregation_status = ? AND aggregated_at IS NULL AND locked_at < ?", string(types.AggregationProcessing), cutoff.UTC()).
		Updates(map[string]interface{}{
			"aggregation_status": types.AggregationPending,
			"aggregation_run_id": nil,
			"locked_at":          nil,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("Reset stale processing facts", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func (r *extractedFactRepo) CountPending(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Where("workspace_id = ? AND aggregation_status = ?", workspaceID, string(types.AggregationPending)).
		Count(&n).Error
	return n, err
}

func (r *extractedFactRepo) WorkspacesWithPending(dbc dbctx.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Where("aggregation_status = ?", string(types.AggregationPending)).
		Distinct("workspace_id").
		Pluck("workspace_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *extractedFactRepo) CountByStatus(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error) {
	var out []StageCount
	err := dbc.DB(r.db).Model(&types.ExtractedFact{}).
		Select("aggregation_status AS stage, COUNT(*) AS count").
		Where("workspace_id = ?", workspaceID).
		Group("aggregation_status").
		Order("aggregation_status").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
