package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type ContentChunkRepo interface {
	Create(dbc dbctx.Context, chunks []*types.ContentChunk) ([]*types.ContentChunk, error)
	GetByContentUnitID(dbc dbctx.Context, contentUnitID uuid.UUID) ([]*types.ContentChunk, error)

	ClaimDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentChunk, error)
	ClaimDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentChunk, error)
	MarkClassified(dbc dbctx.Context, id uuid.UUID, claimToken string, c Classification) (bool, error)
	MarkExtracted(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error)
	MarkError(dbc dbctx.Context, id uuid.UUID, claimToken, message string, incrementRetry bool) (bool, error)

	CountDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error)
	CountDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error)
	WorkspacesDueForScoring(dbc dbctx.Context) ([]uuid.UUID, error)
	WorkspacesDueForExtraction(dbc dbctx.Context) ([]uuid.UUID, error)
	CountByStage(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error)
	ReleaseStaleLocks(dbc dbctx.Context, cutoff time.Time) (int64, error)
}

type contentChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
	ops stageOps[types.ContentChunk]
}

func NewContentChunkRepo(db *gorm.DB, coord *Coordinator, baseLog *logger.Logger) ContentChunkRepo {
	return &contentChunkRepo{
		db:  db,
		log: baseLog.With("repo", "ContentChunkRepo"),
		ops: stageOps[types.ContentChunk]{db: db, coord: coord},
	}
}

func (r *contentChunkRepo) Create(dbc dbctx.Context, chunks []*types.ContentChunk) ([]*types.ContentChunk, error) {
	if len(chunks) == 0 {
		return []*types.ContentChunk{}, nil
	}
	if err := dbc.DB(r.db).Create(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *contentChunkRepo) GetByContentUnitID(dbc dbctx.Context, contentUnitID uuid.UUID) ([]*types.ContentChunk, error) {
	var out []*types.ContentChunk
	if err := dbc.DB(r.db).
		Where("content_unit_id = ?", contentUnitID).
		Order("chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentChunkRepo) ClaimDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentChunk, error) {
	return r.ops.claimDueForScoring(dbc, workspaceID, limit, claimToken)
}

func (r *contentChunkRepo) ClaimDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID, limit int, claimToken string) ([]*types.ContentChunk, error) {
	return r.ops.claimDueForExtraction(dbc, workspaceID, limit, claimToken)
}

func (r *contentChunkRepo) MarkClassified(dbc dbctx.Context, id uuid.UUID, claimToken string, c Classification) (bool, error) {
	return r.ops.markClassified(dbc, id, claimToken, c)
}

func (r *contentChunkRepo) MarkExtracted(dbc dbctx.Context, id uuid.UUID, claimToken string) (bool, error) {
	return r.ops.markExtracted(dbc, id, claimToken)
}

func (r *contentChunkRepo) MarkError(dbc dbctx.Context, id uuid.UUID, claimToken, message string, incrementRetry bool) (bool, error) {
	return r.ops.markError(dbc, id, claimToken, message, incrementRetry)
}

func (r *contentChunkRepo) CountDueForScoring(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error) {
	return r.ops.countDue(dbc, workspaceID, dueForScoring)
}

func (r *contentChunkRepo) CountDueForExtraction(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error) {
	return r.ops.countDue(dbc, workspaceID, dueForExtraction)
}

func (r *contentChunkRepo) WorkspacesDueForScoring(dbc dbctx.Context) ([]uuid.UUID, error) {
	return r.ops.workspacesWithDue(dbc, dueForScoring)
}

func (r *contentChunkRepo) WorkspacesDueForExtraction(dbc dbctx.Context) ([]uuid.UUID, error) {
	return r.ops.workspacesWithDue(dbc, dueForExtraction)
}

func (r *contentChunkRepo) CountByStage(dbc dbctx.Context, workspaceID uuid.UUID) ([]StageCount, error) {
	return r.ops.countByStage(dbc, workspaceID)
}

func (r *contentChunkRepo) ReleaseStaleLocks(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	n, err := r.ops.releaseStaleLocks(dbc, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("Released stale content chunk claims", "count", n)
	}
	return n, nil
}
