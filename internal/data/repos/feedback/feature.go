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

// Mention is one fact folded into an existing feature.
type Mention struct {
	FactID        uuid.UUID
	ContentUnitID uuid.UUID
	OccurredAt    time.Time
	Similarity    float64
	Outcome       types.AggregationStatus
	Keywords      []string
}

type FeatureRepo interface {
	Create(dbc dbctx.Context, f *types.Feature) (*types.Feature, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Feature, error)
	GetInWorkspace(dbc dbctx.Context, workspaceID, id uuid.UUID) (*types.Feature, error)
	// ListRecent returns the most recently mentioned features in a theme, or
	// across the workspace when themeID is nil.
	ListRecent(dbc dbctx.Context, workspaceID uuid.UUID, themeID *uuid.UUID, limit int) ([]*types.Feature, error)
	RecordMention(dbc dbctx.Context, id uuid.UUID, m Mention) (*types.Feature, error)
	CountByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error)
}

type featureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFeatureRepo(db *gorm.DB, baseLog *logger.Logger) FeatureRepo {
	return &featureRepo{
		db:  db,
		log: baseLog.With("repo", "FeatureRepo"),
	}
}

func (r *featureRepo) Create(dbc dbctx.Context, f *types.Feature) (*types.Feature, error) {
	if err := dbc.DB(r.db).Create(f).Error; err != nil {
		return nil, err
	}
	return f, nil
}

func (r *featureRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Feature, error) {
	var f types.Feature
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *featureRepo) GetInWorkspace(dbc dbctx.Context, workspaceID, id uuid.UUID) (*types.Feature, error) {
	var f types.Feature
	if err := dbc.DB(r.db).Where("id = ? AND workspace_id = ?", id, workspaceID).Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *featureRepo) ListRecent(dbc dbctx.Context, workspaceID uuid.UUID, themeID *uuid.UUID, limit int) ([]*types.Feature, error) {
	out := []*types.Feature{}
	if limit <= 0 {
		return out, nil
	}
	q := dbc.DB(r.db).Where("workspace_id = ?", workspaceID)
	if themeID != nil && *themeID != uuid.Nil {
		q = q.Where("theme_id = ?", *themeID)
	}
	if err := q.Order("last_mentioned_at DESC").Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecordMention locks the feature row and folds m into its counters and audit metadata.
func (r *featureRepo) RecordMention(dbc dbctx.Context, id uuid.UUID, m Mention) (*types.Feature, error) {
	var out *types.Feature
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var f types.Feature
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Limit(1).
			Find(&f).Error; err != nil {
			return err
		}
		if f.ID == uuid.Nil {
			return gorm.ErrRecordNotFound
		}

		last := f.LastMentionedAt
		if m.OccurredAt.After(last) {
			last = m.OccurredAt.UTC()
		}
		meta := types.DecodeFeatureMetadata(f.Metadata)
		meta.AppendFact(types.FeatureFactRef{
			FactID:        m.FactID.String(),
			ContentUnitID: m.ContentUnitID.String(),
			Outcome:       string(m.Outcome),
			Similarity:    m.Similarity,
			At:            time.Now().UTC(),
		})
		meta.MergeKeywords(m.Keywords)

		now := time.Now().UTC()
		if err := txx.Model(&types.Feature{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"mention_count":     gorm.Expr("mention_count + 1"),
				"last_mentioned_at": last,
				"metadata":          meta.Encode(),
				"updated_at":        now,
			}).Error; err != nil {
			return err
		}
		f.MentionCount++
		f.LastMentionedAt = last
		f.Metadata = meta.Encode()
		f.UpdatedAt = now
		out = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *featureRepo) CountByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Feature{}).Where("workspace_id = ?", workspaceID).Count(&n).Error
	return n, err
}
