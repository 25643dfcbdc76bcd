package feedback

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type ThemeRepo interface {
	Create(dbc dbctx.Context, themes []*types.Theme) ([]*types.Theme, error)
	ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Theme, error)
}

type themeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThemeRepo(db *gorm.DB, baseLog *logger.Logger) ThemeRepo {
	return &themeRepo{db: db, log: baseLog.With("repo", "ThemeRepo")}
}

func (r *themeRepo) Create(dbc dbctx.Context, themes []*types.Theme) ([]*types.Theme, error) {
	if len(themes) == 0 {
		return []*types.Theme{}, nil
	}
	if err := dbc.DB(r.db).Create(&themes).Error; err != nil {
		return nil, err
	}
	return themes, nil
}

func (r *themeRepo) ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Theme, error) {
	out := []*types.Theme{}
	if err := dbc.DB(r.db).
		Where("workspace_id = ?", workspaceID).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
