package steps

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
)

// MaxContextFeatures bounds the recent features shown to the extractor.
const MaxContextFeatures = 30

// LoadExtractionContext returns the workspace themes and most recent features,
// through cache when one is configured.
func LoadExtractionContext(ctx context.Context, themes repos.ThemeRepo, features repos.FeatureRepo, cache ContextCache, workspaceID uuid.UUID) (*classify.ExtractionContext, error) {
	if cache != nil {
		if ec, ok := cache.GetExtractionContext(ctx, workspaceID); ok && ec != nil {
			return ec, nil
		}
	}
	dbc := dbctx.Context{Ctx: ctx}
	ts, err := themes.ListByWorkspace(dbc, workspaceID)
	if err != nil {
		return nil, err
	}
	fs, err := features.ListRecent(dbc, workspaceID, nil, MaxContextFeatures)
	if err != nil {
		return nil, err
	}
	ec := &classify.ExtractionContext{
		Themes:   make([]classify.ThemeRef, 0, len(ts)),
		Features: make([]classify.FeatureRef, 0, len(fs)),
	}
	for _, t := range ts {
		ec.Themes = append(ec.Themes, classify.ThemeRef{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	for _, f := range fs {
		ec.Features = append(ec.Features, classify.FeatureRef{ID: f.ID, Name: f.Name, Description: f.Description})
	}
	if cache != nil {
		cache.SetExtractionContext(ctx, workspaceID, ec)
	}
	return ec, nil
}
