package feedback

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/classify"
	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/steps"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Units    repos.ContentUnitRepo
	Chunks   repos.ContentChunkRepo
	Facts    repos.ExtractedFactRepo
	Features repos.FeatureRepo
	Themes   repos.ThemeRepo
	Runs     repos.AggregationRunRepo

	Scorer     *classify.Scorer
	Extractor  *classify.Extractor
	Comparator *classify.Comparator

	Cache   steps.ContextCache
	Metrics *observability.Metrics

	// ChainAggregate enqueues a Tier-3 job after extraction produced facts.
	ChainAggregate func(ctx context.Context, workspaceID uuid.UUID) error
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) *Usecases {
	return &Usecases{deps: deps}
}

func (u *Usecases) ScoreContent(ctx context.Context, in steps.ScoreContentInput) (steps.ScoreContentOutput, error) {
	return steps.ScoreContent(ctx, steps.ScoreContentDeps{
		Log:     u.deps.Log,
		Units:   u.deps.Units,
		Chunks:  u.deps.Chunks,
		Scorer:  u.deps.Scorer,
		Metrics: u.deps.Metrics,
	}, in)
}

func (u *Usecases) ExtractFeatures(ctx context.Context, in steps.ExtractFeaturesInput) (steps.ExtractFeaturesOutput, error) {
	return steps.ExtractFeatures(ctx, steps.ExtractFeaturesDeps{
		DB:             u.deps.DB,
		Log:            u.deps.Log,
		Units:          u.deps.Units,
		Chunks:         u.deps.Chunks,
		Facts:          u.deps.Facts,
		Features:       u.deps.Features,
		Themes:         u.deps.Themes,
		Extractor:      u.deps.Extractor,
		Cache:          u.deps.Cache,
		Metrics:        u.deps.Metrics,
		ChainAggregate: u.deps.ChainAggregate,
	}, in)
}

func (u *Usecases) AggregateFeatures(ctx context.Context, in steps.AggregateFeaturesInput) (steps.AggregateFeaturesOutput, error) {
	return steps.AggregateFeatures(ctx, steps.AggregateFeaturesDeps{
		DB:         u.deps.DB,
		Log:        u.deps.Log,
		Facts:      u.deps.Facts,
		Features:   u.deps.Features,
		Runs:       u.deps.Runs,
		Comparator: u.deps.Comparator,
		Metrics:    u.deps.Metrics,
	}, in)
}

func (u *Usecases) ReapStale(ctx context.Context, in steps.ReapStaleInput) (steps.ReapStaleOutput, error) {
	return steps.ReapStale(ctx, steps.ReapStaleDeps{
		Log:     u.deps.Log,
		Units:   u.deps.Units,
		Chunks:  u.deps.Chunks,
		Facts:   u.deps.Facts,
		Metrics: u.deps.Metrics,
	}, in)
}
