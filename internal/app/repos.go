package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/repos"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type Repos struct {
	Units    repos.ContentUnitRepo
	Chunks   repos.ContentChunkRepo
	Facts    repos.ExtractedFactRepo
	Features repos.FeatureRepo
	Themes   repos.ThemeRepo
	Runs     repos.AggregationRunRepo
	JobRuns  repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, maxRowRetries int) Repos {
	log.Info("Wiring repos...")
	coord := repos.NewClaimCoordinator(db, log, maxRowRetries)
	return Repos{
		Units:    repos.NewContentUnitRepo(db, coord, log),
		Chunks:   repos.NewContentChunkRepo(db, coord, log),
		Facts:    repos.NewExtractedFactRepo(db, log),
		Features: repos.NewFeatureRepo(db, log),
		Themes:   repos.NewThemeRepo(db, log),
		Runs:     repos.NewAggregationRunRepo(db, log),
		JobRuns:  repos.NewJobRunRepo(db, log),
	}
}
