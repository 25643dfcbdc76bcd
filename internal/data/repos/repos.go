package repos

import (
	"github.com/yungbote/featurepulse-backend/internal/data/repos/feedback"
	"github.com/yungbote/featurepulse-backend/internal/data/repos/jobs"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"gorm.io/gorm"
)

type ClaimCoordinator = feedback.Coordinator
type ContentUnitRepo = feedback.ContentUnitRepo
type ContentChunkRepo = feedback.ContentChunkRepo
type ExtractedFactRepo = feedback.ExtractedFactRepo
type FeatureRepo = feedback.FeatureRepo
type ThemeRepo = feedback.ThemeRepo
type AggregationRunRepo = feedback.AggregationRunRepo

type JobRunRepo = jobs.JobRunRepo

type Classification = feedback.Classification
type Mention = feedback.Mention
type RunTotals = feedback.RunTotals
type StageCount = feedback.StageCount

func NewClaimCoordinator(db *gorm.DB, baseLog *logger.Logger, maxRetries int) *ClaimCoordinator {
	return feedback.NewCoordinator(db, baseLog, maxRetries)
}
func NewContentUnitRepo(db *gorm.DB, coord *ClaimCoordinator, baseLog *logger.Logger) ContentUnitRepo {
	return feedback.NewContentUnitRepo(db, coord, baseLog)
}
func NewContentChunkRepo(db *gorm.DB, coord *ClaimCoordinator, baseLog *logger.Logger) ContentChunkRepo {
	return feedback.NewContentChunkRepo(db, coord, baseLog)
}
func NewExtractedFactRepo(db *gorm.DB, baseLog *logger.Logger) ExtractedFactRepo {
	return feedback.NewExtractedFactRepo(db, baseLog)
}
func NewFeatureRepo(db *gorm.DB, baseLog *logger.Logger) FeatureRepo {
	return feedback.NewFeatureRepo(db, baseLog)
}
func NewThemeRepo(db *gorm.DB, baseLog *logger.Logger) ThemeRepo {
	return feedback.NewThemeRepo(db, baseLog)
}
func NewAggregationRunRepo(db *gorm.DB, baseLog *logger.Logger) AggregationRunRepo {
	return feedback.NewAggregationRunRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

func NewClaimToken() string { return feedback.NewClaimToken() }

func IsUniqueViolation(err error) bool { return feedback.IsUniqueViolation(err) }
