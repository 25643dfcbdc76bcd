package domain

import (
	"github.com/google/uuid"
	"github.com/yungbote/featurepulse-backend/internal/domain/feedback"
	"github.com/yungbote/featurepulse-backend/internal/domain/jobs"
	"gorm.io/datatypes"
)

type ProcessingStage = feedback.ProcessingStage
type AggregationStatus = feedback.AggregationStatus
type SourceType = feedback.SourceType

const (
	StageIngested   = feedback.StageIngested
	StageClassified = feedback.StageClassified
	StageExtracted  = feedback.StageExtracted
	StageAggregated = feedback.StageAggregated
	StageDuplicate  = feedback.StageDuplicate
	StageError      = feedback.StageError

	ColClassifiedAt = feedback.ColClassifiedAt
	ColExtractedAt  = feedback.ColExtractedAt
	ColAggregatedAt = feedback.ColAggregatedAt

	AggregationPending    = feedback.AggregationPending
	AggregationProcessing = feedback.AggregationProcessing
	AggregationAggregated = feedback.AggregationAggregated
	AggregationMerged     = feedback.AggregationMerged
	AggregationDuplicate  = feedback.AggregationDuplicate
	AggregationError      = feedback.AggregationError

	SourceCallTranscript   = feedback.SourceCallTranscript
	SourceEmailThread      = feedback.SourceEmailThread
	SourceChatMessage      = feedback.SourceChatMessage
	SourceMeetingRecording = feedback.SourceMeetingRecording

	RunStatusRunning   = feedback.RunStatusRunning
	RunStatusCompleted = feedback.RunStatusCompleted
	RunStatusFailed    = feedback.RunStatusFailed

	LevelCritical = feedback.LevelCritical
	LevelHigh     = feedback.LevelHigh
	LevelMedium   = feedback.LevelMedium
	LevelLow      = feedback.LevelLow

	FeatureStatusNew = feedback.FeatureStatusNew
)

const (
	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed
	JobStatusCanceled  = jobs.StatusCanceled

	JobTypeContentScore     = jobs.TypeContentScore
	JobTypeFeatureExtract   = jobs.TypeFeatureExtract
	JobTypeFeatureAggregate = jobs.TypeFeatureAggregate
	JobTypeStaleReap        = jobs.TypeStaleReap
)

type ContentUnit = feedback.ContentUnit
type ContentChunk = feedback.ContentChunk
type ExtractedFact = feedback.ExtractedFact
type Feature = feedback.Feature
type Theme = feedback.Theme
type AggregationRun = feedback.AggregationRun
type PipelineState = feedback.PipelineState
type FeatureMetadata = feedback.FeatureMetadata
type FeatureFactRef = feedback.FeatureFactRef

func DecodeFeatureMetadata(raw datatypes.JSON) FeatureMetadata {
	return feedback.DecodeFeatureMetadata(raw)
}

func UnitSourceKey(id uuid.UUID) string  { return feedback.UnitSourceKey(id) }
func ChunkSourceKey(id uuid.UUID) string { return feedback.ChunkSourceKey(id) }

type JobRun = jobs.JobRun

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&feedback.Theme{},
		&feedback.ContentUnit{},
		&feedback.ContentChunk{},
		&feedback.Feature{},
		&feedback.ExtractedFact{},
		&feedback.AggregationRun{},
		&jobs.JobRun{},
	}
}
