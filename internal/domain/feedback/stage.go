package feedback

// ProcessingStage is the per-row pipeline state for content units and chunks.
// Transitions only move forward: ingested -> classified -> extracted -> {aggregated|duplicate|error}.
type ProcessingStage string

const (
	StageIngested   ProcessingStage = "ingested"
	StageClassified ProcessingStage = "classified"
	StageExtracted  ProcessingStage = "extracted"
	StageAggregated ProcessingStage = "aggregated"
	StageDuplicate  ProcessingStage = "duplicate"
	StageError      ProcessingStage = "error"
)

var stageOrder = map[ProcessingStage]int{
	StageIngested:   0,
	StageClassified: 1,
	StageExtracted:  2,
	StageAggregated: 3,
	StageDuplicate:  3,
	StageError:      3,
}

// Rank orders stages for monotonicity checks. Unknown stages rank -1.
func (s ProcessingStage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

func (s ProcessingStage) Terminal() bool {
	return s == StageAggregated || s == StageDuplicate || s == StageError
}

// Stage timestamp columns. Only these may be stamped by the claim coordinator.
const (
	ColClassifiedAt = "classified_at"
	ColExtractedAt  = "extracted_at"
	ColAggregatedAt = "aggregated_at"
)

type AggregationStatus string

const (
	AggregationPending    AggregationStatus = "pending"
	AggregationProcessing AggregationStatus = "processing"
	AggregationAggregated AggregationStatus = "aggregated"
	AggregationMerged     AggregationStatus = "merged"
	AggregationDuplicate  AggregationStatus = "duplicate"
	AggregationError      AggregationStatus = "error"
)

func (s AggregationStatus) Terminal() bool {
	switch s {
	case AggregationAggregated, AggregationMerged, AggregationDuplicate, AggregationError:
		return true
	}
	return false
}

type SourceType string

const (
	SourceCallTranscript   SourceType = "call_transcript"
	SourceEmailThread      SourceType = "email_thread"
	SourceChatMessage      SourceType = "chat_message"
	SourceMeetingRecording SourceType = "meeting_recording"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceCallTranscript, SourceEmailThread, SourceChatMessage, SourceMeetingRecording:
		return true
	}
	return false
}

// Label is the human wording used in prompts.
func (s SourceType) Label() string {
	switch s {
	case SourceCallTranscript:
		return "call transcript"
	case SourceEmailThread:
		return "email thread"
	case SourceChatMessage:
		return "chat message"
	case SourceMeetingRecording:
		return "meeting recording"
	}
	return string(s)
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const (
	LevelCritical = "critical"
	LevelHigh     = "high"
	LevelMedium   = "medium"
	LevelLow      = "low"
)

const FeatureStatusNew = "new"
