package feedback

import "time"

// PipelineState is embedded in every claimable content row (units and chunks).
type PipelineState struct {
	ProcessingStage    ProcessingStage `gorm:"column:processing_stage;not null;default:'ingested';index" json:"processing_stage"`
	IsFeatureRelevant  *bool           `gorm:"column:is_feature_relevant;index" json:"is_feature_relevant,omitempty"`
	RelevanceScore     *float64        `gorm:"column:relevance_score" json:"relevance_score,omitempty"`
	RelevanceReasoning string          `gorm:"column:relevance_reasoning;type:text" json:"relevance_reasoning,omitempty"`
	ClassifiedAt       *time.Time      `gorm:"column:classified_at;index" json:"classified_at,omitempty"`
	ExtractedAt        *time.Time      `gorm:"column:extracted_at;index" json:"extracted_at,omitempty"`
	AggregatedAt       *time.Time      `gorm:"column:aggregated_at" json:"aggregated_at,omitempty"`
	RetryCount         int             `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError          *string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	LockToken          *string         `gorm:"column:lock_token;index" json:"lock_token,omitempty"`
	LockedAt           *time.Time      `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
}

// Relevant reports whether Tier-1 flagged the row for extraction.
func (s PipelineState) Relevant() bool {
	return s.IsFeatureRelevant != nil && *s.IsFeatureRelevant
}

// Locked reports whether a worker currently holds a claim on the row.
func (s PipelineState) Locked() bool {
	return s.LockToken != nil && *s.LockToken != ""
}
