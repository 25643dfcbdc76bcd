package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExtractedFact is one candidate feature request produced by Tier-2 for a unit or chunk.
type ExtractedFact struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	ContentUnitID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"content_unit_id"`
	ContentChunkID *uuid.UUID `gorm:"type:uuid;index" json:"content_chunk_id,omitempty"`
	// SourceKey is "unit:<id>" or "chunk:<id>"; unique so a row yields at most one fact.
	SourceKey  string     `gorm:"column:source_key;not null;uniqueIndex" json:"source_key"`
	SourceType SourceType `gorm:"column:source_type" json:"source_type"`

	Title            string         `gorm:"column:title;not null" json:"title"`
	Description      string         `gorm:"column:description;type:text" json:"description,omitempty"`
	ProblemStatement string         `gorm:"column:problem_statement;type:text" json:"problem_statement,omitempty"`
	DesiredOutcome   string         `gorm:"column:desired_outcome;type:text" json:"desired_outcome,omitempty"`
	ActorPersona     string         `gorm:"column:actor_persona" json:"actor_persona,omitempty"`
	PriorityHint     string         `gorm:"column:priority_hint" json:"priority_hint,omitempty"`
	UrgencyHint      string         `gorm:"column:urgency_hint" json:"urgency_hint,omitempty"`
	Sentiment        string         `gorm:"column:sentiment" json:"sentiment,omitempty"`
	Keywords         datatypes.JSON `gorm:"column:keywords;type:jsonb" json:"keywords,omitempty"`
	Confidence       float64        `gorm:"column:confidence;not null;default:0" json:"confidence"`

	SuggestedThemeID   *uuid.UUID `gorm:"type:uuid;index" json:"suggested_theme_id,omitempty"`
	SuggestedThemeName string     `gorm:"column:suggested_theme_name" json:"suggested_theme_name,omitempty"`
	ThemeConfidence    float64    `gorm:"column:theme_confidence;not null;default:0" json:"theme_confidence"`
	MatchedFeatureID   *uuid.UUID `gorm:"type:uuid" json:"matched_feature_id,omitempty"`
	MatchConfidence    float64    `gorm:"column:match_confidence;not null;default:0" json:"match_confidence"`

	ContentHash       string            `gorm:"column:content_hash;not null;index" json:"content_hash"`
	AggregationStatus AggregationStatus `gorm:"column:aggregation_status;not null;default:'pending';index" json:"aggregation_status"`
	AggregationRunID  *uuid.UUID        `gorm:"type:uuid;index" json:"aggregation_run_id,omitempty"`
	FeatureID         *uuid.UUID        `gorm:"type:uuid;index" json:"feature_id,omitempty"`
	Similarity        *float64          `gorm:"column:similarity" json:"similarity,omitempty"`
	AggregatedAt      *time.Time        `gorm:"column:aggregated_at" json:"aggregated_at,omitempty"`
	RetryCount        int               `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError         *string           `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	LockedAt          *time.Time        `gorm:"column:locked_at;index" json:"locked_at,omitempty"`

	OccurredAt time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (ExtractedFact) TableName() string { return "extracted_fact" }

func (f *ExtractedFact) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.AggregationStatus == "" {
		f.AggregationStatus = AggregationPending
	}
	return nil
}

func UnitSourceKey(id uuid.UUID) string  { return "unit:" + id.String() }
func ChunkSourceKey(id uuid.UUID) string { return "chunk:" + id.String() }
