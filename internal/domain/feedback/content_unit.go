package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContentUnit is one ingested interaction (call, email thread, chat message, meeting).
// Input fields are written by ingestion and never mutated by the pipeline.
type ContentUnit struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_content_unit_source,priority:1" json:"workspace_id"`
	SourceType  SourceType `gorm:"column:source_type;not null;uniqueIndex:idx_content_unit_source,priority:2" json:"source_type"`
	SourceID    string     `gorm:"column:source_id;not null;uniqueIndex:idx_content_unit_source,priority:3" json:"source_id"`

	Title      string         `gorm:"column:title" json:"title,omitempty"`
	RawText    string         `gorm:"column:raw_text;type:text" json:"raw_text,omitempty"`
	CleanText  string         `gorm:"column:clean_text;type:text;not null" json:"clean_text"`
	ActorName  string         `gorm:"column:actor_name" json:"actor_name,omitempty"`
	ActorRole  string         `gorm:"column:actor_role" json:"actor_role,omitempty"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	// Chunked units are never claimed directly; their state rolls up from chunks.
	IsChunked bool `gorm:"column:is_chunked;not null;default:false;index" json:"is_chunked"`

	PipelineState `gorm:"embedded"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ContentUnit) TableName() string { return "content_unit" }

func (u *ContentUnit) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.ProcessingStage == "" {
		u.ProcessingStage = StageIngested
	}
	return nil
}
