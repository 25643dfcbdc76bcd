package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContentChunk is a slice of an oversized ContentUnit. Chunking is decided upstream.
type ContentChunk struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID   uuid.UUID    `gorm:"type:uuid;not null;index" json:"workspace_id"`
	ContentUnitID uuid.UUID    `gorm:"type:uuid;not null;index;uniqueIndex:idx_content_chunk_parent_index,priority:1" json:"content_unit_id"`
	ContentUnit   *ContentUnit `gorm:"constraint:OnDelete:CASCADE;foreignKey:ContentUnitID;references:ID" json:"content_unit,omitempty"`
	ChunkIndex    int          `gorm:"column:chunk_index;not null;uniqueIndex:idx_content_chunk_parent_index,priority:2" json:"chunk_index"`

	Text       string         `gorm:"column:text;type:text;not null" json:"text"`
	ActorName  string         `gorm:"column:actor_name" json:"actor_name,omitempty"`
	ActorRole  string         `gorm:"column:actor_role" json:"actor_role,omitempty"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null" json:"occurred_at"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	PipelineState `gorm:"embedded"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ContentChunk) TableName() string { return "content_chunk" }

func (c *ContentChunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ProcessingStage == "" {
		c.ProcessingStage = StageIngested
	}
	return nil
}
