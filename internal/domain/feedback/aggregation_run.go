package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AggregationRun records one Tier-3 batch execution for a workspace.
type AggregationRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	StartedAt   time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt  *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Processed   int        `gorm:"column:processed;not null;default:0" json:"processed"`
	Created     int        `gorm:"column:created;not null;default:0" json:"created"`
	Merged      int        `gorm:"column:merged;not null;default:0" json:"merged"`
	Duplicates  int        `gorm:"column:duplicates;not null;default:0" json:"duplicates"`
	Errors      int        `gorm:"column:errors;not null;default:0" json:"errors"`
	Error       string     `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (AggregationRun) TableName() string { return "aggregation_run" }

func (r *AggregationRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
