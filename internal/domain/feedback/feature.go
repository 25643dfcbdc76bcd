package feedback

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Feature is the durable, user-facing aggregation of extracted facts.
type Feature struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	ThemeID     *uuid.UUID `gorm:"type:uuid;index" json:"theme_id,omitempty"`
	Theme       *Theme     `gorm:"constraint:OnDelete:SET NULL;foreignKey:ThemeID;references:ID" json:"theme,omitempty"`

	Name        string `gorm:"column:name;not null" json:"name"`
	Description string `gorm:"column:description;type:text" json:"description,omitempty"`
	Priority    string `gorm:"column:priority;not null;default:'medium'" json:"priority"`
	Urgency     string `gorm:"column:urgency;not null;default:'medium'" json:"urgency"`
	Status      string `gorm:"column:status;not null;default:'new'" json:"status"`

	MentionCount     int       `gorm:"column:mention_count;not null;default:1" json:"mention_count"`
	FirstMentionedAt time.Time `gorm:"column:first_mentioned_at;not null" json:"first_mentioned_at"`
	LastMentionedAt  time.Time `gorm:"column:last_mentioned_at;not null;index" json:"last_mentioned_at"`

	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Feature) TableName() string { return "feature" }

func (f *Feature) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// FeatureMetadata is the decoded shape of Feature.Metadata.
type FeatureMetadata struct {
	CreatedFromFactID string           `json:"created_from_fact_id,omitempty"`
	Keywords          []string         `json:"keywords,omitempty"`
	RecentFacts       []FeatureFactRef `json:"recent_facts,omitempty"`
}

// FeatureFactRef is one audit entry for a fact that contributed to a feature.
type FeatureFactRef struct {
	FactID        string    `json:"fact_id"`
	ContentUnitID string    `json:"content_unit_id"`
	Outcome       string    `json:"outcome"`
	Similarity    float64   `json:"similarity,omitempty"`
	At            time.Time `json:"at"`
}

const (
	MaxRecentFacts     = 20
	MaxFeatureKeywords = 25
)

// AppendFact records ref, keeping only the most recent MaxRecentFacts entries.
func (m *FeatureMetadata) AppendFact(ref FeatureFactRef) {
	m.RecentFacts = append(m.RecentFacts, ref)
	if over := len(m.RecentFacts) - MaxRecentFacts; over > 0 {
		m.RecentFacts = append([]FeatureFactRef(nil), m.RecentFacts[over:]...)
	}
}

// MergeKeywords unions kws into the existing list, case-insensitively, up to MaxFeatureKeywords.
func (m *FeatureMetadata) MergeKeywords(kws []string) {
	seen := make(map[string]bool, len(m.Keywords)+len(kws))
	out := make([]string, 0, len(m.Keywords)+len(kws))
	for _, list := range [][]string{m.Keywords, kws} {
		for _, k := range list {
			k = strings.TrimSpace(k)
			key := strings.ToLower(k)
			if k == "" || seen[key] {
				continue
			}
			if len(out) >= MaxFeatureKeywords {
				break
			}
			seen[key] = true
			out = append(out, k)
		}
	}
	m.Keywords = out
}

// DecodeFeatureMetadata tolerates empty or malformed JSON by returning an empty value.
func DecodeFeatureMetadata(raw datatypes.JSON) FeatureMetadata {
	var m FeatureMetadata
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

func (m FeatureMetadata) Encode() datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}
