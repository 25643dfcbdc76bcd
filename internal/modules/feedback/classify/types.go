package classify

import "github.com/google/uuid"

// DefaultRelevanceScore is used when the scorer fails so that content is never silently dropped.
const DefaultRelevanceScore = 6.0

type RelevanceResult struct {
	Score     float64
	Reasoning string
	// Defaulted marks a score substituted after a call or parse failure.
	Defaulted bool
}

type ExtractedFeature struct {
	Title            string
	Description      string
	ProblemStatement string
	DesiredOutcome   string
	ActorPersona     string
	Priority         string
	Urgency          string
	Sentiment        string
	Keywords         []string
}

type ThemeAssignment struct {
	ThemeID    *uuid.UUID
	ThemeName  string
	Confidence float64
}

type FeatureMatch struct {
	FeatureID  *uuid.UUID
	Confidence float64
}

// ExtractionResult is the typed Tier-2 reply. Every field is optional; zero values mean "not stated".
type ExtractionResult struct {
	HasFeature bool
	Feature    ExtractedFeature
	Theme      ThemeAssignment
	Match      FeatureMatch
	Confidence float64
}

type ComparisonResult struct {
	FeatureID  *uuid.UUID
	Similarity float64
	Reasoning  string
}

// ThemeRef and FeatureRef are the context entries shown to the model.
type ThemeRef struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

type FeatureRef struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// ExtractionContext is the per-workspace context shown to the extractor.
type ExtractionContext struct {
	Themes   []ThemeRef   `json:"themes"`
	Features []FeatureRef `json:"features"`
}
