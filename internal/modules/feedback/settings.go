package feedback

import "time"

// Settings are the pipeline knobs shared by the stage handlers.
type Settings struct {
	Tier1BatchSize      int           `yaml:"tier1_batch_size"`
	Tier2BatchSize      int           `yaml:"tier2_batch_size"`
	Tier3BatchSize      int           `yaml:"tier3_batch_size"`
	RelevanceThreshold  float64       `yaml:"relevance_threshold"`
	MinConfidence       float64       `yaml:"extraction_min_confidence"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	HintThreshold       float64       `yaml:"match_hint_threshold"`
	MaxInFlight         int           `yaml:"llm_max_in_flight"`
	StaleAfter          time.Duration `yaml:"stale_lock_timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		Tier1BatchSize:      15,
		Tier2BatchSize:      10,
		Tier3BatchSize:      50,
		RelevanceThreshold:  6.0,
		MinConfidence:       0.5,
		SimilarityThreshold: 0.75,
		HintThreshold:       0.9,
		MaxInFlight:         5,
		StaleAfter:          30 * time.Minute,
	}
}
