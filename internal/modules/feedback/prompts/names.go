package prompts

type PromptName string

const (
	PromptRelevanceScore PromptName = "relevance_score"
	PromptFeatureExtract PromptName = "feature_extract"
	PromptFeatureCompare PromptName = "feature_compare"
)
