package prompts

// Input is a superset of the fields any prompt renders.
// Missing fields render empty strings (templates use missingkey=zero).
type Input struct {
	// Content under analysis
	Title      string
	Text       string
	SourceType string
	ActorName  string
	ActorRole  string

	// Extraction context
	ThemesJSON   string
	FeaturesJSON string

	// Comparison
	FactJSON       string
	CandidatesJSON string
}
