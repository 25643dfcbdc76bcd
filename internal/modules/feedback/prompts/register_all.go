package prompts

func registerAll() {
	RegisterSpec(Spec{
		Name:       PromptRelevanceScore,
		Version:    1,
		SchemaName: "relevance_score",
		Schema:     RelevanceSchema,
		System: `
You triage customer conversations for a product team.
Score how likely the content contains a concrete product feature request, missing capability or workflow pain point.
0 means no product signal (small talk, billing, scheduling). 10 means an explicit, specific request.
Return JSON only.`,
		User: `
SOURCE: {{.SourceType}}
{{if .ActorRole}}SPEAKER ROLE: {{.ActorRole}}
{{end}}
CONTENT:
{{.Text}}

Output rules:
- score: number from 0 to 10.
- reasoning: one or two sentences naming the signal (or its absence).`,
		Validators: []Validator{
			RequireNonEmpty("Text", func(in Input) string { return in.Text }),
		},
	})

	RegisterSpec(Spec{
		Name:       PromptFeatureExtract,
		Version:    1,
		SchemaName: "feature_extract",
		Schema:     ExtractionSchema,
		System: `
You extract at most one product feature request from customer content.
Only report what the customer actually said; use null for anything not stated.
Prefer an existing theme and flag an existing feature only when it describes the same request.
Return JSON only.`,
		User: `
SOURCE: {{.SourceType}}
{{if .Title}}TITLE: {{.Title}}
{{end}}{{if .ActorName}}SPEAKER: {{.ActorName}}{{if .ActorRole}} ({{.ActorRole}}){{end}}
{{end}}
CONTENT:
{{.Text}}

WORKSPACE THEMES (id, name, description):
{{.ThemesJSON}}

RECENT FEATURES (id, name, description):
{{.FeaturesJSON}}

Output rules:
- has_feature: false when no request is present; confidence then reflects that.
- confidence: 0..1 that the extracted feature is a real, specific request.
- feature.title: short imperative name (max 12 words).
- feature.keywords: up to 8 lowercase keywords.
- theme_assignment.theme_id: an id from WORKSPACE THEMES or null; theme_name may propose a new theme.
- feature_match.feature_id: an id from RECENT FEATURES describing the same request, or null.`,
		Validators: []Validator{
			RequireNonEmpty("Text", func(in Input) string { return in.Text }),
		},
	})

	RegisterSpec(Spec{
		Name:       PromptFeatureCompare,
		Version:    1,
		SchemaName: "feature_compare",
		Schema:     ComparisonSchema,
		System: `
You deduplicate product feature requests.
Decide whether the new request asks for the same capability as one of the existing features.
Different wording of the same need is a match; related but distinct capabilities are not.
Return JSON only.`,
		User: `
NEW REQUEST:
{{.FactJSON}}

EXISTING FEATURES:
{{.CandidatesJSON}}

Output rules:
- match_feature_id: id of the single best matching existing feature, or null.
- similarity: 0..1 for that match (0 when null).
- reasoning: one sentence.`,
		Validators: []Validator{
			RequireNonEmpty("FactJSON", func(in Input) string { return in.FactJSON }),
			RequireNonEmpty("CandidatesJSON", func(in Input) string { return in.CandidatesJSON }),
		},
	})
}
