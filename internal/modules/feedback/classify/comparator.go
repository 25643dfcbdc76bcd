package classify

import (
	"context"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/prompts"
)

type CompareFact struct {
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	ProblemStatement string   `json:"problem_statement,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
}

type Comparator struct {
	gw *Gateway
}

func NewComparator(gw *Gateway) *Comparator { return &Comparator{gw: gw} }

// Compare asks which candidate, if any, describes the same request as fact.
// An empty candidate list is a no-match without a call.
func (c *Comparator) Compare(ctx context.Context, fact CompareFact, candidates []FeatureRef) (ComparisonResult, error) {
	if len(candidates) == 0 {
		return ComparisonResult{}, nil
	}
	p, err := prompts.Build(prompts.PromptFeatureCompare, prompts.Input{
		FactJSON:       mustJSON(fact),
		CandidatesJSON: mustJSON(candidates),
	})
	if err != nil {
		return ComparisonResult{}, err
	}
	raw, err := c.gw.Generate(ctx, p)
	if err != nil {
		return ComparisonResult{}, err
	}
	res, err := ParseComparison(raw)
	if err != nil {
		return ComparisonResult{}, err
	}
	if res.FeatureID != nil && !containsFeature(candidates, *res.FeatureID) {
		return ComparisonResult{Reasoning: res.Reasoning}, nil
	}
	return res, nil
}
