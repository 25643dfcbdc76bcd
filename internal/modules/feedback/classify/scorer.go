package classify

import (
	"context"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/prompts"
)

// MaxScoreTextRunes bounds the content sent to the relevance scorer.
const MaxScoreTextRunes = 6000

type ScoreInput struct {
	Text       string
	SourceType string
	ActorRole  string
}

type Scorer struct {
	gw *Gateway
}

func NewScorer(gw *Gateway) *Scorer { return &Scorer{gw: gw} }

// Score always returns a usable result. On a call or parse failure the result is the
// default score with Defaulted set, and the error is returned for logging.
func (s *Scorer) Score(ctx context.Context, in ScoreInput) (RelevanceResult, error) {
	fallback := RelevanceResult{Score: DefaultRelevanceScore, Defaulted: true}
	p, err := prompts.Build(prompts.PromptRelevanceScore, prompts.Input{
		Text:       truncateRunes(in.Text, MaxScoreTextRunes),
		SourceType: in.SourceType,
		ActorRole:  in.ActorRole,
	})
	if err != nil {
		return fallback, err
	}
	raw, err := s.gw.Generate(ctx, p)
	if err != nil {
		return fallback, err
	}
	res, err := ParseRelevance(raw)
	if err != nil {
		return fallback, err
	}
	return res, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
