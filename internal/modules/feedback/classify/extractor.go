package classify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/modules/feedback/prompts"
)

// MaxExtractTextRunes bounds the content sent to the extractor.
const MaxExtractTextRunes = 12000

type ExtractInput struct {
	Title      string
	Text       string
	SourceType string
	ActorName  string
	ActorRole  string
	Themes     []ThemeRef
	Features   []FeatureRef
}

type Extractor struct {
	gw *Gateway
}

func NewExtractor(gw *Gateway) *Extractor { return &Extractor{gw: gw} }

// Extract returns the typed extraction. Theme and match ids the model invents
// (not present in the supplied context) are dropped.
func (e *Extractor) Extract(ctx context.Context, in ExtractInput) (ExtractionResult, error) {
	p, err := prompts.Build(prompts.PromptFeatureExtract, prompts.Input{
		Title:        in.Title,
		Text:         truncateRunes(in.Text, MaxExtractTextRunes),
		SourceType:   in.SourceType,
		ActorName:    in.ActorName,
		ActorRole:    in.ActorRole,
		ThemesJSON:   mustJSON(in.Themes),
		FeaturesJSON: mustJSON(in.Features),
	})
	if err != nil {
		return ExtractionResult{}, err
	}
	raw, err := e.gw.Generate(ctx, p)
	if err != nil {
		return ExtractionResult{}, err
	}
	res, err := ParseExtraction(raw)
	if err != nil {
		return ExtractionResult{}, err
	}

	if res.Theme.ThemeID != nil && !containsTheme(in.Themes, *res.Theme.ThemeID) {
		res.Theme.ThemeID = nil
	}
	if res.Theme.ThemeID != nil && res.Theme.ThemeName == "" {
		for _, t := range in.Themes {
			if t.ID == *res.Theme.ThemeID {
				res.Theme.ThemeName = t.Name
			}
		}
	}
	if res.Match.FeatureID != nil && !containsFeature(in.Features, *res.Match.FeatureID) {
		res.Match = FeatureMatch{}
	}
	return res, nil
}

func containsTheme(list []ThemeRef, id uuid.UUID) bool {
	for _, t := range list {
		if t.ID == id {
			return true
		}
	}
	return false
}

func containsFeature(list []FeatureRef, id uuid.UUID) bool {
	for _, f := range list {
		if f.ID == id {
			return true
		}
	}
	return false
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}
