package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f.v, f.ok = v, true
	return nil
}

// flexString accepts a string, number, bool or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw == "null" || strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return nil
	}
	*f = flexString(raw)
	return nil
}

// flexStrings accepts a list of strings or one comma-separated string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []flexString
	if err := json.Unmarshal(b, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, s := range list {
			out = append(out, string(s))
		}
		*f = out
		return nil
	}
	var s flexString
	_ = json.Unmarshal(b, &s)
	if s != "" {
		*f = strings.Split(string(s), ",")
	}
	return nil
}

// flexBool accepts true/false, "true"/"yes", 1/0 or null.
type flexBool struct {
	v  bool
	ok bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`)) {
	case "true", "yes", "1":
		f.v, f.ok = true, true
	case "false", "no", "0":
		f.v, f.ok = false, true
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseUUID(s flexString) *uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(string(s)))
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}

// objectSpan trims prose or code fences around the outermost JSON object.
func objectSpan(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}

type relevanceWire struct {
	Score     flexFloat  `json:"score"`
	Reasoning flexString `json:"reasoning"`
}

// ParseRelevance decodes a scorer reply; the score is clamped to [0,10].
func ParseRelevance(raw []byte) (RelevanceResult, error) {
	var w relevanceWire
	if err := json.Unmarshal(objectSpan(raw), &w); err != nil {
		return RelevanceResult{}, fmt.Errorf("parse relevance: %w", err)
	}
	if !w.Score.ok {
		return RelevanceResult{}, fmt.Errorf("parse relevance: missing score")
	}
	return RelevanceResult{
		Score:     clamp(w.Score.v, 0, 10),
		Reasoning: string(w.Reasoning),
	}, nil
}

type extractionWire struct {
	HasFeature flexBool  `json:"has_feature"`
	Confidence flexFloat `json:"confidence"`
	Feature    *struct {
		Title            flexString  `json:"title"`
		Description      flexString  `json:"description"`
		ProblemStatement flexString  `json:"problem_statement"`
		DesiredOutcome   flexString  `json:"desired_outcome"`
		ActorPersona     flexString  `json:"actor_persona"`
		Priority         flexString  `json:"priority"`
		Urgency          flexString  `json:"urgency"`
		Sentiment        flexString  `json:"sentiment"`
		Keywords         flexStrings `json:"keywords"`
	} `json:"feature"`
	ThemeAssignment *struct {
		ThemeID    flexString `json:"theme_id"`
		ThemeName  flexString `json:"theme_name"`
		Confidence flexFloat  `json:"confidence"`
	} `json:"theme_assignment"`
	FeatureMatch *struct {
		FeatureID  flexString `json:"feature_id"`
		Confidence flexFloat  `json:"confidence"`
	} `json:"feature_match"`
}

const maxExtractedKeywords = 12

// ParseExtraction decodes an extractor reply. A reply without a feature title never has a feature.
func ParseExtraction(raw []byte) (ExtractionResult, error) {
	var w extractionWire
	if err := json.Unmarshal(objectSpan(raw), &w); err != nil {
		return ExtractionResult{}, fmt.Errorf("parse extraction: %w", err)
	}
	var out ExtractionResult
	out.Confidence = clamp(w.Confidence.v, 0, 1)
	if f := w.Feature; f != nil {
		out.Feature = ExtractedFeature{
			Title:            string(f.Title),
			Description:      string(f.Description),
			ProblemStatement: string(f.ProblemStatement),
			DesiredOutcome:   string(f.DesiredOutcome),
			ActorPersona:     string(f.ActorPersona),
			Priority:         strings.ToLower(string(f.Priority)),
			Urgency:          strings.ToLower(string(f.Urgency)),
			Sentiment:        strings.ToLower(string(f.Sentiment)),
			Keywords:         normalizeKeywords(f.Keywords, maxExtractedKeywords),
		}
	}
	out.HasFeature = out.Feature.Title != ""
	if w.HasFeature.ok && !w.HasFeature.v {
		out.HasFeature = false
	}
	if t := w.ThemeAssignment; t != nil {
		out.Theme = ThemeAssignment{
			ThemeID:    parseUUID(t.ThemeID),
			ThemeName:  string(t.ThemeName),
			Confidence: clamp(t.Confidence.v, 0, 1),
		}
	}
	if m := w.FeatureMatch; m != nil {
		out.Match = FeatureMatch{
			FeatureID:  parseUUID(m.FeatureID),
			Confidence: clamp(m.Confidence.v, 0, 1),
		}
		if out.Match.FeatureID == nil {
			out.Match.Confidence = 0
		}
	}
	return out, nil
}

type comparisonWire struct {
	MatchFeatureID flexString `json:"match_feature_id"`
	Similarity     flexFloat  `json:"similarity"`
	Reasoning      flexString `json:"reasoning"`
}

// ParseComparison decodes a comparator reply. No id means no match, whatever the similarity.
func ParseComparison(raw []byte) (ComparisonResult, error) {
	var w comparisonWire
	if err := json.Unmarshal(objectSpan(raw), &w); err != nil {
		return ComparisonResult{}, fmt.Errorf("parse comparison: %w", err)
	}
	out := ComparisonResult{
		FeatureID:  parseUUID(w.MatchFeatureID),
		Similarity: clamp(w.Similarity.v, 0, 1),
		Reasoning:  string(w.Reasoning),
	}
	if out.FeatureID == nil {
		out.Similarity = 0
	}
	return out, nil
}

func normalizeKeywords(in []string, limit int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == limit {
			break
		}
	}
	return out
}
