package prompts

import (
	"strings"
	"testing"
)

func TestBuildRendersTemplates(t *testing.T) {
	p, err := Build(PromptRelevanceScore, Input{Text: "We need SSO", SourceType: "Email thread", ActorRole: "admin"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.SchemaName != "relevance_score" || p.Schema == nil {
		t.Fatalf("unexpected schema: %q", p.SchemaName)
	}
	if !strings.Contains(p.User, "We need SSO") || !strings.Contains(p.User, "SPEAKER ROLE: admin") {
		t.Fatalf("user prompt missing fields:\n%s", p.User)
	}
}

func TestBuildValidates(t *testing.T) {
	if _, err := Build(PromptRelevanceScore, Input{}); err == nil {
		t.Fatalf("expected validation error for empty text")
	}
	if _, err := Build(PromptFeatureCompare, Input{FactJSON: "{}"}); err == nil {
		t.Fatalf("expected validation error for missing candidates")
	}
	if _, err := Build(PromptName("nope"), Input{Text: "x"}); err == nil {
		t.Fatalf("expected unknown prompt error")
	}
}

func TestSchemasRequireEveryProperty(t *testing.T) {
	var walk func(path string, s map[string]any)
	walk = func(path string, s map[string]any) {
		props, ok := s["properties"].(map[string]any)
		if !ok {
			return
		}
		req, _ := s["required"].([]string)
		if len(req) != len(props) {
			t.Fatalf("%s: required=%d properties=%d", path, len(req), len(props))
		}
		if s["additionalProperties"] != false {
			t.Fatalf("%s: additionalProperties must be false", path)
		}
		for k, v := range props {
			if child, ok := v.(map[string]any); ok {
				walk(path+"."+k, child)
			}
		}
	}
	walk("relevance", RelevanceSchema())
	walk("extraction", ExtractionSchema())
	walk("comparison", ComparisonSchema())
}
