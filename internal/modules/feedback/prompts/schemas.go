package prompts

func objectSchema(properties map[string]any) map[string]any {
	required := make([]string, 0, len(properties))
	for k := range properties {
		required = append(required, k)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringSchema() map[string]any { return map[string]any{"type": "string"} }

func stringOrNullSchema() map[string]any {
	return map[string]any{"type": []any{"string", "null"}}
}

func numberSchema() map[string]any { return map[string]any{"type": "number"} }

func boolSchema() map[string]any { return map[string]any{"type": "boolean"} }

func stringArraySchema() map[string]any {
	return map[string]any{"type": "array", "items": stringSchema()}
}

func enumOrNullSchema(values ...string) map[string]any {
	arr := make([]any, 0, len(values)+1)
	for _, v := range values {
		arr = append(arr, v)
	}
	arr = append(arr, nil)
	return map[string]any{"type": []any{"string", "null"}, "enum": arr}
}

func RelevanceSchema() map[string]any {
	return objectSchema(map[string]any{
		"score":     numberSchema(),
		"reasoning": stringSchema(),
	})
}

func ExtractionSchema() map[string]any {
	levels := []string{"critical", "high", "medium", "low"}
	return objectSchema(map[string]any{
		"has_feature": boolSchema(),
		"confidence":  numberSchema(),
		"feature": objectSchema(map[string]any{
			"title":             stringOrNullSchema(),
			"description":       stringOrNullSchema(),
			"problem_statement": stringOrNullSchema(),
			"desired_outcome":   stringOrNullSchema(),
			"actor_persona":     stringOrNullSchema(),
			"priority":          enumOrNullSchema(levels...),
			"urgency":           enumOrNullSchema(levels...),
			"sentiment":         enumOrNullSchema("positive", "neutral", "negative", "mixed"),
			"keywords":          stringArraySchema(),
		}),
		"theme_assignment": objectSchema(map[string]any{
			"theme_id":   stringOrNullSchema(),
			"theme_name": stringOrNullSchema(),
			"confidence": numberSchema(),
		}),
		"feature_match": objectSchema(map[string]any{
			"feature_id": stringOrNullSchema(),
			"confidence": numberSchema(),
		}),
	})
}

func ComparisonSchema() map[string]any {
	return objectSchema(map[string]any{
		"match_feature_id": stringOrNullSchema(),
		"similarity":       numberSchema(),
		"reasoning":        stringSchema(),
	})
}
