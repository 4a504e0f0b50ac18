package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schemas below are JSON-Schema (draft 2020-12 subset) as generic maps. They
// are passed to the model as a structured output constraint and also used
// locally to validate whatever comes back.

// BuildProfileJSONSchema constrains the extractor output: a CV profile and/or
// a job profile depending on what text was supplied.
func BuildProfileJSONSchema(wantCV, wantJob bool) map[string]any {
	props := map[string]any{}
	var required []string
	if wantCV {
		props["cv_profile"] = cvProfileSchema()
		required = append(required, "cv_profile")
	}
	if wantJob {
		props["job_profile"] = jobProfileSchema()
		required = append(required, "job_profile")
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func cvProfileSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":       map[string]any{"type": "string"},
			"headline":   map[string]any{"type": "string"},
			"summary":    map[string]any{"type": "string"},
			"skills":     stringArraySchema(),
			"experience": map[string]any{"type": "array", "items": experienceSchema()},
			"education":  stringArraySchema(),
		},
		"required": []string{"skills"},
	}
}

func jobProfileSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"company":        map[string]any{"type": "string"},
			"role_title":     map[string]any{"type": "string", "minLength": 1},
			"seniority":      map[string]any{"type": "string"},
			"requirements":   stringArraySchema(),
			"nice_to_haves":  stringArraySchema(),
			"skills":         stringArraySchema(),
			"location":       map[string]any{"type": "string"},
		},
		"required": []string{"role_title", "requirements"},
	}
}

func experienceSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":      map[string]any{"type": "string"},
			"company":    map[string]any{"type": "string"},
			"start_date": map[string]any{"type": "string"},
			"end_date":   map[string]any{"type": "string"},
			"highlights": stringArraySchema(),
		},
		"required": []string{"title"},
	}
}

// BuildGapReportJSONSchema constrains the analyzer output: the gap report and
// the rewritten CV derived from it.
func BuildGapReportJSONSchema() map[string]any {
	gap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"matched_skills":  stringArraySchema(),
			"missing_skills":  stringArraySchema(),
			"partial_matches": stringArraySchema(),
			"match_score":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"recommendations": stringArraySchema(),
		},
		"required": []string{"matched_skills", "missing_skills", "match_score"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"gap":          gap,
			"rewritten_cv": map[string]any{"type": "string"},
		},
		"required": []string{"gap"},
	}
}

// BuildInterviewPackJSONSchema constrains the interviewer output.
func BuildInterviewPackJSONSchema() map[string]any {
	question := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"question":   map[string]any{"type": "string", "minLength": 1},
			"category":   map[string]any{"type": "string", "enum": []string{"behavioral", "technical", "situational", "company"}},
			"difficulty": map[string]any{"type": "string", "enum": []string{"easy", "medium", "hard"}},
			"guidance":   map[string]any{"type": "string"},
		},
		"required": []string{"question", "category"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"questions":   map[string]any{"type": "array", "items": question, "minItems": 1},
			"focus_areas": stringArraySchema(),
		},
		"required": []string{"questions"},
	}
}

func stringArraySchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
