package schema

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

func ptr[T any](v T) *T { return &v }

// AssistantReplySchema is the structured final-reply shape a session's
// KindResult frame is validated against by default. diagnostics is only
// present on a degraded reply produced by the repair or provider-fallback
// path, so it is not required.
func AssistantReplySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"answer", "citations"},
		Properties: map[string]*jsonschema.Schema{
			"answer": {Type: "string"},
			"citations": {
				Type:    "array",
				Items:   &jsonschema.Schema{Type: "string"},
				Default: json.RawMessage("[]"),
			},
			"diagnostics": DiagnosticsSchema(),
			"action":      ActionSchema(),
		},
	}
}

// DiagnosticsSchema describes the optional diagnostics object a degraded
// AssistantReply carries: error names the failure path that produced the
// reply ("schema_repair_failed" or "provider_no_result").
func DiagnosticsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"error":                 {Type: "string"},
			"last_validator_errors": {Type: "string"},
			"model":                 {Type: "string"},
		},
	}
}

// ActionSchema is a discriminated union over the "kind" field, exercising
// AnyOf validation.
func ActionSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{
				Type:     "object",
				Required: []string{"kind", "target"},
				Properties: map[string]*jsonschema.Schema{
					"kind":   {Enum: []any{"navigate"}},
					"target": {Type: "string"},
				},
			},
			{
				Type:     "object",
				Required: []string{"kind", "text"},
				Properties: map[string]*jsonschema.Schema{
					"kind": {Enum: []any{"reply"}},
					"text": {Type: "string"},
				},
			},
		},
	}
}

// NoteSchema exercises enum constraints, an optional non-empty tag array
// with a defaulted value, plus an optional, defaulted, numerically-bounded
// field.
func NoteSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"kind", "text"},
		Properties: map[string]*jsonschema.Schema{
			"kind": {Enum: []any{"info", "warning", "error"}},
			"text": {Type: "string"},
			"tags": {
				Type:     "array",
				Items:    &jsonschema.Schema{Type: "string"},
				MinItems: ptr(1),
				Default:  json.RawMessage("[]"),
			},
			"priority": {
				Type:    "integer",
				Minimum: ptr(1.0),
				Maximum: ptr(5.0),
				Default: json.RawMessage("3"),
			},
		},
	}
}
