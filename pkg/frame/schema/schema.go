// Package schema implements the named schema registry and the streaming
// validator for KindObject and KindResult frames.
//
// Schemas are represented as *jsonschema.Schema and validated by a small
// hand-rolled walker that chains independent checks (type, enum, bounds)
// rather than a general-purpose JSON Schema engine: the validator never
// mutates a frame's bytes, it only records notes.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/relaygrid/framegate/pkg/frame"
)

// Registry holds named schemas that frames declare via their `schema=`
// sentinel attribute.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates a registry pre-populated with the built-in
// demonstration schemas: AssistantReply, Action, and Note.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]*jsonschema.Schema)}
	r.Register("AssistantReply", AssistantReplySchema())
	r.Register("Action", ActionSchema())
	r.Register("Note", NoteSchema())
	return r
}

// Register adds or replaces a named schema.
func (r *Registry) Register(name string, s *jsonschema.Schema) {
	r.schemas[name] = s
}

// Get returns the schema registered under name.
func (r *Registry) Get(name string) (*jsonschema.Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Kinds returns the registered schema names, sorted.
func (r *Registry) Kinds() []string {
	names := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate parses raw as JSON and validates it against the named schema,
// returning the decoded value and any validation notes. An unknown schema
// name produces a single error note and a nil value; it is not treated as
// a Go error since the caller (the session controller) decides whether an
// unknown schema triggers the repair path.
func (r *Registry) Validate(frameID, schemaName string, raw []byte) (any, []frame.ValidationNote) {
	s, ok := r.Get(schemaName)
	if !ok {
		return nil, []frame.ValidationNote{{
			FrameID:  frameID,
			Path:     "$",
			Message:  fmt.Sprintf("unknown schema %q", schemaName),
			Severity: "error",
		}}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, []frame.ValidationNote{{
			FrameID:  frameID,
			Path:     "$",
			Message:  fmt.Sprintf("invalid json: %v", err),
			Severity: "error",
		}}
	}

	var notes []frame.ValidationNote
	v = validate(s, v, "$", frameID, &notes)
	return v, notes
}

func validate(s *jsonschema.Schema, v any, path, frameID string, notes *[]frame.ValidationNote) any {
	if s == nil {
		return v
	}

	if len(s.AnyOf) > 0 {
		return validateAnyOf(s, v, path, frameID, notes)
	}

	if len(s.Enum) > 0 && !enumContains(s.Enum, v) {
		addNote(notes, frameID, path, fmt.Sprintf("value %v not in enum %v", v, s.Enum), "error")
		return v
	}

	types := schemaTypes(s)
	if len(types) > 0 && !matchesAnyType(types, v) {
		addNote(notes, frameID, path, fmt.Sprintf("expected type %v, got %s", types, jsonTypeOf(v)), "error")
		return v
	}

	switch vv := v.(type) {
	case map[string]any:
		return validateObject(s, vv, path, frameID, notes)
	case []any:
		validateArray(s, vv, path, frameID, notes)
		return vv
	case float64:
		validateNumber(s, vv, path, frameID, notes)
		return vv
	}
	return v
}

func validateAnyOf(s *jsonschema.Schema, v any, path, frameID string, notes *[]frame.ValidationNote) any {
	for _, alt := range s.AnyOf {
		var probe []frame.ValidationNote
		out := validate(alt, v, path, frameID, &probe)
		if !hasError(probe) {
			return out
		}
	}
	addNote(notes, frameID, path, "value matched none of the allowed shapes", "error")
	return v
}

func validateObject(s *jsonschema.Schema, obj map[string]any, path, frameID string, notes *[]frame.ValidationNote) any {
	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			addNote(notes, frameID, path+"."+req, "missing required field", "error")
		}
	}
	for name, propSchema := range s.Properties {
		val, present := obj[name]
		if !present {
			if propSchema.Default != nil {
				obj[name] = propSchema.Default
				addNote(notes, frameID, path+"."+name, "applied schema default", "warning")
			}
			continue
		}
		obj[name] = validate(propSchema, val, path+"."+name, frameID, notes)
	}
	return obj
}

func validateArray(s *jsonschema.Schema, arr []any, path, frameID string, notes *[]frame.ValidationNote) {
	if s.MinItems != nil && len(arr) < int(*s.MinItems) {
		addNote(notes, frameID, path, fmt.Sprintf("array has %d items, want at least %d", len(arr), *s.MinItems), "error")
	}
	if s.Items != nil {
		for i, elem := range arr {
			arr[i] = validate(s.Items, elem, fmt.Sprintf("%s[%d]", path, i), frameID, notes)
		}
	}
}

func validateNumber(s *jsonschema.Schema, n float64, path, frameID string, notes *[]frame.ValidationNote) {
	if s.Minimum != nil && n < *s.Minimum {
		addNote(notes, frameID, path, fmt.Sprintf("%v is below minimum %v", n, *s.Minimum), "error")
	}
	if s.Maximum != nil && n > *s.Maximum {
		addNote(notes, frameID, path, fmt.Sprintf("%v is above maximum %v", n, *s.Maximum), "error")
	}
}

func addNote(notes *[]frame.ValidationNote, frameID, path, msg, severity string) {
	*notes = append(*notes, frame.ValidationNote{
		FrameID:  frameID,
		Path:     path,
		Message:  msg,
		Severity: severity,
	})
}

func hasError(notes []frame.ValidationNote) bool {
	for _, n := range notes {
		if n.Severity == "error" {
			return true
		}
	}
	return false
}

func schemaTypes(s *jsonschema.Schema) []string {
	if s.Type != "" {
		return []string{s.Type}
	}
	return s.Types
}

func matchesAnyType(types []string, v any) bool {
	got := jsonTypeOf(v)
	for _, t := range types {
		if t == got || (t == "number" && got == "integer") {
			return true
		}
	}
	return false
}

func jsonTypeOf(v any) string {
	switch vv := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64:
		if vv == float64(int64(vv)) {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
