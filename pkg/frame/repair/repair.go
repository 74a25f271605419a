// Package repair implements the two degraded-reply fallbacks a session can
// fall back to when it cannot produce a valid structured result: Repair,
// for a KindResult frame that fails schema validation, and
// ProviderFallback, for a session that exhausts MaxRounds without the
// provider ever emitting a result frame. Both produce an AssistantReply
// object whose diagnostics field names which path produced it.
package repair

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/relaygrid/framegate/pkg/frame"
	"github.com/relaygrid/framegate/pkg/frame/schema"
)

// Outcome describes the result of one repair attempt.
type Outcome struct {
	Value    any
	Raw      []byte
	Notes    []frame.ValidationNote
	Degraded bool
}

// Repair attempts to recover a valid value for schemaName from raw. It
// tries, in order:
//  1. the bytes as-is (already handled by the caller before invoking Repair)
//  2. a structural jsonrepair pass over the same bytes
//  3. a minimal AssistantReply shape carrying diagnostics.error =
//     "schema_repair_failed" and the validator errors that failed the
//     original attempt, which always validates
func Repair(reg *schema.Registry, frameID, schemaName string, raw []byte, failedNotes []frame.ValidationNote) Outcome {
	if fixed, err := jsonrepair.JSONRepair(string(raw)); err == nil {
		v, notes := reg.Validate(frameID, schemaName, []byte(fixed))
		if !hasError(notes) {
			return Outcome{Value: v, Raw: []byte(fixed), Notes: notes}
		}
	}

	minimal := minimalReply(map[string]any{
		"error":                 "schema_repair_failed",
		"last_validator_errors": serializeNotes(failedNotes),
	})
	v, notes := reg.Validate(frameID, schemaName, minimal)
	return Outcome{Value: v, Raw: minimal, Notes: notes, Degraded: true}
}

// ProviderFallback builds the minimal AssistantReply shape for a session
// that exhausted MaxRounds without the provider ever emitting a result
// frame. Unlike Repair, there are no captured bytes to attempt to recover,
// so this always returns the degraded minimal shape directly.
func ProviderFallback(reg *schema.Registry, frameID, model string) Outcome {
	minimal := minimalReply(map[string]any{
		"error": "provider_no_result",
		"model": model,
	})
	v, notes := reg.Validate(frameID, "AssistantReply", minimal)
	return Outcome{Value: v, Raw: minimal, Notes: notes, Degraded: true}
}

// minimalReply is the fixed fallback shape for AssistantReply: the
// narrowest payload that satisfies AssistantReplySchema's required fields,
// annotated with diagnostics describing why it was produced.
func minimalReply(diagnostics map[string]any) []byte {
	b, err := json.Marshal(map[string]any{
		"answer":      "",
		"citations":   []string{},
		"diagnostics": diagnostics,
	})
	if err != nil {
		// json.Marshal of a static literal map cannot fail; guard anyway
		// since the fallbacks must never panic on the degraded path.
		return []byte(fmt.Sprintf(`{"answer":"","citations":[],"diagnostics":{"error":%q}}`, diagnostics["error"]))
	}
	return b
}

// serializeNotes renders failed validation notes as a single string for
// diagnostics.last_validator_errors.
func serializeNotes(notes []frame.ValidationNote) string {
	b, err := json.Marshal(notes)
	if err != nil {
		return ""
	}
	return string(b)
}

func hasError(notes []frame.ValidationNote) bool {
	for _, n := range notes {
		if n.Severity == "error" {
			return true
		}
	}
	return false
}
