// Package frame defines the shared data model for the sentinel-delimited
// frame protocol: the types that the tokenizer, schema validator, repair
// module, tool orchestrator, emitter, and session controller all pass
// between each other.
package frame

import (
	"fmt"
	"log/slog"

	"github.com/relaygrid/framegate/pkg/jsontime"
)

// Kind identifies the shape of a sentinel-delimited frame.
type Kind int

const (
	// KindObject is a schema-validated JSON object frame:
	// ⟦BEGIN_OBJECT id=... schema=...⟧ ... ⟦END_OBJECT⟧
	KindObject Kind = iota
	// KindTool is a tool invocation request frame:
	// ⟦BEGIN_TOOL_CALL id=... name=...⟧ ... ⟦END_TOOL_CALL⟧
	KindTool
	// KindResult is the final structured reply frame:
	// ⟦BEGIN_RESULT id=... schema=...⟧ ... ⟦END_RESULT⟧
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindTool:
		return "tool"
	case KindResult:
		return "result"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the lifecycle state of a frame as the tokenizer accumulates it.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Frame is an accumulated sentinel-delimited span: everything between a
// BEGIN_* sentinel and its matching END_* sentinel, plus the attributes
// carried on the opening sentinel.
type Frame struct {
	Kind   Kind
	ID     string
	Schema string // set for KindObject and KindResult
	Name   string // set for KindTool
	Raw    []byte // accumulated payload bytes, valid once State == StateClosed
	State  State
}

// EventKind enumerates the ordered lifecycle events the tokenizer emits.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventJSONBegin
	EventJSONDelta
	EventJSONEnd
	EventToolCall
	EventResultBegin
	EventResultDelta
	EventResultEnd
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text.delta"
	case EventJSONBegin:
		return "json.begin"
	case EventJSONDelta:
		return "json.delta"
	case EventJSONEnd:
		return "json.end"
	case EventToolCall:
		return "tool.call"
	case EventResultBegin:
		return "result.begin"
	case EventResultDelta:
		return "result.delta"
	case EventResultEnd:
		return "result.end"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one ordered lifecycle event produced by the tokenizer.
type Event struct {
	Kind   EventKind
	ID     string
	Schema string
	Name   string
	Text   string // set for EventTextDelta, EventJSONDelta, EventResultDelta
	Data   []byte // set for EventJSONEnd, EventToolCall, EventResultEnd
}

// ValidationNote records one schema-validation observation. Validation never
// mutates a frame's bytes; it only annotates them.
type ValidationNote struct {
	FrameID  string
	Path     string
	Message  string
	Severity string // "error" or "warning"
}

// LogValue implements slog.LogValuer.
func (n ValidationNote) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("frame_id", n.FrameID),
		slog.String("path", n.Path),
		slog.String("message", n.Message),
		slog.String("severity", n.Severity),
	)
}

// ToolState is the lifecycle of a single tool invocation.
type ToolState int

const (
	ToolPending ToolState = iota
	ToolRunning
	ToolSucceeded
	ToolTimedOut
	ToolErrored
)

func (s ToolState) String() string {
	switch s {
	case ToolPending:
		return "pending"
	case ToolRunning:
		return "running"
	case ToolSucceeded:
		return "succeeded"
	case ToolTimedOut:
		return "timed_out"
	case ToolErrored:
		return "errored"
	default:
		return fmt.Sprintf("tool_state(%d)", int(s))
	}
}

// ToolInvocation tracks one tool call from request to resolution.
type ToolInvocation struct {
	ID             string
	Name           string
	Arguments      []byte
	IdempotencyKey string
	State          ToolState
	Attempts       int
	StartedAt      jsontime.Milli
	FinishedAt     jsontime.Milli
	Result         []byte
	Err            error

	// RetriesOverride, when non-nil, replaces the orchestrator's configured
	// retry budget for this one invocation. Fault-injection scenarios use it
	// to force a single attempt.
	RetriesOverride *int
}

// IdempotencyEntry is one cached tool result keyed by (idempotency key,
// tool name, canonical argument JSON).
type IdempotencyEntry struct {
	Key       string
	Result    []byte
	CreatedAt jsontime.Milli
}

// ValidationCounts tallies schema-validation outcomes per frame kind.
type ValidationCounts struct {
	OkJSON    int `json:"okJson"`
	BadJSON   int `json:"badJson"`
	OkResult  int `json:"okResult"`
	BadResult int `json:"badResult"`
}

// SessionMetrics summarizes one completed or aborted session. The JSON
// field names are the wire shape persisted as a session's metrics.json.
type SessionMetrics struct {
	SessionID     string           `json:"sessionId"`
	Model         string           `json:"model"`
	Rounds        int              `json:"rounds"`
	FramesEmitted int              `json:"framesEmitted"`
	ToolCalls     int              `json:"toolCalls"`
	Validation    ValidationCounts `json:"validation"`
	Degraded      bool                `json:"degraded"`
	TotalMs       jsontime.DurationMs `json:"totalMs"`
	ToolLatencyMs jsontime.DurationMs `json:"toolLatencyMs,omitempty"`
	StartedAt     jsontime.Milli      `json:"startedAt"`
	EndedAt       jsontime.Milli      `json:"endedAt"`
}

// LogValue implements slog.LogValuer.
func (m SessionMetrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session_id", m.SessionID),
		slog.String("model", m.Model),
		slog.Int("rounds", m.Rounds),
		slog.Int("frames_emitted", m.FramesEmitted),
		slog.Int("tool_calls", m.ToolCalls),
		slog.Bool("degraded", m.Degraded),
		slog.Int64("total_ms", m.TotalMs.Milliseconds()),
		slog.Int64("tool_latency_ms", m.ToolLatencyMs.Milliseconds()),
	)
}
