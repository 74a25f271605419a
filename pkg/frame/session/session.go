// Package session implements the stream session controller: it owns one
// request's lifecycle, driving provider -> tokenizer -> validator ->
// orchestrator -> emitter across up to MaxRounds rounds. A small
// Provider interface is invoked in a bounded loop, with the message list
// grown by the tool call and its tool-result record each round a tool call
// triggers.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaygrid/framegate/pkg/buffer"
	"github.com/relaygrid/framegate/pkg/frame"
	"github.com/relaygrid/framegate/pkg/frame/emitter"
	"github.com/relaygrid/framegate/pkg/frame/repair"
	"github.com/relaygrid/framegate/pkg/frame/schema"
	"github.com/relaygrid/framegate/pkg/frame/tokenizer"
	"github.com/relaygrid/framegate/pkg/frame/tool"
	"github.com/relaygrid/framegate/pkg/jsontime"
)

// Message is one entry in the model-context message list the Provider is
// called with.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", or "tool"
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Stream is a provider's raw token stream: successive text deltas ending
// in an error. A clean end is reported by wrapping buffer.ErrIteratorDone
// (or returning it directly).
type Stream interface {
	Next() (delta string, err error)
	Close() error
}

// Provider generates a raw sentinel-annotated token stream from a message
// list. Closing the returned Stream aborts the in-flight round, which the
// controller does when a tool call interrupts generation or the session is
// cancelled.
type Provider interface {
	Stream(ctx context.Context, messages []Message) (Stream, error)
}

// Artifacts persists a named blob under a session's namespace. It is
// satisfied structurally by pkg/gateway/artifacts.Sink; Controller depends
// only on this minimal shape so pkg/frame/session never imports the
// gateway layer.
type Artifacts interface {
	Put(ctx context.Context, sessionID, name string, data []byte) error
}

// ProviderParams are the deterministic sampling parameters recorded in a
// session's prompt artifact.
type ProviderParams struct {
	Temperature float64 `json:"temperature"`
	Seed        int64   `json:"seed"`
	MaxTokens   int     `json:"maxTokens"`
}

// Controller drives one session end to end.
type Controller struct {
	Provider Provider
	Schemas  *schema.Registry
	Tools    *tool.Orchestrator

	// Artifacts, if set, receives the prompt, frame log, final result, and
	// metrics of every session.
	Artifacts Artifacts

	// Model names the provider model reported in /health and attached to
	// provider-fallback diagnostics.
	Model string

	// Params are recorded in the prompt artifact alongside the request.
	Params ProviderParams

	MaxRounds       int
	FrameTimeout    time.Duration
	Heartbeat       time.Duration
	MaxQueuedChunks int

	Logger *slog.Logger
}

// Start launches the session's controller loop in its own goroutine and
// returns the emitter the HTTP handler should drain to the client.
// IdemKey scopes tool-call idempotency caching for this session.
func (c *Controller) Start(ctx context.Context, sessionID, idemKey string, messages []Message) *emitter.Emitter {
	em := emitter.New(c.MaxQueuedChunks, c.Heartbeat)
	go c.run(ctx, sessionID, idemKey, messages, em)
	return em
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// runState bundles the per-session sinks every frame event handler writes
// to: the outbound emitter, the running metrics, the frame log destined for
// frames.ndjson, and the id -> schema map for open frames.
type runState struct {
	em       *emitter.Emitter
	metrics  *frame.SessionMetrics
	frames   *frameLog
	schemaID map[string]string
	idemKey  string
}

func (c *Controller) run(ctx context.Context, sessionID, idemKey string, messages []Message, em *emitter.Emitter) {
	st := &runState{
		em:       em,
		metrics:  &frame.SessionMetrics{SessionID: sessionID, Model: c.Model, StartedAt: jsontime.NowEpochMilli()},
		frames:   &frameLog{},
		schemaID: make(map[string]string),
		idemKey:  idemKey,
	}
	var finalResult []byte
	var closeErr error
	defer func() {
		st.metrics.EndedAt = jsontime.NowEpochMilli()
		st.metrics.TotalMs = jsontime.DurationMs(st.metrics.EndedAt.Sub(st.metrics.StartedAt))
		c.logger().Info("frame session finished", "metrics", st.metrics)
		// Artifacts land before the emitter closes so a client that has
		// observed done can rely on them being written.
		c.persistArtifacts(sessionID, st, finalResult)
		if closeErr != nil {
			em.CloseWithError(closeErr)
		} else {
			em.Close()
		}
	}()

	c.persistPrompt(sessionID, idemKey, messages)

	msgs := append([]Message(nil), messages...)

rounds:
	for round := 0; round < c.MaxRounds; round++ {
		st.metrics.Rounds++

		outcome, err := c.runRound(ctx, msgs, st)
		if err != nil {
			closeErr = err
			return
		}
		switch outcome.kind {
		case roundFinished:
			finalResult = outcome.resultJSON
			return
		case roundToolCall:
			msgs = append(msgs,
				Message{Role: "assistant", Content: fmt.Sprintf("⟦BEGIN_TOOL_CALL id=%s name=%s⟧%s⟦END_TOOL_CALL⟧", outcome.invocation.ID, outcome.invocation.Name, outcome.invocation.Arguments)},
				Message{Role: "tool", Name: outcome.invocation.Name, Content: fmt.Sprintf("TOOL_RESULT id=%s name=%s\n%s", outcome.invocation.ID, outcome.invocation.Name, toolResultText(outcome.invocation))},
			)
			if ctx.Err() != nil {
				// Cancelled while the tool ran: start no further round.
				closeErr = ctx.Err()
				return
			}
			continue
		case roundEmpty:
			// Provider round ended without a result frame or a tool call:
			// further rounds with an unchanged message list cannot do better,
			// so fall through to the degraded no-result reply.
			break rounds
		case roundCancelled:
			closeErr = ctx.Err()
			return
		}
	}

	// No result frame was ever observed: fall back to the minimal
	// provider_no_result reply rather than leaving the client without one.
	out := repair.ProviderFallback(c.Schemas, sessionID, c.Model)
	st.metrics.Degraded = true
	finalResult = emitRepairedResult(st, out)
}

// persistPrompt writes the prompt artifact before the first round so the
// request is recorded even if the session is later cancelled mid-stream.
func (c *Controller) persistPrompt(sessionID, idemKey string, messages []Message) {
	if c.Artifacts == nil {
		return
	}
	promptJSON, err := json.Marshal(struct {
		SessionID      string         `json:"sessionId"`
		IdempotencyKey string         `json:"idempotencyKey,omitempty"`
		Model          string         `json:"model"`
		Params         ProviderParams `json:"params"`
		Messages       []Message      `json:"messages"`
	}{sessionID, idemKey, c.Model, c.Params, messages})
	if err != nil {
		return
	}
	if err := c.Artifacts.Put(context.Background(), sessionID, "prompt.json", promptJSON); err != nil {
		c.logger().Warn("artifacts: failed to persist prompt", "session_id", sessionID, "error", err)
	}
}

func (c *Controller) persistArtifacts(sessionID string, st *runState, finalResult []byte) {
	if c.Artifacts == nil {
		return
	}
	ctx := context.Background()
	if metricsJSON, err := json.Marshal(st.metrics); err == nil {
		if err := c.Artifacts.Put(ctx, sessionID, "metrics.json", metricsJSON); err != nil {
			c.logger().Warn("artifacts: failed to persist metrics", "session_id", sessionID, "error", err)
		}
	}
	if lines := st.frames.Bytes(); len(lines) > 0 {
		if err := c.Artifacts.Put(ctx, sessionID, "frames.ndjson", lines); err != nil {
			c.logger().Warn("artifacts: failed to persist frame log", "session_id", sessionID, "error", err)
		}
	}
	if finalResult != nil {
		if err := c.Artifacts.Put(ctx, sessionID, "result.json", finalResult); err != nil {
			c.logger().Warn("artifacts: failed to persist result", "session_id", sessionID, "error", err)
		}
	}
}

type roundOutcomeKind int

const (
	roundFinished roundOutcomeKind = iota
	roundToolCall
	roundEmpty
	roundCancelled
)

type roundOutcome struct {
	kind       roundOutcomeKind
	invocation *frame.ToolInvocation
	resultJSON []byte
}

func (c *Controller) runRound(ctx context.Context, msgs []Message, st *runState) (roundOutcome, error) {
	stream, err := c.Provider.Stream(ctx, msgs)
	if err != nil {
		return roundOutcome{}, fmt.Errorf("session: provider stream: %w", err)
	}
	defer stream.Close()

	tok := tokenizer.New(64)
	go pumpProvider(stream, tok)

	events := make(chan *frame.Event)
	errs := make(chan error, 1)
	go pumpTokenizer(ctx, tok, events, errs)

	timer := time.NewTimer(c.FrameTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return roundOutcome{kind: roundCancelled}, nil

		case <-timer.C:
			return roundOutcome{}, &frame.WireError{
				Code:    "frame_timeout",
				Message: fmt.Sprintf("no frame activity for %s", c.FrameTimeout),
			}

		case err := <-errs:
			if errors.Is(err, buffer.ErrIteratorDone) {
				return roundOutcome{kind: roundEmpty}, nil
			}
			return roundOutcome{}, fmt.Errorf("session: tokenizer: %w", err)

		case evt := <-events:
			// The frame-silence deadline resets on frame lifecycle events
			// only; inter-frame text does not count as activity.
			if evt.Kind != frame.EventTextDelta {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(c.FrameTimeout)
			}

			outcome, handled, err := c.handleEvent(evt, st)
			if err != nil {
				return roundOutcome{}, err
			}
			if handled {
				return outcome, nil
			}
		}
	}
}

func (c *Controller) handleEvent(evt *frame.Event, st *runState) (roundOutcome, bool, error) {
	switch evt.Kind {
	case frame.EventTextDelta:
		// Inter-frame prose is not part of the wire contract; drop it.

	case frame.EventJSONBegin:
		st.schemaID[evt.ID] = evt.Schema
		st.emit("json.begin", map[string]any{"id": evt.ID, "schema": evt.Schema})

	case frame.EventJSONDelta:
		st.emit("json.delta", map[string]any{"id": evt.ID, "chunk": evt.Text})

	case frame.EventJSONEnd:
		schemaName := st.schemaID[evt.ID]
		_, notes := c.Schemas.Validate(evt.ID, schemaName, evt.Data)
		if hasError(notes) {
			st.metrics.Validation.BadJSON++
			c.logger().Warn("object frame validation failed", "frame_id", evt.ID, "notes", notes)
		} else {
			st.metrics.Validation.OkJSON++
		}
		st.emit("json.end", map[string]any{"id": evt.ID, "length": len(evt.Data)})
		st.metrics.FramesEmitted++

	case frame.EventToolCall:
		st.metrics.ToolCalls++
		inv := &frame.ToolInvocation{ID: evt.ID, Name: evt.Name, Arguments: evt.Data, State: frame.ToolPending}
		st.emit("tool.call", map[string]any{"id": inv.ID, "name": inv.Name, "args": rawOrNull(evt.Data)})

		// Tool calls run with a bounded, detached timeout context: a
		// client cancellation does not interrupt an in-flight tool, it is
		// allowed to finish so its result can still be cached.
		toolCtx := context.Background()
		c.Tools.Invoke(toolCtx, st.idemKey, inv)
		st.metrics.ToolLatencyMs += jsontime.DurationMs(inv.FinishedAt.Sub(inv.StartedAt))

		st.emit("tool.result", map[string]any{
			"id":     inv.ID,
			"name":   inv.Name,
			"result": json.RawMessage(toolResultText(inv)),
		})
		return roundOutcome{kind: roundToolCall, invocation: inv}, true, nil

	case frame.EventResultBegin:
		st.schemaID[evt.ID] = evt.Schema
		st.emit("result.begin", map[string]any{"id": evt.ID, "schema": evt.Schema})

	case frame.EventResultDelta:
		st.emit("result.delta", map[string]any{"id": evt.ID, "chunk": evt.Text})

	case frame.EventResultEnd:
		schemaName := st.schemaID[evt.ID]
		_, notes := c.Schemas.Validate(evt.ID, schemaName, evt.Data)
		var resultJSON []byte
		if hasError(notes) {
			st.metrics.Validation.BadResult++
			out := repair.Repair(c.Schemas, evt.ID, schemaName, evt.Data, notes)
			st.metrics.Degraded = st.metrics.Degraded || out.Degraded
			resultJSON = emitRepairedResult(st, out)
		} else {
			st.metrics.Validation.OkResult++
			st.emit("result.end", map[string]any{"id": evt.ID, "length": len(evt.Data)})
			resultJSON = evt.Data
		}
		st.metrics.FramesEmitted++
		return roundOutcome{kind: roundFinished, resultJSON: resultJSON}, true, nil
	}
	return roundOutcome{}, false, nil
}

// emitRepairedResult emits a fresh Result frame for a repaired or
// provider-fallback reply: a new id, since the original (if any) never
// closed cleanly.
func emitRepairedResult(st *runState, out repair.Outcome) []byte {
	id := uuid.NewString()
	valueJSON, err := json.Marshal(out.Value)
	if err != nil {
		valueJSON = out.Raw
	}
	st.emit("result.begin", map[string]any{"id": id, "schema": "AssistantReply"})
	st.emit("result.delta", map[string]any{"id": id, "chunk": string(valueJSON)})
	st.emit("result.end", map[string]any{"id": id, "length": len(valueJSON)})
	st.metrics.FramesEmitted += 3
	return valueJSON
}

// emit serializes payload, queues it on the outbound emitter, and records
// the same event in the frame log.
func (st *runState) emit(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(`{"error":"encode failure"}`)
	}
	st.em.Emit(&emitter.WireEvent{Event: event, Data: b})
	st.frames.Record(event, b)
}

// rawOrNull passes data through as raw JSON if it parses, and degrades to
// JSON null otherwise, so a malformed tool-argument body still produces a
// well-formed tool.call payload.
func rawOrNull(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	return json.RawMessage("null")
}

// frameLog accumulates the append-only frames.ndjson artifact: one line
// per wire event, {t, event, data}.
type frameLog struct {
	buf bytes.Buffer
}

func (l *frameLog) Record(event string, data []byte) {
	line, err := json.Marshal(struct {
		T     jsontime.Milli  `json:"t"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{jsontime.NowEpochMilli(), event, data})
	if err != nil {
		return
	}
	l.buf.Write(line)
	l.buf.WriteByte('\n')
}

func (l *frameLog) Bytes() []byte {
	return l.buf.Bytes()
}

func pumpProvider(stream Stream, tok *tokenizer.Tokenizer) {
	for {
		delta, err := stream.Next()
		if err != nil {
			if errors.Is(err, buffer.ErrIteratorDone) {
				tok.Close()
			} else {
				tok.CloseWithError(err)
			}
			return
		}
		tok.Write([]byte(delta))
	}
}

func pumpTokenizer(ctx context.Context, tok *tokenizer.Tokenizer, events chan<- *frame.Event, errs chan<- error) {
	for {
		evt, err := tok.Next()
		if err != nil {
			errs <- err
			return
		}
		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func toolResultText(inv *frame.ToolInvocation) string {
	if inv.Err != nil {
		return fmt.Sprintf(`{"error":%q}`, inv.Err.Error())
	}
	return string(inv.Result)
}

func hasError(notes []frame.ValidationNote) bool {
	for _, n := range notes {
		if n.Severity == "error" {
			return true
		}
	}
	return false
}

// Mode names one of the named test scenarios a request can select via
// {mode,testKey} instead of a free-form prompt (see the gateway's wire
// contract). A production Provider is free to ignore it; a test or
// fixture Provider reads it back with ModeFromContext to script its
// behavior.
type Mode struct {
	Name    string
	TestKey string
}

type modeCtxKey struct{}

// WithMode attaches the requested scenario mode to ctx.
func WithMode(ctx context.Context, name, testKey string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, modeCtxKey{}, Mode{Name: name, TestKey: testKey})
}

// ModeFromContext returns the scenario mode attached by WithMode, if any.
func ModeFromContext(ctx context.Context) (Mode, bool) {
	m, ok := ctx.Value(modeCtxKey{}).(Mode)
	return m, ok
}
