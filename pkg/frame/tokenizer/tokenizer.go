// Package tokenizer implements the push-driven sentinel scanner that turns a
// raw provider token stream into an ordered sequence of frame.Event values.
// An internal accumulator is fed by Write and drained by a consumer calling
// Next, backed by a buffer.BlockBuffer for backpressure between the
// producer (provider stream) and the consumer (session controller).
package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/relaygrid/framegate/pkg/buffer"
	"github.com/relaygrid/framegate/pkg/frame"
)

const (
	sentinelOpen  = '⟦'
	sentinelClose = '⟧'
)

type mode int

const (
	modeOutside mode = iota
	modeInside
	modeSentinel // accumulating the attribute text between ⟦ and ⟧
)

// Tokenizer is the sentinel-delimited frame demultiplexer. It is not safe
// for concurrent Write calls; Write is intended to be driven by a single
// provider-stream goroutine while Next is pulled by a single consumer
// goroutine, matching the rest of the session controller's goroutine shape.
type Tokenizer struct {
	out *buffer.BlockBuffer[*frame.Event]

	carry []byte // incomplete UTF-8 bytes held over between Write calls

	mode mode

	sentinelBuf strings.Builder // content between ⟦ and ⟧ while mode == modeSentinel
	wasOutside  mode            // mode to restore a malformed sentinel span into

	kind frame.Kind
	id   string
	name string

	frameBuf strings.Builder
	inStr    bool
	esc      bool
}

// New creates a Tokenizer whose emitted events are buffered up to size
// entries before Write blocks.
func New(size int) *Tokenizer {
	return &Tokenizer{
		out: buffer.BlockN[*frame.Event](size),
	}
}

// Next returns the next ordered frame.Event, blocking until one is
// available. It returns an error wrapping the one passed to CloseWithError,
// or buffer.ErrIteratorDone once Close has been called and every queued
// event has been read.
func (t *Tokenizer) Next() (*frame.Event, error) {
	return t.out.Next()
}

// Close signals that no more input will be written; the consumer drains
// any queued events and then sees a clean end of stream.
func (t *Tokenizer) Close() error {
	return t.out.CloseWrite()
}

// CloseWithError aborts the stream, surfacing err to the next Next call.
func (t *Tokenizer) CloseWithError(err error) error {
	return t.out.CloseWithError(err)
}

// Write feeds raw provider bytes into the scanner. It may be called
// repeatedly with arbitrarily small chunks, including chunks that split a
// multi-byte UTF-8 rune or a sentinel across calls.
func (t *Tokenizer) Write(p []byte) (int, error) {
	n := len(p)
	buf := append(t.carry, p...)
	t.carry = nil

	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			if len(buf)-i < utf8.UTFMax {
				t.carry = append(t.carry, buf[i:]...)
				break
			}
		}
		if err := t.step(r); err != nil {
			return n, err
		}
		i += size
	}
	return n, nil
}

func (t *Tokenizer) step(r rune) error {
	switch t.mode {
	case modeOutside:
		if r == sentinelOpen {
			t.wasOutside = modeOutside
			t.mode = modeSentinel
			t.sentinelBuf.Reset()
			return nil
		}
		return t.out.Add(&frame.Event{Kind: frame.EventTextDelta, Text: string(r)})

	case modeSentinel:
		if r == sentinelClose {
			return t.closeSentinel()
		}
		t.sentinelBuf.WriteRune(r)
		return nil

	case modeInside:
		if !t.inStr && r == sentinelOpen {
			// A raw sentinel rune outside of a JSON string literal can only
			// be the matching END_* delimiter; compliant producers never
			// nest BEGIN_* sentinels inside a frame body.
			t.wasOutside = modeInside
			t.mode = modeSentinel
			t.sentinelBuf.Reset()
			return nil
		}
		if t.inStr {
			if t.esc {
				t.esc = false
			} else if r == '\\' {
				t.esc = true
			} else if r == '"' {
				t.inStr = false
			}
		} else if r == '"' {
			t.inStr = true
		}
		t.frameBuf.WriteRune(r)
		return t.emitDelta(string(r))
	}
	return nil
}

func (t *Tokenizer) emitDelta(s string) error {
	switch t.kind {
	case frame.KindObject:
		return t.out.Add(&frame.Event{Kind: frame.EventJSONDelta, ID: t.id, Text: s})
	case frame.KindResult:
		return t.out.Add(&frame.Event{Kind: frame.EventResultDelta, ID: t.id, Text: s})
	default:
		// KindTool frames carry no incremental delta event; the full
		// argument payload is only meaningful once complete.
		return nil
	}
}

func (t *Tokenizer) closeSentinel() error {
	content := t.sentinelBuf.String()
	t.sentinelBuf.Reset()

	if t.wasOutside == modeInside {
		// Must be the END_* matching the currently open frame.
		switch content {
		case "END_OBJECT", "END_TOOL_CALL", "END_RESULT":
			return t.closeFrame()
		}
		// Not a recognized closer: treat the whole span as literal frame
		// content (defensive fallback for a malformed producer) and resume.
		t.frameBuf.WriteRune(sentinelOpen)
		t.frameBuf.WriteString(content)
		t.frameBuf.WriteRune(sentinelClose)
		t.mode = modeInside
		return t.emitDelta(string(sentinelOpen) + content + string(sentinelClose))
	}

	switch {
	case strings.HasPrefix(content, "BEGIN_OBJECT"):
		return t.openFrame(frame.KindObject, content, "BEGIN_OBJECT")
	case strings.HasPrefix(content, "BEGIN_TOOL_CALL"):
		return t.openFrame(frame.KindTool, content, "BEGIN_TOOL_CALL")
	case strings.HasPrefix(content, "BEGIN_RESULT"):
		return t.openFrame(frame.KindResult, content, "BEGIN_RESULT")
	default:
		// Not a recognized opener: pass the bracketed text through as text.
		t.mode = modeOutside
		return t.out.Add(&frame.Event{
			Kind: frame.EventTextDelta,
			Text: string(sentinelOpen) + content + string(sentinelClose),
		})
	}
}

func (t *Tokenizer) openFrame(kind frame.Kind, content, prefix string) error {
	attrs := parseAttrs(strings.TrimSpace(strings.TrimPrefix(content, prefix)))

	t.kind = kind
	t.id = attrs["id"]
	t.name = attrs["name"]
	t.frameBuf.Reset()
	t.inStr = false
	t.esc = false
	t.mode = modeInside

	switch kind {
	case frame.KindObject:
		return t.out.Add(&frame.Event{Kind: frame.EventJSONBegin, ID: t.id, Schema: attrs["schema"]})
	case frame.KindResult:
		return t.out.Add(&frame.Event{Kind: frame.EventResultBegin, ID: t.id, Schema: attrs["schema"]})
	case frame.KindTool:
		return nil
	}
	return nil
}

func (t *Tokenizer) closeFrame() error {
	data := []byte(t.frameBuf.String())
	kind, id, name := t.kind, t.id, t.name
	t.mode = modeOutside
	t.frameBuf.Reset()

	switch kind {
	case frame.KindObject:
		return t.out.Add(&frame.Event{Kind: frame.EventJSONEnd, ID: id, Data: data})
	case frame.KindResult:
		return t.out.Add(&frame.Event{Kind: frame.EventResultEnd, ID: id, Data: data})
	case frame.KindTool:
		return t.out.Add(&frame.Event{Kind: frame.EventToolCall, ID: id, Name: name, Data: data})
	default:
		return fmt.Errorf("tokenizer: unknown frame kind %v", kind)
	}
}

// parseAttrs parses "id=X schema=Y" style attribute text into a map.
func parseAttrs(s string) map[string]string {
	out := make(map[string]string)
	for _, field := range strings.Fields(s) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
