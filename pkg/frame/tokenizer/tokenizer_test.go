package tokenizer

import (
	"errors"
	"testing"

	"github.com/relaygrid/framegate/pkg/buffer"
	"github.com/relaygrid/framegate/pkg/frame"
)

func drain(t *testing.T, tok *Tokenizer) []*frame.Event {
	t.Helper()
	var events []*frame.Event
	for {
		evt, err := tok.Next()
		if err != nil {
			if errors.Is(err, buffer.ErrIteratorDone) {
				return events
			}
			t.Fatalf("Next() error: %v", err)
		}
		events = append(events, evt)
	}
}

func TestTextDelta(t *testing.T) {
	tok := New(16)
	if _, err := tok.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	tok.Close()

	events := drain(t, tok)
	if len(events) != 5 {
		t.Fatalf("len(events) = %d, want 5", len(events))
	}
	for i, r := range "hello" {
		if events[i].Kind != frame.EventTextDelta || events[i].Text != string(r) {
			t.Errorf("events[%d] = %+v, want text.delta %q", i, events[i], string(r))
		}
	}
}

func TestObjectFrame(t *testing.T) {
	tok := New(64)
	input := "before⟦BEGIN_OBJECT id=a1 schema=Note⟧{\"x\":1}⟦END_OBJECT⟧after"
	if _, err := tok.Write([]byte(input)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	tok.Close()

	events := drain(t, tok)

	var sawBegin, sawEnd bool
	var endData string
	for _, e := range events {
		switch e.Kind {
		case frame.EventJSONBegin:
			sawBegin = true
			if e.ID != "a1" || e.Schema != "Note" {
				t.Errorf("JSONBegin = %+v, want id=a1 schema=Note", e)
			}
		case frame.EventJSONEnd:
			sawEnd = true
			endData = string(e.Data)
		}
	}
	if !sawBegin {
		t.Error("missing json.begin event")
	}
	if !sawEnd {
		t.Error("missing json.end event")
	}
	if endData != `{"x":1}` {
		t.Errorf("json.end Data = %q, want %q", endData, `{"x":1}`)
	}
}

func TestToolFrame(t *testing.T) {
	tok := New(64)
	input := "⟦BEGIN_TOOL_CALL id=t1 name=lookup⟧{\"q\":\"x\"}⟦END_TOOL_CALL⟧"
	if _, err := tok.Write([]byte(input)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	tok.Close()

	events := drain(t, tok)
	var calls int
	for _, e := range events {
		if e.Kind == frame.EventToolCall {
			calls++
			if e.ID != "t1" || e.Name != "lookup" || string(e.Data) != `{"q":"x"}` {
				t.Errorf("tool.call = %+v, want id=t1 name=lookup data={\"q\":\"x\"}", e)
			}
		}
	}
	if calls != 1 {
		t.Errorf("tool.call events = %d, want 1", calls)
	}
}

func TestSentinelInsideJSONString(t *testing.T) {
	// A literal sentinel rune inside a JSON string must not be mistaken for
	// the frame's closing delimiter.
	tok := New(64)
	input := "⟦BEGIN_OBJECT id=a1 schema=Note⟧{\"x\":\"a⟧b\"}⟦END_OBJECT⟧"
	if _, err := tok.Write([]byte(input)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	tok.Close()

	events := drain(t, tok)
	var endData string
	var ends int
	for _, e := range events {
		if e.Kind == frame.EventJSONEnd {
			ends++
			endData = string(e.Data)
		}
	}
	if ends != 1 {
		t.Fatalf("json.end events = %d, want 1", ends)
	}
	want := `{"x":"a⟧b"}`
	if endData != want {
		t.Errorf("json.end Data = %q, want %q", endData, want)
	}
}

func TestWriteSplitAcrossCalls(t *testing.T) {
	tok := New(64)
	input := "⟦BEGIN_RESULT id=r1 schema=AssistantReply⟧{\"ok\":true}⟦END_RESULT⟧"
	for i := 0; i < len(input); i++ {
		if _, err := tok.Write([]byte{input[i]}); err != nil {
			t.Fatalf("Write() error at byte %d: %v", i, err)
		}
	}
	tok.Close()

	events := drain(t, tok)
	var sawEnd bool
	for _, e := range events {
		if e.Kind == frame.EventResultEnd {
			sawEnd = true
			if string(e.Data) != `{"ok":true}` {
				t.Errorf("result.end Data = %q, want %q", string(e.Data), `{"ok":true}`)
			}
		}
	}
	if !sawEnd {
		t.Error("missing result.end event")
	}
}

func TestCloseWithError(t *testing.T) {
	tok := New(4)
	wantErr := errors.New("boom")
	if err := tok.CloseWithError(wantErr); err != nil {
		t.Fatalf("CloseWithError() error: %v", err)
	}
	if _, err := tok.Next(); !errors.Is(err, wantErr) {
		t.Errorf("Next() error = %v, want it to wrap %v", err, wantErr)
	}
}
