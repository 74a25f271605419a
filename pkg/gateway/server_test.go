package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaygrid/framegate/pkg/buffer"
	"github.com/relaygrid/framegate/pkg/frame/idempotency"
	"github.com/relaygrid/framegate/pkg/frame/schema"
	"github.com/relaygrid/framegate/pkg/frame/session"
	"github.com/relaygrid/framegate/pkg/frame/tool"
)

type fixedStream struct {
	body string
	sent bool
}

func (s *fixedStream) Next() (string, error) {
	if s.sent {
		return "", buffer.ErrIteratorDone
	}
	s.sent = true
	return s.body, nil
}

func (s *fixedStream) Close() error { return nil }

type fixedProvider struct{ body string }

func (p *fixedProvider) Stream(ctx context.Context, msgs []session.Message) (session.Stream, error) {
	return &fixedStream{body: p.body}, nil
}

func newTestServer(body string) *Server {
	c := &session.Controller{
		Provider:        &fixedProvider{body: body},
		Schemas:         schema.NewRegistry(),
		Tools:           tool.New(tool.NewRegistry(), idempotency.New(), time.Second, 0),
		Model:           "gpt-4o-mini",
		MaxRounds:       3,
		FrameTimeout:    time.Second,
		Heartbeat:       time.Hour,
		MaxQueuedChunks: 32,
	}
	return NewServer(c, nil)
}

func TestHandleStreamEmitsSSE(t *testing.T) {
	reply := `{"answer":"hi","citations":[]}`
	body := "⟦BEGIN_RESULT id=r1 schema=AssistantReply⟧" + reply + "⟦END_RESULT⟧"
	s := newTestServer(body)

	reqBody, _ := json.Marshal(map[string]any{"prompt": "hi"})
	req := httptest.NewRequest("POST", "/v1/stream", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-transform" {
		t.Errorf("Cache-Control = %q, want no-cache, no-transform", cc)
	}
	if xa := rec.Header().Get("X-Accel-Buffering"); xa != "no" {
		t.Errorf("X-Accel-Buffering = %q, want no", xa)
	}
	body2 := rec.Body.String()
	if !strings.Contains(body2, "event: result.end") {
		t.Errorf("body = %q, want a result.end event", body2)
	}
	if !strings.Contains(body2, "event: done") {
		t.Errorf("body = %q, want a done event", body2)
	}
}

func TestHandleStreamRejectsEmptyPrompt(t *testing.T) {
	s := newTestServer("")
	reqBody, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest("POST", "/v1/stream", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStreamHonorsIdempotencyKeyHeader(t *testing.T) {
	reply := `{"answer":"hi","citations":[]}`
	body := "⟦BEGIN_RESULT id=r1 schema=AssistantReply⟧" + reply + "⟦END_RESULT⟧"
	s := newTestServer(body)

	reqBody, _ := json.Marshal(map[string]any{"prompt": "hi"})
	req := httptest.NewRequest("POST", "/v1/stream", bytes.NewReader(reqBody))
	req.Header.Set("Idempotency-Key", "custom-key-1")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer("")
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("ok = %v, want true", out["ok"])
	}
	if out["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v, want gpt-4o-mini", out["model"])
	}
}
