// Package emitter implements the backpressured SSE event emitter: a bounded
// FIFO queue drained by a single flusher goroutine, with a heartbeat tick
// and strict ordering, backed by pkg/buffer.BlockBuffer.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaygrid/framegate/pkg/buffer"
	"github.com/relaygrid/framegate/pkg/frame"
)

// WireEvent is one SSE frame: an event name and its JSON payload.
type WireEvent struct {
	Event string
	Data  []byte
}

// Emitter queues WireEvents produced by the session controller and drains
// them to an http.ResponseWriter as Server-Sent Events.
type Emitter struct {
	queue     *buffer.BlockBuffer[*WireEvent]
	heartbeat time.Duration
}

// New creates an Emitter whose queue blocks producers once maxQueued
// events are buffered, and which emits an "event: ping" heartbeat every
// heartbeat interval of silence.
func New(maxQueued int, heartbeat time.Duration) *Emitter {
	return &Emitter{
		queue:     buffer.BlockN[*WireEvent](maxQueued),
		heartbeat: heartbeat,
	}
}

// Emit enqueues evt, blocking if the queue is full.
func (e *Emitter) Emit(evt *WireEvent) error {
	return e.queue.Add(evt)
}

// Close signals a clean end of stream to the flusher.
func (e *Emitter) Close() error {
	return e.queue.CloseWrite()
}

// CloseWithError aborts the stream, surfacing err to the flusher.
func (e *Emitter) CloseWithError(err error) error {
	return e.queue.CloseWithError(err)
}

// Run drains the queue to w until the queue is closed, ctx is cancelled, or
// a write error occurs. It returns nil on a clean close (the queue's
// buffer.ErrIteratorDone), and the triggering error otherwise.
func (e *Emitter) Run(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("emitter: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan *WireEvent)
	errs := make(chan error, 1)
	go e.pump(ctx, events, errs)

	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				return err
			}
			flusher.Flush()
			ticker.Reset(e.heartbeat)

		case <-ticker.C:
			if _, err := io.WriteString(w, "event: ping\ndata: {}\n\n"); err != nil {
				return err
			}
			flusher.Flush()

		case err := <-errs:
			if errors.Is(err, buffer.ErrIteratorDone) {
				if _, err := io.WriteString(w, "event: done\ndata: {}\n\n"); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			}
			if errors.Is(err, context.Canceled) {
				// Client disconnect: suppress writes, no error and no done.
				return err
			}
			code, message := wireError(err)
			payload, _ := json.Marshal(map[string]string{"code": code, "message": message})
			if _, werr := fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload); werr != nil {
				return werr
			}
			flusher.Flush()
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wireError extracts the {code,message} pair an error should surface as,
// defaulting to a generic code for anything not carrying a frame.WireError.
func wireError(err error) (code, message string) {
	var we *frame.WireError
	if errors.As(err, &we) {
		return we.Code, we.Message
	}
	return "internal_error", err.Error()
}

// pump blocks on the queue (which is not select-friendly) in its own
// goroutine and forwards each event or terminal error to the Run loop.
func (e *Emitter) pump(ctx context.Context, events chan<- *WireEvent, errs chan<- error) {
	for {
		evt, err := e.queue.Next()
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
