// Package tool implements the mid-stream tool orchestrator: dispatching a
// frame.ToolInvocation through its Pending -> Running ->
// {Succeeded,TimedOut,Errored} lifecycle, with bounded retry, backoff, and
// idempotency-keyed caching.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relaygrid/framegate/pkg/frame"
	"github.com/relaygrid/framegate/pkg/frame/idempotency"
	"github.com/relaygrid/framegate/pkg/jsontime"
)

// Func is a registered tool implementation: given the tool-call frame's
// argument JSON as received (not the canonical form used for the
// idempotency key), it returns the tool's raw JSON result.
type Func func(ctx context.Context, args []byte) ([]byte, error)

// Registry holds named tool implementations.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces a tool implementation.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Lookup returns the implementation registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Orchestrator dispatches tool invocations with timeout, retry, and
// idempotency caching.
type Orchestrator struct {
	Registry   *Registry
	Cache      *idempotency.Cache
	Timeout    time.Duration
	MaxRetries int
}

// New creates an Orchestrator. maxRetries is the number of retry attempts
// after the first; a value of 0 means a single attempt with no retry.
func New(reg *Registry, cache *idempotency.Cache, timeout time.Duration, maxRetries int) *Orchestrator {
	return &Orchestrator{
		Registry:   reg,
		Cache:      cache,
		Timeout:    timeout,
		MaxRetries: maxRetries,
	}
}

// Invoke runs inv.Name with inv.Arguments, mutating inv in place to
// reflect its final state. idemKey scopes the idempotency cache lookup;
// an empty idemKey disables caching for this call.
func (o *Orchestrator) Invoke(ctx context.Context, idemKey string, inv *frame.ToolInvocation) {
	inv.State = frame.ToolRunning
	inv.IdempotencyKey = idemKey
	inv.StartedAt = jsontime.NowEpochMilli()
	defer func() { inv.FinishedAt = jsontime.NowEpochMilli() }()

	fn, ok := o.Registry.Lookup(inv.Name)
	if !ok {
		inv.State = frame.ToolErrored
		inv.Err = fmt.Errorf("tool: unknown tool %q", inv.Name)
		return
	}

	canonical, err := CanonicalJSON(inv.Arguments)
	if err != nil {
		inv.State = frame.ToolErrored
		inv.Err = fmt.Errorf("tool: canonicalize arguments: %w", err)
		return
	}

	if idemKey != "" && o.Cache != nil {
		if cached, hit := o.Cache.Get(ctx, idemKey, inv.Name, canonical); hit {
			inv.Result = cached
			inv.State = frame.ToolSucceeded
			return
		}
	}

	retries := o.MaxRetries
	if inv.RetriesOverride != nil {
		retries = *inv.RetriesOverride
	}

	var lastErr error
retryLoop:
	for attempt := 0; attempt <= retries; attempt++ {
		inv.Attempts = attempt + 1

		callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		result, err := fn(callCtx, inv.Arguments)
		cancel()

		if err == nil {
			inv.Result = result
			inv.State = frame.ToolSucceeded
			if idemKey != "" && o.Cache != nil {
				o.Cache.Put(ctx, idemKey, inv.Name, canonical, result)
			}
			return
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			inv.State = frame.ToolTimedOut
		} else {
			inv.State = frame.ToolErrored
		}

		if ctx.Err() != nil {
			// The session itself was cancelled; don't retry further.
			break retryLoop
		}
		if attempt == retries {
			break retryLoop
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			break retryLoop
		}
	}
	inv.Err = lastErr
}

// backoff returns min(100*(attempt+1), 500) milliseconds.
func backoff(attempt int) time.Duration {
	ms := 100 * (attempt + 1)
	if ms > 500 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

// CanonicalJSON re-encodes raw JSON with object keys sorted
// lexicographically at every level, so that idempotency keys are stable
// regardless of the order a provider emitted argument fields in.
func CanonicalJSON(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("tool: invalid json arguments")
	}
	return canonicalize(gjson.ParseBytes(raw))
}

func canonicalize(r gjson.Result) (string, error) {
	switch {
	case r.IsObject():
		keys := make([]string, 0)
		vals := make(map[string]gjson.Result)
		var rangeErr error
		r.ForEach(func(k, v gjson.Result) bool {
			keys = append(keys, k.String())
			vals[k.String()] = v
			return true
		})
		sort.Strings(keys)
		out := "{}"
		for _, k := range keys {
			sub, err := canonicalize(vals[k])
			if err != nil {
				rangeErr = err
				break
			}
			out, err = sjson.SetRaw(out, escapePathSegment(k), sub)
			if err != nil {
				rangeErr = err
				break
			}
		}
		return out, rangeErr

	case r.IsArray():
		out := "[]"
		i := 0
		var rangeErr error
		r.ForEach(func(_, v gjson.Result) bool {
			sub, err := canonicalize(v)
			if err != nil {
				rangeErr = err
				return false
			}
			out, err = sjson.SetRaw(out, strconv.Itoa(i), sub)
			if err != nil {
				rangeErr = err
				return false
			}
			i++
			return true
		})
		return out, rangeErr

	default:
		return r.Raw, nil
	}
}

// escapePathSegment escapes sjson's path metacharacters so arbitrary JSON
// object keys can be used as a single path segment.
func escapePathSegment(k string) string {
	var b []byte
	for i := 0; i < len(k); i++ {
		switch k[i] {
		case '.', '*', '?', '\\':
			b = append(b, '\\')
		}
		b = append(b, k[i])
	}
	return string(b)
}
