package jsontime

import (
	"encoding/json"
	"time"
)

// DurationMs is a time.Duration that serializes to/from integer
// milliseconds in JSON. When unmarshaling, it also accepts a duration
// string (e.g., "1h30m").
type DurationMs time.Duration

// MarshalJSON implements json.Marshaler.
func (d DurationMs) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DurationMs) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		dur, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = DurationMs(dur)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*d = DurationMs(time.Duration(ms) * time.Millisecond)
	return nil
}

// Duration returns the underlying time.Duration value.
// Returns 0 if d is nil.
func (d *DurationMs) Duration() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// String returns the duration formatted as a string.
func (d DurationMs) String() string {
	return time.Duration(d).String()
}

// Seconds returns the duration as a floating point number of seconds.
func (d DurationMs) Seconds() float64 {
	return time.Duration(d).Seconds()
}

// Milliseconds returns the duration as an integer number of milliseconds.
func (d DurationMs) Milliseconds() int64 {
	return time.Duration(d).Milliseconds()
}
