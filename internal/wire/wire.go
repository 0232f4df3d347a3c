// Package wire decodes the loosely-shaped JSON that arrives from the realtime
// channels and the REST collaborators into domain values.
package wire

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// Frame types exchanged on the realtime channels
const (
	FrameSubscribe      = "subscribe"
	FrameUnsubscribe    = "unsubscribe"
	FrameSendMessage    = "send_message"
	FrameMessage        = "message"
	FrameCrawlInitiated = "crawl_initiated"
	FrameJobStarted     = "job_started"
	FrameJobProgress    = "job_progress"
	FrameJobCompleted   = "job_completed"
	FrameError          = "error"
)

// Frame is the JSON envelope used on both realtime channels
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame of the given type
func NewFrame(frameType string, data any) (Frame, error) {
	if data == nil {
		return Frame{Type: frameType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: raw}, nil
}

const maxUnwrapDepth = 4

// Parse parses raw bytes, unwrapping JSON that was encoded as a JSON string.
// Invalid input yields a result whose Exists() is false.
func Parse(raw []byte) gjson.Result {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}
	}
	return Unwrap(gjson.ParseBytes(raw))
}

// Unwrap decodes string values that themselves hold a JSON object or array.
// A value that fails to decode is returned unchanged.
func Unwrap(r gjson.Result) gjson.Result {
	for i := 0; i < maxUnwrapDepth && r.Type == gjson.String; i++ {
		s := strings.TrimSpace(r.Str)
		if s == "" || (s[0] != '{' && s[0] != '[' && s[0] != '"') || !gjson.Valid(s) {
			break
		}
		r = gjson.Parse(s)
	}
	return r
}

// First returns the first of the given paths that exists on r, unwrapped
func First(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return Unwrap(v)
		}
	}
	return gjson.Result{}
}

// Text returns r as a string: strings verbatim, anything else as raw JSON
func Text(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return r.Str
	case gjson.JSON:
		return r.Raw
	}
	return r.String()
}

// Time reads a timestamp that may be RFC3339 text, another common layout,
// or unix seconds / milliseconds. Unparseable input yields the zero time.
func Time(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		n := r.Int()
		if n <= 0 {
			return time.Time{}
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	case gjson.String:
		if strings.TrimSpace(r.Str) == "" {
			return time.Time{}
		}
		t, err := cast.ToTimeE(r.Str)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	}
	return time.Time{}
}

// Float coerces numbers and numeric text ("12", "1,204.5", "35%") to float64.
// NaN and infinities are rejected.
func Float(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return finite(r.Num)
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(s)
		if err != nil {
			return 0, false
		}
		return finite(f)
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	}
	return 0, false
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Items returns the elements of r when it is an array, or of the first
// array-valued wrapper key when r is an object.
func Items(r gjson.Result, wrappers ...string) []gjson.Result {
	r = Unwrap(r)
	if r.IsArray() {
		return r.Array()
	}
	if r.IsObject() {
		for _, w := range wrappers {
			if v := Unwrap(r.Get(w)); v.IsArray() {
				return v.Array()
			}
		}
	}
	return nil
}
