// Package redact strips protected health information from text and
// structured payloads before they leave the process.
//
// A Redactor is immutable once built and safe for concurrent use. Its output
// is stable under repeated application: Value(Value(x)) equals Value(x).
package redact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pstrings "phigate/pkg/platform/strings"
)

// ErrRedactionFailed is returned when a value cannot be inspected. Callers
// must fail closed and emit nothing derived from the input.
var ErrRedactionFailed = errors.New("redaction failed")

// maxDepth bounds recursion into nested payloads; deeper values (or cycles)
// fail closed.
const maxDepth = 64

// Redactor applies the process-wide rule set. The only per-instance input is
// the allow-list of approved operational identifiers.
type Redactor struct {
	approved map[string]struct{}
}

// Option configures a Redactor at construction time.
type Option func(*Redactor)

// WithApprovedIdentifiers exempts the given UUID-shaped identifiers from
// scrubbing. Matching is case-insensitive.
func WithApprovedIdentifiers(ids ...string) Option {
	return func(r *Redactor) {
		for _, id := range pstrings.DedupeFold(ids) {
			r.approved[id] = struct{}{}
		}
	}
}

// New builds a Redactor.
func New(opts ...Option) *Redactor {
	r := &Redactor{approved: make(map[string]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// String replaces every pattern match with its placeholder. Passes repeat
// until nothing changes; each replacement turns a match into an inert token,
// so the loop always terminates.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	for {
		next := r.pass(s)
		if next == s {
			return next
		}
		s = next
	}
}

func (r *Redactor) pass(s string) string {
	for _, rule := range patternRules {
		if rule.Name == "uuid" {
			s = rule.Pattern.ReplaceAllStringFunc(s, func(match string) string {
				if _, ok := r.approved[strings.ToLower(match)]; ok {
					return match
				}
				return rule.Replacement
			})
			continue
		}
		s = rule.Pattern.ReplaceAllLiteralString(s, rule.Replacement)
	}
	return s
}

// Map returns a sanitized copy of m. Keys in the PHI field set keep their
// place but their non-nil values become PlaceholderField. Values that cannot
// be inspected are replaced with PlaceholderFailed.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, err := r.mapValue(m, 0)
	if err != nil {
		return map[string]any{}
	}
	return out
}

// Value sanitizes any payload shape: strings, mappings, sequences and
// primitives are handled directly; anything else is walked through its JSON
// form field by field.
func (r *Redactor) Value(v any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrRedactionFailed, rec)
		}
	}()
	return r.value(v, 0)
}

// Safe is Value for sinks that cannot take an error, such as loggers.
func (r *Redactor) Safe(v any) any {
	out, err := r.Value(v)
	if err != nil {
		return PlaceholderFailed
	}
	return out
}

// Error returns the sanitized text of err, or "" for nil.
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.String(err.Error())
}

func (r *Redactor) value(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrRedactionFailed, maxDepth)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return r.String(t), nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number, time.Time, time.Duration:
		return t, nil
	case error:
		return r.Error(t), nil
	case json.RawMessage:
		return r.rawJSON(t, depth)
	case []byte:
		// Marshaling would base64 the bytes and hide them from the patterns.
		return r.String(string(t)), nil
	case map[string]any:
		return r.mapValue(t, depth)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if IsPHIField(k) {
				out[k] = PlaceholderField
				continue
			}
			out[k] = r.String(val)
		}
		return out, nil
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = r.String(s)
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			clean, err := r.value(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	default:
		return r.structural(v, depth)
	}
}

func (r *Redactor) mapValue(m map[string]any, depth int) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if IsPHIField(k) && val != nil {
			out[k] = PlaceholderField
			continue
		}
		clean, err := r.value(val, depth+1)
		if err != nil {
			return nil, err
		}
		out[k] = clean
	}
	return out, nil
}

// rawJSON walks a JSON document like any other payload. Bytes that are not
// valid JSON are treated as text.
func (r *Redactor) rawJSON(raw json.RawMessage, depth int) (any, error) {
	if len(raw) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil || dec.More() {
		return r.String(string(raw)), nil
	}
	return r.value(generic, depth+1)
}

// structural walks arbitrary values through their JSON form so that struct
// fields get the same field-name and pattern treatment as mapping keys.
func (r *Redactor) structural(v any, depth int) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T is not serializable", ErrRedactionFailed, v)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: decode %T", ErrRedactionFailed, v)
	}
	return r.value(generic, depth+1)
}
