package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is a decoded JSON object as received. Numbers are kept as
// json.Number so nothing is lost before formatting. Treat it as read-only.
type Payload map[string]any

// Has reports whether key is present with a usable value: not null and not an
// empty string. Zero and false count as present.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

// Str renders a scalar field as text; missing fields are "".
func (p Payload) Str(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Float parses a numeric field, accepting numeric strings.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int parses an integral field; fractional values are truncated.
func (p Payload) Int(key string) (int64, bool) {
	if v, ok := p[key].(json.Number); ok {
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	if s, ok := p[key].(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n, true
		}
	}
	f, ok := p.Float(key)
	return int64(f), ok
}

// List returns the object elements of an array field.
func (p Payload) List(key string) []Payload {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Payload, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Payload(m))
		}
	}
	return out
}

// StrMap returns a string-valued object field, skipping non-string values.
func (p Payload) StrMap(key string) map[string]string {
	raw, ok := p[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}
