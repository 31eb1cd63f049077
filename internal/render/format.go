package render

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is how event timestamps are shown (always UTC).
const TimeLayout = "2006-01-02 15:04:05"

// FormatFloat rounds to two decimals and trims trailing zeros:
// 1050.00 -> "1050", 12.50 -> "12.5", 0.125 -> "0.13".
func FormatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	r := math.Round(f*100) / 100
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// FormatNumber applies FormatFloat to decoded JSON scalars and numeric
// strings. Non-numeric input is returned as text unchanged.
func FormatNumber(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return FormatFloat(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return FormatFloat(f)
		}
		return t.String()
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return FormatFloat(f)
		}
		return t
	default:
		return ""
	}
}

// FormatTimestamp renders a millisecond epoch as UTC wall time.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimeLayout)
}

var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown protects free text inside legacy Markdown messages.
func EscapeMarkdown(s string) string { return mdEscaper.Replace(s) }
