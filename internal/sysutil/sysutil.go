// Package sysutil holds process-level helpers shared by the relay: logger
// bootstrap and the loose truthiness rules upstream services rely on.
package sysutil

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is stamped on every log line.
const ServiceName = "signal-relay"

// ParseLevel maps a LOG_LEVEL value to a zerolog level. Blank or unknown
// values fall back to info; "warning" is accepted for warn.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetupLogger installs the global logger at level. Output is JSON on stdout,
// or a console writer on stderr when pretty is set.
func SetupLogger(level string, pretty bool) {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	setupLogger(out, level)
}

func setupLogger(out io.Writer, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", ServiceName).Logger()
}

// IsTruthy reports whether a string flag should be considered true.
// Accepted values (case-insensitive): "1", "true", "yes", "y", "on".
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// IsTruthyValue extends IsTruthy to decoded JSON values: booleans as-is,
// numbers only when equal to 1, strings via IsTruthy. Anything else is false.
func IsTruthyValue(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case int:
		return x == 1
	case int64:
		return x == 1
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 1
	case string:
		return IsTruthy(x)
	default:
		return false
	}
}
