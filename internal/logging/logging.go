// Package logging configures the process-wide structured logger used by
// every component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the application-wide logger. Components derive a sub-logger from it
// via For(name) rather than constructing their own.
var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if f, err := os.OpenFile("chatvector.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		out = io.MultiWriter(os.Stdout, f)
	}

	level := zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = lvl
		}
	}

	Log = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// For returns a sub-logger tagged with the given component name, matching
// the per-subsystem field convention (ratelimit, chatapi, ingest, search,
// rpcserver, ...) used throughout this service.
func For(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}
