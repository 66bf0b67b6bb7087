// Package observability provides structured logging, OpenTelemetry tracing
// and metrics, and an optional Prometheus scrape endpoint for the synthesis
// driver. Everything is disabled by default and nil-safe, so library code
// can record unconditionally.
package observability

import (
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this module's tracer.
const tracerName = "github.com/stellarforge/popsynth"

// NewLogger builds the process logger: text to stderr by default, JSON when
// requested, debug level when verbose.
func NewLogger(verbose, jsonOutput bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Tracer returns the module tracer from the global provider; a no-op tracer
// when no provider is installed.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
