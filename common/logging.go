// Package common provides shared utilities for the guardian signing service,
// including logger setup and version information.
package common

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// PackageName is the service identifier used for metrics and logging.
const PackageName = "guardiand"

// Version is overridden at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the service logger.
type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON enables JSON log output instead of text.
	JSON bool

	// Service is added as a "service" tag to all log messages, if set.
	Service string

	// Version is added as a "version" tag to all log messages, if set.
	Version string

	// UID generates a per-process uuid and adds it to all log messages.
	UID bool
}

// SetupLogger creates a structured logger according to the given options.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	if opts.UID {
		log = log.With("uid", uuid.New().String())
	}

	return log
}
