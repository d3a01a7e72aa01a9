package main

import (
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"copter/internal/copterr"
)

// newLogger builds a production zap logger with console encoding and no
// timestamp key, since the CLI's own output already carries enough
// ordering information without one.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}

// applyColorMode sets fatih/color's global NoColor switch from the
// --color flag (auto|on|off).
func applyColorMode(value string) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		// auto: leave fatih/color's own isatty detection in place.
	}
}

// exitCodeFor maps a returned error to a process exit code. Config and
// registry errors get distinct codes from an unexpected internal failure,
// so scripts invoking copter can tell a bad invocation from a bug.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case copterr.Is(err, copterr.KindConfigInvalid):
		return 2
	case copterr.Is(err, copterr.KindExternalUnavailable):
		return 3
	default:
		return 4
	}
}
