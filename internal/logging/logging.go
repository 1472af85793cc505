// Package logging constructs the conductor logger.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// New returns a stderr logger at the given level. Level strings follow
// charmbracelet/log names (debug, info, warn, error, fatal); anything
// unrecognized falls back to info.
func New(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "conductor",
	})
	logger.SetLevel(parseLevel(level))
	return logger
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}
