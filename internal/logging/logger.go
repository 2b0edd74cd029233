// Package logging configures the global zerolog logger and the structured
// cold start summary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	LevelEnv  = "THUMB_LOG_LEVEL"
	FormatEnv = "THUMB_LOG_FORMAT"
)

// Init configures the global logger from THUMB_LOG_LEVEL (debug, info, warn,
// error; default info) and THUMB_LOG_FORMAT ("json" or "console"). When the
// format is unset, JSON is used inside Lambda and console output elsewhere.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnv)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(writer(os.Getenv(FormatEnv))).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func writer(format string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return os.Stdout
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{Out: os.Stderr}
}
