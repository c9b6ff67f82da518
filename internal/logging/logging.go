// Package logging configures the rekindle logger.
//
// Hosts embed rekindle inside full-screen terminal programs, so nothing is
// written unless asked: the default logger is a no-op, and FromEnv only
// turns output on when the environment requests it.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables honored by FromEnv.
const (
	// EnvLevel sets the log level ("trace" through "disabled").
	EnvLevel = "REKINDLE_LOG_LEVEL"

	// EnvFile redirects log output to a file, appending. Useful when the
	// host owns the terminal.
	EnvFile = "REKINDLE_LOG_FILE"

	// EnvJSON switches to raw JSON lines instead of the console format.
	EnvJSON = "REKINDLE_LOG_JSON"

	// EnvNoColor disables console colors.
	EnvNoColor = "REKINDLE_LOG_NOCOLOR"
)

// Options configures a logger.
type Options struct {
	// App tags every line, e.g. "rekindle-demo".
	App string

	// Writer receives log output. Defaults to os.Stderr.
	Writer io.Writer

	// Level is the minimum level to emit.
	Level zerolog.Level

	// JSON emits raw JSON lines instead of the human console format.
	JSON bool

	// NoColor disables console colors. Ignored when JSON is set.
	NoColor bool
}

// New builds a logger from options.
func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if !opts.JSON {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}

	logger := zerolog.New(w).Level(opts.Level).With().Timestamp()
	if opts.App != "" {
		logger = logger.Str("app", opts.App)
	}
	return logger.Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// FromEnv builds a logger from the REKINDLE_LOG_* environment variables.
// With no variables set it returns a no-op logger.
func FromEnv(app string) zerolog.Logger {
	return fromSettings(app, os.Getenv(EnvLevel), os.Getenv(EnvFile), envBool(EnvJSON), envBool(EnvNoColor))
}

// FromConfig builds a logger from config-file settings: a level name and an
// optional output file. An empty level with no file returns the no-op
// logger, same as FromEnv.
func FromConfig(app, level, file string) zerolog.Logger {
	return fromSettings(app, level, file, false, false)
}

func fromSettings(app, rawLevel, file string, json, noColor bool) zerolog.Logger {
	level, ok := ParseLevel(rawLevel)
	if !ok && file == "" {
		return Nop()
	}
	if !ok {
		level = zerolog.InfoLevel
	}

	opts := Options{
		App:   app,
		Level: level,
		JSON:  json,
	}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			// Fall back to stderr rather than dropping logs silently.
			return New(opts)
		}
		opts.Writer = f
		opts.NoColor = true
	} else {
		opts.NoColor = noColor
	}

	return New(opts)
}

// ParseLevel maps a level name to a zerolog level. It accepts zerolog's
// names plus a few common aliases; ok is false for empty or unknown input.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "warning":
		return zerolog.WarnLevel, true
	case "off", "none", "disable":
		return zerolog.Disabled, true
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.InfoLevel, false
	}
	return level, true
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
