// Package config loads rekindle configuration from TOML.
//
// Configuration is optional: a missing file yields the defaults, and every
// field has a usable zero-configuration value. Only a malformed file is an
// error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is the config file rekindle looks for in the working
// directory.
const DefaultFileName = ".rekindle.toml"

// EnvBundleDir overrides the configured bundle directory.
const EnvBundleDir = "REKINDLE_BUNDLE"

// Config is the root configuration.
type Config struct {
	Bundle BundleConfig `toml:"bundle"`
	Watch  WatchConfig  `toml:"watch"`
	Log    LogConfig    `toml:"log"`
}

// BundleConfig locates the reloadable bundle.
type BundleConfig struct {
	// Dir is the bundle directory, relative to the working directory unless
	// absolute.
	Dir string `toml:"dir"`

	// Manifest is the manifest file name inside Dir.
	Manifest string `toml:"manifest"`

	// Entry is the bundle entry chunk inside Dir.
	Entry string `toml:"entry"`
}

// WatchConfig tunes the reload signal sources.
type WatchConfig struct {
	// DebounceMS is the manifest debounce window in milliseconds.
	DebounceMS int `toml:"debounce_ms"`

	// Signal names the process signal that triggers a reload ("SIGUSR2",
	// "SIGUSR1"). Empty disables the signal source.
	Signal string `toml:"signal"`
}

// LogConfig tunes logging.
type LogConfig struct {
	// Level is the minimum level to emit; empty disables logging.
	Level string `toml:"level"`

	// File appends log output to a file instead of stderr.
	File string `toml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bundle: BundleConfig{
			Dir:      "bundle",
			Manifest: "bundle.json",
			Entry:    "init.lua",
		},
		Watch: WatchConfig{
			DebounceMS: 100,
			Signal:     "SIGUSR2",
		},
	}
}

// Load reads the configuration at path. A missing file is not an error; the
// defaults are returned. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		perr := &ParseError{
			Path:    path,
			Message: err.Error(),
			Err:     err,
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return Default(), perr
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// applyEnv folds environment overrides into cfg.
func applyEnv(cfg *Config) {
	if dir := strings.TrimSpace(os.Getenv(EnvBundleDir)); dir != "" {
		cfg.Bundle.Dir = dir
	}
}

// Validate checks the configuration for values the service cannot use.
func (c Config) Validate() error {
	if c.Bundle.Dir == "" {
		return errors.New("bundle.dir cannot be empty")
	}
	if c.Bundle.Manifest == "" {
		return errors.New("bundle.manifest cannot be empty")
	}
	if strings.ContainsRune(c.Bundle.Manifest, os.PathSeparator) {
		return fmt.Errorf("bundle.manifest must be a bare file name, got %q", c.Bundle.Manifest)
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms cannot be negative, got %d", c.Watch.DebounceMS)
	}
	if c.Watch.Signal != "" {
		if _, ok := ParseSignal(c.Watch.Signal); !ok {
			return fmt.Errorf("watch.signal %q is not a supported signal", c.Watch.Signal)
		}
	}
	return nil
}

// ManifestPath returns the full manifest path.
func (c Config) ManifestPath() string {
	return filepath.Join(c.Bundle.Dir, c.Bundle.Manifest)
}

// EntryPath returns the full entry chunk path.
func (c Config) EntryPath() string {
	return filepath.Join(c.Bundle.Dir, c.Bundle.Entry)
}

// Debounce returns the manifest debounce window as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// ParseSignal maps a signal name to the signal. Only the user signals are
// supported; reload must never hijack termination signals.
func ParseSignal(name string) (os.Signal, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SIGUSR1", "USR1":
		return syscall.SIGUSR1, true
	case "SIGUSR2", "USR2":
		return syscall.SIGUSR2, true
	default:
		return nil, false
	}
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
