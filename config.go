package rekindle

import (
	"github.com/dshills/rekindle/internal/config"
)

// FromConfig builds a service from the TOML file at path. An empty path
// reads .rekindle.toml in the working directory; a missing file applies the
// defaults. Explicit opts override the file.
func FromConfig(path string, opts ...Option) (*Service, error) {
	if path == "" {
		path = config.DefaultFileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(append(configOptions(cfg), opts...)...)
}

func configOptions(cfg config.Config) []Option {
	opts := []Option{
		WithManifest(cfg.ManifestPath()),
		WithDebounce(cfg.Debounce()),
		withLogSettings(cfg.Log.Level, cfg.Log.File),
	}

	if cfg.Watch.Signal == "" {
		opts = append(opts, WithSignal(nil))
	} else if sig, ok := config.ParseSignal(cfg.Watch.Signal); ok {
		opts = append(opts, WithSignal(sig))
	}
	return opts
}
