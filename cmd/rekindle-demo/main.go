// Package main is a live-reload demo: a small dashboard whose widgets are
// Lua view builders. Rebuild the bundle while it runs and the screen
// repaints with the new definitions.
//
// Build with the live tag to get reloads; without it the dashboard renders
// once and stays put:
//
//	go run -tags live ./cmd/rekindle-demo
//	go run ./cmd/rekindle-stamp -dir bundle   (from another terminal)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/rekindle"
	"github.com/dshills/rekindle/internal/bundle"
	"github.com/dshills/rekindle/internal/config"
	"github.com/dshills/rekindle/internal/logging"
	"github.com/dshills/rekindle/internal/manifest"
	"github.com/dshills/rekindle/internal/term"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return 1
	}
	if opts.bundleDir != "" {
		cfg.Bundle.Dir = opts.bundleDir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	logger := logging.FromConfig("rekindle-demo", cfg.Log.Level, cfg.Log.File)
	if cfg.Log.Level == "" && cfg.Log.File == "" {
		logger = logging.FromEnv("rekindle-demo")
	}

	if err := ensureBundle(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: prepare bundle: %v\n", err)
		return 1
	}

	rt := bundle.New(cfg.Bundle.Dir, cfg.Bundle.Entry,
		bundle.WithModule("host", map[string]lua.LGFunction{
			"now": func(l *lua.LState) int {
				l.Push(lua.LString(time.Now().Format("15:04:05")))
				return 1
			},
		}))
	defer rt.Close()

	if err := rt.Reload(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load bundle: %v\n", err)
		return 1
	}

	screen, err := term.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: create terminal: %v\n", err)
		return 1
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init terminal: %v\n", err)
		return 1
	}
	defer screen.Fini()

	svcOpts := []rekindle.Option{
		rekindle.WithManifest(cfg.ManifestPath()),
		rekindle.WithDebounce(cfg.Debounce()),
		rekindle.WithLogger(logger),
		rekindle.WithLoader(rt),
		rekindle.WithTransition(screen),
		rekindle.WithPost(func(fn func()) {
			if err := screen.Post(fn); err != nil {
				logger.Warn().Err(err).Msg("reload batch dropped, event queue full")
			}
		}),
	}
	if cfg.Watch.Signal == "" {
		svcOpts = append(svcOpts, rekindle.WithSignal(nil))
	} else if sig, ok := config.ParseSignal(cfg.Watch.Signal); ok {
		svcOpts = append(svcOpts, rekindle.WithSignal(sig))
	}

	svc, err := rekindle.New(svcOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: create reload service: %v\n", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := svc.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("reload service stop")
		}
	}()

	// The greeting rebuilds through a host; the rest of the dashboard
	// redraws through the owner callback below.
	greeting, err := rekindle.NewHost(svc, func() string {
		b := rt.Current()
		if b == nil {
			return ""
		}
		s, _ := b.GetString("greeting")
		return s
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	d := &dashboard{
		screen:   screen,
		rt:       rt,
		svc:      svc,
		greeting: greeting,
	}
	rekindle.On(svc, d, func(d *dashboard) { d.redraw() })

	d.redraw()

	// Ctrl-C and SIGTERM land here; Fini unblocks PollEvent.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		screen.Fini()
	}()

	logger.Info().Str("version", version).Str("bundle", cfg.Bundle.Dir).Msg("demo running")

	for {
		ev := screen.PollEvent()
		if ev == nil {
			return 0
		}
		switch e := ev.(type) {
		case *term.FuncEvent:
			e.Run()
		case *tcell.EventKey:
			switch {
			case e.Key() == tcell.KeyEscape || e.Key() == tcell.KeyCtrlC || e.Rune() == 'q':
				return 0
			case e.Rune() == 'r':
				svc.Broadcast()
			}
		case *tcell.EventResize:
			screen.Sync()
			d.redraw()
		}
	}
}

// dashboard draws the demo screen from the current bundle definitions.
type dashboard struct {
	screen   *term.Screen
	rt       *bundle.Runtime
	svc      *rekindle.Service
	greeting *rekindle.Host[string]
}

func (d *dashboard) redraw() {
	b := d.rt.Current()
	if b == nil {
		return
	}

	w, _ := d.screen.Size()
	if w < 8 {
		return
	}

	d.screen.Clear()

	box := tcell.StyleDefault.Foreground(tcell.ColorGray)
	bold := tcell.StyleDefault.Bold(true)
	dim := tcell.StyleDefault.Dim(true)

	d.screen.Box(0, 0, w, 8, box)

	title, _ := b.GetString("title")
	d.screen.SetText(2, 1, title, bold)
	d.screen.SetText(2, 2, d.greeting.Value(), tcell.StyleDefault)
	d.screen.SetText(2, 3, luaText(b, "status", lua.LNumber(d.svc.Generation())), tcell.StyleDefault)

	d.screen.HLine(1, 4, w-2, box)

	st := d.rt.Stats()
	d.screen.SetText(2, 5, fmt.Sprintf("bundle loads %d, failures %d", st.Loads, st.Failures), dim)
	d.screen.SetText(2, 6, luaText(b, "footer", lua.LString(commit)), dim)

	d.screen.Show()
}

// luaText calls a bundle view builder and renders its first return value,
// or nothing when the builder is absent or broken.
func luaText(b *bundle.Bundle, fn string, args ...lua.LValue) string {
	vals, err := b.Call(fn, args...)
	if err != nil || len(vals) == 0 {
		return ""
	}
	return vals[0].String()
}

// ensureBundle scaffolds a starter bundle when none exists so the demo runs
// out of the box.
func ensureBundle(cfg config.Config) error {
	if _, err := os.Stat(cfg.EntryPath()); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(cfg.Bundle.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.EntryPath(), []byte(starterBundle), 0o644); err != nil {
		return err
	}

	files, err := manifest.HashFiles(cfg.Bundle.Dir, "*.lua")
	if err != nil {
		return err
	}
	_, err = manifest.Stamp(cfg.ManifestPath(), filepath.Base(cfg.Bundle.Dir), files)
	return err
}

const starterBundle = `-- Starter bundle for the rekindle demo.
--
-- Edit anything below while the demo runs, then announce the build:
--
--   go run ./cmd/rekindle-stamp -dir bundle
--
-- and the dashboard repaints with your changes.

title = "rekindle demo"
greeting = "hello from init.lua (" .. host.now() .. ")"

function status(gen)
  return "generation " .. gen .. "   [r] reload now   [q] quit"
end

function footer(commit)
  return "bundle entry init.lua @ " .. commit
end
`

type options struct {
	configPath string
	bundleDir  string
	logLevel   string
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", config.DefaultFileName, "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", config.DefaultFileName, "Path to configuration file (shorthand)")
	flag.StringVar(&opts.bundleDir, "bundle", "", "Bundle directory (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rekindle-demo - live-reload dashboard\n\n")
		fmt.Fprintf(os.Stderr, "Usage: rekindle-demo [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nKeys:\n")
		fmt.Fprintf(os.Stderr, "  r    trigger a reload by hand\n")
		fmt.Fprintf(os.Stderr, "  q    quit\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("rekindle-demo %s (%s)\n", version, commit)
		os.Exit(0)
	}

	return opts
}
