// Package main implements the builder-side stamp tool: it checksums a
// bundle, bumps the manifest build counter, and optionally signals a
// running process so it reloads.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dshills/rekindle/internal/config"
	"github.com/dshills/rekindle/internal/manifest"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dir     string
		name    string
		file    string
		pattern string
		pid     int
		sigName string
		quiet   bool
	)

	flag.StringVar(&dir, "dir", "bundle", "Bundle directory to stamp")
	flag.StringVar(&name, "name", "", "Bundle name (defaults to the directory name)")
	flag.StringVar(&file, "manifest", manifest.DefaultName, "Manifest file name inside the bundle directory")
	flag.StringVar(&pattern, "glob", "*.lua", "Glob for files to checksum")
	flag.IntVar(&pid, "pid", 0, "Process to signal after stamping")
	flag.StringVar(&sigName, "signal", "SIGUSR2", "Signal to send with -pid (SIGUSR1 or SIGUSR2)")
	flag.BoolVar(&quiet, "q", false, "Suppress output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rekindle-stamp - announce a finished bundle build\n\n")
		fmt.Fprintf(os.Stderr, "Usage: rekindle-stamp [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rekindle-stamp -dir bundle           Stamp bundle/bundle.json\n")
		fmt.Fprintf(os.Stderr, "  rekindle-stamp -dir bundle -pid 1234 Stamp, then send SIGUSR2 to 1234\n")
	}
	flag.Parse()

	var sig syscall.Signal
	if pid != 0 {
		s, ok := config.ParseSignal(sigName)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: invalid signal %q (must be SIGUSR1 or SIGUSR2)\n", sigName)
			return 1
		}
		sig = s.(syscall.Signal)
	}

	if name == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: resolve bundle directory: %v\n", err)
			return 1
		}
		name = filepath.Base(abs)
	}

	files, err := manifest.HashFiles(dir, pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: checksum bundle: %v\n", err)
		return 1
	}

	m, err := manifest.Stamp(filepath.Join(dir, file), name, files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: stamp manifest: %v\n", err)
		return 1
	}
	if !quiet {
		fmt.Printf("stamped %s build %d (%d files)\n", m.Bundle, m.Build, len(m.Files))
	}

	if pid != 0 {
		if err := syscall.Kill(pid, sig); err != nil {
			fmt.Fprintf(os.Stderr, "Error: signal pid %d: %v\n", pid, err)
			return 1
		}
		if !quiet {
			fmt.Printf("signalled pid %d with %s\n", pid, sigName)
		}
	}

	return 0
}
