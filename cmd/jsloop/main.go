// Command jsloop runs a script under the event loop until it has nothing
// left to wait for.
//
//	jsloop [flags] script.js
//	jsloop [flags] -e 'os.setTimeout(() => print("hi"), 100)'
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/cryguy/jsloop"
)

var version = "dev" // set via -ldflags at build time

// fileConfig is the optional TOML configuration file. Flags given on the
// command line override it.
type fileConfig struct {
	LogLevel        string `toml:"log_level"`
	MemoryLimitMB   int    `toml:"memory_limit_mb"`
	MaxScriptSizeKB int    `toml:"max_script_size_kb"`
	Bundle          *bool  `toml:"bundle"`
	Signals         *bool  `toml:"signals"`
	Loop            struct {
		IdleWaitMs  int `toml:"idle_wait_ms"`
		MaxTimers   int `toml:"max_timers"`
		MaxHandlers int `toml:"max_handlers"`
		MaxSignals  int `toml:"max_signals"`
		MaxPorts    int `toml:"max_ports"`
	} `toml:"loop"`
}

type options struct {
	cfg     jsloop.HostConfig
	bundle  bool
	signals bool
	eval    string
	script  string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "jsloop: %v\n", err)
		return 2
	}

	name, source, err := loadSource(opts)
	if err != nil {
		fmt.Fprintf(stderr, "jsloop: %v\n", err)
		return 1
	}

	host, err := jsloop.NewHost(opts.cfg,
		jsloop.WithOutput(stdout, stderr),
		jsloop.WithOSSignals(opts.signals),
	)
	if err != nil {
		fmt.Fprintf(stderr, "jsloop: %v\n", err)
		return 1
	}
	defer host.Close()

	if err := host.RunScript(name, source); err != nil {
		fmt.Fprintf(stderr, "jsloop: %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("jsloop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "jsloop %s\n\nUsage: jsloop [flags] <script.js>\n\nFlags:\n", version)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "TOML configuration file")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, err, disabled")
	memoryLimit := fs.Int("memory-limit", 0, "runtime memory limit in MB (0 for none)")
	idleWait := fs.Int("idle-wait", 0, "longest single timer wait in ms (0 for default)")
	maxTimers := fs.Int("max-timers", 0, "timer capacity (0 for unbounded)")
	bundle := fs.Bool("bundle", true, "bundle imports with esbuild before running")
	signals := fs.Bool("signals", true, "deliver process signals to os.signal handlers")
	eval := fs.String("e", "", "evaluate this source instead of a script file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{bundle: true, signals: true, eval: *eval}
	if *configPath != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(*configPath, &fc); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		opts.cfg = jsloop.HostConfig{
			LogLevel:        fc.LogLevel,
			MemoryLimitMB:   fc.MemoryLimitMB,
			MaxScriptSizeKB: fc.MaxScriptSizeKB,
			Loop: jsloop.LoopConfig{
				IdleWaitMs:  fc.Loop.IdleWaitMs,
				MaxTimers:   fc.Loop.MaxTimers,
				MaxHandlers: fc.Loop.MaxHandlers,
				MaxSignals:  fc.Loop.MaxSignals,
				MaxPorts:    fc.Loop.MaxPorts,
			},
		}
		if fc.Bundle != nil {
			opts.bundle = *fc.Bundle
		}
		if fc.Signals != nil {
			opts.signals = *fc.Signals
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			opts.cfg.LogLevel = *logLevel
		case "memory-limit":
			opts.cfg.MemoryLimitMB = *memoryLimit
		case "idle-wait":
			opts.cfg.Loop.IdleWaitMs = *idleWait
		case "max-timers":
			opts.cfg.Loop.MaxTimers = *maxTimers
		case "bundle":
			opts.bundle = *bundle
		case "signals":
			opts.signals = *signals
		}
	})

	switch {
	case opts.eval != "" && fs.NArg() > 0:
		return nil, errors.New("-e and a script file are mutually exclusive")
	case opts.eval == "" && fs.NArg() != 1:
		fs.Usage()
		return nil, errors.New("expected exactly one script")
	case fs.NArg() == 1:
		opts.script = fs.Arg(0)
	}
	return opts, nil
}

func loadSource(opts *options) (name, source string, err error) {
	if opts.script == "" {
		return "<eval>", opts.eval, nil
	}
	if opts.bundle {
		source, err = jsloop.Bundle(opts.script)
		return opts.script, source, err
	}
	b, err := os.ReadFile(opts.script)
	if err != nil {
		return "", "", err
	}
	return opts.script, string(b), nil
}
