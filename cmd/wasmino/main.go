package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasmino/config"
	"github.com/wippyai/wasmino/engine"
	"github.com/wippyai/wasmino/runtime"
	"github.com/wippyai/wasmino/source"
)

func main() {
	var (
		wasmRef     = flag.String("wasm", "", "Guest firmware: path, http(s):// URL, gist://<id> or - for stdin")
		configFile  = flag.String("config", "", "Config file (.json, .yaml or .toml)")
		pins        = flag.String("pins", "", `Pin layout, e.g. {"13":{"type":"led"},"2":{"type":"switch"}}`)
		tick        = flag.Duration("tick", 0, "Tick interval (default from config, 50ms)")
		duration    = flag.Duration("duration", 0, "Stop after this long (headless only)")
		interactive = flag.Bool("i", false, "Interactive mode with pin panel")
		schema      = flag.Bool("schema", false, "Print the config JSON schema and exit")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "console", "Log format (console, json)")
		logFile     = flag.String("log-file", "", "Write logs to this file instead of stderr")
	)
	flag.Parse()

	if *schema {
		data, err := config.Schema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	cfg, err := loadConfig(*configFile, *wasmRef, *pins, *tick)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: wasmino -wasm <firmware.wasm> [-pins json] [-tick 50ms] [-i]")
		fmt.Fprintln(os.Stderr, "       wasmino -config wasmino.json [-i]")
		fmt.Fprintln(os.Stderr, "       wasmino -schema")
		os.Exit(1)
	}

	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
		os.Exit(1)
	}

	// The panel owns the terminal, so interactive logs go to a file or nowhere.
	log, err := newLogger(*logLevel, *logFormat, *logFile, *interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	engine.SetLogger(log)

	if err := run(cfg, log, *interactive, *duration, *configFile); err != nil {
		log.Error("wasmino failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers flags over the config file over the defaults.
func loadConfig(path, wasmRef, pins string, tick time.Duration) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if wasmRef != "" {
		cfg.Source = wasmRef
	}
	if pins != "" {
		layout, err := config.ParsePins(pins)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Pins = layout
	}
	if tick > 0 {
		cfg.TickMS = int(tick / time.Millisecond)
	}
	return cfg, cfg.Validate()
}

func newLogger(level, format, file string, interactive bool) (*zap.Logger, error) {
	if interactive && file == "" {
		return zap.NewNop(), nil
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	if file != "" {
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	}
	return cfg.Build()
}

func run(cfg config.Config, log *zap.Logger, interactive bool, duration time.Duration, configFile string) error {
	src, err := source.Parse(cfg.Source)
	if err != nil {
		return err
	}

	if interactive {
		return runInteractive(cfg, src, log, configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	opts := append(cfg.HostOptions(),
		runtime.WithLogger(log),
		runtime.WithStdout(os.Stdout),
		runtime.WithStderr(os.Stderr),
	)
	host := runtime.New(src, opts...)
	defer func() { _ = host.Close(context.Background()) }()

	log.Info("starting guest",
		zap.Stringer("source", src),
		zap.Duration("tick", cfg.TickInterval()))
	return runHeadless(ctx, host, cfg, log)
}
