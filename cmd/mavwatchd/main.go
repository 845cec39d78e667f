package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mavwatch/pkg/config"
	"mavwatch/pkg/logger"
	"mavwatch/pkg/tui"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		return runServer([]string{}, stdout, stderr)
	}

	switch args[0] {
	case "server":
		return runServer(args[1:], stdout, stderr)
	case "watch":
		return runWatch(args[1:], stdout, stderr)
	case "mock":
		return runMock(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

// linkFlags are shared by server and watch. Only flags given on the command
// line override the config file.
type linkFlags struct {
	configPath string
	kind       string
	addr       string
	device     string
	baud       int
	timeout    time.Duration
	interval   time.Duration
	noCRC      bool
	logLevel   string
	journal    string
}

func registerLinkFlags(fs *flag.FlagSet) *linkFlags {
	f := &linkFlags{}
	fs.StringVar(&f.configPath, "config", config.DefaultConfigPath, "TOML config path")
	fs.StringVar(&f.kind, "transport", "", "transport kind: tcp or serial")
	fs.StringVar(&f.addr, "addr", "", "TCP address of the MAVLink endpoint")
	fs.StringVar(&f.device, "device", "", "serial device")
	fs.IntVar(&f.baud, "baud", 0, "serial baud rate")
	fs.DurationVar(&f.timeout, "timeout", 0, "heartbeat timeout")
	fs.DurationVar(&f.interval, "check-interval", 0, "liveness check interval")
	fs.BoolVar(&f.noCRC, "no-crc", false, "accept frames with bad checksums")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.StringVar(&f.journal, "journal", "", "SQLite event journal path")
	return f
}

func (f *linkFlags) load(fs *flag.FlagSet) (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "transport":
			cfg.Transport.Kind = f.kind
		case "addr":
			cfg.Transport.Addr = f.addr
			if !isFlagSet(fs, "transport") {
				cfg.Transport.Kind = config.TransportTCP
			}
		case "device":
			cfg.Transport.Device = f.device
			if !isFlagSet(fs, "transport") {
				cfg.Transport.Kind = config.TransportSerial
			}
		case "baud":
			cfg.Transport.Baud = f.baud
		case "timeout":
			cfg.Link.HeartbeatTimeoutMs = int(f.timeout / time.Millisecond)
		case "check-interval":
			cfg.Link.CheckIntervalMs = int(f.interval / time.Millisecond)
		case "no-crc":
			cfg.Link.ValidateCRC = !f.noCRC
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "journal":
			cfg.Journal.Path = f.journal
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			set = true
		}
	})
	return set
}

func runServer(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lf := registerLinkFlags(fs)
	eventsPath := fs.String("events", "", "JSONL event output path (default: stdout)")
	bridge := fs.Bool("bridge", false, "enable the Foxglove websocket bridge")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := lf.load(fs)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}
	if *eventsPath != "" {
		cfg.Log.EventsPath = *eventsPath
	}
	if *bridge {
		cfg.Bridge.Enabled = true
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	var out io.Writer = stdout
	if cfg.Log.EventsPath != "" {
		file, err := os.OpenFile(cfg.Log.EventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error("open events file", zap.String("path", cfg.Log.EventsPath), zap.Error(err))
			return 1
		}
		defer file.Close()
		out = file
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		log.Error("start pipeline", zap.Error(err))
		return 1
	}
	p.consume(logger.NewJSONLWriter(out).Consume)
	p.start()
	log.Info("mavwatchd started",
		zap.String("transport", cfg.Transport.Kind),
		zap.String("config", cfg.ConfigPath()),
	)

	<-ctx.Done()
	p.stop()
	return 0
}

func runWatch(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lf := registerLinkFlags(fs)
	logPath := fs.String("log-file", "", "write process logs to this file (default: discarded)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := lf.load(fs)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	// The terminal belongs to the TUI, so process logs go to a file or
	// nowhere.
	log := zap.NewNop()
	if *logPath != "" {
		zcfg := zap.NewProductionConfig()
		zcfg.OutputPaths = []string{*logPath}
		if log, err = zcfg.Build(); err != nil {
			fmt.Fprintln(stderr, "logger:", err)
			return 2
		}
		defer func() { _ = log.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(stderr, "start:", err)
		return 1
	}
	defer p.stop()
	sub := p.hub.Subscribe()
	p.start()

	title := fmt.Sprintf("mavwatch  %s", describeTransport(cfg))
	if err := tui.Run(ctx, sub, nil, stdout, tui.WithTitle(title)); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "tui:", err)
		return 1
	}
	return 0
}

func describeTransport(cfg config.Config) string {
	if cfg.Transport.Kind == config.TransportSerial {
		return fmt.Sprintf("serial %s@%d", cfg.Transport.Device, cfg.Transport.Baud)
	}
	return "tcp " + cfg.Transport.Addr
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mavwatchd server [--config mavwatch.toml] [--addr host:port | --device /dev/ttyACM0 --baud 57600]")
	fmt.Fprintln(w, "                   [--timeout 5s] [--check-interval 1s] [--events events.jsonl] [--bridge] [--journal events.db]")
	fmt.Fprintln(w, "  mavwatchd watch  [same link flags] [--log-file mavwatch.log]")
	fmt.Fprintln(w, "  mavwatchd mock   [--addr 127.0.0.1:5760] [--rate 1s] [--type 2] [--pause-after 0]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server   monitor a MAVLink link and emit connection events as JSONL")
	fmt.Fprintln(w, "  watch    monitor a MAVLink link in a terminal view")
	fmt.Fprintln(w, "  mock     serve a simulated vehicle heartbeat stream over TCP")
}
