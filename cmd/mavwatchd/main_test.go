package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mavwatch/pkg/config"
	"mavwatch/pkg/journal"
	"mavwatch/pkg/link"
	"mavwatch/pkg/liveness"
	"mavwatch/pkg/logger"
)

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	for _, cmd := range []string{"server", "watch", "mock"} {
		if !strings.Contains(stdout.String(), "mavwatchd "+cmd) {
			t.Fatalf("usage does not mention %s:\n%s", cmd, stdout.String())
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"fly"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command: fly") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestRunServerRejectsInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "mavwatch.toml")
	if err := os.WriteFile(cfgPath, []byte("[transport]\nkind = \"carrier-pigeon\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"server", "--config", cfgPath}, &stdout, &stderr); code != 2 {
		t.Fatalf("unexpected exit code %d, stderr=%q", code, stderr.String())
	}
}

func TestLinkFlagsOverrideConfig(t *testing.T) {
	fs := newTestFlagSet()
	lf := registerLinkFlags(fs)
	args := []string{
		"--config", filepath.Join(t.TempDir(), "missing.toml"),
		"--device", "/dev/ttyUSB1",
		"--timeout", "2s",
		"--no-crc",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := lf.load(fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Kind != config.TransportSerial || cfg.Transport.Device != "/dev/ttyUSB1" {
		t.Fatalf("device flag should select serial: %+v", cfg.Transport)
	}
	if cfg.Link.HeartbeatTimeoutMs != 2000 || cfg.Link.ValidateCRC {
		t.Fatalf("unexpected link config: %+v", cfg.Link)
	}
	if cfg.Link.CheckIntervalMs != 1000 {
		t.Fatalf("unset flag overrode config: %+v", cfg.Link)
	}
}

func TestPipelineAgainstMockVehicle(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	v := testVehicle()
	v.rate = 20 * time.Millisecond
	v.pauseAfter = 150 * time.Millisecond
	mockDone := make(chan error, 1)
	go func() { mockDone <- v.serve(ctx, ln, log) }()

	dbPath := filepath.Join(t.TempDir(), "events.db")
	cfg := config.Default()
	cfg.Transport.Addr = ln.Addr().String()
	cfg.Link.CheckIntervalMs = 20
	cfg.Link.HeartbeatTimeoutMs = 200
	cfg.Journal.Path = dbPath

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	var jsonl bytes.Buffer
	p.consume(logger.NewJSONLWriter(&jsonl).Consume)
	p.start()

	waitForState(t, p.controller, func(s link.ConnectionState) bool { return s.Connected() })
	state := p.controller.State()
	if !state.HasIdentity || state.Identity != v.identity() {
		t.Fatalf("unexpected identity %+v", state)
	}

	waitForState(t, p.controller, func(s link.ConnectionState) bool { return s.Liveness == liveness.Lost })
	if !p.controller.State().TransportOpen {
		t.Fatalf("transport should stay open after heartbeat loss")
	}

	cancel()
	p.stop()
	if err := <-mockDone; err != nil {
		t.Fatalf("mock serve: %v", err)
	}

	db, err := journal.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer db.Close()
	recs, err := db.Recent(context.Background(), 50)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var kinds []link.EventKind
	for i := len(recs) - 1; i >= 0; i-- {
		kinds = append(kinds, recs[i].Event.Kind)
	}
	want := []link.EventKind{
		link.EventTransportOpened,
		link.EventConnectionEstablished,
		link.EventHeartbeatLost,
		link.EventDisconnected,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected journal %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected journal %v, got %v", want, kinds)
		}
	}

	lines := strings.Split(strings.TrimSpace(jsonl.String()), "\n")
	if len(lines) != len(want) {
		t.Fatalf("expected %d JSONL lines, got %q", len(want), jsonl.String())
	}
	if !strings.Contains(lines[0], `"event":"transport_opened"`) || !strings.Contains(lines[len(lines)-1], `"event":"disconnected"`) {
		t.Fatalf("unexpected JSONL stream %q", jsonl.String())
	}
}

func waitForState(t *testing.T, c *link.Controller, cond func(link.ConnectionState) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond(c.State()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state not reached, last %+v", c.State())
}

func newTestFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
