package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"mavwatch/pkg/link"
)

const DefaultConfigPath = "mavwatch.toml"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Link       LinkConfig      `toml:"link"`
	Transport  TransportConfig `toml:"transport"`
	Log        LogConfig       `toml:"log"`
	Bridge     BridgeConfig    `toml:"bridge"`
	Journal    JournalConfig   `toml:"journal"`
	Influx     InfluxConfig    `toml:"influx"`
	configPath string          `toml:"-"`
}

type LinkConfig struct {
	CheckIntervalMs    int  `toml:"check_interval_ms"`
	HeartbeatTimeoutMs int  `toml:"heartbeat_timeout_ms"`
	ValidateCRC        bool `toml:"validate_crc"`
}

type TransportConfig struct {
	Kind         string `toml:"kind"`
	Addr         string `toml:"addr"`
	Device       string `toml:"device"`
	Baud         int    `toml:"baud"`
	Reconnect    string `toml:"reconnect"`
	ReconnectMax string `toml:"reconnect_max"`
	ReaderBuf    int    `toml:"reader_buf"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	EventsPath string `toml:"events_path,omitempty"`
}

type BridgeConfig struct {
	Enabled bool   `toml:"enabled"`
	WSAddr  string `toml:"ws_addr"`
}

type JournalConfig struct {
	Path string `toml:"path,omitempty"`
}

type InfluxConfig struct {
	URL      string `toml:"url,omitempty"`
	Token    string `toml:"token,omitempty"`
	Database string `toml:"database,omitempty"`
}

const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

func Default() Config {
	return Config{
		Link: LinkConfig{
			CheckIntervalMs:    1000,
			HeartbeatTimeoutMs: 5000,
			ValidateCRC:        true,
		},
		Transport: TransportConfig{
			Kind:         TransportTCP,
			Addr:         "127.0.0.1:5760",
			Device:       "/dev/ttyACM0",
			Baud:         57600,
			Reconnect:    "1s",
			ReconnectMax: "30s",
			ReaderBuf:    4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Bridge: BridgeConfig{
			WSAddr: "127.0.0.1:8765",
		},
		Influx: InfluxConfig{
			Database: "mavwatch",
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path over the defaults. A missing file is not an error;
// the returned bool says whether it existed.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize()
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.configPath = path
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	cfg.configPath = path
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	if cfg.Link.CheckIntervalMs <= 0 {
		return fmt.Errorf("%w: link.check_interval_ms must be positive, got %d", ErrInvalid, cfg.Link.CheckIntervalMs)
	}
	if cfg.Link.HeartbeatTimeoutMs <= 0 {
		return fmt.Errorf("%w: link.heartbeat_timeout_ms must be positive, got %d", ErrInvalid, cfg.Link.HeartbeatTimeoutMs)
	}

	switch cfg.Transport.Kind {
	case TransportTCP:
		if cfg.Transport.Addr == "" {
			return fmt.Errorf("%w: transport.addr is required for tcp", ErrInvalid)
		}
	case TransportSerial:
		if cfg.Transport.Device == "" {
			return fmt.Errorf("%w: transport.device is required for serial", ErrInvalid)
		}
		if cfg.Transport.Baud <= 0 {
			return fmt.Errorf("%w: transport.baud must be positive, got %d", ErrInvalid, cfg.Transport.Baud)
		}
	default:
		return fmt.Errorf("%w: unknown transport.kind %q", ErrInvalid, cfg.Transport.Kind)
	}
	if _, err := time.ParseDuration(cfg.Transport.Reconnect); err != nil {
		return fmt.Errorf("%w: transport.reconnect: %v", ErrInvalid, err)
	}
	if _, err := time.ParseDuration(cfg.Transport.ReconnectMax); err != nil {
		return fmt.Errorf("%w: transport.reconnect_max: %v", ErrInvalid, err)
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, cfg.Log.Format)
	}
	return nil
}

// LinkSettings converts the [link] section for link.New.
func (cfg *Config) LinkSettings() link.Config {
	return link.Config{
		CheckInterval:    time.Duration(cfg.Link.CheckIntervalMs) * time.Millisecond,
		HeartbeatTimeout: time.Duration(cfg.Link.HeartbeatTimeoutMs) * time.Millisecond,
		ValidateCRC:      cfg.Link.ValidateCRC,
	}
}

// ReconnectDurations returns the parsed reconnect interval and cap. Values
// are checked by Validate; unparsable ones fall back to defaults.
func (cfg *Config) ReconnectDurations() (time.Duration, time.Duration) {
	def := Default()
	interval, err := time.ParseDuration(cfg.Transport.Reconnect)
	if err != nil {
		interval, _ = time.ParseDuration(def.Transport.Reconnect)
	}
	limit, err := time.ParseDuration(cfg.Transport.ReconnectMax)
	if err != nil {
		limit, _ = time.ParseDuration(def.Transport.ReconnectMax)
	}
	return interval, limit
}

func (cfg *Config) normalize() {
	def := Default()

	if cfg.Link.CheckIntervalMs == 0 {
		cfg.Link.CheckIntervalMs = def.Link.CheckIntervalMs
	}
	if cfg.Link.HeartbeatTimeoutMs == 0 {
		cfg.Link.HeartbeatTimeoutMs = def.Link.HeartbeatTimeoutMs
	}

	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = def.Transport.Kind
	}
	if cfg.Transport.Addr == "" {
		cfg.Transport.Addr = def.Transport.Addr
	}
	if cfg.Transport.Device == "" {
		cfg.Transport.Device = def.Transport.Device
	}
	if cfg.Transport.Baud == 0 {
		cfg.Transport.Baud = def.Transport.Baud
	}
	if cfg.Transport.Reconnect == "" {
		cfg.Transport.Reconnect = def.Transport.Reconnect
	}
	if cfg.Transport.ReconnectMax == "" {
		cfg.Transport.ReconnectMax = def.Transport.ReconnectMax
	}
	if cfg.Transport.ReaderBuf <= 0 {
		cfg.Transport.ReaderBuf = def.Transport.ReaderBuf
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	if cfg.Bridge.WSAddr == "" {
		cfg.Bridge.WSAddr = def.Bridge.WSAddr
	}
	if cfg.Influx.Database == "" {
		cfg.Influx.Database = def.Influx.Database
	}

	if cfg.configPath == "" {
		cfg.configPath = DefaultConfigPath
	}
}
