// Package link turns a raw vehicle byte stream into a connection state that
// only reports "connected" once the vehicle's heartbeats are arriving.
package link

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mavwatch/pkg/liveness"
	"mavwatch/pkg/mavlink"
)

type Config struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	ValidateCRC      bool
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:    1 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		ValidateCRC:      true,
	}
}

// ConnectionState is a snapshot of the controller. Liveness is never Alive
// while TransportOpen is false.
type ConnectionState struct {
	TransportOpen bool
	Liveness      liveness.State
	Identity      mavlink.VehicleIdentity
	HasIdentity   bool
}

// Connected reports the user-visible connected signal.
func (s ConnectionState) Connected() bool {
	return s.TransportOpen && s.Liveness == liveness.Alive
}

type Option func(*Controller)

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock is passed through to the liveness supervisor.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithFrameHandler observes every decoded frame. It runs on the receive
// goroutine and must not block.
func WithFrameHandler(fn func(mavlink.Frame)) Option {
	return func(c *Controller) {
		c.onFrame = fn
	}
}

// Controller implements the byte-source callbacks. OnBytesReceived must be
// called from one goroutine per connection; the open/close callbacks and the
// liveness ticker may race with it safely.
//
// Lock order is Controller.mu, then the supervisor lock, then the Notifier.
type Controller struct {
	cfg      Config
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	onFrame  func(mavlink.Frame)
	sup      *liveness.Supervisor

	mu          sync.Mutex
	open        bool
	decoder     *mavlink.Decoder
	lastStats   mavlink.DecoderStats
	identity    mavlink.VehicleIdentity
	hasIdentity bool
}

func New(cfg Config, notifier Notifier, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if notifier == nil {
		notifier = NotifierFuncs{}
	}
	c := &Controller{
		cfg:      cfg,
		notifier: notifier,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sup = liveness.New(
		liveness.Config{CheckInterval: cfg.CheckInterval, Timeout: cfg.HeartbeatTimeout},
		supervisorEvents{c},
		liveness.WithClock(c.now),
		liveness.WithLogger(c.log),
	)
	return c
}

// OnTransportOpened starts decoding and liveness supervision. It does not
// mark the connection as connected. A second call while open is a no-op.
func (c *Controller) OnTransportOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return
	}
	c.open = true
	c.decoder = mavlink.NewDecoder(mavlink.WithCRCValidation(c.cfg.ValidateCRC))
	c.lastStats = mavlink.DecoderStats{}
	c.identity, c.hasIdentity = mavlink.VehicleIdentity{}, false
	c.sup.Start()

	c.log.Info("link: transport opened, waiting for heartbeat")
	if obs, ok := c.notifier.(TransportObserver); ok {
		obs.TransportOpened()
	}
}

// OnBytesReceived decodes chunk and feeds heartbeats to the supervisor.
// Bytes arriving while the transport is closed are dropped.
func (c *Controller) OnBytesReceived(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return
	}
	c.decoder.Feed(chunk, c.handleFrame)
	c.logDecoderStats()
}

// OnTransportClosed stops supervision, discards decoder and identity, and
// emits Disconnected once if anything was open or alive.
func (c *Controller) OnTransportClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasActive := c.open || c.sup.State() != liveness.NoHeartbeatYet
	c.sup.Stop()
	c.open = false
	c.decoder = nil
	c.identity, c.hasIdentity = mavlink.VehicleIdentity{}, false

	if !wasActive {
		return
	}
	c.log.Info("link: disconnected")
	c.notifier.Disconnected()
}

// CheckLiveness runs one timeout evaluation immediately.
func (c *Controller) CheckLiveness() {
	c.sup.Check()
}

func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{
		TransportOpen: c.open,
		Liveness:      c.sup.State(),
		Identity:      c.identity,
		HasIdentity:   c.hasIdentity,
	}
}

func (c *Controller) handleFrame(f mavlink.Frame) {
	if c.onFrame != nil {
		c.onFrame(f)
	}
	id, ok := mavlink.ExtractIdentity(f)
	if !ok {
		if f.MessageID == mavlink.MsgIDHeartbeat {
			c.log.Debug("link: undersized heartbeat ignored", zap.Int("payload_len", len(f.Payload)))
		}
		return
	}
	c.identity, c.hasIdentity = id, true
	c.sup.Observe(id)
}

func (c *Controller) logDecoderStats() {
	stats := c.decoder.Stats()
	if stats.ChecksumErrors > c.lastStats.ChecksumErrors {
		c.log.Debug("link: frames dropped on checksum mismatch",
			zap.Uint64("count", stats.ChecksumErrors-c.lastStats.ChecksumErrors))
	}
	if stats.BadHeaders > c.lastStats.BadHeaders {
		c.log.Debug("link: frame headers rejected",
			zap.Uint64("count", stats.BadHeaders-c.lastStats.BadHeaders))
	}
	if stats.Overflows > c.lastStats.Overflows {
		c.log.Debug("link: oversized frames aborted",
			zap.Uint64("count", stats.Overflows-c.lastStats.Overflows))
	}
	c.lastStats = stats
}

// supervisorEvents forwards liveness transitions to the Notifier. It runs
// under the supervisor lock and so must not touch Controller.mu.
type supervisorEvents struct {
	c *Controller
}

func (e supervisorEvents) Established(id mavlink.VehicleIdentity) {
	e.c.log.Info("link: connection established",
		zap.Uint8("system_id", id.SystemID),
		zap.Uint8("component_id", id.ComponentID),
		zap.String("vehicle_type", id.VehicleTypeName()),
	)
	e.c.notifier.ConnectionEstablished(id)
}

func (e supervisorEvents) Lost(lastSeen time.Time) {
	e.c.log.Warn("link: heartbeat lost", zap.Time("last_seen", lastSeen))
	e.c.notifier.HeartbeatLost()
}
