// Package liveness decides whether a vehicle is still talking, based on the
// time since its last heartbeat.
package liveness

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mavwatch/pkg/mavlink"
)

type State int

const (
	NoHeartbeatYet State = iota
	Alive
	Lost
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Lost:
		return "lost"
	default:
		return "no_heartbeat_yet"
	}
}

// Listener receives liveness transitions. Methods run while the supervisor
// lock is held and must not call back into the Supervisor.
type Listener interface {
	Established(id mavlink.VehicleIdentity)
	Lost(lastSeen time.Time)
}

type Config struct {
	CheckInterval time.Duration
	Timeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Second,
		Timeout:       5 * time.Second,
	}
}

type Option func(*Supervisor)

// WithClock replaces time.Now for timestamping and timeout evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// Supervisor tracks NoHeartbeatYet -> Alive -> Lost -> Alive. Heartbeats and
// periodic checks arrive from different goroutines; mu serialises them and
// also guards the ticker handle, so Stop and an in-flight check never overlap.
type Supervisor struct {
	cfg      Config
	listener Listener
	now      func() time.Time
	log      *zap.Logger

	mu       sync.Mutex
	state    State
	lastSeen time.Time
	ticker   *time.Ticker
	done     chan struct{}
	gen      uint64
}

func New(cfg Config, listener Listener, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if listener == nil {
		listener = nopListener{}
	}
	s := &Supervisor{
		cfg:      cfg,
		listener: listener,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the periodic check. The last-seen timestamp is reset first so a
// stale value cannot trigger an immediate timeout. Starting a running
// supervisor restarts it.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.state = NoHeartbeatYet
	s.lastSeen = s.now()
	s.gen++
	s.ticker = time.NewTicker(s.cfg.CheckInterval)
	s.done = make(chan struct{})
	go s.run(s.ticker.C, s.done, s.gen)

	s.log.Debug("liveness: started",
		zap.Duration("check_interval", s.cfg.CheckInterval),
		zap.Duration("timeout", s.cfg.Timeout),
	)
}

// Stop disarms the check and returns the state to NoHeartbeatYet. Once Stop
// returns no listener method will be called until the next Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopLocked() {
		s.log.Debug("liveness: stopped")
	}
	s.state = NoHeartbeatYet
}

// Observe records a heartbeat. It is ignored while the supervisor is stopped.
func (s *Supervisor) Observe(id mavlink.VehicleIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.lastSeen = s.now()
	if s.state == Alive {
		return
	}
	s.state = Alive
	s.listener.Established(id)
}

// Check evaluates the timeout once, outside the built-in ticker cadence.
func (s *Supervisor) Check() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.checkLocked()
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}

func (s *Supervisor) run(tick <-chan time.Time, done <-chan struct{}, gen uint64) {
	for {
		select {
		case <-done:
			return
		case <-tick:
			s.mu.Lock()
			if s.ticker != nil && s.gen == gen {
				s.checkLocked()
			}
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) checkLocked() {
	if s.state != Alive {
		return
	}
	if s.now().Sub(s.lastSeen) > s.cfg.Timeout {
		s.state = Lost
		s.listener.Lost(s.lastSeen)
	}
}

// stopLocked hands the ticker off exactly once; later callers find nil.
func (s *Supervisor) stopLocked() bool {
	ticker, done := s.ticker, s.done
	s.ticker, s.done = nil, nil
	if ticker == nil {
		return false
	}
	ticker.Stop()
	close(done)
	return true
}

type nopListener struct{}

func (nopListener) Established(mavlink.VehicleIdentity) {}
func (nopListener) Lost(time.Time)                      {}
