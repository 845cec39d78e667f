package link

import (
	"time"

	"mavwatch/pkg/mavlink"
)

// Notifier consumes externally visible connection changes. Calls are made
// synchronously from the controller, possibly with internal locks held, so
// implementations must return promptly and must not call back into the
// Controller.
type Notifier interface {
	ConnectionEstablished(id mavlink.VehicleIdentity)
	HeartbeatLost()
	Disconnected()
}

// TransportObserver is optionally implemented by a Notifier that also wants
// to know when the byte source opened. It is informational only: opening a
// transport never counts as connected.
type TransportObserver interface {
	TransportOpened()
}

type EventKind string

const (
	EventTransportOpened       EventKind = "transport_opened"
	EventConnectionEstablished EventKind = "connection_established"
	EventHeartbeatLost         EventKind = "heartbeat_lost"
	EventDisconnected          EventKind = "disconnected"
)

// Event is a Notifier call captured as a value for fan-out consumers.
type Event struct {
	Kind        EventKind
	Time        time.Time
	Identity    mavlink.VehicleIdentity
	HasIdentity bool
}

// NotifierFuncs adapts plain functions to Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	OnEstablished  func(mavlink.VehicleIdentity)
	OnLost         func()
	OnDisconnected func()
}

func (f NotifierFuncs) ConnectionEstablished(id mavlink.VehicleIdentity) {
	if f.OnEstablished != nil {
		f.OnEstablished(id)
	}
}

func (f NotifierFuncs) HeartbeatLost() {
	if f.OnLost != nil {
		f.OnLost()
	}
}

func (f NotifierFuncs) Disconnected() {
	if f.OnDisconnected != nil {
		f.OnDisconnected()
	}
}
