package mavlink

import (
	"encoding/binary"
	"fmt"
)

// VehicleIdentity is who sent the latest heartbeat. System and component ids
// come from the frame header; the vehicle type comes from the payload.
type VehicleIdentity struct {
	SystemID    uint8
	ComponentID uint8
	VehicleType uint8
}

func (v VehicleIdentity) VehicleTypeName() string {
	return VehicleTypeName(v.VehicleType)
}

func (v VehicleIdentity) String() string {
	return fmt.Sprintf("sys=%d comp=%d type=%s", v.SystemID, v.ComponentID, v.VehicleTypeName())
}

// Heartbeat mirrors the HEARTBEAT payload. On the wire fields are ordered by
// size: custom_mode (uint32) first, then the uint8 fields.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

const (
	hbOffsetCustomMode     = 0
	hbOffsetType           = 4
	hbOffsetAutopilot      = 5
	hbOffsetBaseMode       = 6
	hbOffsetSystemStatus   = 7
	hbOffsetMavlinkVersion = 8
)

// ExtractIdentity returns the sender identity of a heartbeat frame. Other
// messages and heartbeats shorter than 9 payload bytes yield false.
func ExtractIdentity(f Frame) (VehicleIdentity, bool) {
	hb, ok := DecodeHeartbeat(f)
	if !ok {
		return VehicleIdentity{}, false
	}
	return VehicleIdentity{
		SystemID:    f.SystemID,
		ComponentID: f.ComponentID,
		VehicleType: hb.Type,
	}, true
}

// DecodeHeartbeat returns every HEARTBEAT field; see ExtractIdentity for the
// length rule.
func DecodeHeartbeat(f Frame) (Heartbeat, bool) {
	if f.MessageID != MsgIDHeartbeat || len(f.Payload) < heartbeatPayloadLen {
		return Heartbeat{}, false
	}
	p := f.Payload
	return Heartbeat{
		CustomMode:     binary.LittleEndian.Uint32(p[hbOffsetCustomMode:]),
		Type:           p[hbOffsetType],
		Autopilot:      p[hbOffsetAutopilot],
		BaseMode:       p[hbOffsetBaseMode],
		SystemStatus:   p[hbOffsetSystemStatus],
		MavlinkVersion: p[hbOffsetMavlinkVersion],
	}, true
}

// MarshalPayload encodes the heartbeat in wire order.
func (h Heartbeat) MarshalPayload() []byte {
	p := make([]byte, heartbeatPayloadLen)
	binary.LittleEndian.PutUint32(p[hbOffsetCustomMode:], h.CustomMode)
	p[hbOffsetType] = h.Type
	p[hbOffsetAutopilot] = h.Autopilot
	p[hbOffsetBaseMode] = h.BaseMode
	p[hbOffsetSystemStatus] = h.SystemStatus
	p[hbOffsetMavlinkVersion] = h.MavlinkVersion
	return p
}
