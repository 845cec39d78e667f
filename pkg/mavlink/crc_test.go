package mavlink_test

import (
	"testing"

	"mavwatch/pkg/mavlink"
)

// crcX25 is the MCRF4XX accumulate routine from the MAVLink C headers.
func crcX25(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		tmp := b ^ byte(crc&0xFF)
		tmp ^= tmp << 4
		crc = (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
	}
	return crc
}

func TestChecksumMatchesReference(t *testing.T) {
	raw := mavlink.EncodeHeartbeat(9, 1, 1, mavlink.Heartbeat{Type: 2, Autopilot: 3, MavlinkVersion: 3})
	end := mavlink.HeaderLen + 9

	want := crcX25(append(append([]byte(nil), raw[1:end]...), 50))
	if got := mavlink.Checksum(raw[:end], 50); got != want {
		t.Fatalf("checksum mismatch: got 0x%04x want 0x%04x", got, want)
	}
	if got := uint16(raw[end]) | uint16(raw[end+1])<<8; got != want {
		t.Fatalf("encoded checksum mismatch: got 0x%04x want 0x%04x", got, want)
	}
}

func TestMessageName(t *testing.T) {
	if got := mavlink.MessageName(mavlink.MsgIDHeartbeat); got != "HEARTBEAT" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := mavlink.MessageName(0xFFFFF0); got != "MSG_16777200" {
		t.Fatalf("unexpected placeholder %q", got)
	}
	if err := mavlink.Register(mavlink.MessageInfo{ID: 1 << 24}); err == nil {
		t.Fatalf("expected error for id wider than 24 bits")
	}
}
