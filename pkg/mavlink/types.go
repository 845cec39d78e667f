// Package mavlink recovers MAVLink v2 frames from an unframed byte stream and
// decodes the heartbeat message that carries vehicle identity.
package mavlink

const (
	// StartMarker opens every MAVLink v2 frame.
	StartMarker byte = 0xFD

	HeaderLen    = 10
	ChecksumLen  = 2
	SignatureLen = 13

	// MaxPayloadLen is the largest payload the one-byte length field allows.
	MaxPayloadLen = 255
	// MaxFrameLen is header + largest payload + checksum + signature.
	MaxFrameLen = HeaderLen + MaxPayloadLen + ChecksumLen + SignatureLen

	// IncompatFlagSigned marks a frame followed by a 13-byte signature block.
	IncompatFlagSigned byte = 0x01

	knownIncompatFlags = IncompatFlagSigned
)

// Frame is one structurally complete MAVLink v2 frame. Payload is owned by the
// frame and never aliases decoder memory.
type Frame struct {
	PayloadLen    uint8
	IncompatFlags uint8
	CompatFlags   uint8
	Sequence      uint8
	SystemID      uint8
	ComponentID   uint8
	MessageID     uint32 // 24-bit
	Payload       []byte
	Checksum      uint16
	HasSignature  bool
}

// Len returns the number of bytes the frame occupies on the wire.
func (f Frame) Len() int {
	n := HeaderLen + len(f.Payload) + ChecksumLen
	if f.HasSignature {
		n += SignatureLen
	}
	return n
}
