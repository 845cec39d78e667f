package mavlink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrPayloadTooLarge = errors.New("mavlink: payload exceeds 255 bytes")

// Encode serialises f as a v2 frame. PayloadLen and Checksum are derived from
// the payload; a signed frame gets a zeroed signature block.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	info, ok := Lookup(f.MessageID)
	if !ok {
		return nil, fmt.Errorf("encode message %d: %w", f.MessageID, ErrUnknownMessage)
	}

	incompat := f.IncompatFlags
	if f.HasSignature {
		incompat |= IncompatFlagSigned
	} else {
		incompat &^= IncompatFlagSigned
	}

	end := HeaderLen + len(f.Payload)
	out := make([]byte, end+ChecksumLen, end+ChecksumLen+SignatureLen)
	out[0] = StartMarker
	out[1] = byte(len(f.Payload))
	out[2] = incompat
	out[3] = f.CompatFlags
	out[4] = f.Sequence
	out[5] = f.SystemID
	out[6] = f.ComponentID
	out[7] = byte(f.MessageID)
	out[8] = byte(f.MessageID >> 8)
	out[9] = byte(f.MessageID >> 16)
	copy(out[HeaderLen:], f.Payload)
	binary.LittleEndian.PutUint16(out[end:], Checksum(out[:end], info.CRCExtra))

	if f.HasSignature {
		out = append(out, make([]byte, SignatureLen)...)
	}
	return out, nil
}

// EncodeHeartbeat builds a complete HEARTBEAT frame.
func EncodeHeartbeat(seq, systemID, componentID uint8, hb Heartbeat) []byte {
	out, err := Encode(Frame{
		Sequence:    seq,
		SystemID:    systemID,
		ComponentID: componentID,
		MessageID:   MsgIDHeartbeat,
		Payload:     hb.MarshalPayload(),
	})
	if err != nil {
		// HEARTBEAT is always registered and its payload is fixed size.
		panic(err)
	}
	return out
}
