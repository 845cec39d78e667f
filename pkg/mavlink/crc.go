package mavlink

import "github.com/bluenviron/gomavlib/v3/pkg/x25"

// Checksum computes the CRC-X.25 of a frame: every byte after the start
// marker up to the end of the payload, followed by the message's CRC_EXTRA.
func Checksum(headerAndPayload []byte, crcExtra byte) uint16 {
	h := x25.New()
	if len(headerAndPayload) > 1 {
		h.Write(headerAndPayload[1:])
	}
	h.Write([]byte{crcExtra})
	return h.Sum16()
}
