package mavlink

import "encoding/binary"

// DecoderState is the framing phase of a Decoder.
type DecoderState int

const (
	AwaitingStart DecoderState = iota
	ReadingHeader
	ReadingBody
)

func (s DecoderState) String() string {
	switch s {
	case ReadingHeader:
		return "reading_header"
	case ReadingBody:
		return "reading_body"
	default:
		return "awaiting_start"
	}
}

// DecoderStats counts what the decoder did with its input.
type DecoderStats struct {
	Frames         uint64
	Discarded      uint64 // bytes skipped while hunting for a start marker
	BadHeaders     uint64 // headers with incompatibility flags this decoder cannot handle
	ChecksumErrors uint64
	Overflows      uint64
}

// Decoder reassembles frames from arbitrarily fragmented input. Once a start
// marker is seen, frame boundaries are length driven: a 0xFD inside a header
// or payload of a valid frame is data, not a new frame. An attempt rejected
// for an unknown incompatibility flag or a checksum mismatch is rescanned
// from the byte after its start marker.
//
// A Decoder is not safe for concurrent use; one goroutine owns it per stream.
type Decoder struct {
	state    DecoderState
	buf      [MaxFrameLen]byte
	n        int
	expected int
	validate bool
	stats    DecoderStats
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithCRCValidation drops frames whose checksum does not match. Only message
// ids with registered CRC_EXTRA can be checked; others pass through.
func WithCRCValidation(enabled bool) DecoderOption {
	return func(d *Decoder) {
		d.validate = enabled
	}
}

// NewDecoder returns an idle decoder. CRC validation is off unless enabled.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed consumes chunk and calls onFrame for every completed frame in stream
// order. Bytes belonging to an unfinished frame are kept for the next call.
func (d *Decoder) Feed(chunk []byte, onFrame func(Frame)) {
	emit := func(f Frame) {
		if onFrame != nil {
			onFrame(f)
		}
	}
	for _, b := range chunk {
		d.step(b, emit)
	}
}

// Decode is Feed collecting the frames into a slice.
func (d *Decoder) Decode(chunk []byte) []Frame {
	var frames []Frame
	d.Feed(chunk, func(f Frame) {
		frames = append(frames, f)
	})
	return frames
}

// Reset abandons any partially assembled frame.
func (d *Decoder) Reset() {
	d.state = AwaitingStart
	d.n = 0
	d.expected = 0
}

// Stats returns the counters accumulated since the decoder was created.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

func (d *Decoder) step(b byte, emit func(Frame)) {
	if d.state == AwaitingStart {
		if b != StartMarker {
			d.stats.Discarded++
			return
		}
		d.buf[0] = b
		d.n = 1
		d.state = ReadingHeader
		return
	}

	if d.n >= len(d.buf) {
		d.stats.Overflows++
		d.Reset()
		return
	}
	d.buf[d.n] = b
	d.n++

	switch d.state {
	case ReadingHeader:
		if d.n < HeaderLen {
			return
		}
		if d.buf[2]&^knownIncompatFlags != 0 {
			d.stats.BadHeaders++
			d.rescan(emit)
			return
		}
		d.expected = HeaderLen + int(d.buf[1]) + ChecksumLen
		if d.buf[2]&IncompatFlagSigned != 0 {
			d.expected += SignatureLen
		}
		if d.expected > len(d.buf) {
			d.stats.Overflows++
			d.Reset()
			return
		}
		d.state = ReadingBody
	case ReadingBody:
		if d.n < d.expected {
			return
		}
		frame, ok := d.complete()
		if !ok {
			d.rescan(emit)
			return
		}
		d.Reset()
		emit(frame)
	}
}

// rescan drops the start marker of a rejected attempt and feeds the bytes
// after it again, so a real frame behind a stray 0xFD is still found.
func (d *Decoder) rescan(emit func(Frame)) {
	rest := make([]byte, d.n-1)
	copy(rest, d.buf[1:d.n])
	d.Reset()
	d.stats.Discarded++
	for _, b := range rest {
		d.step(b, emit)
	}
}

func (d *Decoder) complete() (Frame, bool) {
	payloadLen := int(d.buf[1])
	end := HeaderLen + payloadLen
	frame := Frame{
		PayloadLen:    d.buf[1],
		IncompatFlags: d.buf[2],
		CompatFlags:   d.buf[3],
		Sequence:      d.buf[4],
		SystemID:      d.buf[5],
		ComponentID:   d.buf[6],
		MessageID:     uint32(d.buf[7]) | uint32(d.buf[8])<<8 | uint32(d.buf[9])<<16,
		Checksum:      binary.LittleEndian.Uint16(d.buf[end : end+ChecksumLen]),
		HasSignature:  d.buf[2]&IncompatFlagSigned != 0,
	}

	if d.validate {
		if info, ok := Lookup(frame.MessageID); ok {
			if Checksum(d.buf[:end], info.CRCExtra) != frame.Checksum {
				d.stats.ChecksumErrors++
				return Frame{}, false
			}
		}
	}

	frame.Payload = append([]byte(nil), d.buf[HeaderLen:end]...)
	d.stats.Frames++
	return frame, true
}
