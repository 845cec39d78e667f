package mavlink_test

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"reflect"
	"testing"

	"mavwatch/pkg/mavlink"
)

// msgIDTestBlob is a 255-byte test message, registered once for the whole
// package so the global registry is identical for every test.
const msgIDTestBlob = 42999

func TestMain(m *testing.M) {
	if err := mavlink.Register(mavlink.MessageInfo{ID: msgIDTestBlob, Name: "TEST_BLOB", CRCExtra: 7, MinLen: mavlink.MaxPayloadLen}); err != nil {
		fmt.Fprintln(os.Stderr, "register test message:", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func quadHeartbeat(seq uint8) []byte {
	return mavlink.EncodeHeartbeat(seq, 1, 1, mavlink.Heartbeat{
		CustomMode:     2,
		Type:           2,
		Autopilot:      3,
		BaseMode:       0x51,
		SystemStatus:   4,
		MavlinkVersion: 3,
	})
}

func decodeAll(t *testing.T, d *mavlink.Decoder, chunks ...[]byte) []mavlink.Frame {
	t.Helper()
	var frames []mavlink.Frame
	for _, chunk := range chunks {
		d.Feed(chunk, func(f mavlink.Frame) {
			frames = append(frames, f)
		})
	}
	return frames
}

func TestDecodeSingleHeartbeat(t *testing.T) {
	raw := quadHeartbeat(7)
	frames := mavlink.NewDecoder(mavlink.WithCRCValidation(true)).Decode(raw)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.MessageID != mavlink.MsgIDHeartbeat || f.Sequence != 7 || f.SystemID != 1 || f.ComponentID != 1 {
		t.Fatalf("unexpected header: %+v", f)
	}
	if f.PayloadLen != 9 || len(f.Payload) != 9 {
		t.Fatalf("unexpected payload length: %d/%d", f.PayloadLen, len(f.Payload))
	}
	if f.HasSignature {
		t.Fatalf("unsigned frame reported a signature")
	}
	if f.Len() != len(raw) {
		t.Fatalf("frame length mismatch: got %d want %d", f.Len(), len(raw))
	}
}

func TestDecodeChunkBoundaryIndependence(t *testing.T) {
	raw := quadHeartbeat(1)
	want := mavlink.NewDecoder().Decode(raw)
	if len(want) != 1 {
		t.Fatalf("expected 1 reference frame, got %d", len(want))
	}

	for cut := 1; cut < len(raw); cut++ {
		got := decodeAll(t, mavlink.NewDecoder(), raw[:cut], raw[cut:])
		if len(got) != 1 || !reflect.DeepEqual(got[0], want[0]) {
			t.Fatalf("split at %d: got %+v want %+v", cut, got, want)
		}
	}

	var perByte [][]byte
	for i := range raw {
		perByte = append(perByte, raw[i:i+1])
	}
	got := decodeAll(t, mavlink.NewDecoder(), perByte...)
	if len(got) != 1 || !reflect.DeepEqual(got[0], want[0]) {
		t.Fatalf("byte-at-a-time: got %+v", got)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var chunks [][]byte
		rest := raw
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := decodeAll(t, mavlink.NewDecoder(), chunks...)
		if len(got) != 1 || !reflect.DeepEqual(got[0], want[0]) {
			t.Fatalf("trial %d (%d chunks): got %+v", trial, len(chunks), got)
		}
	}
}

func TestDecodeResyncAfterGarbage(t *testing.T) {
	raw := quadHeartbeat(3)
	stream := append([]byte{0x00, 0x00}, raw...)

	d := mavlink.NewDecoder(mavlink.WithCRCValidation(true))
	frames := d.Decode(stream)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Sequence != 3 {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
	if got := d.Stats().Discarded; got != 2 {
		t.Fatalf("expected 2 discarded bytes, got %d", got)
	}
}

func TestDecodeResyncAfterStrayMarker(t *testing.T) {
	stream := append([]byte{0x00, 0x00, mavlink.StartMarker}, quadHeartbeat(3)...)

	for _, strict := range []bool{true, false} {
		d := mavlink.NewDecoder(mavlink.WithCRCValidation(strict))
		frames := d.Decode(stream)
		if len(frames) != 1 {
			t.Fatalf("strict=%v: expected 1 frame, got %d", strict, len(frames))
		}
		id, ok := mavlink.ExtractIdentity(frames[0])
		if !ok || id.SystemID != 1 || id.ComponentID != 1 || id.VehicleType != 2 {
			t.Fatalf("strict=%v: unexpected identity %+v ok=%v", strict, id, ok)
		}
		if got := d.Stats().Discarded; got != 3 {
			t.Fatalf("strict=%v: expected 3 discarded bytes, got %d", strict, got)
		}

		if next := d.Decode(quadHeartbeat(4)); len(next) != 1 || next[0].Sequence != 4 {
			t.Fatalf("strict=%v: decoder lost sync for the following frame: %+v", strict, next)
		}
	}
}

func TestDecodeRescansAfterChecksumMismatch(t *testing.T) {
	// The stray marker reads as a 2-byte HEARTBEAT whose header swallows the
	// start of the real frame; its checksum cannot match.
	stream := append([]byte{mavlink.StartMarker, 0x02, 0x00, 0x00, 0x00}, quadHeartbeat(0)...)
	stream = append(stream, quadHeartbeat(1)...)

	d := mavlink.NewDecoder(mavlink.WithCRCValidation(true))
	frames := d.Decode(stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Sequence != 0 || frames[1].Sequence != 1 || len(frames[0].Payload) != 9 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if got := d.Stats().ChecksumErrors; got != 1 {
		t.Fatalf("expected 1 checksum error, got %d", got)
	}
}

func TestDecodeMarkerInsidePayloadIsData(t *testing.T) {
	payload := bytes.Repeat([]byte{mavlink.StartMarker}, 14)
	raw, err := mavlink.Encode(mavlink.Frame{SystemID: 9, ComponentID: 1, MessageID: 4, Payload: payload})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	stream := append(raw, quadHeartbeat(2)...)

	frames := mavlink.NewDecoder(mavlink.WithCRCValidation(true)).Decode(stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("payload corrupted: %x", frames[0].Payload)
	}
	if frames[1].MessageID != mavlink.MsgIDHeartbeat {
		t.Fatalf("second frame should be a heartbeat, got id %d", frames[1].MessageID)
	}
}

func TestDecodeSkipsSignatureBlock(t *testing.T) {
	hb := mavlink.Heartbeat{Type: 1, MavlinkVersion: 3}
	signed, err := mavlink.Encode(mavlink.Frame{
		SystemID:     1,
		ComponentID:  1,
		MessageID:    mavlink.MsgIDHeartbeat,
		Payload:      hb.MarshalPayload(),
		HasSignature: true,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(signed) != mavlink.HeaderLen+9+mavlink.ChecksumLen+mavlink.SignatureLen {
		t.Fatalf("unexpected signed frame length %d", len(signed))
	}
	// Signature bytes that look like a frame start must not confuse framing.
	for i := len(signed) - mavlink.SignatureLen; i < len(signed); i++ {
		signed[i] = mavlink.StartMarker
	}

	stream := append(signed, quadHeartbeat(5)...)
	frames := mavlink.NewDecoder(mavlink.WithCRCValidation(true)).Decode(stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !frames[0].HasSignature || frames[1].HasSignature {
		t.Fatalf("unexpected signature flags: %v %v", frames[0].HasSignature, frames[1].HasSignature)
	}
	if frames[1].Sequence != 5 {
		t.Fatalf("frame after signature misparsed: %+v", frames[1])
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	raw := quadHeartbeat(1)
	raw[len(raw)-1] ^= 0xFF

	strict := mavlink.NewDecoder(mavlink.WithCRCValidation(true))
	if frames := strict.Decode(raw); len(frames) != 0 {
		t.Fatalf("corrupted frame should be dropped, got %d", len(frames))
	}
	if got := strict.Stats().ChecksumErrors; got != 1 {
		t.Fatalf("expected 1 checksum error, got %d", got)
	}

	// The decoder recovers for the next frame.
	if frames := strict.Decode(quadHeartbeat(2)); len(frames) != 1 {
		t.Fatalf("decoder did not recover after checksum error")
	}

	lenient := mavlink.NewDecoder()
	if frames := lenient.Decode(raw); len(frames) != 1 {
		t.Fatalf("structural decoding should accept the frame, got %d", len(frames))
	}
}

func TestDecodeUnknownMessagePassesValidation(t *testing.T) {
	raw := []byte{0xFD, 0x02, 0x00, 0x00, 0x00, 0x01, 0x01, 0x39, 0x30, 0x00, 0xAA, 0xBB, 0x12, 0x34}
	frames := mavlink.NewDecoder(mavlink.WithCRCValidation(true)).Decode(raw)
	if len(frames) != 1 {
		t.Fatalf("expected opaque frame, got %d", len(frames))
	}
	if frames[0].MessageID != 0x3039 {
		t.Fatalf("unexpected message id %d", frames[0].MessageID)
	}
	if frames[0].Checksum != 0x3412 {
		t.Fatalf("unexpected checksum 0x%04x", frames[0].Checksum)
	}
}

func TestDecodeLargestFrame(t *testing.T) {
	payload := make([]byte, mavlink.MaxPayloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw, err := mavlink.Encode(mavlink.Frame{SystemID: 1, ComponentID: 2, MessageID: msgIDTestBlob, Payload: payload, HasSignature: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != mavlink.MaxFrameLen {
		t.Fatalf("expected %d byte frame, got %d", mavlink.MaxFrameLen, len(raw))
	}

	d := mavlink.NewDecoder(mavlink.WithCRCValidation(true))
	frames := d.Decode(append(raw, raw...))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].MessageID != msgIDTestBlob || !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("unexpected frame: id=%d len=%d", frames[0].MessageID, len(frames[0].Payload))
	}
	if d.Stats().Overflows != 0 {
		t.Fatalf("unexpected overflow")
	}
}

func TestDecodedPayloadDoesNotAliasDecoder(t *testing.T) {
	d := mavlink.NewDecoder()
	first := d.Decode(quadHeartbeat(1))
	if len(first) != 1 {
		t.Fatalf("expected 1 frame")
	}
	before := append([]byte(nil), first[0].Payload...)

	other := mavlink.EncodeHeartbeat(2, 3, 4, mavlink.Heartbeat{CustomMode: 0xFFFFFFFF, Type: 10})
	d.Decode(other)

	if !bytes.Equal(first[0].Payload, before) {
		t.Fatalf("payload changed after further decoding: %x", first[0].Payload)
	}
}

func TestEncodeRejectsUnknownMessage(t *testing.T) {
	if _, err := mavlink.Encode(mavlink.Frame{MessageID: 0xABCDE}); err == nil {
		t.Fatalf("expected error for unregistered message")
	}
	if _, err := mavlink.Encode(mavlink.Frame{Payload: make([]byte, 256)}); err != mavlink.ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
