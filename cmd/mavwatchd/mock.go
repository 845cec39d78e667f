package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mavwatch/pkg/logger"
	"mavwatch/pkg/mavlink"
)

const (
	msgIDAttitude = 30

	mockRollAmplitudeRad  = 35.0 * math.Pi / 180.0
	mockPitchAmplitudeRad = 25.0 * math.Pi / 180.0
	mockYawAmplitudeRad   = 40.0 * math.Pi / 180.0

	mockRollFreqHz  = 0.23
	mockPitchFreqHz = 0.31
	mockYawFreqHz   = 0.17
)

// mockGarbage precedes the first frame on every connection so clients have to
// resynchronise. It ends in a stray start marker directly before a real one.
var mockGarbage = []byte{0x00, 0x55, 0xAA, 0x13, 0x37, mavlink.StartMarker}

type mockVehicle struct {
	systemID    uint8
	componentID uint8
	vehicleType uint8
	autopilot   uint8
	rate        time.Duration
	pauseAfter  time.Duration
}

func runMock(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("mock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:5760", "TCP listen address")
	rate := fs.Duration("rate", time.Second, "heartbeat interval")
	vtype := fs.Uint("type", 2, "MAV_TYPE code to advertise")
	sysID := fs.Uint("sysid", 1, "system id")
	compID := fs.Uint("compid", 1, "component id")
	pauseAfter := fs.Duration("pause-after", 0, "stop sending heartbeats this long after a client connects (0 = never)")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *vtype > math.MaxUint8 || *sysID > math.MaxUint8 || *compID > math.MaxUint8 {
		fmt.Fprintln(stderr, "--type, --sysid and --compid must fit in a byte")
		return 2
	}

	log, err := logger.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Error("listen", zap.String("addr", *addr), zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := mockVehicle{
		systemID:    uint8(*sysID),
		componentID: uint8(*compID),
		vehicleType: uint8(*vtype),
		autopilot:   12,
		rate:        *rate,
		pauseAfter:  *pauseAfter,
	}
	fmt.Fprintf(stdout, "mock vehicle %s listening on %s\n", v.identity(), ln.Addr())
	if err := v.serve(ctx, ln, log); err != nil {
		log.Error("mock stopped", zap.Error(err))
		return 1
	}
	return 0
}

func (v mockVehicle) identity() mavlink.VehicleIdentity {
	return mavlink.VehicleIdentity{SystemID: v.systemID, ComponentID: v.componentID, VehicleType: v.vehicleType}
}

// serve accepts clients until ctx ends; each gets its own stream.
func (v mockVehicle) serve(ctx context.Context, ln net.Listener, log *zap.Logger) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Info("mock client connected", zap.String("remote", conn.RemoteAddr().String()))
		go func() {
			defer conn.Close()
			closeConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer closeConn()
			if err := v.stream(ctx, conn); err != nil && ctx.Err() == nil {
				log.Info("mock client gone", zap.Error(err))
			}
		}()
	}
}

// stream writes heartbeats at v.rate with an attitude frame in between. Each
// frame goes out in two writes to split it across reads.
func (v mockVehicle) stream(ctx context.Context, w io.Writer) error {
	if _, err := w.Write(mockGarbage); err != nil {
		return err
	}

	rate := v.rate
	if rate <= 0 {
		rate = time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	start := time.Now()
	var seq uint8
	for {
		now := time.Now()
		paused := v.pauseAfter > 0 && now.Sub(start) >= v.pauseAfter
		for _, frame := range v.frames(seq, now.Sub(start).Seconds(), !paused) {
			half := len(frame) / 2
			if _, err := w.Write(frame[:half]); err != nil {
				return err
			}
			if _, err := w.Write(frame[half:]); err != nil {
				return err
			}
			seq++
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// frames returns one tick of traffic starting at sequence seq.
func (v mockVehicle) frames(seq uint8, t float64, heartbeat bool) [][]byte {
	var out [][]byte
	if heartbeat {
		out = append(out, mavlink.EncodeHeartbeat(seq, v.systemID, v.componentID, mavlink.Heartbeat{
			Type:           v.vehicleType,
			Autopilot:      v.autopilot,
			BaseMode:       0x81,
			SystemStatus:   4,
			MavlinkVersion: 3,
		}))
		seq++
	}
	attitude, err := mavlink.Encode(mavlink.Frame{
		Sequence:    seq,
		SystemID:    v.systemID,
		ComponentID: v.componentID,
		MessageID:   msgIDAttitude,
		Payload:     mockAttitudePayload(t),
	})
	if err == nil {
		out = append(out, attitude)
	}
	return out
}

// mockAttitudePayload encodes ATTITUDE: time_boot_ms, roll, pitch, yaw and
// their rates as little-endian float32.
func mockAttitudePayload(t float64) []byte {
	roll := mockRollAmplitudeRad * math.Sin(2.0*math.Pi*mockRollFreqHz*t)
	pitch := mockPitchAmplitudeRad * math.Sin(2.0*math.Pi*mockPitchFreqHz*t+math.Pi/3.0)
	yaw := mockYawAmplitudeRad * math.Sin(2.0*math.Pi*mockYawFreqHz*t+2.0*math.Pi/3.0)

	buf := make([]byte, 28)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t*1000))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(roll)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(pitch)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(yaw)))
	return buf
}
