package influx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"go.uber.org/zap/zaptest"

	"mavwatch/pkg/link"
	"mavwatch/pkg/mavlink"
)

type fakeClient struct {
	mu      sync.Mutex
	batches [][]*influxdb3.Point
	err     error
	closed  bool
}

func (f *fakeClient) WritePoints(_ context.Context, points []*influxdb3.Point, _ ...influxdb3.WriteOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, points)
	return f.err
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeClient) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestPointFromEvent(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := PointFromEvent(link.Event{
		Kind:        link.EventConnectionEstablished,
		Time:        ts,
		Identity:    mavlink.VehicleIdentity{SystemID: 1, ComponentID: 1, VehicleType: 2},
		HasIdentity: true,
	})
	if p.GetMeasurement() != Measurement {
		t.Fatalf("unexpected measurement %q", p.GetMeasurement())
	}
	if v, ok := p.GetTag("vehicle_type"); !ok || v != "QuadCopter" {
		t.Fatalf("unexpected vehicle_type tag %q", v)
	}
	if v, ok := p.GetTag("event"); !ok || v != "connection_established" {
		t.Fatalf("unexpected event tag %q", v)
	}
	if p.GetField("connected") != int64(1) {
		t.Fatalf("unexpected connected field %v", p.GetField("connected"))
	}

	lost := PointFromEvent(link.Event{Kind: link.EventHeartbeatLost, Time: ts})
	if lost.GetField("connected") != int64(0) {
		t.Fatalf("heartbeat_lost should write connected=0")
	}
	if _, ok := lost.GetTag("system_id"); ok {
		t.Fatalf("no identity tags expected without identity")
	}
}

func TestConsumeFlushesOnBatchSizeAndClose(t *testing.T) {
	client := &fakeClient{}
	w := newWriter(client, WithBatchSize(2), WithFlushInterval(time.Hour), WithLogger(zaptest.NewLogger(t)))

	in := make(chan link.Event, 3)
	for i := 0; i < 3; i++ {
		in <- link.Event{Kind: link.EventTransportOpened, Time: time.Now()}
	}
	close(in)
	w.Consume(context.Background(), in)

	if len(client.batches) != 2 || client.total() != 3 {
		t.Fatalf("expected batches of 2 and 1, got %d batches, %d points", len(client.batches), client.total())
	}
	if err := w.Close(); err != nil || !client.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestConsumeKeepsRunningOnWriteError(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	w := newWriter(client, WithBatchSize(1), WithLogger(zaptest.NewLogger(t)))

	in := make(chan link.Event, 2)
	in <- link.Event{Kind: link.EventHeartbeatLost}
	in <- link.Event{Kind: link.EventDisconnected}
	close(in)
	w.Consume(context.Background(), in)

	if client.total() != 2 {
		t.Fatalf("expected both points attempted, got %d", client.total())
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without url")
	}
}
