// Package influx writes link events to InfluxDB 3 as points.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"go.uber.org/zap"

	"mavwatch/pkg/link"
)

const Measurement = "mavlink_link"

type Config struct {
	URL      string
	Token    string
	Database string
}

type pointWriter interface {
	WritePoints(ctx context.Context, points []*influxdb3.Point, options ...influxdb3.WriteOption) error
	Close() error
}

// Writer batches events and flushes them on size or interval.
type Writer struct {
	client        pointWriter
	batchSize     int
	flushInterval time.Duration
	log           *zap.Logger
	batch         []*influxdb3.Point
}

type Option func(*Writer)

func WithBatchSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(w *Writer) {
		if log != nil {
			w.log = log
		}
	}
}

func New(cfg Config, opts ...Option) (*Writer, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx: url is required")
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.URL,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("influx: create client: %w", err)
	}
	return newWriter(client, opts...), nil
}

func newWriter(client pointWriter, opts ...Option) *Writer {
	w := &Writer{
		client:        client,
		batchSize:     64,
		flushInterval: time.Second,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.batch = make([]*influxdb3.Point, 0, w.batchSize)
	return w
}

// PointFromEvent maps an event to a point. The connected field is 1 after
// connection_established and 0 after heartbeat_lost or disconnected;
// transport_opened carries no connected field.
func PointFromEvent(ev link.Event) *influxdb3.Point {
	tags := map[string]string{"event": string(ev.Kind)}
	fields := map[string]any{"count": int64(1)}

	switch ev.Kind {
	case link.EventConnectionEstablished:
		fields["connected"] = int64(1)
	case link.EventHeartbeatLost, link.EventDisconnected:
		fields["connected"] = int64(0)
	}
	if ev.HasIdentity {
		tags["system_id"] = fmt.Sprintf("%d", ev.Identity.SystemID)
		tags["component_id"] = fmt.Sprintf("%d", ev.Identity.ComponentID)
		tags["vehicle_type"] = ev.Identity.VehicleTypeName()
		fields["vehicle_type_code"] = int64(ev.Identity.VehicleType)
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb3.NewPoint(Measurement, tags, fields, ts)
}

// Consume batches events until in closes or ctx ends, then flushes what is
// left with a short detached deadline.
func (w *Writer) Consume(ctx context.Context, in <-chan link.Event) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	defer w.finalFlush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			w.batch = append(w.batch, PointFromEvent(ev))
			if len(w.batch) >= w.batchSize {
				w.flush(ctx)
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Writer) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx)
}

func (w *Writer) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	if err := w.client.WritePoints(ctx, w.batch); err != nil {
		w.log.Warn("influx write failed", zap.Int("points", len(w.batch)), zap.Error(err))
	} else {
		w.log.Debug("influx flushed", zap.Int("points", len(w.batch)))
	}
	w.batch = make([]*influxdb3.Point, 0, w.batchSize)
}

func (w *Writer) Close() error {
	return w.client.Close()
}
