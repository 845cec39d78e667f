// Package transport supplies raw vehicle bytes from a TCP socket or a serial
// port, reconnecting until its context is cancelled.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
)

// Sink receives the lifecycle and bytes of one stream at a time. All calls
// for a Listener come from a single goroutine. The chunk passed to
// OnBytesReceived is reused after the call returns.
type Sink interface {
	OnTransportOpened()
	OnBytesReceived(chunk []byte)
	OnTransportClosed()
}

// Opener produces a fresh byte stream for each connection attempt.
type Opener func(ctx context.Context) (io.ReadCloser, error)

type Listener struct {
	name         string
	open         Opener
	sink         Sink
	reconnect    time.Duration
	reconnectMax time.Duration
	bufSize      int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	log          *zap.Logger
	errorHandler func(error)
	done         chan struct{}
}

type Option func(*Listener)

func WithReconnectInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnect = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnectMax = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.dialTimeout = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(l *Listener) {
		if fn != nil {
			l.errorHandler = fn
		}
	}
}

func newListener(name string, sink Sink, opts []Option) *Listener {
	l := &Listener{
		name:         name,
		sink:         sink,
		reconnect:    1 * time.Second,
		reconnectMax: 30 * time.Second,
		bufSize:      4096,
		dialTimeout:  5 * time.Second,
		log:          zap.NewNop(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs open/read/reconnect cycles for an arbitrary byte source.
func Start(ctx context.Context, name string, open Opener, sink Sink, opts ...Option) *Listener {
	l := newListener(name, sink, opts)
	l.open = open
	go l.run(ctx)
	return l
}

// StartTCP streams bytes from a TCP endpoint such as a SITL simulator or a
// telemetry bridge.
func StartTCP(ctx context.Context, addr string, sink Sink, opts ...Option) *Listener {
	l := newListener("tcp "+addr, sink, opts)
	l.open = func(ctx context.Context) (io.ReadCloser, error) {
		d := net.Dialer{Timeout: l.dialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	go l.run(ctx)
	return l
}

// Done is closed after the listener has stopped and closed its sink.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := l.open(ctx)
		if err != nil {
			attempt++
			wait := l.backoff(attempt)
			l.log.Warn("transport: open failed",
				zap.String("source", l.name),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			l.handleError(err)
			l.sleep(ctx, wait)
			continue
		}

		attempt = 0
		l.log.Info("transport: opened", zap.String("source", l.name))
		l.sink.OnTransportOpened()
		err = l.handleConn(ctx, conn)
		_ = conn.Close()
		l.sink.OnTransportClosed()
		if ctx.Err() != nil {
			return
		}
		l.log.Info("transport: closed, reopening",
			zap.String("source", l.name),
			zap.Error(err),
		)
		if err != nil && !errors.Is(err, io.EOF) {
			l.handleError(err)
		}
		l.sleep(ctx, l.backoff(1))
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func (l *Listener) handleConn(ctx context.Context, conn io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	deadliner, _ := conn.(readDeadliner)
	buf := make([]byte, l.bufSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.readTimeout > 0 && deadliner != nil {
			_ = deadliner.SetReadDeadline(time.Now().Add(l.readTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			l.sink.OnBytesReceived(buf[:n])
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func (l *Listener) backoff(attempt int) time.Duration {
	return min(l.reconnect*time.Duration(attempt), l.reconnectMax)
}

func (l *Listener) sleep(ctx context.Context, wait time.Duration) {
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

func (l *Listener) handleError(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
	}
}
