package engine

import (
	"context"
	"sync"
	"time"

	"mavwatch/pkg/link"
	"mavwatch/pkg/mavlink"
)

// Hub fans link events out to subscribers. It implements link.Notifier so a
// Controller can publish straight into it.
type Hub struct {
	broadcast  chan link.Event
	register   chan chan link.Event
	unregister chan chan link.Event
	clients    map[chan link.Event]struct{}
	clientBuf  int
	now        func() time.Time
	done       chan struct{}
	doneOnce   sync.Once
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan link.Event, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan link.Event, 256),
		register:   make(chan chan link.Event),
		unregister: make(chan chan link.Event),
		clients:    make(map[chan link.Event]struct{}),
		clientBuf:  100,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run fans events out until ctx ends. Events already queued when ctx ends are
// still delivered before the client channels are closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.drain()
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case ev := <-h.broadcast:
			h.fanOut(ev)
		default:
			return
		}
	}
}

func (h *Hub) fanOut(ev link.Event) {
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribe() chan link.Event {
	return h.SubscribeWithBuffer(h.clientBuf)
}

// SubscribeWithBuffer registers a consumer. After Run has exited the returned
// channel is already closed.
func (h *Hub) SubscribeWithBuffer(size int) chan link.Event {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan link.Event, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan link.Event) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish queues ev for fan-out. It never blocks once Run has returned.
func (h *Hub) Publish(ev link.Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

func (h *Hub) TransportOpened() {
	h.Publish(link.Event{Kind: link.EventTransportOpened})
}

func (h *Hub) ConnectionEstablished(id mavlink.VehicleIdentity) {
	h.Publish(link.Event{Kind: link.EventConnectionEstablished, Identity: id, HasIdentity: true})
}

func (h *Hub) HeartbeatLost() {
	h.Publish(link.Event{Kind: link.EventHeartbeatLost})
}

func (h *Hub) Disconnected() {
	h.Publish(link.Event{Kind: link.EventDisconnected})
}
