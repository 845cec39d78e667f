package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mavwatch/pkg/engine"
	"mavwatch/pkg/link"
)

// Server exposes link events to Foxglove Studio over the foxglove websocket
// protocol: a JSON status channel and a foxglove.Log channel.
type Server struct {
	cfg     Config
	hub     *engine.Hub
	log     *zap.Logger
	clients map[*client]struct{}
	last    StatusMessage
	hasLast bool
	mu      sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func NewServer(cfg Config, hub *engine.Hub, opts ...Option) *Server {
	cfg.normalize()
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		log:     zap.NewNop(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.WSAddr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.log.Info("foxglove bridge listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeClients()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	defer func() {
		c.close()
		s.removeClient(c)
	}()

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		return
	}

	go c.writeLoop()
	c.readLoop(s.supportedChannels(), s.replayStatus)
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	return map[uint64]struct{}{
		s.cfg.StatusChannelID: {},
		s.cfg.LogChannelID:    {},
	}
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          fmt.Sprintf("%d", time.Now().UTC().UnixNano()),
	}
}

func (s *Server) advertise() AdvertiseMsg {
	return AdvertiseMsg{
		Op: OpAdvertise,
		Channels: []Channel{
			{
				ID:             s.cfg.StatusChannelID,
				Topic:          s.cfg.StatusTopic,
				Encoding:       "json",
				SchemaName:     "mavwatch.LinkStatus",
				SchemaEncoding: "jsonschema",
				Schema:         StatusSchema,
			},
			{
				ID:             s.cfg.LogChannelID,
				Topic:          s.cfg.LogTopic,
				Encoding:       "json",
				SchemaName:     "foxglove.Log",
				SchemaEncoding: "jsonschema",
				Schema:         LogSchema,
			},
		},
	}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan link.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.broadcastEvent(ev)
		}
	}
}

func (s *Server) broadcastEvent(ev link.Event) {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	status := statusFromEvent(ev, ts, s.last.Connected)
	s.last = status
	s.hasLast = true
	s.mu.Unlock()

	s.publishJSONToChannel(s.cfg.StatusChannelID, ts, status)
	s.publishJSONToChannel(s.cfg.LogChannelID, ts, s.logFromEvent(ev, ts))
}

// replayStatus sends the latest status to a new status subscription so a
// late client does not wait for the next transition.
func (s *Server) replayStatus(c *client, subID uint32, channelID uint64) {
	if channelID != s.cfg.StatusChannelID {
		return
	}
	s.mu.RLock()
	status, ok := s.last, s.hasLast
	s.mu.RUnlock()
	if !ok {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, status.TS)
	if err != nil {
		ts = time.Now()
	}
	c.trySend(EncodeMessageData(subID, uint64(ts.UnixNano()), payload))
}

func statusFromEvent(ev link.Event, ts time.Time, wasConnected bool) StatusMessage {
	msg := StatusMessage{
		TS:    ts.UTC().Format(time.RFC3339Nano),
		Event: string(ev.Kind),
	}
	switch ev.Kind {
	case link.EventConnectionEstablished:
		msg.Connected = true
	case link.EventHeartbeatLost, link.EventDisconnected:
		msg.Connected = false
	default:
		msg.Connected = wasConnected
	}
	if ev.HasIdentity {
		sys, comp, typ := ev.Identity.SystemID, ev.Identity.ComponentID, ev.Identity.VehicleType
		msg.SystemID = &sys
		msg.ComponentID = &comp
		msg.VehicleTypeCode = &typ
		msg.VehicleType = ev.Identity.VehicleTypeName()
	}
	return msg
}

func (s *Server) logFromEvent(ev link.Event, ts time.Time) LogMessage {
	level := LogLevelInfo
	var text string
	switch ev.Kind {
	case link.EventTransportOpened:
		text = "transport opened"
	case link.EventConnectionEstablished:
		text = "connection established: " + ev.Identity.String()
	case link.EventHeartbeatLost:
		level = LogLevelWarning
		text = "heartbeat lost"
	case link.EventDisconnected:
		level = LogLevelError
		text = "disconnected"
	default:
		text = string(ev.Kind)
	}
	return LogMessage{
		Timestamp: FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())},
		Level:     level,
		Message:   text,
		Name:      s.cfg.LogName,
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Warn("marshal foxglove message", zap.Error(err))
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supported map[uint64]struct{}, onSubscribe func(*client, uint32, uint64)) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if _, ok := supported[sub.ChannelID]; !ok {
					continue
				}
				c.addSub(sub.ID, sub.ChannelID)
				if onSubscribe != nil {
					onSubscribe(c, sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops msg when the client is slow. A send racing close is
// swallowed.
func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
