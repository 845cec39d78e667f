package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mavwatch/pkg/bridge/foxglove"
	"mavwatch/pkg/config"
	"mavwatch/pkg/engine"
	"mavwatch/pkg/journal"
	"mavwatch/pkg/link"
	"mavwatch/pkg/sink/influx"
	"mavwatch/pkg/transport"
)

// pipeline is the running link: transport -> controller -> hub plus the
// sinks named in the config. Sinks subscribe before the transport starts and
// the hub outlives the transport, so consumers see every event from
// transport_opened to the final disconnected.
type pipeline struct {
	cfg        config.Config
	log        *zap.Logger
	hub        *engine.Hub
	controller *link.Controller
	listener   *transport.Listener

	linkCtx     context.Context
	cancelLink  context.CancelFunc
	cancelHub   context.CancelFunc
	consumerCtx context.Context
	consumers   sync.WaitGroup
	closers     []func() error
}

// newPipeline starts the hub and the configured sinks. Call consume or
// hub.Subscribe for further consumers, then start.
func newPipeline(ctx context.Context, cfg config.Config, log *zap.Logger) (*pipeline, error) {
	p := &pipeline{
		cfg:         cfg,
		log:         log,
		hub:         engine.NewHub(),
		consumerCtx: context.WithoutCancel(ctx),
	}
	p.linkCtx, p.cancelLink = context.WithCancel(ctx)
	var hubCtx context.Context
	hubCtx, p.cancelHub = context.WithCancel(context.WithoutCancel(ctx))
	go p.hub.Run(hubCtx)

	fail := func(err error) (*pipeline, error) {
		p.stop()
		return nil, err
	}

	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fail(err)
		}
		if err := journal.Migrate(db); err != nil {
			_ = db.Close()
			return fail(err)
		}
		p.closers = append(p.closers, db.Close)
		p.consume(func(ctx context.Context, sub <-chan link.Event) {
			db.Consume(ctx, sub, log.Named("journal"))
		})
	}

	if cfg.Influx.URL != "" {
		w, err := influx.New(influx.Config{
			URL:      cfg.Influx.URL,
			Token:    cfg.Influx.Token,
			Database: cfg.Influx.Database,
		}, influx.WithLogger(log.Named("influx")))
		if err != nil {
			return fail(err)
		}
		p.closers = append(p.closers, w.Close)
		p.consume(w.Consume)
	}

	if cfg.Bridge.Enabled {
		bcfg := foxglove.DefaultConfig()
		bcfg.WSAddr = cfg.Bridge.WSAddr
		srv := foxglove.NewServer(bcfg, p.hub, foxglove.WithLogger(log.Named("foxglove")))
		go func() {
			if err := srv.Run(hubCtx); err != nil {
				log.Error("foxglove bridge stopped", zap.Error(err))
			}
		}()
	}

	switch cfg.Transport.Kind {
	case config.TransportTCP, config.TransportSerial:
	default:
		return fail(fmt.Errorf("%w: unknown transport.kind %q", config.ErrInvalid, cfg.Transport.Kind))
	}
	p.controller = link.New(cfg.LinkSettings(), p.hub, link.WithLogger(log.Named("link")))
	return p, nil
}

// consume subscribes fn now and runs it until the hub closes the
// subscription. fn's context is not cancelled by stop.
func (p *pipeline) consume(fn func(context.Context, <-chan link.Event)) {
	sub := p.hub.Subscribe()
	p.consumers.Add(1)
	go func() {
		defer p.consumers.Done()
		fn(p.consumerCtx, sub)
	}()
}

// start opens the configured transport.
func (p *pipeline) start() {
	interval, limit := p.cfg.ReconnectDurations()
	opts := []transport.Option{
		transport.WithReconnectInterval(interval),
		transport.WithReconnectMax(limit),
		transport.WithBufferSize(p.cfg.Transport.ReaderBuf),
		transport.WithLogger(p.log.Named("transport")),
	}
	if p.cfg.Transport.Kind == config.TransportSerial {
		p.listener = transport.StartSerial(p.linkCtx, p.cfg.Transport.Device, p.cfg.Transport.Baud, p.controller, opts...)
		return
	}
	p.listener = transport.StartTCP(p.linkCtx, p.cfg.Transport.Addr, p.controller, opts...)
}

// stop closes the transport, lets the hub deliver what it published on the
// way down, waits for the consumers and releases sinks.
func (p *pipeline) stop() {
	p.cancelLink()
	if p.listener != nil {
		<-p.listener.Done()
	}
	p.cancelHub()
	p.consumers.Wait()
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.log.Warn("close sink", zap.Error(err))
		}
	}
	p.closers = nil
}
