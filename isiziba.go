// Package isiziba provides a high-level façade over the marketplace hub: the
// agent registry, the connection hub, the negotiation engine, the event
// bridge and the analysis coach. Most applications interact with this package
// by:
//  1. Creating a Marketplace via New() (optionally overriding the store,
//     the critique model or the Redis client)
//  2. Serving its Handler, or calling Run() to own the HTTP listener
//
// All defaults are safe for local development: an in-memory store, no
// external feed and no critique model. Production deployments supply the
// SQLite store, a Redis client and one of the model adapters.
package isiziba

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodeUnit7/Isiziba/analysis"
	"github.com/CodeUnit7/Isiziba/auth"
	"github.com/CodeUnit7/Isiziba/bridge"
	"github.com/CodeUnit7/Isiziba/config"
	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/hub"
	"github.com/CodeUnit7/Isiziba/logging"
	"github.com/CodeUnit7/Isiziba/model"
	"github.com/CodeUnit7/Isiziba/negotiation"
	"github.com/CodeUnit7/Isiziba/reputation"
	"github.com/CodeUnit7/Isiziba/server"
	"github.com/CodeUnit7/Isiziba/store"
)

// Options configures the Marketplace instance.
type Options struct {
	// Config carries the protocol tunables. Defaults to config.Default().
	Config config.Config

	// Store is the durable backend. Defaults to the in-memory store; set
	// Config.DBPath to select SQLite instead.
	Store core.Store

	// Model generates post-negotiation critiques. Nil disables analysis.
	Model model.Model

	// Redis backs the external event feed. Nil disables it; the store
	// change feed still drives live broadcasts.
	Redis redis.UniversalClient

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Marketplace is the high-level façade aggregating the protocol components.
type Marketplace struct {
	opts   Options
	store  core.Store
	hub    *hub.Hub
	auth   *auth.Service
	engine *negotiation.Engine
	coach  *analysis.Coach
	bridge *bridge.Bridge
	bus    *bridge.StreamBus
	server *server.Server
}

// New creates a Marketplace with optional overrides. Any unset service is
// initialized with its local default.
func New(optFns ...func(o *Options)) (*Marketplace, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config

	st := opts.Store
	if st == nil {
		if cfg.DBPath != "" {
			var err error
			st, err = store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return nil, fmt.Errorf("open sqlite store: %w", err)
			}
		} else {
			st = store.NewInMemoryStore()
		}
	}

	authSvc := auth.New(st, func(o *auth.Options) {
		o.CacheTTL = cfg.AuthCacheTTL
		o.RegistrationToken = cfg.RegistrationToken
		o.DefaultCategory = cfg.DefaultCategory
		o.Logger = opts.Logger
	})

	h := hub.New(func(o *hub.Options) {
		o.IdentifyTimeout = cfg.IdentifyTimeout
		o.Logger = opts.Logger
	})

	var bus *bridge.StreamBus
	if opts.Redis != nil {
		bus = bridge.NewStreamBus(opts.Redis, func(o *bridge.StreamBusOptions) {
			o.Logger = opts.Logger
		})
	}

	coach := analysis.New(opts.Model, st, st, st, h, func(o *analysis.Options) {
		o.Logger = opts.Logger
	})

	var publisher negotiation.Publisher
	if bus != nil {
		publisher = bus
	}
	ledger := reputation.New(st, func(o *reputation.Options) {
		o.Delta = cfg.ReputationDelta
		o.Logger = opts.Logger
	})

	engine := negotiation.New(st, st, st, h, coach, ledger, publisher, func(o *negotiation.Options) {
		o.MaxSteps = cfg.MaxSteps
		o.FailOpen = cfg.StepCheckFailOpen
		o.Topic = cfg.NegotiationTopic
		o.Logger = opts.Logger
	})

	br := bridge.New(st.Changes(), h, st, ledger, func(o *bridge.Options) {
		o.Logger = opts.Logger
	})

	var srvPublisher server.Publisher
	if bus != nil {
		srvPublisher = bus
	}
	srv := server.New(authSvc, st, engine, h, cfg, func(o *server.Options) {
		o.Logger = opts.Logger
		o.Publisher = srvPublisher
	})

	return &Marketplace{
		opts:   opts,
		store:  st,
		hub:    h,
		auth:   authSvc,
		engine: engine,
		coach:  coach,
		bridge: br,
		bus:    bus,
		server: srv,
	}, nil
}

// Handler returns the HTTP handler for embedding in an existing server.
func (m *Marketplace) Handler() http.Handler { return m.server }

// Hub exposes the connection hub, mainly for introspection.
func (m *Marketplace) Hub() *hub.Hub { return m.hub }

// Store exposes the durable backend.
func (m *Marketplace) Store() core.Store { return m.store }

// Run starts the background loops and serves HTTP on the configured address
// until the context is cancelled or a component fails fatally.
func (m *Marketplace) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go m.bridge.Run(ctx)

	fatal := make(chan error, 2)
	if m.bus != nil {
		cfg := m.opts.Config
		consume := func(topic, group string) {
			err := m.bus.Consume(ctx, topic, group, bridge.BroadcastHandler(m.hub))
			if err != nil && !errors.Is(err, context.Canceled) {
				fatal <- fmt.Errorf("feed consumer %s: %w", topic, err)
			}
		}
		go consume(cfg.DiscoveryTopic, cfg.DiscoveryGroup)
		go consume(cfg.NegotiationTopic, cfg.NegotiationGroup)
	}

	httpSrv := &http.Server{
		Addr:              m.opts.Config.Addr,
		Handler:           m.server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		m.opts.Logger.Info("marketplace hub listening", "addr", httpSrv.Addr)
		serveErr <- httpSrv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = nil
	case err = <-fatal:
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = httpSrv.Shutdown(shutdownCtx)
	m.hub.Shutdown()
	if cerr := m.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
