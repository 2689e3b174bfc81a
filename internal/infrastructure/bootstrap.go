package infrastructure

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ecocash/internal/causes"
	"ecocash/internal/community"
	"ecocash/internal/config"
	"ecocash/internal/energy"
	"ecocash/internal/estimate"
	"ecocash/internal/ledger"
	"ecocash/internal/market"
	"ecocash/internal/route"
	"ecocash/internal/service"
	"ecocash/internal/store"
	transportHTTP "ecocash/internal/transport/http"
	transportNATS "ecocash/internal/transport/nats"
	"ecocash/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
//
// Two deployment shapes exist. When Postgres, Redis and NATS are all
// configured (and local mode is not forced) the gateway is the networked
// adapter, the ledger journal flows over NATS and a worker persists it,
// and the NATS command handler runs alongside HTTP. Otherwise everything
// runs on the local file mirror and the journal is appended to a file.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	log, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() { _ = log.Sync() })

	var (
		gateway store.Gateway
		bus     ledger.Bus
		servers []Server
	)

	if !cfg.UseLocal() {
		db, err := connectPostgres(cfg.DSN())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, db.Close)

		rdb, err := connectRedis(cfg.RedisAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })

		nc, err := connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)

		rem := store.NewRemote(db, rdb, nc, log)
		cleanupFns = append(cleanupFns, func() { _ = rem.Close() })

		if err := rem.Ping(ctx); err != nil {
			return nil, runCleanup(cleanupFns), err
		}

		gateway = rem
		bus = transportNATS.NewBus(nc)
		servers = append(servers, worker.NewJournalWorker(db, nc, log))

		reg := buildRegistry(cfg, gateway, bus, log)
		servers = append(servers, transportNATS.NewHandler(reg, nc, log))
		servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), reg))

		log.Info("running on networked backends",
			zap.String("postgres", cfg.DBHost),
			zap.String("nats", cfg.NatsHost))

		return NewApp(servers), runCleanup(cleanupFns), nil
	}

	mirror, err := store.NewMirror(cfg.DataDir, log)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, func() { _ = mirror.Close() })

	gateway = mirror
	bus = ledger.NewFileSink(mirror.Dir())

	reg := buildRegistry(cfg, gateway, bus, log)
	servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), reg))

	log.Info("running on local file mirror",
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("forced", cfg.ForceLocal))

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// buildRegistry wires the domain engines onto a gateway and journal bus.
func buildRegistry(cfg *config.Config, g store.Gateway, bus ledger.Bus, log *zap.Logger) service.Registry {
	led := ledger.New(g, bus, log)

	var inner estimate.Estimator
	if cfg.EstimatorURL != "" {
		inner = estimate.NewHTTPClient(cfg.EstimatorURL, 10*time.Second)
	}
	estimator := estimate.WithFallback(inner, log)

	var optimizer route.Optimizer = route.NearestNeighbor{}
	if cfg.RouteURL != "" {
		optimizer = route.NewHTTPClient(cfg.RouteURL, 10*time.Second)
	}

	pricing := energy.Pricing{
		Default: cfg.DefaultEnergyPrice,
		Regions: cfg.RegionPrices,
	}

	return service.Registry{
		Accounts:     led,
		Declarations: market.NewMaterials(g, led, estimator, optimizer, log),
		Services:     market.NewNegotiations(g, led, log),
		Energy:       energy.New(g, led, pricing, cfg.PlatformAccount, log),
		Causes:       causes.New(g, led, log),
		Community:    community.New(g, log),
	}
}

// runCleanup returns a single function that calls all cleanup functions
// in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
