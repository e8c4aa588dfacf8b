// Package xrpfi wires the XRPL to Flare yield bridge: a listener that records
// memo-tagged payments to the operator account, an orchestrator that proves them
// through the Flare Data Connector and executes the deposit on Flare, and the
// HTTP API that quotes and tracks those payments.
package xrpfi

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/config"
	"github.com/vitwit/xrpfi/gateway"
	"github.com/vitwit/xrpfi/ledger"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/quote"
	"github.com/vitwit/xrpfi/server"
	"github.com/vitwit/xrpfi/settlement"
	"github.com/vitwit/xrpfi/verification"
	"github.com/vitwit/xrpfi/xrpl"
	"golang.org/x/sync/errgroup"
)

// Version information
const Version = "1.0.0"

const (
	gaugeInterval        = 15 * time.Second
	defaultSweepInterval = 30 * time.Second
)

// App owns every long-lived component and their client connections.
type App struct {
	cfg      *config.Config
	logger   logger.Logger
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer

	evm     *clients.EVMClient
	backend clients.Backend
	ledger  *ledger.Ledger
	redis   *redis.Client
	seen    xrpl.SeenCache

	gateway      *gateway.Gateway
	prover       settlement.Prover
	orchestrator *settlement.Orchestrator
	listener     *xrpl.Listener
	quoter       *quote.Quoter
	server       *server.Server
}

// New builds the application from cfg. Components not injected through options
// are dialed or opened here; Close releases them.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.RequireOperator(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if _, noop := a.metrics.(metrics.NoopRecorder); noop && cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.NewPrometheusRecorder(cfg.Metrics.Namespace, reg)
		a.gatherer = reg
	}

	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	a.build()
	return a, nil
}

func (a *App) open() error {
	if a.backend == nil {
		evm, err := clients.NewEVMClient(a.cfg.DestinationNetwork, a.cfg.Flare.RPCURL, big.NewInt(a.cfg.Flare.ChainID),
			a.cfg.Flare.OperatorPrivateKey,
			clients.WithConfirmTimeout(a.cfg.Flare.ConfirmTimeout.D()),
			clients.WithEVMLogger(a.logger.With(map[string]any{"component": "evm"})),
		)
		if err != nil {
			return err
		}
		if !evm.HasSigner() {
			a.logger.Warn("no flare operator key configured; destination-chain writes will fail", nil)
		}
		a.evm = evm
		a.backend = evm
	}

	if a.ledger == nil {
		l, err := ledger.Open(a.cfg.Database.Path)
		if err != nil {
			return err
		}
		a.ledger = l
	}

	if a.seen == nil {
		a.seen = a.seenCache()
	}
	return nil
}

// seenCache prefers Redis when configured. An unreachable Redis degrades to the
// in-memory cache; the ledger still rejects duplicates.
func (a *App) seenCache() xrpl.SeenCache {
	ttl := a.cfg.Redis.SeenTTL.D()
	if a.cfg.Redis.Addr == "" {
		return xrpl.NewMemorySeenCache(ttl)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		a.logger.Warn("redis unavailable, using in-memory seen cache", map[string]any{"addr": a.cfg.Redis.Addr, "error": err})
		_ = rdb.Close()
		return xrpl.NewMemorySeenCache(ttl)
	}
	a.redis = rdb
	return xrpl.NewRedisSeenCache(rdb, ttl)
}

func (a *App) build() {
	cfg := a.cfg
	component := func(name string) logger.Logger {
		return a.logger.With(map[string]any{"component": name})
	}

	a.gateway = gateway.New(a.backend, gateway.ConfigFrom(cfg),
		gateway.WithLogger(component("gateway")),
		gateway.WithMetrics(a.metrics),
	)

	if a.prover == nil {
		submitter := verification.NewHubSubmitter(a.backend, common.HexToAddress(cfg.Flare.ContractRegistry), cfg.FDC.RequestFeeWei)
		a.prover = verification.NewService(verification.ConfigFrom(cfg.FDC), submitter,
			verification.WithLogger(component("fdc")),
			verification.WithMetrics(a.metrics),
		)
	}

	a.orchestrator = settlement.NewOrchestrator(a.ledger, a.prover, a.gateway,
		settlement.PoolConfig{
			Workers:     cfg.Workers.Count,
			QueueSize:   cfg.Workers.QueueSize,
			TaskTimeout: cfg.Workers.TaskTimeout.D(),
		},
		settlement.WithLogger(component("orchestrator")),
		settlement.WithMetrics(a.metrics),
		settlement.WithMode(cfg.Flare.ExecutionMode),
	)

	a.listener = xrpl.NewListener(xrpl.Config{
		URL:             cfg.XRPL.WSURL,
		OperatorAddress: cfg.XRPL.OperatorAddress,
		PingInterval:    cfg.XRPL.PingInterval.D(),
		MinBackoff:      cfg.XRPL.MinBackoff.D(),
		MaxBackoff:      cfg.XRPL.MaxBackoff.D(),
	}, a.ledger, a.orchestrator,
		xrpl.WithSeenCache(a.seen),
		xrpl.WithLogger(component("listener")),
		xrpl.WithMetrics(a.metrics),
	)

	a.quoter = quote.New(cfg.XRPL.OperatorAddress, cfg.Vaults)

	serverOpts := []server.Option{
		server.WithLogger(component("http")),
		server.WithQueue(a.orchestrator.Pool()),
	}
	if a.gatherer != nil {
		serverOpts = append(serverOpts, server.WithGatherer(a.gatherer))
	}
	a.server = server.New(server.Config{
		Addr:            cfg.HTTP.Addr,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		OperatorAddress: cfg.XRPL.OperatorAddress,
		AssetToken:      cfg.Flare.FXRPToken,
		Version:         Version,
	}, a.ledger, a.orchestrator, a.gateway, a.quoter, serverOpts...)
}

func (a *App) Ledger() *ledger.Ledger                 { return a.ledger }
func (a *App) Gateway() *gateway.Gateway              { return a.gateway }
func (a *App) Orchestrator() *settlement.Orchestrator { return a.orchestrator }
func (a *App) Listener() *xrpl.Listener               { return a.listener }
func (a *App) Server() *server.Server                 { return a.server }
func (a *App) Quoter() *quote.Quoter                  { return a.quoter }

// Run recovers interrupted records, sweeps pending ones and runs the worker
// pool, listener and HTTP server until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	interrupted, err := a.orchestrator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted transactions: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.orchestrator.Pool().Run(ctx) })
	g.Go(func() error { return a.sweepPending(ctx) })
	g.Go(func() error { return a.listener.Run(ctx) })
	g.Go(func() error { return a.server.RunWithContext(ctx) })
	g.Go(func() error { return a.reportGauges(ctx) })

	a.logger.Info("bridge running", map[string]any{
		"operator":    a.cfg.XRPL.OperatorAddress,
		"mode":        a.cfg.Flare.ExecutionMode,
		"interrupted": len(interrupted),
	})
	return g.Wait()
}

// sweepPending dispatches records left pending, such as those recorded just
// before a shutdown, moved back by an offline retry or refused by a full queue.
func (a *App) sweepPending(ctx context.Context) error {
	interval := a.cfg.Workers.SweepInterval.D()
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := a.orchestrator.Sweep(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			a.logger.Error("pending sweep failed", map[string]any{"error": err})
		case n > 0:
			a.logger.Info("swept pending transactions", map[string]any{"count": n})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) reportGauges(ctx context.Context) error {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		counts, err := a.ledger.CountByStatus(ctx)
		if err == nil {
			for status, n := range counts {
				a.metrics.SetGauge("transactions", float64(n), map[string]string{"status": string(status)})
			}
		}
		a.metrics.SetGauge("queue_depth", float64(a.orchestrator.Pool().Pending()), nil)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases the connections New opened or was given.
func (a *App) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("closing ledger", map[string]any{"error": err})
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.evm != nil {
		a.evm.Close()
	}
}
