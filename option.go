package xrpfi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitwit/xrpfi/clients"
	"github.com/vitwit/xrpfi/ledger"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/settlement"
	"github.com/vitwit/xrpfi/xrpl"
)

type Option func(*App)

func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithMetrics sets the recorder. g, when non-nil, is served on /metrics.
func WithMetrics(r metrics.Recorder, g prometheus.Gatherer) Option {
	return func(a *App) {
		a.metrics = r
		a.gatherer = g
	}
}

// WithBackend replaces the dialed Flare client.
func WithBackend(b clients.Backend) Option {
	return func(a *App) {
		a.backend = b
	}
}

// WithLedger uses an already opened ledger instead of database.path.
func WithLedger(l *ledger.Ledger) Option {
	return func(a *App) {
		a.ledger = l
	}
}

func WithSeenCache(c xrpl.SeenCache) Option {
	return func(a *App) {
		a.seen = c
	}
}

// WithProver replaces the Flare Data Connector client.
func WithProver(p settlement.Prover) Option {
	return func(a *App) {
		a.prover = p
	}
}
