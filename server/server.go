// Package server exposes the bridge over HTTP: strategy quotes, transaction
// status and retry, destination-chain holdings, queue and operator views.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/xrpfi/gateway"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/types"
)

const shutdownTimeout = 5 * time.Second

// Store is the read side of the transaction ledger.
type Store interface {
	Get(ctx context.Context, hash string) (*types.Transaction, error)
	ListByAddress(ctx context.Context, address string) ([]*types.Transaction, error)
	CountByStatus(ctx context.Context) (map[types.TransactionStatus]int, error)
}

type Retrier interface {
	Retry(ctx context.Context, hash string) (*types.Transaction, error)
}

// Chain reads destination-chain state.
type Chain interface {
	Vaults() []gateway.Vault
	VaultStatus(ctx context.Context, vaultID uint32) (*types.VaultStatus, error)
	GetHoldings(ctx context.Context, addr common.Address) *types.Holdings
	Operator() common.Address
	OperatorBalances(ctx context.Context) (native string, asset string, err error)
}

type Quoter interface {
	Strategies() []types.Strategy
	Strategy(id string) (types.Strategy, bool)
	Prepare(req *types.PrepareRequest) (*types.PrepareResponse, error)
}

// Queue reports work waiting for a worker.
type Queue interface {
	Pending() int
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	// OperatorAddress is the XRPL account users pay into.
	OperatorAddress string
	AssetToken      string
	// Version is reported by the index route.
	Version string
}

type Server struct {
	cfg      Config
	store    Store
	retrier  Retrier
	chain    Chain
	quoter   Quoter
	queue    Queue
	gatherer prometheus.Gatherer
	logger   logger.Logger
	router   *gin.Engine
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer exposes the registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithQueue(q Queue) Option {
	return func(s *Server) { s.queue = q }
}

func New(cfg Config, store Store, retrier Retrier, chain Chain, quoter Quoter, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		retrier: retrier,
		chain:   chain,
		quoter:  quoter,
		logger:  logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), cors(s.cfg.AllowedOrigins))

	router.GET("/", s.info)

	api := router.Group("/api")
	api.GET("/strategies", s.listStrategies)
	api.GET("/strategies/:id", s.getStrategy)
	api.POST("/prepare", s.prepare)

	api.GET("/status/:hash", s.getStatus)
	api.GET("/status/address/:address", s.listByAddress)
	api.POST("/status/:hash/retry", s.retry)

	api.GET("/holdings/:address", s.getHoldings)
	api.GET("/holdings/vaults", s.listVaults)
	api.GET("/holdings/vault/:id", s.getVault)

	api.GET("/queue", s.getQueue)
	api.GET("/operator", s.getOperator)

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// RunWithContext serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) RunWithContext(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", map[string]any{"error": err})
		}
	}()

	s.logger.Info("http server listening", map[string]any{"addr": s.cfg.Addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// cors allows the configured browser origins. Preflight requests end here.
func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeError maps the error code to an HTTP status.
func writeError(c *gin.Context, err error) {
	code := types.CodeOrDefault(err, "INTERNAL")
	status := http.StatusInternalServerError
	switch code {
	case types.ErrCodeNotFound:
		status = http.StatusNotFound
	case types.ErrCodeInvalidRequest, types.ErrCodeMalformedMemo, types.ErrCodeUnknownInstructionCode:
		status = http.StatusBadRequest
	case types.ErrCodeInvalidTransition, types.ErrCodeDuplicateTransaction:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
