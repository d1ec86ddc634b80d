// Package app wires the engine together: configuration, logging, NATS,
// exchange gateway, risk manager, trader, and the operational HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/config"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/exchange"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/executor"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/infrastructure"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/notify"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/risk"
	sigsrc "github.com/newbee0315/btc-quant-tool-sub000/internal/signal"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/trader"
)

// App defines the application structure and its dependencies
type App struct {
	Config *config.Store
	Logger *zap.Logger

	DB *pgxpool.Pool
	NC *nats.Conn
	JS nats.JetStreamContext

	Gateway    *exchange.Client
	UserStream *exchange.UserStream
	Trader     *trader.Trader
	Risk       *risk.Manager
	Signals    *sigsrc.Store
	Snapshots  *trader.SnapshotWriter
	HTTPServer *http.Server

	// Background loops register here so shutdown can wait for in-flight
	// order placements to finish.
	loops sync.WaitGroup
}

// NewApp creates a new application instance
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &App{
		Config: config.NewStore(cfg),
		Logger: logger,
	}, nil
}

// Init initializes all application components
func (a *App) Init(ctx context.Context) error {
	cfg := a.Config.Get()

	// 1. NATS: engine event stream out, signal feed in.
	nc, js, err := infrastructure.InitNATS(cfg.NatsURL, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.NC = nc
	a.JS = js

	// 2. Optional TimescaleDB pool for the backtest bar loader.
	if cfg.DBDSN != "" {
		pool, err := pgxpool.Connect(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = pool
	}

	// 3. Exchange gateway with the initial clock sync.
	client, err := exchange.NewClient(ctx, exchange.ClientOptions{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Secret:   cfg.APISecret,
		ProxyURL: cfg.ProxyURL,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build exchange client: %w", err)
	}
	a.Gateway = client
	a.UserStream = exchange.NewUserStream(client, cfg.StreamURL, a.Logger)

	// 4. Risk, execution, trading.
	a.Risk = risk.NewManager(risk.Limits{
		MaxPortfolioLeverage: cfg.MaxPortfolioLeverage,
		MaxDrawdownPct:       cfg.MaxDrawdownPct,
		RiskPerTrade:         cfg.RiskPerTrade,
		CorrelationThreshold: cfg.CorrelationThreshold,
		CorrelationWindow:    cfg.CorrelationWindow,
	}, a.Logger)

	exec := executor.New(client, executor.Params{
		PollInterval:   time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ChaseTimeout:   time.Duration(cfg.ChaseTimeoutSec) * time.Second,
		TwapChunks:     cfg.TwapChunks,
		TwapDelay:      time.Duration(cfg.TwapDelaySec) * time.Second,
		GridLevels:     cfg.GridLevels,
		GridSpacingPct: cfg.GridSpacingPct,
		GridWait:       time.Duration(cfg.GridWaitSec) * time.Second,
	}, a.Logger)

	a.Trader = trader.New(client, exec, a.Risk,
		notify.NewNATSNotifier(js, a.Logger),
		trader.Options{
			Leverage:      cfg.Leverage,
			MaxLeverage:   cfg.MaxLeverage,
			MarginUSDT:    decimal.NewFromFloat(cfg.MarginUSDT),
			SLPct:         cfg.SLPct,
			TPPct:         cfg.TPPct,
			TwapThreshold: decimal.NewFromFloat(cfg.TwapThresholdUSDT),
			GridEnabled:   cfg.GridEnabled,
			AutoReverse:   cfg.AutoReverse,
			Exits: executor.ExitParams{
				TrailTriggerROI:   cfg.TrailTriggerROI,
				TrailLockROI:      cfg.TrailLockROI,
				TrailLockFraction: cfg.TrailLockFraction,
				FeeBufferPct:      cfg.FeeBufferPct,
				RetracementPct:    cfg.RetracementPct,
			},
		}, cfg.Symbols(), a.Logger)

	// 5. Signal feed and snapshot persistence.
	a.Signals = sigsrc.NewStore(time.Duration(cfg.SignalMaxAgeSec) * time.Second)
	if _, err := sigsrc.Subscribe(js, a.Signals, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe to signals: %w", err)
	}
	a.Snapshots = trader.NewSnapshotWriter(cfg.SnapshotPath,
		2*time.Duration(cfg.SnapshotIntervalSec)*time.Second, a.Trader, a.Logger)

	return nil
}

// Run starts the trading loops and the ops HTTP server, then blocks until a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Startup reconciliation before the first tick: adopt whatever the
	// exchange already holds.
	if err := a.Trader.Reconcile(runCtx); err != nil {
		a.Logger.Warn("startup reconciliation incomplete", zap.Error(err))
	}

	a.startUserStream(runCtx)
	a.startSchedulers(runCtx)

	cfg := a.Config.Get()
	a.HTTPServer = &http.Server{
		Addr:    ":" + cfg.OpsPort,
		Handler: a.setupRouter(),
	}
	go func() {
		a.Logger.Info("starting ops http server", zap.String("port", cfg.OpsPort))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown(cancel)
}

// waitForShutdown handles graceful shutdown: stop scheduling new work, wait
// for in-flight order placements, then tear down transports.
func (a *App) waitForShutdown(cancel context.CancelFunc) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		a.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		a.Logger.Warn("shutdown timed out waiting for trading loops")
	}

	ctx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.NC.Close()
	if a.DB != nil {
		a.DB.Close()
	}
	return nil
}
