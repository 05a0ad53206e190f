package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/config"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-execution-core/internal/logger"
	"github.com/ducminhle1904/crypto-execution-core/internal/marketdata"
	"github.com/ducminhle1904/crypto-execution-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-execution-core/internal/notifications"
	"github.com/ducminhle1904/crypto-execution-core/internal/orders"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
	"github.com/ducminhle1904/crypto-execution-core/internal/state"
	"github.com/ducminhle1904/crypto-execution-core/pkg/reporting"
)

const snapshotInterval = 30 * time.Second

// Engine wires the exchange abstraction, risk system and order manager into
// one process.
type Engine struct {
	config    *config.Config
	logger    *logger.Logger
	exchanges *exchange.Manager
	riskMgr   *risk.Manager
	orderMgr  *orders.Manager
	persist   *state.StatePersistence
	health    *monitoring.HealthChecker
	notifier  notifications.Notifier
	ticks     *marketdata.Cache
	streamer  *marketdata.Streamer
}

func main() {
	configFile := flag.String("config", "", "path to JSON config file")
	reportFile := flag.String("report", "", "write an Excel execution report to this path on shutdown")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received")
	cancel()
	engine.Stop(*reportFile)
}

func newEngine(cfg *config.Config) (*Engine, error) {
	engineLog, err := logger.NewLogger(cfg.LogDir, "engine")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	persist := state.NewStatePersistence(engineLog, cfg.StateDir)
	if err := persist.Initialize(); err != nil {
		return nil, err
	}
	if err := persist.LoadState(); err != nil {
		return nil, err
	}

	exchangeMgr := exchange.NewManager(adapters.NewFactory(), exchange.DefaultManagerConfig())

	riskMgr := risk.NewManager(risk.Limits{
		MaxExposureRatio:     cfg.Risk.MaxExposureRatio,
		MaxDrawdown:          cfg.Risk.MaxDrawdown,
		MaxConcentration:     cfg.Risk.MaxConcentration,
		MaxLeverage:          cfg.Risk.MaxLeverage,
		MaxPositionSizeRatio: cfg.Risk.MaxPositionSizeRatio,
	})
	if err := persist.RestorePortfolios(riskMgr); err != nil {
		return nil, err
	}

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID != "" {
		notifier = notifications.NewTelegramNotifier(
			cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	}

	orderMgr := orders.NewManager(exchangeMgr, riskMgr, orders.Config{
		PollInterval: cfg.Orders.PollInterval,
		TickInterval: cfg.Orders.TickInterval,
		Retry: orders.RetryConfig{
			MaxRetries:    cfg.Orders.MaxRetries,
			InitialDelay:  cfg.Orders.InitialDelay,
			MaxDelay:      cfg.Orders.MaxDelay,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		OnTerminal: func(final *orders.OrderExecutionState) {
			engineLog.LogOrderCompletion(final.OrderID, string(final.Status),
				final.FilledQty, final.AvgFillPrice)
			persist.RecordTerminalOrder(final)
			go func() {
				if err := notifications.NotifyOrderCompleted(notifier, final.OrderID,
					string(final.StrategyType), string(final.Status),
					final.FilledQty, final.AvgFillPrice); err != nil {
					engineLog.LogWarning("Notification", "order alert failed: %v", err)
				}
			}()
		},
	})

	ticks := marketdata.NewCache(2 * cfg.MarketData.RefreshInterval)
	var streamer *marketdata.Streamer
	if len(cfg.MarketData.Symbols) > 0 {
		streamer = marketdata.NewStreamer(ticks, exchangeMgr, marketdata.StreamConfig{
			Symbols:         cfg.MarketData.Symbols,
			RefreshInterval: cfg.MarketData.RefreshInterval,
			WebsocketURL:    cfg.MarketData.WebsocketURL,
			WebsocketVenue:  cfg.MarketData.WebsocketVenue,
		})
	}

	return &Engine{
		config:    cfg,
		logger:    engineLog,
		exchanges: exchangeMgr,
		riskMgr:   riskMgr,
		orderMgr:  orderMgr,
		persist:   persist,
		health:    monitoring.NewHealthChecker(),
		notifier:  notifier,
		ticks:     ticks,
		streamer:  streamer,
	}, nil
}

// Start registers the configured venues and launches the background loops
func (e *Engine) Start(ctx context.Context) error {
	for _, ex := range e.config.Exchanges {
		_, err := e.exchanges.RegisterExchange(ex.ID, ex.Type, exchange.Credentials{
			APIKey:    ex.APIKey,
			APISecret: ex.Secret,
			Testnet:   ex.Testnet,
		})
		if err != nil {
			return fmt.Errorf("failed to register exchange %s: %w", ex.ID, err)
		}

		if err := e.exchanges.Connect(ctx, ex.ID); err != nil {
			// A venue down at startup is degraded, not fatal
			e.logger.LogWarning("Exchange Connect", "%s unavailable: %v", ex.ID, err)
		} else {
			e.logger.Info("Connected to exchange %s (%s)", ex.ID, ex.Type)
		}
	}

	e.health.RegisterCheck("exchanges", func() error {
		venues := e.exchanges.ListExchanges()
		if len(venues) == 0 {
			return fmt.Errorf("no exchanges registered")
		}
		for _, venue := range venues {
			if venue.Status == exchange.StatusConnected {
				return nil
			}
		}
		return fmt.Errorf("no exchange connected")
	})
	e.health.RegisterCheck("risk", func() error {
		if len(e.riskMgr.ListPortfolios()) == 0 {
			return nil
		}
		for _, id := range e.riskMgr.ListPortfolios() {
			if _, err := e.riskMgr.GetPortfolio(id); err != nil {
				return err
			}
		}
		return nil
	})

	if e.streamer != nil {
		e.health.RegisterCheck("market_data", func() error {
			for _, symbol := range e.config.MarketData.Symbols {
				quote, exists := e.ticks.Get(symbol)
				if !exists {
					return fmt.Errorf("no quote for %s yet", symbol)
				}
				if quote.Stale {
					return fmt.Errorf("quote for %s is stale", symbol)
				}
			}
			return nil
		})
	}

	go e.serveHTTP(ctx)
	go e.snapshotLoop(ctx)

	if e.streamer != nil {
		go func() {
			if err := e.streamer.Run(ctx); err != nil && ctx.Err() == nil {
				e.logger.LogError("Market Data", err)
			}
		}()
		if len(e.config.Exchanges) > 1 {
			go e.arbScanLoop(ctx)
		}
	}

	reporter := reporting.NewConsoleReporter()
	reporter.PrintVenues(e.exchanges.ListExchanges())

	e.logger.Info("Execution engine started (%d exchanges, %d portfolios)",
		len(e.config.Exchanges), len(e.riskMgr.ListPortfolios()))
	if err := e.notifier.SendAlert(notifications.LevelInfo, "Execution engine started"); err != nil {
		e.logger.LogWarning("Notification", "startup alert failed: %v", err)
	}
	return nil
}

// serveHTTP runs the metrics and health endpoints
func (e *Engine) serveHTTP(ctx context.Context) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", e.config.Monitoring.PrometheusPort),
		Handler: metricsMux,
	}

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", e.health)
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", e.config.Monitoring.HealthPort),
		Handler: healthMux,
	}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.LogError("Metrics Server", err)
		}
	}()
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.LogError("Health Server", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)
}

// snapshotLoop periodically captures engine state for crash recovery
func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.persist.CaptureFrom(e.riskMgr, e.orderMgr)
		}
	}
}

// arbScanLoop periodically sweeps the configured symbols for cross-venue
// price discrepancies and alerts the operator on hits
func (e *Engine) arbScanLoop(ctx context.Context) {
	interval := e.config.MarketData.ArbScanInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opportunities := e.exchanges.DetectArbitrageOpportunities(
				ctx, e.config.MarketData.Symbols, e.config.MarketData.MinArbSpreadPct)
			for _, opp := range opportunities {
				e.logger.Info("Arbitrage: %s buy %s @ %.4f, sell %s @ %.4f (%.3f%%)",
					opp.Symbol, opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice,
					opp.SpreadPercent*100)
			}
		}
	}
}

// Stop drains active orders, persists final state and writes reports
func (e *Engine) Stop(reportFile string) {
	log.Println("Stopping execution engine...")

	e.orderMgr.Shutdown()
	e.persist.CaptureFrom(e.riskMgr, e.orderMgr)

	orderStates := e.orderMgr.ListOrders()

	reporter := reporting.NewConsoleReporter()
	reporter.PrintExecutionAnalytics(e.orderMgr.GetExecutionAnalytics(0))

	if reportFile != "" {
		portfolios := make([]*risk.Portfolio, 0)
		for _, id := range e.riskMgr.ListPortfolios() {
			if portfolio, err := e.riskMgr.GetPortfolio(id); err == nil {
				portfolios = append(portfolios, portfolio)
			}
		}
		excel := reporting.NewExcelReporter()
		if err := excel.WriteExecutionReportXLSX(reportFile, orderStates, portfolios); err != nil {
			e.logger.LogError("Excel Report", err)
		} else {
			log.Printf("Execution report written to %s", reportFile)
		}
	}

	if err := e.persist.Cleanup(); err != nil {
		e.logger.LogError("State Cleanup", err)
	}
	if err := e.notifier.SendAlert(notifications.LevelInfo, "Execution engine stopped"); err != nil {
		e.logger.LogWarning("Notification", "shutdown alert failed: %v", err)
	}
	e.logger.Close()
	log.Println("Execution engine stopped")
}
