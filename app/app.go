// Package app wires configuration, storage, the scheduler, market data, and
// the HTTP API into one runnable process.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"signalsmith/api"
	"signalsmith/backtest"
	"signalsmith/cache"
	"signalsmith/config"
	"signalsmith/database"
	"signalsmith/database/agents"
	"signalsmith/database/backtests"
	"signalsmith/database/candles"
	"signalsmith/database/signals"
	"signalsmith/database/webhooks"
	"signalsmith/marketdata"
	"signalsmith/notifications"
	"signalsmith/realtime"
	"signalsmith/scheduler"
	"signalsmith/strategy"
)

// App represents the main application
type App struct {
	config *config.Config

	db    *database.Database
	rawDB *database.DB
	redis *cache.RedisClient

	agentRepo    *agents.Repository
	signalRepo   *signals.Repository
	candleRepo   *candles.Repository
	backtestRepo *backtests.Repository
	webhookRepo  *webhooks.Repository

	webhookManager *notifications.WebhookManager
	broker         *realtime.Broker
	provider       *marketdata.HTTPProvider
	sched          *scheduler.Scheduler
	runner         *backtest.Runner
	stream         *marketdata.Stream
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start starts the application
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database connections: GORM for models, raw pool for the job claim
	fmt.Println("🗄️  Connecting to database...")
	db, err := database.Connect(
		a.config.DatabaseHost,
		a.config.DatabasePort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	rawDB, err := database.NewConnection(database.Config{
		Host:     a.config.DatabaseHost,
		Port:     strconv.Itoa(a.config.DatabasePort),
		User:     a.config.DatabaseUser,
		Password: a.config.DatabasePassword,
		DBName:   a.config.DatabaseName,
	})
	if err != nil {
		return fmt.Errorf("raw database connection failed: %w", err)
	}
	a.rawDB = rawDB

	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 2. Redis connection
	fmt.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(
		a.config.RedisHost,
		a.config.RedisPort,
		a.config.RedisPassword,
	)
	if redisClient == nil {
		fmt.Println("⚠️  Redis connection failed. Caching disabled.")
	} else {
		a.redis = redisClient
	}

	// 3. Repositories
	gormDB := a.db.DB()
	a.agentRepo = agents.NewRepository(gormDB, a.rawDB.GetConn())
	a.signalRepo = signals.NewRepository(gormDB)
	a.candleRepo = candles.NewRepository(gormDB)
	a.backtestRepo = backtests.NewRepository(gormDB)
	a.webhookRepo = webhooks.NewRepository(gormDB)

	// 4. Notifications and realtime stream
	a.webhookManager = notifications.NewWebhookManager(a.webhookRepo, a.redis)
	a.broker = realtime.NewBroker()
	go a.broker.Run()

	// 5. Market data provider
	a.provider = marketdata.NewHTTPProvider(
		a.config.MarketData.BaseURL,
		a.config.MarketData.APIKey,
		a.redis,
		a.candleRepo,
	)

	// 6. Scheduler and backtest runner
	sink := newSignalSink(a.signalRepo, a.webhookManager, a.broker)
	a.sched = scheduler.New(
		scheduler.RealClock(),
		a.agentRepo,
		a.agentRepo,
		&broadcastLogStore{store: a.agentRepo, broker: a.broker},
		a.provider,
		sink,
		a.config.Scheduler.WorkerConcurrency,
	)
	a.runner = backtest.NewRunner(a.backtestRepo, a.provider)

	var wg sync.WaitGroup

	// 7. Optional live trade stream feeding the candle store
	if a.config.MarketData.StreamEnabled && len(a.config.MarketData.StreamSymbols) > 0 {
		aggregator := marketdata.NewAggregator(a.config.MarketData.StreamTimeframes, a.candleRepo)
		a.stream = marketdata.NewStream(
			a.config.MarketData.StreamURL,
			a.config.MarketData.APIKey,
			a.config.MarketData.StreamSymbols,
			aggregator,
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.stream.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			a.stream.RunHealthMonitor(ctx)
		}()
	} else {
		log.Println("ℹ️  Live market data stream DISABLED")
	}

	// 8. Internal scheduler loops
	if a.config.Scheduler.Enabled {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.runEnqueueLoop(ctx)
		}()
		go func() {
			defer wg.Done()
			a.runWorkerLoop(ctx)
		}()
	} else {
		log.Println("ℹ️  Internal scheduler loops DISABLED, use the API triggers")
	}

	// 9. Signal expiry sweeper
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runExpiryLoop(ctx)
	}()

	// 10. API server
	apiServer := api.NewServer(api.Deps{
		Agents:    a.agentRepo,
		Signals:   a.signalRepo,
		Candles:   a.candleRepo,
		Backtests: a.backtestRepo,
		Webhooks:  a.webhookRepo,
		Runner:    a.runner,
		Scheduler: a.sched,
		Analyzer:  strategy.NewService(a.provider),
		WebhookMq: a.webhookManager,
		Broker:    a.broker,
		AuthToken: a.config.API.AuthToken,
		BatchSize: a.config.Scheduler.WorkerBatchSize,
	})
	go func() {
		if err := apiServer.Start(a.config.API.Port); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	err = a.gracefulShutdown(cancel)
	wg.Wait()
	return err
}

// runEnqueueLoop periodically turns due agents into pending jobs.
func (a *App) runEnqueueLoop(ctx context.Context) {
	interval := time.Duration(a.config.Scheduler.EnqueueIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🚀 Enqueue loop started (every %v)", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			created, err := a.sched.EnqueueDueAgents(ctx)
			if err != nil {
				log.Printf("⚠️  Enqueue pass failed: %v", err)
			} else if created > 0 {
				log.Printf("📋 Enqueued %d agent jobs", created)
			}
		}
	}
}

// runWorkerLoop periodically claims and processes pending jobs.
func (a *App) runWorkerLoop(ctx context.Context) {
	interval := time.Duration(a.config.Scheduler.WorkerIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🚀 Worker loop started (every %v)", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := a.sched.RunWorker(ctx, a.config.Scheduler.WorkerBatchSize)
			if err != nil {
				log.Printf("⚠️  Worker pass failed: %v", err)
			} else if processed > 0 {
				log.Printf("⚙️  Processed %d jobs", processed)
			}
		}
	}
}

// runExpiryLoop marks stale active signals EXPIRED once an hour.
func (a *App) runExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := a.signalRepo.ExpireStale()
			if err != nil {
				log.Printf("⚠️  Signal expiry sweep failed: %v", err)
			} else if expired > 0 {
				log.Printf("🧹 Expired %d stale signals", expired)
			}
		}
	}
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if a.redis != nil {
			fmt.Println("🧠 Closing Redis connection...")
			_ = a.redis.Close()
		}
		if a.rawDB != nil {
			fmt.Println("🗄️  Closing raw database pool...")
			_ = a.rawDB.Close()
		}
		if a.db != nil {
			fmt.Println("🗄️  Closing database connection...")
			_ = a.db.Close()
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown complete")
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timed out, forcing exit")
	}
	return nil
}
