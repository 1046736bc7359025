package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/internal/adapters/clickhouse"
	"github.com/selivandex/crypto-index/internal/adapters/config"
	"github.com/selivandex/crypto-index/internal/adapters/database"
	"github.com/selivandex/crypto-index/internal/adapters/feed"
	"github.com/selivandex/crypto-index/internal/adapters/marketcap"
	redisAdapter "github.com/selivandex/crypto-index/internal/adapters/redis"
	"github.com/selivandex/crypto-index/internal/adapters/telegram"
	"github.com/selivandex/crypto-index/internal/health"
	"github.com/selivandex/crypto-index/internal/index"
	"github.com/selivandex/crypto-index/internal/stats"
	"github.com/selivandex/crypto-index/internal/workers"
	"github.com/selivandex/crypto-index/pkg/logger"
	"github.com/selivandex/crypto-index/pkg/models"
	"github.com/selivandex/crypto-index/pkg/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("crypto index service starting",
		zap.String("index", cfg.Index.Name),
	)

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.Conn(), cfg.Database.MigrationsPath); err != nil {
		return err
	}

	ch, err := clickhouse.New(&cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer ch.Close()

	redisClient, err := redisAdapter.New(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Exactly one process owns a given index's computation.
	engineLock := redisAdapter.NewEngineLock(redisClient.LockManager(), cfg.Redis.LockKey, cfg.Redis.LockTTL)
	acquired, err := engineLock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire engine lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("index %s is already owned by another process", cfg.Index.Name)
	}
	defer engineLock.Release(context.Background())

	settingsRepo := index.NewSettingsRepository(db.DB(), cfg.Index.Name)
	stateRepo := index.NewStateRepository(db.DB(), cfg.Index.Name)
	warningRepo := index.NewWarningRepository(db.DB(), cfg.Index.Name)

	historyRepo := index.NewHistoryRepository(ch.DB(), cfg.Index.Name)
	if err := historyRepo.EnsureSchema(ctx); err != nil {
		return err
	}

	warnings := index.MultiWarningSink{warningRepo}
	if cfg.Telegram.Enabled {
		notifier, err := telegram.NewNotifier(&cfg.Telegram)
		if err != nil {
			return err
		}
		warnings = append(warnings, notifier)
	}

	tracker := stats.NewTracker(24 * time.Hour)
	publisher := index.MultiPublisher{
		redisAdapter.NewPublisher(redisClient.RDB(), cfg.Redis.PublishChannel),
		tracker,
	}

	cache := index.NewPriceCache()
	provider := marketcap.NewCoinGeckoProvider(&cfg.MarketCap)

	engine := index.NewEngine(index.EngineParams{
		Name:         cfg.Index.Name,
		Source:       cfg.Index.Source,
		InitialValue: models.NewDecimal(cfg.Index.InitialValue),
		Policy: index.Policy{
			FreezeEnabled:        cfg.Index.FreezeEnabled,
			ResetRecoveryEnabled: cfg.Index.ResetRecoveryEnabled,
		},
		Settings:  settingsRepo,
		State:     stateRepo,
		History:   historyRepo,
		Warnings:  warnings,
		Provider:  provider,
		Publisher: publisher,
		Cache:     cache,
	})

	if err := engine.Start(ctx); err != nil {
		return err
	}

	ws := feed.NewBitfinexWebSocket(&cfg.Feed)

	group := worker.NewWorkerGroup(ctx)
	group.Add(workers.NewFeedWorker(ws, cache), cfg.Feed.ReconnectDelay)
	group.Add(workers.NewRebuildWorker(engine), cfg.Index.RebuildCheckInterval)
	group.Add(workers.NewCalculateWorker(engine), cfg.Index.CalcInterval)
	group.Start()

	healthServer := health.NewServer(cfg.Health.Addr, db, redisClient)
	healthServer.Start()
	healthServer.SetReady(true)

	<-ctx.Done()

	healthServer.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.Warn("health server shutdown failed", zap.Error(err))
	}

	group.Stop(cfg.Index.ShutdownTimeout)

	logger.Info("crypto index service stopped")
	return nil
}
