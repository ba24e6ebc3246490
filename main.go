// Package main provides the entry point of the massdispatch service
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/massdispatch/app/handlers"
	"github.com/amirphl/massdispatch/app/middleware"
	"github.com/amirphl/massdispatch/app/router"
	"github.com/amirphl/massdispatch/app/scheduler"
	"github.com/amirphl/massdispatch/app/services"
	businessflow "github.com/amirphl/massdispatch/business_flow"
	"github.com/amirphl/massdispatch/config"
	_ "github.com/amirphl/massdispatch/docs"
	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	scheduler *scheduler.Scheduler
	closers   []io.Closer
	stopFuncs []func()
}

func main() {
	log.Println("Starting massdispatch...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	if cfg.Scheduler.Enabled {
		if err := app.scheduler.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		log.Printf("Scheduler started with interval %s", cfg.Scheduler.Interval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	if err := app.scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		log.Printf("Error stopping scheduler: %v", err)
	}

	for _, fn := range app.stopFuncs {
		fn()
	}

	if err := app.router.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			log.Printf("Error closing resource: %v", err)
		}
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.Tables()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Println("Database schema migrated")
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	var stopFuncs []func()
	var closers []io.Closer
	healthChecks := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	lock := scheduler.NewNoopTickLock()
	if rc != nil {
		lock = scheduler.NewRedisTickLock(rc, cfg.Cache.RedisPrefix, cfg.Scheduler.LockTTL)
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, cfg.Cache.CleanupInterval))
		healthChecks["redis"] = func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}
		closers = append(closers, rc)
	}

	// Repositories
	batchRepo := repository.NewMassMessageBatchRepository(db)
	recipientRepo := repository.NewMassMessageRecipientRepository(db)
	scheduledRepo := repository.NewScheduledMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)
	groupRepo := repository.NewCampaignGroupRepository(db)
	templateRepo := repository.NewMessageTemplateRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	txManager := repository.NewTxManager(db)

	// Services
	gateway, err := services.NewMessagingGateway(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging gateway: %w", err)
	}

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.Algorithm,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Scheduler
	schedLogger, logCloser := scheduler.NewLogger(cfg.Logging)
	closers = append(closers, logCloser)

	executor := scheduler.NewDeliveryExecutor(batchRepo, recipientRepo, channelRepo, gateway, schedLogger)
	legacy := scheduler.NewLegacyProcessor(scheduledRepo, contactRepo, channelRepo, gateway, schedLogger, cfg.Scheduler.LegacyBatchSize)
	sched := scheduler.New(batchRepo, executor, legacy, lock, schedLogger, scheduler.Options{
		Interval:        cfg.Scheduler.Interval,
		RunOnStart:      cfg.Scheduler.RunOnStart,
		BatchClaimLimit: cfg.Scheduler.BatchClaimLimit,
		Lease:           cfg.Scheduler.Lease,
		RecoverySpec:    cfg.Scheduler.RecoverySpec,
	})

	// Business flows
	massMessageFlow := businessflow.NewMassMessageFlow(
		batchRepo,
		recipientRepo,
		templateRepo,
		channelRepo,
		auditRepo,
		businessflow.NewRecipientResolver(contactRepo, groupRepo),
		txManager,
		sched,
	)
	scheduledMessageFlow := businessflow.NewScheduledMessageFlow(scheduledRepo, contactRepo, channelRepo, auditRepo, txManager)

	appRouter := router.NewFiberRouter(cfg, router.Handlers{
		MassMessage:      handlers.NewMassMessageHandler(massMessageFlow),
		ScheduledMessage: handlers.NewScheduledMessageHandler(scheduledMessageFlow),
		Scheduler:        handlers.NewSchedulerHandler(sched),
	}, middleware.NewAuthMiddleware(tokenService), healthChecks)

	return &Application{
		router:    appRouter,
		config:    cfg,
		scheduler: sched,
		closers:   closers,
		stopFuncs: stopFuncs,
	}, nil
}
