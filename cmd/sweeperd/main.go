// sweeperd runs the lot expiry sweep on a schedule. Multiple instances may
// run side by side; a Redis lease elects the sweeping leader per tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	lotapp "github.com/distflow/backend/internal/application/lot"
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/distflow/backend/internal/infrastructure/cache"
	"github.com/distflow/backend/internal/infrastructure/config"
	"github.com/distflow/backend/internal/infrastructure/event"
	"github.com/distflow/backend/internal/infrastructure/logger"
	"github.com/distflow/backend/internal/infrastructure/persistence"
	"github.com/distflow/backend/internal/infrastructure/scheduler"
	"github.com/distflow/backend/internal/infrastructure/telemetry"
)

const sweepLockKey = "lot:sweep:leader"

func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	gormLog := logger.NewGormLogger(log, gormlogger.Warn,
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if stats, err := db.Stats(); err == nil {
		log.Info("database connected",
			zap.Int("max_open_conns", stats.MaxOpenConnections),
			zap.Int("open_conns", stats.OpenConnections),
		)
	}

	dbTracing := telemetry.NewDBTracingPlugin(cfg.Telemetry, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	repo := persistence.NewGormLotBatchRepository(db.DB)

	bus := event.NewInMemoryEventBus(log)
	var audit shared.EventHandler = event.NewAuditTrailHandler(log.Named("audit"))
	if cfg.Idempotency.Enabled {
		factory := cache.NewIdempotencyStoreFactory(cfg.Redis,
			cache.WithLogger(log),
			cache.WithInMemoryFallback(),
		)
		store, err := factory.CreateStore()
		if err != nil {
			log.Fatal("Failed to create idempotency store", zap.Error(err))
		}
		defer store.Close()

		audit = event.NewIdempotentHandler(audit, store, log,
			event.WithIdempotencyConfig(shared.IdempotencyConfig{
				Enabled: true,
				TTL:     cfg.Idempotency.TTL,
			}),
		)
	}
	bus.Subscribe(audit)
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() { _ = bus.Stop(context.Background()) }()

	expiration := lotapp.NewExpirationService(repo, log)
	expiration.SetEventPublisher(bus)

	lock, redisClient := buildSweepLock(ctx, cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	sched := scheduler.NewExpirySweepScheduler(expiration, lock, cfg.Sweeper, log)

	if once {
		if err := sched.RunOnce(ctx); err != nil {
			log.Fatal("Sweep failed", zap.Error(err))
		}
		return
	}

	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	log.Info("sweeperd running", zap.String("schedule", cfg.Sweeper.CronSchedule))
	<-ctx.Done()

	log.Info("shutting down")
	sched.Stop()
}

// buildSweepLock connects to Redis for leader election. When Redis is
// unreachable the daemon degrades to a local no-op lock, which is safe only
// when a single instance runs.
func buildSweepLock(ctx context.Context, cfg *config.Config, log *zap.Logger) (scheduler.SweepLock, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unavailable, sweeping without leader election", zap.Error(err))
		_ = client.Close()
		return scheduler.NoopLock{}, nil
	}

	hostname, _ := os.Hostname()
	token := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return scheduler.NewLeaderLock(client, sweepLockKey, token, cfg.Sweeper.LeaderLockTTL), client
}
