package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/ucp/merchant/internal/application/checkout"
	domain "github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/infrastructure/cache"
	"github.com/ucp/merchant/internal/infrastructure/config"
	"github.com/ucp/merchant/internal/infrastructure/lock"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/infrastructure/persistence"
	"github.com/ucp/merchant/internal/infrastructure/scheduler"
	"github.com/ucp/merchant/internal/infrastructure/telemetry"
	"github.com/ucp/merchant/internal/interfaces/http/handler"
	"go.uber.org/zap"
)

const (
	driverMemory    = "memory"
	driverRedis     = "redis"
	slowQueryThresh = 200 * time.Millisecond
)

// stores holds the session repository, locker and idempotency store selected by config
type stores struct {
	Sessions    domain.SessionRepository
	Locker      shared.Locker
	Idempotency shared.IdempotencyStore

	db     *persistence.Database
	redis  *redis.Client
	logger *zap.Logger
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	s := &stores{logger: log}

	switch cfg.Database.Driver {
	case "", driverMemory:
		log.Warn("Using in-memory session store, sessions are lost on restart")
		s.Sessions = persistence.NewInMemorySessionRepository()
	default:
		gormLog := logger.NewGormLogger(log.Named("gorm"), logger.MapGormLogLevel(cfg.Log.Level), slowQueryThresh)
		db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
		if err != nil {
			return nil, err
		}
		s.db = db
		if cfg.Telemetry.DBTraceEnabled {
			tracingCfg := telemetry.DefaultDBTracingConfig(db.Driver)
			tracingCfg.Enabled = true
			if err := telemetry.NewDBTracingPlugin(tracingCfg, log).Register(db.DB); err != nil {
				s.Close()
				return nil, fmt.Errorf("register db tracing: %w", err)
			}
		}
		if err := db.AutoMigrate(); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("Database connected", zap.String("driver", db.Driver))
		s.Sessions = persistence.NewGormSessionRepository(db.DB)
	}

	redisCfg := cache.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	switch cfg.Lock.Driver {
	case "", driverMemory:
		s.Locker = lock.NewInMemoryLocker()
	case driverRedis:
		client, err := cache.NewRedisClient(ctx, redisCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis required for session locks: %w", err)
		}
		s.redis = client
		s.Locker = lock.NewRedisLocker(client, cfg.Lock.TTL, lock.WithLockLogger(log.Named("lock")))
		log.Info("Using Redis session locks", zap.String("addr", redisCfg.Addr))
	default:
		s.Close()
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Lock.Driver)
	}

	factory := cache.NewIdempotencyStoreFactory(redisCfg,
		cache.WithLogger(log.Named("idempotency")),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	store, err := factory.CreateStore(ctx, cfg.Idempotency.Driver)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Idempotency = store
	return s, nil
}

// HealthChecks returns a probe per external store
func (s *stores) HealthChecks() []handler.HealthOption {
	var opts []handler.HealthOption
	if s.db != nil {
		opts = append(opts, handler.WithHealthCheck("database", func(context.Context) error {
			return s.db.Ping()
		}))
	}
	if s.redis != nil {
		opts = append(opts, handler.WithHealthCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	return opts
}

// Close releases every opened store
func (s *stores) Close() {
	if s.Idempotency != nil {
		if err := s.Idempotency.Close(); err != nil {
			s.logger.Warn("Error closing idempotency store", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Error closing redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database", zap.Error(err))
		}
	}
}

// newSweepScheduler returns nil when the sweeper is disabled
func newSweepScheduler(cfg *config.Config, s *stores, metrics *telemetry.CheckoutMetrics, log *zap.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Sweeper.Enabled {
		return nil, nil
	}
	purger, ok := s.Sessions.(domain.SessionPurger)
	if !ok {
		return nil, fmt.Errorf("session store %T cannot remove sessions", s.Sessions)
	}
	sweeper, err := checkout.NewSweeper(checkout.SweeperConfig{
		Repository: s.Sessions,
		Purger:     purger,
		Locker:     s.Locker,
		Retention:  cfg.Sweeper.Retention,
		BatchSize:  cfg.Sweeper.BatchSize,
		Metrics:    metrics,
		Logger:     log.Named("sweeper"),
	})
	if err != nil {
		return nil, err
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Interval = cfg.Sweeper.Interval
	schedCfg.Timeout = cfg.Sweeper.Timeout
	sched, err := scheduler.New(schedCfg, log.Named("scheduler"))
	if err != nil {
		return nil, err
	}
	if err := sched.Register(sweeper); err != nil {
		return nil, err
	}
	return sched, nil
}

func discountTable(discounts map[string]decimal.Decimal) domain.DiscountTable {
	rules := make([]domain.DiscountRule, 0, len(discounts))
	for code, percent := range discounts {
		rules = append(rules, domain.DiscountRule{
			Code:    code,
			Title:   fmt.Sprintf("%s%% off", percent.String()),
			Percent: percent,
		})
	}
	return domain.NewDiscountTable(rules...)
}
