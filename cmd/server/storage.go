package main

import (
	"context"
	"fmt"

	"github.com/gamilit/ranks-engine/config"
	"github.com/gamilit/ranks-engine/internal/application/eventhandler"
	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/infrastructure/persistence/memory"
	"github.com/gamilit/ranks-engine/internal/infrastructure/persistence/postgres"
	"github.com/gamilit/ranks-engine/internal/infrastructure/persistence/redis"
	"github.com/gamilit/ranks-engine/internal/infrastructure/persistence/sqlite"
	httpserver "github.com/gamilit/ranks-engine/internal/interface/http"
	"github.com/gamilit/ranks-engine/internal/interface/http/handlers"
	"github.com/gamilit/ranks-engine/pkg/circuitbreaker"
	"github.com/gamilit/ranks-engine/pkg/logger"
)

// storage - собранный слой хранения документов прогрессии.
type storage struct {
	store    ranks.SnapshotStore
	recorder eventhandler.EventRecorder
	events   httpserver.EventLog
	cache    *redis.Cache
	closers  []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStorage открывает хранилище по STORAGE_DRIVER и при включённом Redis
// оборачивает его кешем. Проверки здоровья регистрируются в health.
func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger, health handlers.HealthChecker) (*storage, error) {
	st := &storage{}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout

		log.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st.closers = append(st.closers, conn.Close)

		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		repo := postgres.NewProgressRepository(conn, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
		st.store = repo
		st.recorder = repo
		st.events = repo
		health.AddCheck("postgres", handlers.NewPingCheck(conn))
		health.AddInfo("postgres_pool", func() any { return conn.Stats() })
		health.AddCheck("database_breaker", handlers.NewBreakerCheck(func() string {
			return repo.BreakerState().String()
		}))
		health.AddInfo("database_breaker", func() any { return repo.BreakerStats() })

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		st.closers = append(st.closers, func() { _ = db.Close() })
		st.store = sqlite.NewProgressRepo(db)
		health.AddCheck("sqlite", db.PingContext)

	default:
		log.Warn("using in-memory storage, progress is lost on restart")
		st.store = memory.NewProgressStore()
	}

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		cache, err := redis.NewCache(redis.Config{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
			return st, nil
		}
		st.closers = append(st.closers, func() { _ = cache.Close() })
		st.cache = cache
		st.store = redis.NewProgressCache(cache, st.store, cfg.Redis.CacheTTL, log.Slog())
		health.AddCheck("redis", handlers.NewPingCheck(cache))
		log.Info("Redis connection established")
	}

	return st, nil
}
