// Package main - точка входа HTTP-сервиса движка рангов.
//
// Сервис держит живые сессии прогрессии пользователей, сохраняет документы
// в выбранное хранилище, раздаёт события через шину и по расписанию
// чистит истёкшие множители.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gamilit/ranks-engine/config"
	"github.com/gamilit/ranks-engine/internal/application/eventhandler"
	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/internal/infrastructure/external/rankapi"
	"github.com/gamilit/ranks-engine/internal/infrastructure/messaging"
	"github.com/gamilit/ranks-engine/internal/infrastructure/persistence/redis"
	"github.com/gamilit/ranks-engine/internal/infrastructure/scheduler"
	"github.com/gamilit/ranks-engine/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/gamilit/ranks-engine/internal/interface/http"
	"github.com/gamilit/ranks-engine/internal/interface/http/handlers"
	"github.com/gamilit/ranks-engine/pkg/logger"
)

// eventBus - общая поверхность локальной и Redis-шины.
type eventBus interface {
	shared.EventBus
	Close() error
	Metrics() *messaging.EventBusMetrics
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ranks-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.Level),
		Format: logger.Format(cfg.Observability.Format),
	}).With(logger.String("service", cfg.App.Name))
	log.Info("starting ranks engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", string(cfg.Storage.Driver)),
	)

	flags := config.NewFeatureFlags(cfg.Features)
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ДВИЖОК ПРОГРЕССИИ
	// ─────────────────────────────────────────────────────────────────────────
	engine, err := buildEngine(cfg, flags)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	st, err := openStorage(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer st.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := buildEventBus(cfg, st.cache, log)
	if err != nil {
		return fmt.Errorf("failed to build event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("event bus close failed", logger.Err(err))
		}
	}()
	health.AddInfo("event_bus", func() any { return bus.Metrics().Snapshot() })

	// ─────────────────────────────────────────────────────────────────────────
	// 6. СЕССИИ И УДАЛЁННЫЙ СЕРВИС РАНГОВ
	// ─────────────────────────────────────────────────────────────────────────
	storeOpts := []ranks.Option{
		ranks.WithPublisher(bus),
		ranks.WithLogger(log.Slog()),
	}
	sessOpts := []ranks.SessionsOption{
		ranks.WithSnapshotLoader(st.store),
		ranks.WithSessionsLogger(log.Slog()),
		ranks.WithIdleTTL(cfg.Scheduler.SessionIdleTTL),
	}

	if cfg.RankAPI.Enabled() {
		clientCfg := rankapi.DefaultClientConfig(cfg.RankAPI.BaseURL)
		clientCfg.APIKey = cfg.RankAPI.APIKey
		clientCfg.Timeout = cfg.RankAPI.RequestTimeout
		clientCfg.MaxRetries = cfg.RankAPI.MaxRetries
		clientCfg.BreakerThreshold = cfg.RankAPI.CircuitBreakerThreshold
		clientCfg.BreakerTimeout = cfg.RankAPI.CircuitBreakerTimeout
		rl := rankapi.DefaultRateLimiterConfig()
		clientCfg.RateLimit = &rl
		clientCfg.Logger = log.Slog()

		client, err := rankapi.NewClient(clientCfg)
		if err != nil {
			return fmt.Errorf("failed to create rank API client: %w", err)
		}
		sessOpts = append(sessOpts, ranks.WithRemoteHydration(client))
		storeOpts = append(storeOpts, ranks.WithPrestigeConfirmer(client))
		health.AddCheck("rank_api_breaker", handlers.NewBreakerCheck(func() string {
			return client.BreakerState().String()
		}))
		health.AddInfo("rank_api_breaker", func() any { return client.BreakerStats() })
		log.Info("rank API enabled", logger.String("base_url", cfg.RankAPI.BaseURL))
	}

	sessOpts = append(sessOpts, ranks.WithStoreOptions(storeOpts...))
	sessions := ranks.NewSessions(engine, sessOpts...)
	health.AddInfo("sessions", func() any { return sessions.Len() })

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ОБРАБОТЧИКИ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	onChanged := eventhandler.NewOnProgressChangedHandler(
		sessions, st.store, st.recorder, log.Slog(), eventhandler.DefaultProgressChangedConfig(),
	)
	if err := onChanged.Register(bus); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = buildScheduler(cfg, sessions, st.store, log)
		if err != nil {
			return fmt.Errorf("failed to build scheduler: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		health.AddInfo("scheduler", func() any { return sched.Status() })
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(
		httpserver.ConfigFrom(cfg.HTTP, cfg.Engine.HistoryPageLimit),
		httpserver.Dependencies{
			Sessions:      sessions,
			Flags:         flags,
			Events:        st.events,
			HealthChecker: health,
			Logger:        log,
			Version:       cfg.App.Version,
		},
	)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ОЖИДАНИЕ СИГНАЛА И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("HTTP server failed", logger.Err(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", logger.Err(err))
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}

	saved, err := sessions.Flush(shutdownCtx, st.store)
	if err != nil {
		log.Error("final flush incomplete", logger.Int("saved", saved), logger.Err(err))
	} else {
		log.Info("final flush completed", logger.Int("saved", saved))
	}

	log.Info("ranks engine stopped")
	return serveErr
}

// buildEngine собирает движок из настроек ENGINE_* и флагов.
func buildEngine(cfg *config.Config, flags *config.FeatureFlags) (*progression.Engine, error) {
	opts := []progression.Option{
		progression.WithPrestigeMinLevel(cfg.Engine.PrestigeMinLevel),
		progression.WithExpiringSoonWindow(cfg.Engine.ExpiringSoonWindow),
		progression.WithMaxCascadeSteps(cfg.Engine.MaxCascadeSteps),
		progression.WithPromotionBonus(flags.Enabled(config.FeaturePromotionBonus)),
	}

	if path := cfg.Engine.RankTablePath; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open rank table: %w", err)
		}
		defer f.Close()

		table, err := rank.LoadTable(f)
		if err != nil {
			return nil, fmt.Errorf("load rank table %s: %w", path, err)
		}
		opts = append(opts, progression.WithRankTable(table))
	}

	return progression.NewEngine(opts...)
}

// buildEventBus выбирает Redis-шину, если Redis доступен, иначе локальную.
func buildEventBus(cfg *config.Config, cache *redis.Cache, log *logger.Logger) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log.Slog()

	if cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         redis.NewPubSub(cache),
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         log.Slog(),
	})
	if err != nil {
		return nil, err
	}
	log.Info("event relay over Redis enabled", logger.String("channel", cfg.Redis.EventChannel))
	return bus, nil
}

// buildScheduler регистрирует периодические задачи.
func buildScheduler(cfg *config.Config, sessions *ranks.Sessions, saver ranks.SnapshotSaver, log *logger.Logger) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log.Slog()
	schedCfg.Timezone = cfg.App.Location()
	schedCfg.JobTimeout = cfg.Scheduler.JobTimeout

	sched, err := scheduler.NewScheduler(schedCfg)
	if err != nil {
		return nil, err
	}

	sweep, err := scheduler.ParseSchedule(cfg.Scheduler.MultiplierSweepSchedule)
	if err != nil {
		_ = sched.Stop()
		return nil, fmt.Errorf("multiplier sweep schedule: %w", err)
	}
	flush, err := scheduler.ParseSchedule(cfg.Scheduler.SnapshotFlushSchedule)
	if err != nil {
		_ = sched.Stop()
		return nil, fmt.Errorf("snapshot flush schedule: %w", err)
	}

	err = errors.Join(
		sched.Register(jobs.NewMultiplierSweepJob(sessions, log.Slog()), sweep),
		sched.Register(jobs.NewSnapshotFlushJob(sessions, saver, log.Slog()), flush),
	)
	if err != nil {
		_ = sched.Stop()
		return nil, err
	}
	return sched, nil
}
