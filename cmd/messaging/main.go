package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/congregation-messaging/internal/api"
	"github.com/LeventeLantos/congregation-messaging/internal/cache"
	"github.com/LeventeLantos/congregation-messaging/internal/config"
	"github.com/LeventeLantos/congregation-messaging/internal/dispatch"
	"github.com/LeventeLantos/congregation-messaging/internal/events"
	"github.com/LeventeLantos/congregation-messaging/internal/migrations"
	"github.com/LeventeLantos/congregation-messaging/internal/rephrase"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
	"github.com/LeventeLantos/congregation-messaging/internal/scheduler"
	"github.com/LeventeLantos/congregation-messaging/internal/sms"
	"github.com/LeventeLantos/congregation-messaging/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("messaging app failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("messaging app starting",
		"addr", cfg.Server.Address,
		"provider", cfg.SMS.Provider,
		"timezone", cfg.Dispatch.Location.String(),
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"redis", cfg.Redis.Enabled,
		"amqp", cfg.AMQP.Enabled,
	)

	db, err := repo.Open(ctx, cfg.Database.PostgresURL, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ms, err := migrations.Load()
		if err != nil {
			return err
		}
		if _, err := migrations.Apply(ctx, db, ms, logger); err != nil {
			return err
		}
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	var (
		sentCache  cache.SentCache
		sentLookup cache.SentLookup
		locker     cache.Locker
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		rc := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		sentCache, sentLookup = rc, rc
		locker = cache.NewRedisLocker(rdb, "lock:")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQP.Enabled {
		p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Warn("amqp unavailable, dispatch events disabled", "err", err)
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	provider, err := sms.New(cfg.SMS)
	if err != nil {
		return err
	}

	messages := repo.NewPostgresMessageRepo(db)
	members := repo.NewPostgresMemberRepo(db)
	logs := repo.NewPostgresLogRepo(db)

	dispatcher := dispatch.NewDispatcher(provider, logs, cfg.Dispatch.ContentMax, cfg.SMS.SenderID, logger).
		WithHooks(dispatch.NotifyHooks(sentCache, publisher, logger))

	svc := dispatch.NewService(dispatch.Options{
		Messages:   messages,
		Members:    members,
		Logs:       logs,
		Dispatcher: dispatcher,
		Locker:     locker,
		LockTTL:    cfg.Redis.LockTTL,
		Location:   cfg.Dispatch.Location,
		StuckAfter: cfg.Dispatch.StuckAfter,
		BatchSize:  cfg.Scheduler.BatchSize,
		Logger:     logger,
	})

	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) {
		if _, err := svc.RunScheduled(ctx); err != nil {
			logger.Error("scheduled run failed", "err", err)
		}
	}, scheduler.WithLogger(logger), scheduler.WithTickTimeout(cfg.Scheduler.Interval))
	if err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		sched.Start()
	}
	defer sched.Stop()

	if cfg.Scheduler.MorningCron != "" {
		daily, err := scheduler.NewDaily(cfg.Scheduler.MorningCron, cfg.Dispatch.Location, func(ctx context.Context) {
			if _, err := svc.RunMorning(ctx); err != nil {
				logger.Error("morning run failed", "err", err)
			}
		}, scheduler.WithLogger(logger))
		if err != nil {
			return err
		}
		daily.Start()
		defer daily.Stop()
	}

	h := api.NewHandler(api.Deps{
		Messages:   messages,
		Logs:       logs,
		Jobs:       svc,
		Rephraser:  rephrase.New(cfg.AI, logger),
		Provider:   provider,
		Sent:       sentLookup,
		Scheduler:  sched,
		ContentMax: cfg.Dispatch.ContentMax,
		Logger:     logger,
	})

	server := newHTTPServer(cfg.Server.Address, api.Router(h, cfg.Server.CronSecret, logger))
	return serve(ctx, server, logger)
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Cron runs answer only after every send finished.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs the server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down http server")

		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(sctx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		logger.Info("http server stopped gracefully")
		return nil
	}
}
