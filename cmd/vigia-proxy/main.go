package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vigia-recife/vigia-proxy/pkg/cache"
	"github.com/vigia-recife/vigia-proxy/pkg/client"
	"github.com/vigia-recife/vigia-proxy/pkg/config"
	"github.com/vigia-recife/vigia-proxy/pkg/logging"
	"github.com/vigia-recife/vigia-proxy/pkg/metrics"
	"github.com/vigia-recife/vigia-proxy/pkg/proxy"
	"github.com/vigia-recife/vigia-proxy/pkg/scheduler"
)

const redisPingTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("vigia-proxy stopped with error")
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Pretty = cfg.Log.Pretty
	logging.Setup(logCfg)
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	manager := cache.NewManager(store, cache.WithLogger(logging.NewLogger("cache")))
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close cache store")
		}
	}()

	fetcher, err := client.New(fetcherConfig(cfg.Upstream), client.WithLogger(logging.NewLogger("fetcher")))
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	service := proxy.NewService(cfg, fetcher, manager)
	server := proxy.NewServer(service, cfg.Server, proxy.WithServerLogger(logging.NewLogger("http")))

	flusher, err := scheduler.New(manager, cfg.Cache.FlushSchedule, scheduler.WithLogger(logging.NewLogger("scheduler")))
	if err != nil {
		return err
	}

	metrics.SetBuildInfo(proxy.Version)

	logger.Info().
		Str("version", proxy.Version).
		Str("addr", cfg.Server.Addr()).
		Msg("VIGIA proxy starting")
	logger.Info().
		Str("backend", store.Name()).
		Dur("default_ttl", cfg.Cache.TTL.Datastore).
		Msg("Response cache configured")
	logger.Info().
		Str("schedule", cfg.Cache.FlushSchedule).
		Msg("Periodic cache flush configured")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	flusher.Start()

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info().Msg("Shutting down")
		if err := flusher.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Scheduler did not stop in time")
		}
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// newStore builds the configured cache backend.
func newStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		redisClient := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
		}

		return cache.NewRedisStore(redisClient, cfg.RedisNamespace), nil
	case config.BackendMemory, "":
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// fetcherConfig maps the upstream section onto the fetcher settings.
func fetcherConfig(cfg config.UpstreamConfig) client.Config {
	return client.Config{
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		BackoffStep: cfg.BackoffStep,
	}
}
