package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/beatwave/playsync/config"
	"github.com/beatwave/playsync/providers"
	"github.com/beatwave/playsync/src/auth"
	"github.com/beatwave/playsync/src/bridge"
	"github.com/beatwave/playsync/src/hub"
	"github.com/beatwave/playsync/src/playback"
	"github.com/beatwave/playsync/src/ratelimit"
	"github.com/beatwave/playsync/src/router"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.LogLevel)

	if cfg.Auth.Secret == "" {
		logger.Fatal().Msg("auth secret is required (PLAYSYNC_AUTH_SECRET)")
	}

	registry := hub.New(logger)
	limiter := ratelimit.New(cfg.LimiterConfig(), logger)
	limiter.SetPresenceCheck(registry.Has)
	coord := playback.New(registry, logger)
	validator := auth.NewValidator(cfg.Auth.Secret)
	rt := router.New(validator, limiter, registry, coord, logger)

	// Attempt the Redis relay (non-fatal if unavailable).
	relay := bridge.NewRedisRelay(&cfg.Redis, coord, logger)
	if err := relay.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis relay unavailable, running standalone")
		relay = nil
	} else {
		coord.SetRelay(relay)
		logger.Info().Str("redis_addr", cfg.Redis.Addr).Msg("redis relay connected")
	}

	srv := providers.NewServer(cfg, rt, registry, coord, logger)
	httpServer := &fasthttp.Server{Handler: srv.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("server starting")
		return httpServer.ListenAndServe(cfg.ListenAddr)
	})
	g.Go(func() error {
		limiter.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("server shutting down")
		if relay != nil {
			if err := relay.Stop(); err != nil {
				logger.Error().Err(err).Msg("relay stop error")
			}
		}
		return httpServer.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}
