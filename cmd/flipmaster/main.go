package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flipmaster/internal/config"
	"flipmaster/internal/handlers"
	"flipmaster/internal/middleware"
	"flipmaster/internal/services"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg)
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := openBackend(cfg, logger)
	store := services.NewStore(backend, logger)
	defer store.Close()

	stats := services.NewStatsAggregator(store, cfg.StorePrefix, logger)
	view := stats.Load(ctx)
	logger.Info().
		Int64("flips", view.Flips).
		Int64("wins", view.Wins).
		Int("win_rate", view.WinRatePercent).
		Msg("stats loaded")

	assets := services.NewAssetResolver(os.DirFS(cfg.AssetsDir), services.DetectModernFormatSupport(), logger)

	var sounds services.SoundPlayer = services.NopSoundPlayer{}
	if cfg.SoundEnabled {
		sounds = services.NewOtoSoundPlayer(logger)
	}

	// The websocket handler needs the engine, so it joins the fan-out after.
	var fanout services.Broadcasters
	gameEngine := services.NewGameEngine(services.GameEngineDeps{
		Reporter:    stats,
		Sounds:      sounds,
		Assets:      assets,
		Broadcaster: &fanout,
		Logger:      logger,
	})

	wsHandler := handlers.NewWebSocketHandler(gameEngine, stats, assets, logger)
	fanout = append(fanout, wsHandler)

	stats.OnChange(wsHandler.BroadcastStats)
	if res := stats.Watch(ctx); !res.OK() {
		logger.Warn().Err(res.Err).Msg("not following stats from other contexts")
	}

	gameHandler := handlers.NewGameHandler(gameEngine, stats, assets, wsHandler, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())
	handlers.RegisterRoutes(router, gameHandler, wsHandler)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsHandler.Run(gctx)
	})

	g.Go(func() error {
		if assets.Preload(gctx) == nil {
			logger.Info().Bool("webp", assets.Capability().SupportsModernFormat).Msg("coin images ready")
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := gameEngine.Wait(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("round still running at shutdown")
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly})
	}
	return logger.Level(cfg.LogLevel).With().Timestamp().Logger()
}

// openBackend falls back to an in-process store when the configured one is
// unreachable; the game runs either way.
func openBackend(cfg *config.Config, logger zerolog.Logger) services.Backend {
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		backend, err := services.NewRedisBackend(cfg)
		if err == nil {
			return backend
		}
		logger.Warn().Err(err).Msg("redis unavailable, stats will not persist")
	case config.StoreDriverFile:
		backend, err := services.NewFileBackend(cfg.StorePath, cfg.StorePollInterval, nil)
		if err == nil {
			return backend
		}
		logger.Warn().Err(err).Str("path", cfg.StorePath).Msg("state file unavailable, stats will not persist")
	}
	hub := services.NewMemoryHub()
	hub.SetLogger(logger)
	return hub.Backend()
}
