// roost supervises live chat-platform sessions for registered bots and
// exposes an HTTP API for managing them.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/roosthq/roost/internal/config"
	"github.com/roosthq/roost/internal/db"
	"github.com/roosthq/roost/internal/gateway"
	"github.com/roosthq/roost/internal/notify"
	"github.com/roosthq/roost/internal/server"
	"github.com/roosthq/roost/internal/supervisor"
	"github.com/roosthq/roost/internal/watcher"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	settingsPath := flag.String("settings", config.SettingsPath(), "path to the settings file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	cfg, err := config.LoadFile(*settingsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = config.DBPath()
	}
	gormLevel := logger.Silent
	if level <= zerolog.DebugLevel {
		gormLevel = logger.Info
	}
	store, err := db.NewStore(db.Config{DSN: dsn, MaxConns: cfg.MaxConns, LogLevel: gormLevel})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	botStore := db.NewBotStore(store)
	userStore := db.NewUserStore(store)

	broadcaster := notify.NewBroadcaster()
	notifiers := notify.Fanout{broadcaster}
	if cfg.RedisAddr != "" {
		publisher := notify.NewRedisPublisher(cfg.RedisAddr, cfg.RedisChannel)
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		log.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("Redis status publishing enabled")
	}

	reconciler := supervisor.NewReconciler(botStore, notifiers)
	sup := supervisor.New(gateway.NewWebsocketDialer(cfg.GatewayURL), reconciler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.Start(ctx)

	svc := server.New(version, cfg, store, botStore, userStore, sup, broadcaster)
	svc.SetReady(true)

	// Settings changes require a restart to take effect; surface them.
	w, err := watcher.New(*settingsPath, func() {
		log.Warn().Str("path", *settingsPath).Msg("Settings file changed, restart to apply")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
	} else {
		defer w.Stop()
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSecs) * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx, shutdownTimeout)
	})

	log.Info().Str("version", version).Msg("roost started")

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server exited with error")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sup.ShutdownAll(drainCtx)

	log.Info().Msg("roost stopped")
}
