// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/codeduel/internal/auth"
	"github.com/jason-s-yu/codeduel/internal/bridge"
	"github.com/jason-s-yu/codeduel/internal/cache"
	"github.com/jason-s-yu/codeduel/internal/config"
	"github.com/jason-s-yu/codeduel/internal/database"
	"github.com/jason-s-yu/codeduel/internal/execution"
	"github.com/jason-s-yu/codeduel/internal/game"
	"github.com/jason-s-yu/codeduel/internal/handlers"
	"github.com/jason-s-yu/codeduel/internal/matchmaking"
	"github.com/jason-s-yu/codeduel/internal/pubsub"
	"github.com/jason-s-yu/codeduel/internal/rating"
	"github.com/jason-s-yu/codeduel/internal/room"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.IsProd() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		if err := auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath); err != nil {
			return err
		}
	} else {
		logger.Warn("no JWT key paths set, generating an ephemeral signing key")
		if err := auth.Init(); err != nil {
			return err
		}
	}

	pool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.RunMigrations(ctx, pool, logger); err != nil {
		return err
	}
	profiles := database.NewProfiles(pool)
	problems := database.NewProblems(pool)

	rooms, closeRooms, err := roomRegistry(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeRooms()

	if cfg.QueueStore == "redis" || cfg.Bus == "redis" || cfg.HistoryQueue != "" {
		if err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisDB); err != nil {
			// match history is best-effort; a Redis-backed queue or bus is not
			if cfg.QueueStore == "redis" || cfg.Bus == "redis" {
				return err
			}
			logger.Warnf("match history disabled: %v", err)
			cache.Rdb = nil
		} else {
			defer cache.Rdb.Close()
		}
	}

	bus, err := eventBus(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctrl := game.NewController(rooms, rating.NewEngine(profiles, logger), problems, logger, game.Options{
		ProblemsPerMatch: cfg.ProblemsPerMatch,
		EmptyRoomGrace:   cfg.EmptyRoomGrace,
		CancelledRoomTTL: cfg.CancelledRoomTTL,
		DisconnectGrace:  cfg.DisconnectGrace,
		SweepInterval:    cfg.SweepInterval,
		OpTimeout:        game.DefaultOptions().OpTimeout,
	})
	if cache.Rdb != nil && cfg.HistoryQueue != "" {
		ctrl.History = cache.NewHistoryPublisher(cache.Rdb, cfg.HistoryQueue)
	}

	var store matchmaking.Store = matchmaking.NewMemoryStore()
	if cfg.QueueStore == "redis" {
		store = matchmaking.NewRedisStore(cache.Rdb, "codeduel")
	}
	queue := matchmaking.NewQueue(store, ctrl, logger, cfg.QueueEntryTTL)

	exec := execution.NewClient(cfg.ExecutorURL, cfg.ExecutorTimeout, logger)
	b := bridge.New(ctrl, queue, exec, problems, profiles, bus, logger)
	ctrl.Notify = b
	if err := b.Run(ctx); err != nil {
		return err
	}
	ctrl.Start(ctx)
	defer ctrl.Shutdown()

	api := &handlers.API{Rooms: ctrl, Queue: queue, Conns: b, Log: logger}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.NewRouter(logger, api, b, cfg.CORSAllow),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("codeduel listening on %s (rooms=%s queue=%s bus=%s)", cfg.HTTPAddr, cfg.RoomStore, cfg.QueueStore, cfg.Bus)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// roomRegistry picks the room store named by ROOM_STORE. The returned func releases it.
func roomRegistry(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *logrus.Logger) (room.Registry, func(), error) {
	switch cfg.RoomStore {
	case "mongo":
		mcfg := database.DefaultMongoConfig()
		mcfg.URI = cfg.MongoURI
		mcfg.Database = cfg.MongoDB
		m, err := database.NewMongoDB(ctx, mcfg)
		if err != nil {
			return nil, nil, err
		}
		if err := m.CreateIndexes(ctx); err != nil {
			_ = m.Close()
			return nil, nil, err
		}
		return database.NewMongoRooms(m), func() { _ = m.Close() }, nil
	case "memory":
		logger.Warn("rooms are kept in memory and will not survive a restart")
		return room.NewMemoryRegistry(), func() {}, nil
	default:
		return database.NewPostgresRooms(pool), func() {}, nil
	}
}

func eventBus(cfg config.Config, logger *logrus.Logger) (pubsub.Bus, error) {
	switch cfg.Bus {
	case "redis":
		return pubsub.NewRedisBus(cache.Rdb, logger), nil
	case "nats":
		nb, err := pubsub.ConnectNats(cfg.NatsURL, logger)
		if err != nil {
			return nil, err
		}
		return nb, nil
	default:
		return pubsub.NewLocalBus(), nil
	}
}
