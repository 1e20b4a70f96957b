package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-silksong/internal/config"
	"backend-silksong/internal/db"
	"backend-silksong/internal/events"
	"backend-silksong/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, *pgxpool.Pool) error
	connectRedis    func(config.Config) *redis.Client
	connectNats     func(string) (*nats.Conn, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *nats.Conn, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		connectNats:     events.Connect,
		notify:          signal.Notify,
		run:             Run,
	}
}

func setupLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	setupLogger(cfg.LogLevel)

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Error().Err(err).Msg("postgres connection failed")
		pg = nil
	}
	if pg != nil && cfg.RunMigrations {
		if err := deps.migrate(context.Background(), pg); err != nil {
			log.Error().Err(err).Msg("database migration failed")
		} else {
			log.Info().Msg("database migrations applied")
		}
	}

	rdb := deps.connectRedis(cfg)

	nc, err := deps.connectNats(cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("nats connection failed, post events disabled")
		nc = nil
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, nc, signals, nil); err != nil {
		log.Error().Err(err).Msg("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and background jobs, then waits for a
// termination signal.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, nc *nats.Conn, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, pg, rdb, nc)

	if srv.Janitor != nil {
		if err := srv.Janitor.Start(cfg.JanitorSchedule); err != nil {
			log.Warn().Err(err).Str("schedule", cfg.JanitorSchedule).Msg("janitor not scheduled")
		}
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := shutdownFn(srv.App, shutdownCtx)
	srv.Close()
	if err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if nc != nil {
		nc.Close()
	}
	log.Info().Msg("server stopped")
	return nil
}
