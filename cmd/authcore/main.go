// Command authcore serves the authentication API.
//
// Configuration comes from defaults, an optional TOML file (-config) and
// flag overrides; see authcore.LoadConfig.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/internal/icons"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/migrations"
	"github.com/MrEthical07/authcore/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "authcore:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logOut io.Writer) error {
	cfg, err := authcore.LoadConfig(args)
	if err != nil {
		return err
	}
	handler, err := logHandler(cfg.Log, logOut)
	if err != nil {
		return err
	}
	log := logging.NewSlogLogger(slog.New(handler))

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if cfg.Database.Migrate {
		if err := migrations.Up(ctx, db); err != nil {
			return err
		}
		log.Info(ctx, "migrations applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	var remover icons.Remover = icons.Nop{}
	if cfg.S3.Enabled() {
		s3, err := icons.New(ctx, cfg.S3)
		if err != nil {
			return err
		}
		remover = s3
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(postgres.New(db)).
		WithRedis(rdb).
		WithLogger(log).
		WithIcons(remover).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go engine.RunSweeper(sweepCtx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewRouter(engine),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	servers := []*http.Server{srv}
	if cfg.Metrics.Addr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           httpapi.NewMetricsHandler(engine),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		})
	}

	serveErr := make(chan error, len(servers))
	for _, s := range servers {
		go func() { serveErr <- s.ListenAndServe() }()
		log.Info(ctx, "listening", "addr", s.Addr)
	}

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

// logHandler builds the slog handler named by cfg.Format at cfg.Level.
func logHandler(cfg authcore.LogConfig, w io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "", "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
