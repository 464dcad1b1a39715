package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aepblueprint/internal/app"
	"aepblueprint/internal/db"
	"aepblueprint/internal/platform/logger"
	"aepblueprint/internal/realtime"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := app.LoadConfig()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg app.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := cfg.DB()
	if err != nil {
		return err
	}
	conn, err := db.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(ctx, conn, dbCfg.Dialect)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", "count", len(applied), "versions", applied)
	}

	var bus realtime.Bus
	if cfg.RedisURL != "" {
		bus, err = realtime.NewRedisBus(ctx, cfg.RedisURL, cfg.RedisChannel, log)
		if err != nil {
			return fmt.Errorf("redis bus: %w", err)
		}
		log.Info("invalidation bus: redis", "channel", cfg.RedisChannel)
	} else {
		bus = realtime.NewMemoryBus()
		log.Info("invalidation bus: in-process")
	}
	defer bus.Close()

	stack, err := app.NewStack(ctx, cfg, conn, dbCfg.Dialect, bus, log, app.StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived SSE requests end with the signal context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("aep blueprint listening", "addr", cfg.HTTPAddr, "db_driver", string(dbCfg.Dialect), "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
