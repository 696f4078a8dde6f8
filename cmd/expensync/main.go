package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"expensync/internal/amqp"
	"expensync/internal/backend"
	"expensync/internal/cli"
	internalhttp "expensync/internal/http"
	"expensync/internal/log"
	"expensync/internal/network"
	"expensync/internal/services"
	"expensync/internal/state"
	"expensync/internal/worker"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel, cfg.LogFormat).WithComponent(log.ComponentApp)

	logger.Info("Starting expensync",
		"port", cfg.Port,
		"backend", cfg.RemoteBackend,
		"sqlite_path", cfg.SQLiteDBPath)

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.RemoteTimeout)
	defer startCancel()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	lastSync, err := repo.LastSyncTime(startCtx)
	if err != nil {
		logger.Warn("Failed to read last sync time", log.FieldError, err)
	}
	st := state.New(false, lastSync)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	remoteBackend, err := backend.NewFactory(logger).CreateBackend(startCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to create remote backend", log.FieldError, err, "backend", cfg.RemoteBackend)
		os.Exit(1)
	}

	monitor := network.NewMonitor(st, remoteBackend.Probe, cfg.NetworkProbeInterval)

	// The broker is optional; without it sync events are simply not published.
	var (
		broker   *amqp.Client
		notifier services.Notifier
	)
	if cfg.AMQPEnabled() {
		broker, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPChangesQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, continuing without notifications", log.FieldError, err)
			broker = nil
		} else {
			notifier = broker
			logger.Info("AMQP connected", "exchange", cfg.AMQPExchange)
		}
	}

	engine := services.NewSyncEngine(repo, remoteBackend.Remote, st, monitor, notifier, services.SyncEngineConfig{
		Interval:    cfg.SyncInterval,
		CallTimeout: cfg.RemoteTimeout,
	})
	expenses := services.NewExpenseService(repo, engine)

	srv := internalhttp.NewServer(":"+cfg.Port, expenses, engine, internalhttp.Options{
		Logger: logger.WithComponent(log.ComponentHTTP),
	})

	ctx, stop, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown error", log.FieldError, err)
		}
		if err := engine.Stop(ctx); err != nil {
			logger.Error("Sync engine stop error", log.FieldError, err)
		}
		if broker != nil {
			if err := broker.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := remoteBackend.Close(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
		if err := repo.Close(); err != nil {
			logger.Error("SQLite close error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	if err := engine.Start(gctx); err != nil {
		logger.Error("Failed to start sync engine", log.FieldError, err)
		stop()
		<-done
		os.Exit(1)
	}

	// A failed task cancels gctx; bring the whole process down with it.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() == nil {
			logger.Error("Background task failed, shutting down", log.FieldError, context.Cause(gctx))
		}
		stop()
		return nil
	})

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	if broker != nil {
		listener := worker.NewChangeListener(engine, engine.Origin())
		g.Go(func() error {
			listener.Run(gctx, broker)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Shutting down after failure", log.FieldError, err)
	}
	stop()
	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
