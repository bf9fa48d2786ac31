// Command clusterd is the cluster-management daemon: it loads
// configuration, starts the OS-process worker pool, wires the scheduler's
// control loop to a periodic ticker, and serves the HTTP API in front of
// it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clusterd/scheduler/internal/api"
	"github.com/clusterd/scheduler/internal/clock"
	"github.com/clusterd/scheduler/internal/command"
	"github.com/clusterd/scheduler/internal/commands"
	"github.com/clusterd/scheduler/internal/config"
	"github.com/clusterd/scheduler/internal/logger"
	"github.com/clusterd/scheduler/internal/pool"
	"github.com/clusterd/scheduler/internal/scheduler"
	"github.com/clusterd/scheduler/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting clusterd...")

	registry := command.NewRegistry()
	commands.Register(registry)

	manifest, err := command.LoadManifest(cfg.Pool.CommandManifestPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load command manifest")
	}
	for _, warning := range registry.ApplyManifest(manifest) {
		log.Warn().Str("manifest", cfg.Pool.CommandManifestPath).Msg(warning)
	}

	workerPool := pool.New(pool.Config{
		BinPath:           cfg.Pool.WorkerBinPath,
		MaxWorkerCount:    cfg.Pool.MaxWorkerCount,
		MaxTempWorkers:    cfg.Pool.MaxTempWorkers,
		WorkerTaskLimit:   cfg.Pool.WorkerTaskLimit,
		WorkerStopTimeout: cfg.Pool.WorkerStopTimeout,
	}, *log, cfg.Pool.InboxSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workerPool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	sched := scheduler.New(scheduler.Config{
		MaxWorkerCount:           cfg.Pool.MaxWorkerCount,
		MaxTempWorkers:           cfg.Pool.MaxTempWorkers,
		DeadlockThresholdTimeout: cfg.Scheduler.DeadlockThresholdTimeout,
		TaskUnresponsiveTimeout:  cfg.Scheduler.TaskUnresponsiveTimeout,
		TaskAbandonedTimeout:     cfg.Scheduler.TaskAbandonedTimeout,
		DeleteAfterTerminal:      cfg.Scheduler.DeleteAfterTerminal,
	}, clock.RealClock{}, workerPool, registry, permissionsFor(cfg.Auth.PrivilegedGroup), *log)

	server := api.NewServer(cfg, sched)
	server.Start(ctx)
	sched.SetEventSink(server.Hub())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// The control loop's only external driver: a ticker calling
	// PerformActions. HTTP handlers never call it directly; all scheduler
	// mutation flows through this one goroutine's ticks, serialized by the
	// scheduler's own mutex.
	tickStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Scheduler.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sched.PerformActions(ctx)
				if err := workerPool.Maintain(ctx); err != nil {
					log.Warn().Err(err).Msg("worker pool maintenance")
				}
			case <-tickStop:
				return
			}
		}
	}()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down clusterd...")
	close(tickStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	server.Stop()
	workerPool.Stop()

	log.Info().Msg("clusterd stopped")
}

// permissionsFor builds the default submitter-or-privileged-group policy
// using the configured group name, generalizing scheduler.DefaultPermissions'
// hardcoded "admin" to an operator-chosen value.
func permissionsFor(privilegedGroup string) scheduler.PermissionsChecker {
	if privilegedGroup == "" {
		privilegedGroup = "admin"
	}
	return func(user, owner task.AuthUser) bool {
		return user.Username == owner.Username || user.IsMember(privilegedGroup)
	}
}
