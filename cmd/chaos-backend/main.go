package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/0xReLogic/chaos-backend/internal/chaos"
	"github.com/0xReLogic/chaos-backend/internal/config"
	"github.com/0xReLogic/chaos-backend/internal/logging"
	"github.com/0xReLogic/chaos-backend/internal/server"
	"github.com/0xReLogic/chaos-backend/internal/tracing"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to optional YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set environment for logger before it is built
	if cfg.Logging.Environment != "" {
		os.Setenv("CHAOS_ENV", cfg.Logging.Environment)
	}
	if err := logging.Init(cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.ReleaseID)
		if err != nil {
			logging.LogError("Failed to initialize tracing", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer func() { _ = shutdown(context.Background()) }()
			logging.LogInfo("Tracing initialized", map[string]interface{}{
				"service":  cfg.Tracing.ServiceName,
				"endpoint": cfg.Tracing.Endpoint,
			})
		}
	}

	// Only the log level is applied live; everything else needs a restart
	if *configPath != "" {
		err := config.WatchConfig(*configPath, func(next *config.Config) {
			if err := logging.SetLevel(next.Logging.Level); err != nil {
				logging.LogError("config_reload_failed", map[string]interface{}{"error": err})
				return
			}
			logging.LogInfo("config_reloaded", map[string]interface{}{
				"log_level": next.Logging.Level,
			})
		}, func(err error) {
			logging.LogError("config_reload_failed", map[string]interface{}{"error": err})
		})
		if err != nil {
			logging.LogError("config_watch_failed", map[string]interface{}{"error": err})
		}
	}

	state := chaos.NewState()
	scheduler := chaos.NewScheduler(cfg.Chaos.CancelOnDisconnect)
	injector := chaos.NewInjector(state, scheduler, cfg.Chaos.TimeoutDelay)
	srv := server.New(cfg.Addr(), cfg.AppPool, cfg.ReleaseID, state, injector)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logging.GetLogger().Info("chaos_backend_started",
		zap.String("listen_port", cfg.ListenPort),
		zap.String("pool", cfg.AppPool),
		zap.String("release", cfg.ReleaseID),
		zap.Duration("timeout_delay", cfg.Chaos.TimeoutDelay),
		zap.Bool("cancel_on_disconnect", cfg.Chaos.CancelOnDisconnect),
	)

	select {
	case err := <-errCh:
		if err != nil {
			logging.GetLogger().Fatal("failed_to_start_server", zap.Error(err))
		}
		return
	case <-ctx.Done():
	}

	logging.GetLogger().Info("shutting_down",
		zap.Int64("pending_delayed", scheduler.Pending()),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.GetLogger().Error("shutdown_incomplete", zap.Error(err))
	}
}
