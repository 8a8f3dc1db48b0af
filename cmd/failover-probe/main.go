package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/0xReLogic/chaos-backend/internal/logging"
	"github.com/0xReLogic/chaos-backend/testutil"
)

// failover-probe polls /version through a load balancer and logs which pool
// answered, so a failover triggered by chaos mode can be watched live.
func main() {
	url := flag.String("url", "http://localhost:8080", "base URL of the load balancer or backend")
	interval := flag.Duration("interval", time.Second, "delay between probes")
	count := flag.Int("count", 0, "number of probes, 0 to run until interrupted")
	timeout := flag.Duration("timeout", 2*time.Second, "per-request timeout")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := logging.Init(*level); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	lastPool := ""
	failures := 0
	for i := 0; *count == 0 || i < *count; i++ {
		report, err := testutil.ProbeVersion(ctx, *url, *timeout)
		switch {
		case err != nil:
			failures++
			logging.GetLogger().Error("probe_failed", zap.Int("seq", i), zap.Error(err))
		case !report.Healthy():
			failures++
			logging.GetLogger().Warn("probe_degraded", zap.Int("seq", i), zap.String("report", report.String()))
		default:
			if lastPool != "" && report.Pool != lastPool {
				logging.GetLogger().Warn("pool_switched",
					zap.String("from", lastPool),
					zap.String("to", report.Pool),
				)
			}
			lastPool = report.Pool
			logging.GetLogger().Info("probe_ok", zap.Int("seq", i), zap.String("report", report.String()))
		}

		select {
		case <-ctx.Done():
			logging.GetLogger().Info("probe_stopped", zap.Int("failures", failures))
			return
		case <-ticker.C:
		}
	}
	logging.GetLogger().Info("probe_done", zap.Int("failures", failures))
}
