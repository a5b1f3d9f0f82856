package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aws/clock-bound/internal/daemon"
	"github.com/aws/clock-bound/logger"
	"github.com/aws/clock-bound/pkg/clockbound"
)

func main() {
	shmPath := flag.String("shm-path", clockbound.DefaultShmPath, "path of the shared memory segment to publish")
	ntpServer := flag.String("ntp-server", daemon.DefaultNTPServer, "reference NTP server to poll")
	pollInterval := flag.Duration("poll-interval", daemon.DefaultPollInterval, "period between reference clock polls")
	maxDriftPPB := flag.Uint("max-drift-ppb", daemon.DefaultMaxDriftPPB, "assumed worst case clock drift in parts per billion")
	voidAfter := flag.Duration("void-after", daemon.DefaultVoidAfter, "horizon after which readers stop trusting a stale update")
	metricsAddr := flag.String("metrics-addr", "localhost:9122", "address serving prometheus metrics")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	go func() {
		// Start the pprof server on port 6060
		fmt.Println(http.ListenAndServe("localhost:6060", nil))
	}()

	// Initialize logger
	level := zapcore.InfoLevel
	if *debug {
		level = zapcore.DebugLevel
	}
	log := logger.InitLogger("clockbound", level)
	defer log.Sync()

	reg := prometheus.NewRegistry()
	metrics := daemon.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	cfg := daemon.Config{
		ShmPath:      *shmPath,
		NTPServer:    *ntpServer,
		PollInterval: *pollInterval,
		MaxDriftPPB:  uint32(*maxDriftPPB),
		VoidAfter:    *voidAfter,
		Logger:       log,
	}
	d, err := daemon.New(cfg, daemon.NewNTPPoller(*ntpServer), metrics)
	if err != nil {
		log.Fatal("failed to open shared memory segment", zap.Error(err))
	}

	// Graceful shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("clockbound daemon started",
		zap.String("shm_path", *shmPath),
		zap.String("ntp_server", *ntpServer),
		zap.Duration("poll_interval", *pollInterval))

	start := time.Now()
	if err := d.Run(ctx); err != nil {
		log.Fatal("daemon stopped", zap.Error(err))
	}
	log.Info("shutdown complete", zap.Duration("uptime", time.Since(start)))
}
