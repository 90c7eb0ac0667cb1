package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	healthmonitor "GoHealthMonitor"
	"GoHealthMonitor/pkg/config"
)

var (
	configFile string
	once       bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "path to the YAML configuration (defaults only when empty)")
	flag.BoolVar(&once, "once", false, "run a single cycle and exit")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.Fatalf("loading configuration: %v", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Log); err != nil {
		logger.Fatalf("configuring logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	loop, cleanup, err := healthmonitor.Build(ctx, cfg, reg, logger)
	if err != nil {
		logger.Fatalf("building monitor: %v", err)
	}
	defer cleanup()
	loop.OnCycle = healthmonitor.LogReports(logger)

	fmt.Println(healthmonitor.Banner(cfg))

	if once {
		loop.RunCycle(ctx)
		return
	}

	srv := serveMetrics(cfg.Telemetry, reg, logger)

	if err := loop.Run(ctx); err != nil {
		logger.WithError(err).Error("monitor stopped with error")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics endpoint shutdown")
		}
	}
}

func setupLogger(logger *logrus.Logger, cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func serveMetrics(cfg config.TelemetryConfig, reg *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	if cfg.Listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.Listen).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics endpoint failed")
		}
	}()
	return srv
}
