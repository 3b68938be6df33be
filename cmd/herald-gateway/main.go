// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// herald-gateway is the publication gateway service. It serves the
// publish and token-lifecycle actions on a unix socket, with an HTTP
// operations endpoint for liveness and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/ipc"
	"github.com/heraldhq/herald/lib/config"
	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/lib/version"
	"github.com/heraldhq/herald/notify"
	"github.com/heraldhq/herald/publisher"
	"github.com/heraldhq/herald/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "config file path (default: $HERALD_CONFIG, else built-in defaults)")
	flag.StringVar(&socketPath, "socket", "", "unix socket path override")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("herald-gateway %s\n", version.Info())
		return nil
	}

	// A .env file is a development convenience; deployments configure
	// through the config file and the real environment.
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if socketPath != "" {
		cfg.Gateway.Socket = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Gateway.Socket), 0o755); err != nil {
		return fmt.Errorf("preparing socket directory: %w", err)
	}

	registry := adapter.NewRegistry(adapter.Roots{
		Adapters: cfg.Paths.Adapters,
		Runtimes: cfg.Paths.Runtimes,
		Assets:   cfg.Paths.Assets,
		Staging:  cfg.Paths.Staging,
	}, logger.With("component", "registry"))
	if _, err := registry.Populate(); err != nil {
		return fmt.Errorf("populating adapter registry: %w", err)
	}
	logger.Info("adapter registry ready", "adapters", len(registry.List()))

	vaultClient := vault.NewClient(cfg.Vault.Socket, cfg.VaultTimeout())

	var tracker notify.Tracker
	if cfg.Notify.SentryDSN != "" {
		sentryTracker, err := notify.StartSentry(cfg.Notify.SentryDSN, string(cfg.Environment))
		if err != nil {
			return err
		}
		defer sentryTracker.Flush(2 * time.Second)
		tracker = sentryTracker
		logger.Info("error tracking enabled")
	} else {
		tracker = notify.LogTracker{Logger: logger.With("component", "tracker")}
	}

	var smsSink notify.SMSSink = notify.DropSMS{Logger: logger.With("component", "sms")}
	if cfg.Notify.RedisURL != "" {
		redisSMS, err := notify.NewRedisSMS(ctx, cfg.Notify.RedisURL, cfg.Notify.SMSQueue)
		if err != nil {
			return fmt.Errorf("connecting sms queue: %w", err)
		}
		defer redisSMS.Close()
		smsSink = redisSMS
		logger.Info("sms queue connected", "queue", cfg.Notify.SMSQueue)
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Events:  notify.LogEvents{Logger: logger.With("component", "events")},
		SMS:     smsSink,
		Tracker: tracker,
		MockSMS: cfg.Notify.MockDeliverySMS,
		Logger:  logger.With("component", "notify"),
	})

	invoker := ipc.NewInvoker(cfg.InvokeTimeout(), cfg.Adapters.Interpreter,
		logger.With("component", "ipc"))

	pub := publisher.New(publisher.Config{
		Registry: registry,
		Vault:    vaultClient,
		Invoker:  invoker,
		Notifier: dispatcher,
		Tracker:  tracker,
		Logger:   logger.With("component", "publisher"),
	})

	socketServer := service.NewSocketServer(cfg.Gateway.Socket, cfg.Gateway.MaxWorkers,
		logger.With("component", "socket"))
	pub.Register(socketServer)

	var opsServer *http.Server
	if cfg.Gateway.OpsListen != "" {
		opsServer = &http.Server{
			Addr:         cfg.Gateway.OpsListen,
			Handler:      opsRouter(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("ops endpoint listening", "addr", cfg.Gateway.OpsListen)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("ops endpoint failed", "error", err)
			}
		}()
	}

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("gateway running",
		"environment", string(cfg.Environment),
		"socket", cfg.Gateway.Socket,
		"vault", cfg.Vault.Socket,
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops endpoint shutdown", "error", err)
		}
	}

	// Wait for the socket server to drain in-flight requests.
	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}

	return nil
}

// opsRouter serves process observability: liveness and Prometheus
// metrics. Loopback by default; this is not a public surface.
func opsRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
