// Package main is the scproxy entrypoint: a TLS-terminating reverse proxy and session broker
// fronting on-demand Spark Connect backend processes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kimahriman/spark-connect-proxy/internal/config"
	"github.com/Kimahriman/spark-connect-proxy/internal/dispatch"
	"github.com/Kimahriman/spark-connect-proxy/internal/launcher"
	"github.com/Kimahriman/spark-connect-proxy/internal/logging"
	"github.com/Kimahriman/spark-connect-proxy/internal/server"
	"github.com/Kimahriman/spark-connect-proxy/internal/session"
	"github.com/Kimahriman/spark-connect-proxy/internal/version"
)

var rootCmdArgs struct {
	configFile string
	debug      bool
}

var rootCmd = &cobra.Command{
	Use:          "scproxy",
	Short:        "TLS-terminating reverse proxy and session broker for Spark Connect",
	Version:      version.String(),
	SilenceUsage: true,
	RunE: func(*cobra.Command, []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&rootCmdArgs.configFile, "config-file", "c", "", "path to the JSON config file")
	rootCmd.Flags().BoolVar(&rootCmdArgs.debug, "debug", false, "enable debug logs")
}

func run() error {
	cfg, err := config.Load(rootCmdArgs.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(rootCmdArgs.debug)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting scproxy", zap.String("version", version.String()), zap.String("bind_addr", cfg.BindAddr()))
	logger.Debug("using config", zap.Any("config", cfg))

	callbackAddr, err := cfg.CallbackAddr()
	if err != nil {
		return fmt.Errorf("failed to derive callback address: %w", err)
	}

	store := session.NewInMemoryStore()

	sparkLauncher, err := launcher.New(cfg.SparkVersions, callbackAddr, logger)
	if err != nil {
		return fmt.Errorf("failed to set up launcher: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(registry)

	engine := dispatch.New(store, sparkLauncher, metrics, logger, nil)
	accessLogged := logging.NewHandler(engine, logger)

	var tlsFiles *server.TLSFiles
	if cfg.TLS != nil {
		tlsFiles = &server.TLSFiles{CertFile: cfg.TLS.Cert, KeyFile: cfg.TLS.Key}
	}

	mainServer := server.New(cfg.BindAddr(), accessLogged, tlsFiles)
	mainServer.HTTPServer().ConnContext = dispatch.WithConnState

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := server.New(cfg.MetricsBindAddr, metricsMux, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return mainServer.Run(ctx, logger.With(logging.Component("main_server"))) })
	eg.Go(func() error { return metricsServer.Run(ctx, logger.With(logging.Component("metrics_server"))) })

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server exited with error: %w", err)
	}

	return nil
}
