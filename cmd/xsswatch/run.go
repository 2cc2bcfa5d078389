package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/xsswatch/xsswatch/internal/config"
	"github.com/xsswatch/xsswatch/internal/gateway"
	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/observability"
	"github.com/xsswatch/xsswatch/internal/state"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var modeOverride string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the inspection gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return errors.New("config path is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyOverrides(cfg, modeOverride)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(cfg.Routes) == 0 {
				return errors.New("at least one route is required to run the gateway")
			}
			return runGateway(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&modeOverride, "mode", "", "Override policy mode for all policies (monitor|block)")

	return cmd
}

func runGateway(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var reg *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
	}

	p, err := newPipeline(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	gw, err := gateway.New(cfg, p.engine, logger)
	if err != nil {
		return err
	}
	gw.SetMetrics(metrics)

	metricsSrv := startMetricsServer(cfg, metrics, reg, p.tracker, logger)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS.Enabled {
			serverErr <- srv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
			return
		}
		serverErr <- srv.ListenAndServe()
	}()
	logger.Info("gateway listening", zap.String("listen", cfg.Server.Listen), zap.Int("routes", len(cfg.Routes)))

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go state.RunReporter(signalCtx, p.tracker, cfg.Stats.Interval, logger)

	select {
	case <-signalCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startMetricsServer serves /metrics and a JSON /stats snapshot of the
// detector state.
func startMetricsServer(cfg *config.Config, metrics *observability.Metrics, reg *prometheus.Registry, tracker *state.Tracker, logger *zap.Logger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/stats", statsHandler(tracker))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

func statsHandler(tracker *state.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tracker.Statistics())
	})
}

func applyOverrides(cfg *config.Config, modeOverride string) {
	if modeOverride == "" {
		return
	}
	for name, policyCfg := range cfg.Policies {
		policyCfg.Mode = modeOverride
		cfg.Policies[name] = policyCfg
	}
}
