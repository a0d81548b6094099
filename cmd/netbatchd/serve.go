package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/netbatch/config"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/metrics"
	"github.com/cyberinferno/netbatch/server"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	cfg := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server that batches replies per connection",
		Example: `  netbatchd serve --listen 0.0.0.0:7777 --tick 20ms
  NETBATCH_LOG_LEVEL=debug netbatchd serve --config /etc/netbatch.toml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg, *cfgPath, config.ChangedFlags(cmd.Flags()))
		},
	}
	config.BindFlags(cmd.Flags(), &cfg)

	return cmd
}

// runServe resolves the configuration on top of base (defaults plus flags)
// and runs the server, the metrics endpoint and the config watcher until a
// signal arrives or one of them fails.
func runServe(ctx context.Context, base config.Config, cfgPath string, changed map[string]bool) error {
	cfg, err := config.Resolve(base, cfgPath, changed)
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(serverConfig(cfg), server.Echo(), server.Options{
		Logger:  log,
		Metrics: metrics.NewRegistry(reg),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return err
		}

		<-ctx.Done()
		srv.Stop()
		return nil
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("metrics server started", logger.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if cfgPath != "" {
		watcher := config.NewWatcher(cfgPath, base, changed, log)
		current := cfg

		g.Go(func() error {
			err := watcher.Run(ctx, func(next config.Config) {
				applyReload(log, current, next)
			})
			if err != nil {
				log.Warn("config hot reload disabled", logger.Err(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// applyReload applies the settings that can change at runtime. Only the log
// level can; any other difference is reported and ignored.
func applyReload(log logger.Logger, current, next config.Config) {
	if level, err := logger.ParseLevel(next.LogLevel); err == nil && zerolog.GlobalLevel() != level {
		zerolog.SetGlobalLevel(level)
		log.Info("log level changed", logger.String("level", level.String()))
	}

	next.LogLevel = current.LogLevel
	if next != current {
		log.Warn("config changed on disk; restart to apply settings other than log_level")
	}
}
