package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/netbatch/config"
	"github.com/cyberinferno/netbatch/logger"
	"github.com/cyberinferno/netbatch/server"
	"github.com/cyberinferno/netbatch/transport"
	"github.com/cyberinferno/netbatch/transport/tcp"
)

const serviceName = "netbatchd"

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Per-connection message batching over TCP",
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file")

	root.AddCommand(newServeCmd(&cfgPath), newProbeCmd())

	return root
}

// newLogger builds the process logger and returns a func that releases its
// output. Entries are gated by zerolog's global level so that a config
// reload can change it at runtime.
func newLogger(cfg config.Config) (logger.Logger, func() error, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	zerolog.SetGlobalLevel(level)

	if cfg.LogDir == "" {
		return logger.NewConsoleLogger(os.Stderr, serviceName, zerolog.TraceLevel, cfg.LogPretty), func() error { return nil }, nil
	}

	w, err := logger.NewDailyFileWriter(serviceName, cfg.LogDir)
	if err != nil {
		return nil, nil, err
	}

	return logger.NewConsoleLogger(w, serviceName, zerolog.TraceLevel, false), w.Close, nil
}

// limits maps the flat config onto per-channel transport limits.
func limits(cfg config.Config) tcp.Limits {
	l := tcp.Limits{
		MaxPacketSizes: map[transport.Channel]int{
			transport.Reliable:   cfg.MaxPacketSize,
			transport.Unreliable: cfg.UnreliableMaxPacketSize,
		},
	}

	if cfg.BatchThreshold > 0 {
		l.BatchThresholds = map[transport.Channel]int{
			transport.Reliable:   cfg.BatchThreshold,
			transport.Unreliable: cfg.BatchThreshold,
		}
	}

	return l
}

func serverConfig(cfg config.Config) server.Config {
	return server.Config{
		Transport: tcp.ServerConfig{
			Name:         serviceName,
			Addr:         cfg.Listen,
			Limits:       limits(cfg),
			MaxFrameSize: cfg.MaxFrameSize,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
		},
		Batching:     cfg.Batching,
		TickInterval: cfg.TickInterval,
		TombstoneTTL: cfg.TombstoneTTL,
	}
}
