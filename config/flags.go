package config

import (
	"github.com/spf13/pflag"
)

// Flag names, also used as keys of the changed-flags map.
const (
	FlagListen                  = "listen"
	FlagBatching                = "batching"
	FlagTickInterval            = "tick"
	FlagMaxPacketSize           = "max-packet-size"
	FlagUnreliableMaxPacketSize = "unreliable-max-packet-size"
	FlagBatchThreshold          = "batch-threshold"
	FlagMaxFrameSize            = "max-frame-size"
	FlagWriteTimeout            = "write-timeout"
	FlagReadTimeout             = "read-timeout"
	FlagTombstoneTTL            = "tombstone-ttl"
	FlagMetricsAddr             = "metrics-addr"
	FlagLogLevel                = "log-level"
	FlagLogPretty               = "log-pretty"
	FlagLogDir                  = "log-dir"
)

// BindFlags registers a flag for every setting on fs, writing into cfg.
// The current values of cfg are the flag defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Listen, FlagListen, cfg.Listen, "transport listen address")
	fs.BoolVar(&cfg.Batching, FlagBatching, cfg.Batching, "batch outbound messages per tick")
	fs.DurationVar(&cfg.TickInterval, FlagTickInterval, cfg.TickInterval, "flush interval")
	fs.IntVar(&cfg.MaxPacketSize, FlagMaxPacketSize, cfg.MaxPacketSize, "reliable channel packet size")
	fs.IntVar(&cfg.UnreliableMaxPacketSize, FlagUnreliableMaxPacketSize, cfg.UnreliableMaxPacketSize, "unreliable channel packet size")
	fs.IntVar(&cfg.BatchThreshold, FlagBatchThreshold, cfg.BatchThreshold, "batch size cap (0 = packet size)")
	fs.IntVar(&cfg.MaxFrameSize, FlagMaxFrameSize, cfg.MaxFrameSize, "largest accepted inbound frame")
	fs.DurationVar(&cfg.WriteTimeout, FlagWriteTimeout, cfg.WriteTimeout, "per-write timeout (0 = none)")
	fs.DurationVar(&cfg.ReadTimeout, FlagReadTimeout, cfg.ReadTimeout, "idle read timeout (0 = none)")
	fs.DurationVar(&cfg.TombstoneTTL, FlagTombstoneTTL, cfg.TombstoneTTL, "how long closed connection ids are remembered")
	fs.StringVar(&cfg.MetricsAddr, FlagMetricsAddr, cfg.MetricsAddr, "metrics listen address (empty = disabled)")
	fs.StringVar(&cfg.LogLevel, FlagLogLevel, cfg.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LogPretty, FlagLogPretty, cfg.LogPretty, "human-readable console logs")
	fs.StringVar(&cfg.LogDir, FlagLogDir, cfg.LogDir, "write logs to daily files in this directory")
}

// ChangedFlags returns the names of the flags set on the command line.
func ChangedFlags(fs *pflag.FlagSet) map[string]bool {
	changed := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = true
	})

	return changed
}
