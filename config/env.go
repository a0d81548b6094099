package config

import (
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "NETBATCH_"

// envConfig holds the raw NETBATCH_* values; empty means unset.
type envConfig struct {
	Listen                  string `env:"LISTEN"`
	Batching                string `env:"BATCHING"`
	TickInterval            string `env:"TICK_INTERVAL"`
	MaxPacketSize           string `env:"MAX_PACKET_SIZE"`
	UnreliableMaxPacketSize string `env:"UNRELIABLE_MAX_PACKET_SIZE"`
	BatchThreshold          string `env:"BATCH_THRESHOLD"`
	MaxFrameSize            string `env:"MAX_FRAME_SIZE"`
	WriteTimeout            string `env:"WRITE_TIMEOUT"`
	ReadTimeout             string `env:"READ_TIMEOUT"`
	TombstoneTTL            string `env:"TOMBSTONE_TTL"`
	MetricsAddr             string `env:"METRICS_ADDR"`
	LogLevel                string `env:"LOG_LEVEL"`
	LogPretty               string `env:"LOG_PRETTY"`
	LogDir                  string `env:"LOG_DIR"`
}

// ApplyEnv applies NETBATCH_* environment variables to cfg, skipping
// settings whose flag is in changed. environ overrides the process
// environment when not nil.
//
// Returns:
//   - An error if a variable has an invalid format
func ApplyEnv(cfg *Config, changed map[string]bool, environ map[string]string) error {
	var ec envConfig
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(&ec, opts); err != nil {
		return err
	}

	s := newConfigSetter(changed)

	s.setString(FlagListen, ec.Listen, &cfg.Listen)
	s.setString(FlagMetricsAddr, ec.MetricsAddr, &cfg.MetricsAddr)
	s.setString(FlagLogLevel, ec.LogLevel, &cfg.LogLevel)
	s.setString(FlagLogDir, ec.LogDir, &cfg.LogDir)

	if err := s.setBoolFromString(FlagBatching, ec.Batching, &cfg.Batching); err != nil {
		return err
	}
	if err := s.setBoolFromString(FlagLogPretty, ec.LogPretty, &cfg.LogPretty); err != nil {
		return err
	}

	if err := s.setIntFromString(FlagMaxPacketSize, ec.MaxPacketSize, &cfg.MaxPacketSize); err != nil {
		return err
	}
	if err := s.setIntFromString(FlagUnreliableMaxPacketSize, ec.UnreliableMaxPacketSize, &cfg.UnreliableMaxPacketSize); err != nil {
		return err
	}
	if err := s.setIntFromString(FlagBatchThreshold, ec.BatchThreshold, &cfg.BatchThreshold); err != nil {
		return err
	}
	if err := s.setIntFromString(FlagMaxFrameSize, ec.MaxFrameSize, &cfg.MaxFrameSize); err != nil {
		return err
	}

	if err := s.setDuration(FlagTickInterval, ec.TickInterval, &cfg.TickInterval); err != nil {
		return err
	}
	if err := s.setDuration(FlagWriteTimeout, ec.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagReadTimeout, ec.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagTombstoneTTL, ec.TombstoneTTL, &cfg.TombstoneTTL); err != nil {
		return err
	}

	return nil
}

// Resolve applies the file at path and then the environment on top of cfg
// and validates the result.
func Resolve(cfg Config, path string, changed map[string]bool) (Config, error) {
	if err := ApplyFile(&cfg, path, changed); err != nil {
		return cfg, err
	}

	if err := ApplyEnv(&cfg, changed, nil); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}
