package config

import (
	"errors"
	"io/fs"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config but uses strings for durations to make TOML friendly.
type fileConfig struct {
	Listen                  string `toml:"listen"`
	Batching                *bool  `toml:"batching"`
	TickInterval            string `toml:"tick_interval"`
	MaxPacketSize           int    `toml:"max_packet_size"`
	UnreliableMaxPacketSize int    `toml:"unreliable_max_packet_size"`
	BatchThreshold          int    `toml:"batch_threshold"`
	MaxFrameSize            int    `toml:"max_frame_size"`
	WriteTimeout            string `toml:"write_timeout"`
	ReadTimeout             string `toml:"read_timeout"`
	TombstoneTTL            string `toml:"tombstone_ttl"`
	MetricsAddr             string `toml:"metrics_addr"`
	LogLevel                string `toml:"log_level"`
	LogPretty               *bool  `toml:"log_pretty"`
	LogDir                  string `toml:"log_dir"`
}

// loadFileConfig reads and parses a TOML config file.
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// applyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func applyFileConfig(cfg *Config, fc fileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString(FlagListen, fc.Listen, &cfg.Listen)
	s.setString(FlagMetricsAddr, fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString(FlagLogLevel, fc.LogLevel, &cfg.LogLevel)
	s.setString(FlagLogDir, fc.LogDir, &cfg.LogDir)

	s.setBool(FlagBatching, fc.Batching, &cfg.Batching)
	s.setBool(FlagLogPretty, fc.LogPretty, &cfg.LogPretty)

	s.setInt(FlagMaxPacketSize, fc.MaxPacketSize, &cfg.MaxPacketSize)
	s.setInt(FlagUnreliableMaxPacketSize, fc.UnreliableMaxPacketSize, &cfg.UnreliableMaxPacketSize)
	s.setInt(FlagBatchThreshold, fc.BatchThreshold, &cfg.BatchThreshold)
	s.setInt(FlagMaxFrameSize, fc.MaxFrameSize, &cfg.MaxFrameSize)

	if err := s.setDuration(FlagTickInterval, fc.TickInterval, &cfg.TickInterval); err != nil {
		return err
	}
	if err := s.setDuration(FlagWriteTimeout, fc.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagReadTimeout, fc.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagTombstoneTTL, fc.TombstoneTTL, &cfg.TombstoneTTL); err != nil {
		return err
	}

	return nil
}

// ApplyFile applies the TOML file at path to cfg, skipping settings whose
// flag is in changed. A missing file is not an error.
func ApplyFile(cfg *Config, path string, changed map[string]bool) error {
	if path == "" {
		return nil
	}

	fc, err := loadFileConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	return applyFileConfig(cfg, fc, changed)
}
