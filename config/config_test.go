package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Batching)
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)

	t.Run("threshold equal to the smaller packet size is valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BatchThreshold = cfg.UnreliableMaxPacketSize
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
		{"packet too small for a batch", func(c *Config) { c.MaxPacketSize = 8 }},
		{"unreliable packet too small", func(c *Config) { c.UnreliableMaxPacketSize = 0 }},
		{"negative threshold", func(c *Config) { c.BatchThreshold = -1 }},
		{"threshold above unreliable packet", func(c *Config) { c.BatchThreshold = 4096 }},
		{"threshold above reliable packet", func(c *Config) {
			c.MaxPacketSize = 1000
			c.BatchThreshold = 1100
		}},
		{"frame smaller than packet", func(c *Config) { c.MaxFrameSize = 100 }},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netbatch.toml")
	writeFile(t, path, `
listen = "0.0.0.0:9000"
batching = false
tick_interval = "20ms"
unreliable_max_packet_size = 1400
batch_threshold = 1000
log_level = "debug"
`)

	t.Run("file values override defaults", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, ApplyFile(&cfg, path, nil))

		assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
		assert.False(t, cfg.Batching)
		assert.Equal(t, 20*time.Millisecond, cfg.TickInterval)
		assert.Equal(t, 1400, cfg.UnreliableMaxPacketSize)
		assert.Equal(t, 1000, cfg.BatchThreshold)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 64*1024, cfg.MaxPacketSize, "unset keys keep their default")
	})

	t.Run("changed flags win over the file", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Listen = "127.0.0.1:1"
		require.NoError(t, ApplyFile(&cfg, path, map[string]bool{FlagListen: true, FlagBatching: true}))

		assert.Equal(t, "127.0.0.1:1", cfg.Listen)
		assert.True(t, cfg.Batching)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("missing file is ignored", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, ApplyFile(&cfg, filepath.Join(t.TempDir(), "absent.toml"), nil))
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("bad duration is an error", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.toml")
		writeFile(t, bad, `tick_interval = "soon"`)

		cfg := DefaultConfig()
		assert.Error(t, ApplyFile(&cfg, bad, nil))
	})

	t.Run("malformed toml is an error", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.toml")
		writeFile(t, bad, `listen = `)

		cfg := DefaultConfig()
		assert.Error(t, ApplyFile(&cfg, bad, nil))
	})
}

func TestApplyEnv(t *testing.T) {
	environ := map[string]string{
		"NETBATCH_LISTEN":          "10.0.0.1:7000",
		"NETBATCH_BATCHING":        "false",
		"NETBATCH_TICK_INTERVAL":   "5ms",
		"NETBATCH_MAX_PACKET_SIZE": "1500",
		"NETBATCH_LOG_PRETTY":      "1",
	}

	t.Run("variables override", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, ApplyEnv(&cfg, nil, environ))

		assert.Equal(t, "10.0.0.1:7000", cfg.Listen)
		assert.False(t, cfg.Batching)
		assert.Equal(t, 5*time.Millisecond, cfg.TickInterval)
		assert.Equal(t, 1500, cfg.MaxPacketSize)
		assert.True(t, cfg.LogPretty)
	})

	t.Run("changed flags win over variables", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, ApplyEnv(&cfg, map[string]bool{FlagTickInterval: true}, environ))
		assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)
	})

	t.Run("invalid values are errors", func(t *testing.T) {
		for key, value := range map[string]string{
			"NETBATCH_MAX_PACKET_SIZE": "big",
			"NETBATCH_BATCHING":        "maybe",
			"NETBATCH_READ_TIMEOUT":    "1 minute",
		} {
			cfg := DefaultConfig()
			assert.Error(t, ApplyEnv(&cfg, nil, map[string]string{key: value}), key)
		}
	})
}

func TestBindFlags(t *testing.T) {
	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	require.NoError(t, fs.Parse([]string{"--listen", "0.0.0.0:1234", "--tick=10ms", "--batching=false"}))

	assert.Equal(t, "0.0.0.0:1234", cfg.Listen)
	assert.Equal(t, 10*time.Millisecond, cfg.TickInterval)
	assert.False(t, cfg.Batching)
	assert.Equal(t, map[string]bool{FlagListen: true, FlagTickInterval: true, FlagBatching: true}, ChangedFlags(fs))
}

func TestResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netbatch.toml")
	writeFile(t, path, `
listen = "0.0.0.0:9000"
log_level = "warn"
`)
	t.Setenv("NETBATCH_LOG_LEVEL", "error")

	cfg, err := Resolve(DefaultConfig(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "error", cfg.LogLevel, "environment wins over the file")

	t.Run("invalid result is reported", func(t *testing.T) {
		t.Setenv("NETBATCH_LOG_LEVEL", "loud")
		_, err := Resolve(DefaultConfig(), path, nil)
		assert.Error(t, err)
	})
}

func TestWatcher_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netbatch.toml")
	writeFile(t, path, `log_level = "info"`)

	w := NewWatcher(path, DefaultConfig(), nil, nil)
	w.delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reloads := make(chan Config, 64)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(c Config) { reloads <- c }) }()

	// Give the watch time to be registered before the write.
	require.Eventually(t, func() bool {
		writeFile(t, path, `log_level = "debug"`)
		select {
		case cfg := <-reloads:
			return cfg.LogLevel == "debug"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	// Drop reloads still pending from the writes above.
	time.Sleep(50 * time.Millisecond)
	for len(reloads) > 0 {
		<-reloads
	}

	t.Run("invalid file keeps the previous config", func(t *testing.T) {
		writeFile(t, path, `log_level = "loud"`)
		select {
		case cfg := <-reloads:
			assert.Failf(t, "unexpected reload", "%+v", cfg)
		case <-time.After(100 * time.Millisecond):
		}
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "watcher did not stop")
	}
}

func TestWatcher_Run_MissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent", "netbatch.toml"), DefaultConfig(), nil, nil)
	assert.Error(t, w.Run(context.Background(), func(Config) {}))
}
