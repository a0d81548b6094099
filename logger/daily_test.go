package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyFileWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	w, err := newDailyFileWriter("netbatchd", dir, func() time.Time { return now })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	first := filepath.Join(dir, "netbatchd_2026-03-01.log")
	assert.Equal(t, first, w.CurrentFile())

	_, err = w.Write([]byte("one\n"))
	require.NoError(t, err)

	t.Run("date change switches files", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, err := w.Write([]byte("two\n"))
		require.NoError(t, err)

		second := filepath.Join(dir, "netbatchd_2026-03-02.log")
		assert.Equal(t, second, w.CurrentFile())

		b, err := os.ReadFile(first)
		require.NoError(t, err)
		assert.Equal(t, "one\n", string(b))

		b, err = os.ReadFile(second)
		require.NoError(t, err)
		assert.Equal(t, "two\n", string(b))
	})

	t.Run("closed writer rejects writes", func(t *testing.T) {
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())

		_, err := w.Write([]byte("three\n"))
		assert.ErrorIs(t, err, ErrWriterClosed)
	})
}

func TestDailyFileWriter_WithLogger(t *testing.T) {
	w, err := NewDailyFileWriter("svc", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	log := NewConsoleLogger(w, "svc", zerolog.InfoLevel, false)
	log.Info("hello", String("k", "v"))

	b, err := os.ReadFile(w.CurrentFile())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello"`)
	assert.Contains(t, string(b), `"k":"v"`)
}
