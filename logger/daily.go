package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrWriterClosed is returned by writes to a closed DailyFileWriter.
var ErrWriterClosed = errors.New("logger: writer is closed")

// DailyFileWriter is an io.Writer that appends to {service}_{date}.log in a
// directory and switches to a new file on the first write of each day. It is
// safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	closed bool
}

// NewDailyFileWriter creates the directory if needed and opens today's file.
//
// Parameters:
//   - service: Service name used in log file names
//   - dir: Directory for log files
//
// Returns:
//   - The new DailyFileWriter, or an error if the file could not be opened
func NewDailyFileWriter(service, dir string) (*DailyFileWriter, error) {
	return newDailyFileWriter(service, dir, time.Now)
}

func newDailyFileWriter(service, dir string, now func() time.Time) (*DailyFileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	w := &DailyFileWriter{service: service, dir: dir, now: now}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(w.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}

	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}

	if date := w.now().Format(time.DateOnly); date != w.date {
		if err := w.rotate(date); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

// CurrentFile returns the path of the file being written.
func (w *DailyFileWriter) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path(w.date)
}

// Close closes the current file. Safe to call multiple times.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	return w.file.Close()
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}

// rotate opens the file for date; caller must hold w.mu.
func (w *DailyFileWriter) rotate(date string) error {
	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.date = date
	return nil
}
