package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// RotatingWriter is an io.Writer that rotates its file once it passes a
// size bound: indexer.log becomes indexer.log.1, .1 becomes .2, and the
// file numbered past MaxFiles is deleted.
type RotatingWriter struct {
	path     string
	maxBytes int64
	maxFiles int

	mu       sync.Mutex
	file     *os.File
	written  int64
	syncEach bool
}

// NewRotatingWriter opens (or creates) the log file at path, rotating at
// maxSizeMB and keeping maxFiles rotated generations. Per-write sync is on
// by default so tailing the file shows lines as they land.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		syncEach: true,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles the per-write fsync. Disabling it buffers
// writes for throughput at the cost of tail latency.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	w.syncEach = enabled
	w.mu.Unlock()
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			// A failed rotation keeps logging to the oversized file.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.syncEach {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes the current file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate shifts every numbered generation up by one, dropping those at or
// past maxFiles, then moves the live file to .1 and reopens. Caller holds
// w.mu.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close before rotate: %w", err)
		}
		w.file = nil
	}

	// Walk generations highest-first so renames never clobber.
	for n := w.highestGeneration(); n >= 1; n-- {
		src := w.generationPath(n)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if n >= w.maxFiles {
			_ = os.Remove(src)
			continue
		}
		_ = os.Rename(src, w.generationPath(n+1))
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.generationPath(1)); err != nil {
			return fmt.Errorf("rotate log file: %w", err)
		}
	}

	w.written = 0
	return w.open()
}

func (w *RotatingWriter) generationPath(n int) string {
	return w.path + "." + strconv.Itoa(n)
}

// highestGeneration finds the largest .N suffix present on disk.
func (w *RotatingWriter) highestGeneration() int {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return 0
	}
	highest := 0
	for _, m := range matches {
		n, err := strconv.Atoi(m[len(w.path)+1:])
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest
}
