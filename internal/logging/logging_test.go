package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Contains(t, cfg.FilePath, ".tearags")
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)

	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestSetupWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{
		Level:     "debug",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("indexing started", slog.Int("files", 3))
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry))
	assert.Equal(t, "indexing started", entry["msg"])
	assert.Equal(t, float64(3), entry["files"])
}

func TestSetupRespectsLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 1})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo, // unknown falls back to info
	}
	for in, want := range tests {
		assert.Equal(t, want, LevelFromString(in), in)
	}
}

func TestRotatingWriterRotatesAndCapsGenerations(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	// maxSizeMB 0 forces a rotation on every write.
	w, err := NewRotatingWriter(logPath, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	line := []byte(strings.Repeat("x", 256) + "\n")
	for i := 0; i < 5; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	_, err = os.Stat(logPath)
	assert.NoError(t, err)
	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err)
	// Generations never accumulate past maxFiles.
	_, err = os.Stat(logPath + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterAppendsAcrossReopen(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "append.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingWriterImmediateSyncToggle(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sync.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	w.SetImmediateSync(false)
	_, err = w.Write([]byte("buffered\n"))
	require.NoError(t, err)

	w.SetImmediateSync(true)
	_, err = w.Write([]byte("synced\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "synced")
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte("concurrent log line\n"))
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	// Lines never interleave mid-line under the writer lock.
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		assert.Equal(t, "concurrent log line", line)
	}
}

func TestFindLogFile(t *testing.T) {
	_, err := FindLogFile("/nonexistent/log.log")
	assert.Error(t, err)

	logPath := filepath.Join(t.TempDir(), "explicit.log")
	require.NoError(t, os.WriteFile(logPath, []byte("x"), 0o644))
	found, err := FindLogFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, logPath, found)
}

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultLogDir(), ".tearags")
	assert.Equal(t, "indexer.log", filepath.Base(DefaultLogPath()))
}
