package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogDir_ContainsMemoryLogs(t *testing.T) {
	dir := DefaultLogDir()
	assert.Contains(t, dir, ".memory")
	assert.Contains(t, dir, "logs")
}

func TestDefaultLogPath_EndsWithEngineLog(t *testing.T) {
	path := DefaultLogPath()
	assert.Equal(t, "engine.log", filepath.Base(path))
}

func TestEnsureLogDir_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	require.NoError(t, EnsureLogDir())

	info, err := os.Stat(DefaultLogDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDefaultConfig_UsesInfoLevel(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.WriteToStderr)
}

func TestDebugConfig_UsesDebugLevel(t *testing.T) {
	cfg := DebugConfig()
	assert.Equal(t, "debug", cfg.Level)
}

func TestSetup_WritesJSONLinesToFile(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "engine.log")

	cfg := Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("indexed file", "path", "notes/today.md", "chunks", 3)
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "indexed file", entry["msg"])
	assert.Equal(t, "notes/today.md", entry["path"])
}

func TestSetup_RespectsLevelFilter(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "engine.log")

	cfg := Config{
		Level:         "warn",
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Debug("should be filtered out")
	logger.Info("should also be filtered out")
	logger.Warn("should appear")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var count int
	for scanner.Scan() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestLevelFromString_MatchesParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("debug"))
	assert.Equal(t, slog.LevelError, LevelFromString("ERROR"))
}

func TestRotatingWriter_RotatesPastMaxSize(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "engine.log")

	w, err := NewRotatingWriter(logPath, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	// maxSizeMB of 0 means any write should trigger rotation on the next write.
	_, err = w.Write([]byte("first line\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second line\n"))
	require.NoError(t, err)

	rotated := logPath + ".1"
	_, statErr := os.Stat(rotated)
	assert.NoError(t, statErr)
}

func TestRotatingWriter_Close(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "engine.log")

	w, err := NewRotatingWriter(logPath, 10, 5)
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
