package testing

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"subtitle-server-go/internal/platform/config"
	"subtitle-server-go/internal/platform/logging"
)

// SetupTestConfig returns defaults rooted in a per-test temporary directory.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Log = config.LogConfig{Level: "error"}
	cfg.Workspace.Root = filepath.Join(dir, "workspaces")
	cfg.Workspace.MinFreeBytes = 0
	cfg.Capacity.MaxConcurrent = 1
	cfg.Capacity.QueueTimeout = 0
	cfg.Jobs.SQLite.DSN = filepath.Join(dir, "jobs.db")
	return cfg
}

// SetupTestLogger returns a logger that discards console output.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger := logging.Discard()
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// SilentWAV builds a 16-bit mono PCM WAV of the given length.
func SilentWAV(length time.Duration, sampleRate int) []byte {
	const bitsPerSample = 16
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	dataSize := int(int64(byteRate) * int64(length) / int64(time.Second))

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

// WriteSilentWAV writes SilentWAV to dir/name and returns the path.
func WriteSilentWAV(t *testing.T, dir, name string, length time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, SilentWAV(length, 16000), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

// AssertDirEmpty fails when dir contains any entry.
func AssertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected %s to be empty, found %v", dir, names)
	}
}
