package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-smartcoaster/protocol"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, uint16(0x1209), cfg.USB.VID)
	assert.Equal(t, uint16(0x4004), cfg.USB.PID)

	v, err := cfg.Version()
	require.NoError(t, err)
	assert.Equal(t, protocol.VersionNumber{}, v)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "loader.yaml", `
port: /dev/ttyACM3
read_timeout: 2s
log_level: debug
rate_limit: 20000
image_version: 1.4.2
usb:
  vid: 0x1209
  pid: 0x4005
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM3", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(20000), cfg.RateLimit)
	assert.Equal(t, uint16(0x4005), cfg.USB.PID)
	assert.Equal(t, 115200, cfg.Baud, "unset keys keep their defaults")
	assert.Equal(t, protocol.ChunkSize, cfg.ChunkSize)

	v, err := cfg.Version()
	require.NoError(t, err)
	assert.Equal(t, protocol.VersionNumber{Major: 1, Minor: 4, Patch: 2}, v)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "loader.toml", `
port = "COM4"
baud = 921600
startup_delay = "250ms"
log_level = "TRACE"

[usb]
vid = 0x1209
pid = 0x4004
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "COM4", cfg.Port)
	assert.Equal(t, 921600, cfg.Baud)
	assert.Equal(t, 250*time.Millisecond, cfg.StartupDelay)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "unknown extension", file: "loader.json", content: "{}", want: "unsupported format"},
		{name: "bad yaml", file: "loader.yaml", content: "port: [", want: "config parse failed"},
		{name: "bad toml", file: "loader.toml", content: "port = ", want: "config parse failed"},
		{name: "bad level", file: "loader.yaml", content: "log_level: loud", want: "unknown log level"},
		{name: "bad version", file: "loader.yaml", content: "image_version: one", want: "image_version"},
		{name: "zero baud", file: "loader.toml", content: "baud = 0", want: "baud"},
		{name: "buffer too small", file: "loader.yaml", content: "buffer_size: 512", want: "buffer_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config load failed")
}
