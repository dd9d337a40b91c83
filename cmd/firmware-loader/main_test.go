package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		path string
		port string
	}{
		{name: "path last", args: []string{"--port", "/dev/ttyACM0", "fw.bin"}, path: "fw.bin", port: "/dev/ttyACM0"},
		{name: "path first", args: []string{"fw.bin", "--port", "/dev/ttyACM0"}, path: "fw.bin", port: "/dev/ttyACM0"},
		{name: "path between flags", args: []string{"--log-level", "debug", "fw.bin", "--port=COM3"}, path: "fw.bin", port: "COM3"},
		{name: "no path", args: []string{"--port", "COM3"}, path: "", port: "COM3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _, err := parseArgs(tt.args, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.path, opts.firmwarePath)
			assert.Equal(t, tt.port, opts.port)
			assert.True(t, opts.set["port"])
		})
	}

	_, _, err := parseArgs([]string{"a.bin", "b.bin"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyUSB9\nread_timeout: 9s\nbaud: 57600\n"), 0o600))

	opts, _, err := parseArgs([]string{"--config", path, "--timeout", "1s", "fw.bin"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB9", cfg.Port)
	assert.Equal(t, 57600, cfg.Baud)
	assert.Equal(t, time.Second, cfg.ReadTimeout)
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), nil, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "missing firmware path")
	assert.Contains(t, stderr.String(), "Usage: firmware-loader")

	stderr.Reset()
	code = run(context.Background(), []string{"--bogus"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)

	stderr.Reset()
	code = run(context.Background(), []string{"--log-level", "loud", "fw.bin"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "unknown log level")
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--version"}, &stdout, &stderr)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "firmware-loader dev")
}

func TestRunMissingFirmware(t *testing.T) {
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "missing.bin")

	code := run(context.Background(), []string{"--port", "/dev/null", missing}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "missing.bin")
}

func TestLoadImageFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.bin")
	raw := []byte{0x1F, 0x8B, 0x00, 0x01, 0x02}
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := loadConfig(&options{set: map[string]bool{}})
	require.NoError(t, err)

	_, err = loadImage(path, "auto", cfg)
	require.Error(t, err)

	img, err := loadImage(path, "raw", cfg)
	require.NoError(t, err)
	assert.Equal(t, raw, img.Data)

	_, err = loadImage(path, "rar", cfg)
	assert.ErrorContains(t, err, "unknown firmware format")
}
