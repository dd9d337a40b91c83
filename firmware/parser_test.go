package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-smartcoaster/ascon"
	"github.com/moffa90/go-smartcoaster/protocol"
)

func sampleImage() []byte {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadReader(t *testing.T) {
	data := sampleImage()

	tests := []struct {
		name   string
		input  []byte
		format Format
	}{
		{name: "raw", input: data, format: FormatRaw},
		{name: "gzip", input: gzipped(t, data), format: FormatGzip},
		{name: "zstd", input: zstded(t, data), format: FormatZstd},
		{name: "single byte", input: []byte{0x1F}, format: FormatRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := LoadReader(bytes.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.format, img.Format)
			if tt.format == FormatRaw {
				assert.Equal(t, tt.input, img.Data)
			} else {
				assert.Equal(t, data, img.Data)
			}
		})
	}
}

func TestLoadReaderFormat(t *testing.T) {
	raw := append([]byte{0x1F, 0x8B}, sampleImage()...)

	_, err := LoadReader(bytes.NewReader(raw))
	require.Error(t, err, "detected as gzip")

	img, err := LoadReaderFormat(bytes.NewReader(raw), FormatRaw, 0)
	require.NoError(t, err)
	assert.Equal(t, FormatRaw, img.Format)
	assert.Equal(t, raw, img.Data)

	img, err = LoadReaderFormat(bytes.NewReader(zstded(t, sampleImage())), FormatZstd, 0)
	require.NoError(t, err)
	assert.Equal(t, sampleImage(), img.Data)

	_, err = LoadReaderFormat(bytes.NewReader(sampleImage()), FormatGzip, 0)
	require.Error(t, err)

	_, err = LoadReaderFormat(bytes.NewReader(sampleImage()), Format("lzma"), 0)
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatAuto},
		{"auto", FormatAuto},
		{"RAW", FormatRaw},
		{"gzip", FormatGzip},
		{"zstd", FormatZstd},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFormat("xz")
	assert.Error(t, err)
}

func TestLoadReaderErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := LoadReader(bytes.NewReader(nil))
		require.ErrorIs(t, err, ErrEmptyImage)
	})

	t.Run("empty gzip stream", func(t *testing.T) {
		_, err := LoadReader(bytes.NewReader(gzipped(t, nil)))
		require.ErrorIs(t, err, ErrEmptyImage)
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := LoadReaderWithLimit(bytes.NewReader(make([]byte, 11)), 10)
		require.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("at limit", func(t *testing.T) {
		img, err := LoadReaderWithLimit(bytes.NewReader(make([]byte, 10)), 10)
		require.NoError(t, err)
		assert.Equal(t, uint32(10), img.Size())
	})

	t.Run("truncated gzip", func(t *testing.T) {
		z := gzipped(t, sampleImage())
		_, err := LoadReader(bytes.NewReader(z[:len(z)/2]))
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coaster.bin.zst")
	require.NoError(t, os.WriteFile(path, zstded(t, sampleImage()), 0o600))

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, img.Source)
	assert.Equal(t, FormatZstd, img.Format)
	assert.Equal(t, sampleImage(), img.Data)

	rawPath := filepath.Join(dir, "starts-like-gzip.bin")
	raw := append([]byte{0x1F, 0x8B, 0x00}, sampleImage()...)
	require.NoError(t, os.WriteFile(rawPath, raw, 0o600))
	img, err = LoadFormat(rawPath, FormatRaw, MaxImageSize)
	require.NoError(t, err)
	assert.Equal(t, rawPath, img.Source)
	assert.Equal(t, raw, img.Data)

	_, err = Load(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
}

func TestImageHelpers(t *testing.T) {
	img := &Image{Data: []byte{1, 2, 3, 4, 5}}

	assert.Equal(t, uint32(5), img.Size())
	assert.Equal(t, protocol.Hash(ascon.Sum256([]byte{1, 2, 3, 4, 5})), img.Hash())
	assert.Equal(t, uint32(2), img.Chunks(4))
	assert.Equal(t, uint32(1), img.Chunks(protocol.ChunkSize))
	assert.Equal(t, uint32(0), img.Chunks(0))
	assert.Equal(t, uint32(0), (&Image{}).Chunks(4))
}
