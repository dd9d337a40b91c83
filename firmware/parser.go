package firmware

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// MaxImageSize is the largest image the 32-bit size field of ReadyToDownload can describe.
const MaxImageSize = 1<<32 - 1

var (
	// ErrEmptyImage is returned for images without any data.
	ErrEmptyImage = errors.New("firmware image is empty")

	// ErrImageTooLarge is returned for images above the size limit.
	ErrImageTooLarge = errors.New("firmware image too large")
)

var (
	gzipMagic = []byte{0x1F, 0x8B}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// Load reads a firmware image from the given file path.
// Gzip and zstd compressed files are detected by their magic bytes and
// decompressed transparently.
//
// Example:
//
//	img, err := firmware.Load("coaster-1.2.0.bin.zst")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes, hash %s\n", img.Size(), img.Hash())
func Load(path string) (*Image, error) {
	return LoadWithLimit(path, MaxImageSize)
}

// LoadWithLimit is Load with a caller supplied size limit, typically the
// flash capacity of the target.
func LoadWithLimit(path string, limit int64) (*Image, error) {
	return LoadFormat(path, FormatAuto, limit)
}

// LoadFormat is LoadWithLimit with the container format given by the caller.
// FormatAuto detects it; any other format skips detection, so a raw image
// that happens to start with a gzip or zstd magic can still be loaded.
func LoadFormat(path string, format Format, limit int64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := LoadReaderFormat(f, format, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Source = path
	return img, nil
}

// LoadReader reads a firmware image from any io.Reader.
// This is useful for testing and reading from non-file sources.
//
// Example:
//
//	img, err := firmware.LoadReader(bytes.NewReader(raw))
func LoadReader(r io.Reader) (*Image, error) {
	return LoadReaderWithLimit(r, MaxImageSize)
}

// LoadReaderWithLimit is LoadReader with a caller supplied size limit.
func LoadReaderWithLimit(r io.Reader, limit int64) (*Image, error) {
	return LoadReaderFormat(r, FormatAuto, limit)
}

// LoadReaderFormat is the reader form of LoadFormat.
func LoadReaderFormat(r io.Reader, format Format, limit int64) (*Image, error) {
	if limit <= 0 || limit > MaxImageSize {
		limit = MaxImageSize
	}

	br := bufio.NewReader(r)
	switch format {
	case FormatAuto:
		var err error
		if format, err = detectFormat(br); err != nil {
			return nil, err
		}
	case FormatRaw, FormatGzip, FormatZstd:
	default:
		return nil, fmt.Errorf("unknown firmware format %q", format)
	}

	var src io.Reader = br
	switch format {
	case FormatGzip:
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer func() { _ = zr.Close() }()
		src = zr
	case FormatZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd header: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(src, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s image: %w", format, err)
	}
	if n == 0 {
		return nil, ErrEmptyImage
	}
	if n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, limit)
	}

	return &Image{
		Data:   buf.Bytes(),
		Format: format,
	}, nil
}

// detectFormat peeks at the first bytes without consuming them.
func detectFormat(br *bufio.Reader) (Format, error) {
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return FormatZstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatGzip, nil
	default:
		return FormatRaw, nil
	}
}
