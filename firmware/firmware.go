package firmware

import (
	"fmt"
	"strings"

	"github.com/moffa90/go-smartcoaster/ascon"
	"github.com/moffa90/go-smartcoaster/protocol"
)

// Format identifies the container an image was stored in.
type Format string

const (
	// FormatAuto picks the format from the image's magic bytes
	FormatAuto Format = ""

	// FormatRaw is an uncompressed binary image
	FormatRaw Format = "raw"

	// FormatGzip is a gzip compressed image
	FormatGzip Format = "gzip"

	// FormatZstd is a zstandard compressed image
	FormatZstd Format = "zstd"
)

// ParseFormat parses a format name: auto, raw, gzip or zstd.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatAuto, "auto":
		return FormatAuto, nil
	case FormatRaw, FormatGzip, FormatZstd:
		return f, nil
	default:
		return FormatAuto, fmt.Errorf("unknown firmware format %q", s)
	}
}

// Image is a firmware image ready to be transferred.
type Image struct {
	// Data is the raw image, exactly as it will be written to flash
	Data []byte

	// Version is announced to the device in ReadyToDownload
	Version protocol.VersionNumber

	// Source is the path the image was loaded from, if any
	Source string

	// Format is the container the image was decoded from
	Format Format
}

// Size returns the image length in bytes.
func (img *Image) Size() uint32 {
	return uint32(len(img.Data))
}

// Hash returns the Ascon-Hash256 digest of the image data.
func (img *Image) Hash() protocol.Hash {
	return ascon.Sum256(img.Data)
}

// Chunks returns how many chunks of chunkSize bytes the transfer needs.
func (img *Image) Chunks(chunkSize uint32) uint32 {
	if len(img.Data) == 0 || chunkSize == 0 {
		return 0
	}
	return protocol.MaxChunkIndex(img.Size(), chunkSize) + 1
}
