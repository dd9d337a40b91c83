package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CalculateCRC computes the CRC-32/ISO-HDLC (Ethernet) checksum of data and
// returns it in the little-endian byte order used on the wire.
func CalculateCRC(data []byte) CRC32 {
	var c CRC32
	binary.LittleEndian.PutUint32(c[:], crc32.ChecksumIEEE(data))
	return c
}

// Uint32 returns the CRC as a number.
func (c CRC32) Uint32() uint32 {
	return binary.LittleEndian.Uint32(c[:])
}

// MaxChunkIndex returns the zero-based index of the last chunk of an image,
// (imageLen-1)/chunkSize. It is an index, not a count: a 2049 byte image with
// 1024 byte chunks has chunks 0, 1 and 2, and MaxChunkIndex returns 2.
//
// imageLen and chunkSize must be non-zero.
func MaxChunkIndex(imageLen, chunkSize uint32) uint32 {
	return (imageLen - 1) / chunkSize
}

// ChunkOffset returns the byte offset of a chunk. The result is 64-bit so that
// large chunk numbers cannot wrap.
func ChunkOffset(chunkNumber, chunkSize uint32) uint64 {
	return uint64(chunkNumber) * uint64(chunkSize)
}

// ValidChunkLength returns how many bytes of chunk n belong to the image,
// or 0 when the chunk starts at or past the end.
func ValidChunkLength(imageLen, chunkSize, chunkNumber uint32) int {
	offset := ChunkOffset(chunkNumber, chunkSize)
	if offset >= uint64(imageLen) {
		return 0
	}
	return int(min(uint64(chunkSize), uint64(imageLen)-offset))
}

// ChunkData copies chunk chunkNumber of image into a zero-initialized buffer of
// payloadSize bytes. It returns the buffer and the number of image bytes it
// holds; the rest of the buffer is zero padding.
//
// chunkSize must be between 1 and payloadSize. A chunk starting at or past the
// end of the image yields ErrChunkOutOfBounds.
func ChunkData(image []byte, chunkSize uint32, payloadSize int, chunkNumber uint32) ([]byte, int, error) {
	if chunkSize == 0 || int(chunkSize) > payloadSize {
		return nil, 0, fmt.Errorf("%w: %d (payload is %d bytes)", ErrInvalidChunkSize, chunkSize, payloadSize)
	}

	offset := ChunkOffset(chunkNumber, chunkSize)
	if offset >= uint64(len(image)) {
		return nil, 0, fmt.Errorf("%w: chunk %d starts at offset %d, image is %d bytes",
			ErrChunkOutOfBounds, chunkNumber, offset, len(image))
	}

	available := int(min(uint64(chunkSize), uint64(len(image))-offset))
	buf := make([]byte, payloadSize)
	copy(buf, image[offset:offset+uint64(available)])

	return buf, available, nil
}

// Valid reports whether the CRC carried by the response matches its data.
func (c ChunkResp) Valid() bool {
	return CalculateCRC(c.ChunkData) == c.CRC
}
