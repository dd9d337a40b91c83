// Package firmware loads coaster firmware images for transfer.
//
// # Image Files
//
// An image is the exact byte sequence the bootloader writes to its update
// partition. It may be stored as:
//
//	raw    the binary image itself
//	gzip   magic 1F 8B
//	zstd   magic 28 B5 2F FD
//
// Compression is detected from the leading bytes, not the file extension.
//
// # Usage
//
//	img, err := firmware.Load("coaster.bin.gz")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	img.Version, _ = protocol.ParseVersion("1.3.0")
//
//	fmt.Printf("Size: %d bytes\n", img.Size())
//	fmt.Printf("Hash: %s\n", img.Hash())
//	fmt.Printf("Chunks: %d\n", img.Chunks(protocol.ChunkSize))
//
// # Error Handling
//
// Load returns ErrEmptyImage for files without data and ErrImageTooLarge for
// images that do not fit the 32-bit size field (or the caller supplied limit).
package firmware
