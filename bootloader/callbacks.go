package bootloader

import "time"

// Progress phases.
const (
	PhaseHandshake = "handshake"
	PhaseTransfer  = "transfer"
	PhaseComplete  = "complete"
)

// Progress contains information about the transfer progress.
// Passed to ProgressCallback during Program.
type Progress struct {
	// Phase describes the current operation phase:
	//   "handshake" - Hello and ReadyToDownload exchange
	//   "transfer"  - Serving chunk requests
	//   "complete"  - Device accepted the image
	Phase string

	// CurrentChunk is the chunk most recently served (0-based)
	CurrentChunk uint32

	// MaxChunks is the index of the last chunk
	MaxChunks uint32

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesSent is the number of image bytes covered by the chunks served so far
	BytesSent int

	// ElapsedTime is the time elapsed since the transfer started
	ElapsedTime time.Duration
}

// ProgressCallback is called after every frame sent during the transfer.
// Implementations should return quickly to avoid stalling the device.
//
// Example:
//
//	prog := bootloader.New(device,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Chunk %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentChunk, p.MaxChunks)
//	    }),
//	)
type ProgressCallback func(Progress)
