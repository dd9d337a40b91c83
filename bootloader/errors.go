package bootloader

import (
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-smartcoaster/protocol"
)

// Session errors. All of them are terminal for the session that returned them.
var (
	// ErrRxBufferNotEnoughSpace means the fed bytes do not fit the receive buffer
	ErrRxBufferNotEnoughSpace = errors.New("receive buffer does not have enough space")

	// ErrUnexpectedMessage means the device sent a message the current state does not accept
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrIncorrectDeviceMode means the device answered Hello from outside the bootloader
	ErrIncorrectDeviceMode = errors.New("device is not in bootloader mode")

	// ErrSessionEnded means the session already finished or failed
	ErrSessionEnded = errors.New("session ended")

	// ErrChunkRequestOutOfBounds means the device asked for data past the end of the image
	ErrChunkRequestOutOfBounds = errors.New("chunk request out of bounds")

	// ErrOutgoingNotDrained means a new frame was produced before the previous one was taken
	ErrOutgoingNotDrained = errors.New("outgoing frame not drained")

	// ErrEmptyImage means the session was created without firmware data
	ErrEmptyImage = errors.New("firmware image is empty")
)

// FramingError wraps a fatal codec failure (protocol.ErrDecoding, protocol.ErrEncoding
// or an undersized transmit buffer).
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %v", e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// UnexpectedMessageError records which message arrived in which state.
type UnexpectedMessageError struct {
	State   State
	Message protocol.Message
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected message: %s while %s", protocol.Name(e.Message), e.State)
}

func (e *UnexpectedMessageError) Unwrap() error { return ErrUnexpectedMessage }

// DeviceModeError indicates that the device answered Hello in a mode other than bootloader.
type DeviceModeError struct {
	Mode    protocol.SystemMode
	Version protocol.VersionNumber
}

func (e *DeviceModeError) Error() string {
	return fmt.Sprintf("device mismatch: expected bootloader mode, device reports %s %s",
		e.Mode, e.Version)
}

func (e *DeviceModeError) Unwrap() error { return ErrIncorrectDeviceMode }

// ChunkOutOfRangeError indicates that the device requested a chunk past the end of the image.
type ChunkOutOfRangeError struct {
	Chunk     uint32
	Offset    uint64
	ImageSize int
}

func (e *ChunkOutOfRangeError) Error() string {
	return fmt.Sprintf("chunk %d is out of range: offset %d >= image size %d",
		e.Chunk, e.Offset, e.ImageSize)
}

func (e *ChunkOutOfRangeError) Unwrap() error { return ErrChunkRequestOutOfBounds }

// InvalidChunkSizeError indicates a negotiated chunk size the session cannot serve.
type InvalidChunkSizeError struct {
	ChunkSize uint32
	Max       int
}

func (e *InvalidChunkSizeError) Error() string {
	return fmt.Sprintf("invalid chunk size %d: must be between 1 and %d", e.ChunkSize, e.Max)
}

func (e *InvalidChunkSizeError) Unwrap() error { return protocol.ErrInvalidChunkSize }

// ImageTooLargeError indicates an image that does not fit the 32-bit size field.
type ImageTooLargeError struct {
	Size int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("firmware image too large: %d bytes", e.Size)
}

// TimeoutError indicates that the device stopped answering.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no data from device for %s", e.Op, e.Timeout)
}

// VerificationError indicates that the device rejected the assembled image.
type VerificationError struct {
	Message string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("firmware verification failed: %s", e.Message)
}
