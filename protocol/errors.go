package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding indicates a message could not be turned into a frame.
	ErrEncoding = errors.New("encoding error")

	// ErrDecoding indicates a complete frame did not match any message schema.
	ErrDecoding = errors.New("decoding error")

	// ErrChunkOutOfBounds indicates a chunk request starting at or past the end of the image.
	ErrChunkOutOfBounds = errors.New("chunk request out of bounds")

	// ErrInvalidChunkSize indicates a chunk size of zero or one larger than the chunk payload.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// BufferTooSmallError is returned when a buffer cannot hold a whole frame.
//
// From DecodeFrame it is a continuation signal, not a failure: Needed bytes
// must be available before the frame can be decoded. From EncodeFrame it
// reports the destination size required.
type BufferTooSmallError struct {
	// Needed is the total frame length required
	Needed int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small: need %d bytes", e.Needed)
}

// IsContinuation reports whether err is the decode continuation signal and,
// if so, how many bytes the frame needs.
func IsContinuation(err error) (int, bool) {
	var bts *BufferTooSmallError
	if errors.As(err, &bts) {
		return bts.Needed, true
	}
	return 0, false
}

// ProtocolError represents a transfer the device ended with a Goodbye other
// than ReasonInstallingNewFirmware.
type ProtocolError struct {
	// Operation is the phase that was running when the device gave up
	Operation string

	// Reason is the reason carried by the Goodbye
	Reason GoodbyeReason
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: device said goodbye: %s (%d)", e.Operation, e.Reason, uint8(e.Reason))
}

// IsProtocolError returns true if the error is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
