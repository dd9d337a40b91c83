package bootloader

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/ascon"
	"github.com/moffa90/go-smartcoaster/protocol"
)

// State is the position of a host session in the download exchange.
type State int

const (
	// StateStart is the initial state; the first Feed queues a Hello
	StateStart State = iota

	// StateWaitingHelloResp waits for the device to identify itself
	StateWaitingHelloResp

	// StateWaitingReadyToDownloadResp waits for the device to pick a chunk size
	StateWaitingReadyToDownloadResp

	// StateChunkTransfer serves chunk requests until the device says goodbye
	StateChunkTransfer

	// StateDone is terminal
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateWaitingHelloResp:
		return "waiting for hello response"
	case StateWaitingReadyToDownloadResp:
		return "waiting for ready to download response"
	case StateChunkTransfer:
		return "chunk transfer"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransferProgress reports the most recently served chunk and the index of the
// last chunk. MaxChunks is an index: a transfer is complete after chunk
// MaxChunks has been served.
type TransferProgress struct {
	CurrentChunk uint32
	MaxChunks    uint32
}

type sessionConfig struct {
	capacity    int
	payloadSize int
	version     protocol.VersionNumber
	logger      logrus.FieldLogger
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithRxCapacity sets the receive and transmit buffer capacity in bytes.
// Default is protocol.DefaultBufferSize.
func WithRxCapacity(n int) SessionOption {
	return func(c *sessionConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithChunkPayloadSize sets the length of the chunk_data buffer in every
// ChunkResp. It must match the device's CHUNK_SIZE. Default is protocol.ChunkSize.
func WithChunkPayloadSize(n int) SessionOption {
	return func(c *sessionConfig) {
		if n > 0 {
			c.payloadSize = n
		}
	}
}

// WithImageVersion sets the version announced in ReadyToDownload.
func WithImageVersion(v protocol.VersionNumber) SessionOption {
	return func(c *sessionConfig) {
		c.version = v
	}
}

// WithSessionLogger sets the logger used for per-frame trace output.
func WithSessionLogger(l logrus.FieldLogger) SessionOption {
	return func(c *sessionConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Session is the host side of one firmware transfer.
//
// It is a synchronous state machine: the caller feeds it bytes received from
// the device and takes at most one outgoing frame after each feed. It never
// blocks and never performs I/O. A Session is not safe for concurrent use.
//
// Example:
//
//	sess, err := bootloader.NewSession(image)
//	if err != nil {
//	    return err
//	}
//	sess.Feed(nil) // queues Hello
//	for !sess.Done() {
//	    if frame, ok := sess.TakeOutgoing(); ok {
//	        port.Write(frame)
//	    }
//	    n, _ := port.Read(buf)
//	    if err := sess.Feed(buf[:n]); err != nil {
//	        return err
//	    }
//	}
type Session struct {
	id          uuid.UUID
	image       []byte
	version     protocol.VersionNumber
	payloadSize int

	state     State
	rx        *rxBuffer
	tx        []byte
	txLen     int
	chunkSize uint32
	progress  TransferProgress
	reason    protocol.GoodbyeReason
	err       error

	log *logrus.Entry
}

// NewSession creates a session for transferring image. The image is not
// copied and must not be modified while the session is in use.
func NewSession(image []byte, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{
		capacity:    protocol.DefaultBufferSize,
		payloadSize: protocol.ChunkSize,
		logger:      discardLogger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if uint64(len(image)) > math.MaxUint32 {
		return nil, &ImageTooLargeError{Size: len(image)}
	}

	largest := protocol.ChunkResp{
		ChunkNumber: math.MaxUint32,
		ChunkData:   make([]byte, cfg.payloadSize),
	}
	if frame, err := protocol.MarshalFrame(largest); err != nil {
		return nil, fmt.Errorf("chunk payload of %d bytes: %w", cfg.payloadSize, err)
	} else if len(frame) > cfg.capacity {
		return nil, fmt.Errorf("buffer of %d bytes cannot hold a %d byte chunk frame", cfg.capacity, len(frame))
	}

	id := uuid.New()
	return &Session{
		id:          id,
		image:       image,
		version:     cfg.version,
		payloadSize: cfg.payloadSize,
		state:       StateStart,
		rx:          newRxBuffer(cfg.capacity),
		tx:          make([]byte, cfg.capacity),
		log:         cfg.logger.WithField("session", id.String()),
	}, nil
}

// ID returns the unique identifier of this session.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Done reports whether the device ended the transfer with a Goodbye.
func (s *Session) Done() bool { return s.state == StateDone }

// Err returns the error that ended the session, or nil.
func (s *Session) Err() error { return s.err }

// Progress returns the chunk progress.
func (s *Session) Progress() TransferProgress { return s.progress }

// ChunkSize returns the negotiated chunk size, or 0 before negotiation.
func (s *Session) ChunkSize() uint32 { return s.chunkSize }

// GoodbyeReason returns the reason the device gave for ending the transfer.
// The second result is false until the session is done.
func (s *Session) GoodbyeReason() (protocol.GoodbyeReason, bool) {
	return s.reason, s.state == StateDone
}

// Buffered returns the number of received bytes not yet decoded.
func (s *Session) Buffered() int { return s.rx.Len() }

// Feed pushes bytes received from the device into the session and processes
// every complete frame they complete.
//
// The first call must be Feed(nil), followed by TakeOutgoing to send the
// Hello it queues. Feeding data before the Hello is taken fails with
// ErrOutgoingNotDrained, because the reply would replace the pending Hello.
// After every Feed, drain TakeOutgoing before feeding again.
//
// A partial frame is kept until more bytes arrive. Any returned error other
// than ErrSessionEnded is fatal and ends the session; later calls return
// ErrSessionEnded.
func (s *Session) Feed(b []byte) error {
	if s.err != nil || s.state == StateDone {
		return ErrSessionEnded
	}

	if s.rx.Len()+len(b) > s.rx.Cap() {
		s.log.WithFields(logrus.Fields{
			"buffered": s.rx.Len(),
			"incoming": len(b),
			"capacity": s.rx.Cap(),
		}).Error("receive buffer overflow")
		return s.fail(ErrRxBufferNotEnoughSpace)
	}
	s.rx.Write(b)
	s.log.WithFields(logrus.Fields{"incoming": len(b), "buffered": s.rx.Len()}).Trace("feed")

	if s.state == StateStart {
		if err := s.queue(protocol.NewHello()); err != nil {
			return s.fail(err)
		}
		s.state = StateWaitingHelloResp
		s.log.Trace("queued hello, waiting for response")
	}

	for s.rx.Len() > 0 {
		if s.state == StateDone {
			s.log.WithField("buffered", s.rx.Len()).Debug("bytes received after goodbye")
			return ErrSessionEnded
		}

		n, msg, err := protocol.DecodeFrame(s.rx.Bytes())
		if need, ok := protocol.IsContinuation(err); ok {
			if need > s.rx.Cap() {
				s.log.WithField("frame_size", need).Error("frame larger than receive buffer")
				return s.fail(ErrRxBufferNotEnoughSpace)
			}
			s.log.WithField("need", need).Trace("waiting for more bytes")
			return nil
		}
		if err != nil {
			return s.fail(&FramingError{Err: err})
		}

		s.log.WithFields(logrus.Fields{"message": protocol.Name(msg), "bytes": n}).Trace("decoded frame")
		if err := s.handle(msg); err != nil {
			return s.fail(err)
		}
		s.rx.Consume(n)
	}

	return nil
}

// TakeOutgoing returns the pending outgoing frame, if any, and clears the slot.
func (s *Session) TakeOutgoing() ([]byte, bool) {
	if s.txLen == 0 {
		return nil, false
	}
	frame := make([]byte, s.txLen)
	copy(frame, s.tx[:s.txLen])
	s.txLen = 0
	return frame, true
}

// handle performs one transition. It leaves the session untouched on error.
func (s *Session) handle(msg protocol.Message) error {
	switch s.state {
	case StateWaitingHelloResp:
		resp, ok := msg.(protocol.HelloResp)
		if !ok {
			return s.unexpected(msg)
		}
		return s.onHelloResp(resp)

	case StateWaitingReadyToDownloadResp:
		resp, ok := msg.(protocol.ReadyToDownloadResponse)
		if !ok {
			return s.unexpected(msg)
		}
		return s.onReadyToDownloadResponse(resp)

	case StateChunkTransfer:
		switch m := msg.(type) {
		case protocol.ChunkReq:
			return s.onChunkReq(m)
		case protocol.Goodbye:
			s.txLen = 0
			s.reason = m.Reason
			s.state = StateDone
			s.log.WithField("reason", m.Reason.String()).Debug("device said goodbye")
			return nil
		default:
			return s.unexpected(msg)
		}

	default:
		return s.unexpected(msg)
	}
}

func (s *Session) onHelloResp(resp protocol.HelloResp) error {
	s.log.WithFields(logrus.Fields{
		"mode":    resp.Mode.String(),
		"version": resp.Version.String(),
	}).Debug("device identified")

	if resp.Mode != protocol.ModeBootloader {
		return &DeviceModeError{Mode: resp.Mode, Version: resp.Version}
	}

	hash := ascon.Sum256(s.image)
	ready, err := protocol.NewReadyToDownload(s.image, s.version, hash)
	if err != nil {
		return &ImageTooLargeError{Size: len(s.image)}
	}
	if err := s.queue(ready); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"size": ready.ImageSizeBytes,
		"hash": ready.Hash.String(),
	}).Debug("queued ready to download")
	s.state = StateWaitingReadyToDownloadResp
	return nil
}

func (s *Session) onReadyToDownloadResponse(resp protocol.ReadyToDownloadResponse) error {
	size := resp.DesiredChunkSize
	if size == 0 || int64(size) > int64(s.payloadSize) {
		return &InvalidChunkSizeError{ChunkSize: size, Max: s.payloadSize}
	}

	s.chunkSize = size
	s.progress.MaxChunks = protocol.MaxChunkIndex(uint32(len(s.image)), size)
	s.txLen = 0
	s.state = StateChunkTransfer

	s.log.WithFields(logrus.Fields{
		"chunk_size": size,
		"max_chunks": s.progress.MaxChunks,
	}).Debug("chunk size negotiated")
	return nil
}

func (s *Session) onChunkReq(req protocol.ChunkReq) error {
	resp, err := protocol.NewChunkResp(s.image, s.chunkSize, s.payloadSize, req.ChunkNumber)
	if errors.Is(err, protocol.ErrChunkOutOfBounds) {
		return &ChunkOutOfRangeError{
			Chunk:     req.ChunkNumber,
			Offset:    protocol.ChunkOffset(req.ChunkNumber, s.chunkSize),
			ImageSize: len(s.image),
		}
	}
	if err != nil {
		return err
	}

	if err := s.queue(resp); err != nil {
		return err
	}
	s.progress.CurrentChunk = req.ChunkNumber

	s.log.WithFields(logrus.Fields{
		"chunk":     req.ChunkNumber,
		"frame_len": s.txLen,
	}).Trace("queued chunk")
	return nil
}

// queue encodes m into the transmit slot, which must be empty.
func (s *Session) queue(m protocol.Message) error {
	if s.txLen > 0 {
		return fmt.Errorf("%w: %s would replace a pending frame", ErrOutgoingNotDrained, protocol.Name(m))
	}
	n, err := protocol.EncodeFrame(s.tx, m)
	if err != nil {
		return &FramingError{Err: err}
	}
	s.txLen = n
	return nil
}

func (s *Session) unexpected(msg protocol.Message) error {
	return &UnexpectedMessageError{State: s.state, Message: msg}
}

func (s *Session) fail(err error) error {
	s.err = err
	s.log.WithError(err).WithField("state", s.state.String()).Debug("session failed")
	return err
}

var discardLogger = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()
