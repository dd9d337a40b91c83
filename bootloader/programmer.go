package bootloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/firmware"
	"github.com/moffa90/go-smartcoaster/protocol"
)

// Programmer drives firmware transfers to a coaster bootloader over a byte stream.
// It owns the I/O loop; the protocol itself lives in Session.
//
// A Programmer runs one transfer at a time.
type Programmer struct {
	device io.ReadWriter
	config Config
}

// Result summarizes a completed transfer.
type Result struct {
	// SessionID identifies the session in logs
	SessionID uuid.UUID

	// Chunks is the number of chunks in the image
	Chunks uint32

	// ChunkSize is the chunk size the device asked for
	ChunkSize uint32

	// Bytes is the image size
	Bytes int

	// Elapsed is the wall time of the transfer, excluding the startup delay
	Elapsed time.Duration

	// Reason is the Goodbye reason sent by the device
	Reason protocol.GoodbyeReason
}

// New creates a new Programmer with the given device and options.
// The device must implement io.ReadWriter for communication with the bootloader.
//
// If the device also implements SetReadDeadline / SetWriteDeadline (net.Conn
// does), the read and write timeouts are applied as deadlines. Devices without
// deadlines are expected to return (0, nil) from Read when no data arrives
// within their own timeout, as serial ports do.
//
// Example:
//
//	port, _ := transport.OpenSerial(transport.SerialConfig{Name: "/dev/ttyACM0"})
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithReadTimeout(5*time.Second),
//	)
func New(device io.ReadWriter, opts ...Option) *Programmer {
	if device == nil {
		panic("device cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		device: device,
		config: cfg,
	}
}

// Program performs the complete transfer sequence:
//  1. Wait for the startup delay so the device can settle after the port opens
//  2. Hello / HelloResp, checking the device is in bootloader mode
//  3. ReadyToDownload with the image size, version and Ascon-Hash256
//  4. Serve ChunkReq messages until the device says Goodbye
//
// A Goodbye other than ReasonInstallingNewFirmware is reported as an error:
// *VerificationError for a hash mismatch, *protocol.ProtocolError otherwise.
//
// The operation can be cancelled via context.
//
// Example:
//
//	img, _ := firmware.Load("coaster.bin")
//	res, err := prog.Program(context.Background(), img)
func (p *Programmer) Program(ctx context.Context, img *firmware.Image) (*Result, error) {
	if img == nil {
		return nil, fmt.Errorf("firmware cannot be nil")
	}

	sess, err := NewSession(img.Data,
		WithRxCapacity(p.config.BufferSize),
		WithChunkPayloadSize(p.config.ChunkSize),
		WithImageVersion(img.Version),
		WithSessionLogger(p.config.Logger),
	)
	if err != nil {
		return nil, err
	}

	p.reportProgress(Progress{Phase: PhaseHandshake})

	if err := sleepContext(ctx, p.config.StartupDelay); err != nil {
		return nil, fmt.Errorf("cancelled: %w", err)
	}

	startTime := time.Now()
	p.logInfo("starting transfer", logrus.Fields{
		"session": sess.ID().String(),
		"bytes":   len(img.Data),
		"version": img.Version.String(),
	})

	if err := sess.Feed(nil); err != nil {
		return nil, err
	}

	buf := make([]byte, p.config.ReadBufferSize)
	lastData := time.Now()
	for !sess.Done() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cancelled: %w", err)
		}

		if frame, ok := sess.TakeOutgoing(); ok {
			if err := p.write(ctx, frame); err != nil {
				return nil, fmt.Errorf("write frame: %w", err)
			}
			lastData = time.Now()
			p.reportTransfer(sess, len(img.Data), startTime)
		}

		limit := min(len(buf), sess.rx.Free())
		n, err := p.read(buf[:limit])
		if n > 0 {
			lastData = time.Now()
			if ferr := sess.Feed(buf[:n]); ferr != nil {
				if errors.Is(ferr, ErrSessionEnded) && sess.Done() && sess.Err() == nil {
					p.logDebug("ignoring bytes after goodbye", logrus.Fields{"buffered": sess.Buffered()})
					break
				}
				return nil, p.sessionError(sess, ferr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read response: device closed the connection in state %s", sess.State())
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
		if n == 0 && time.Since(lastData) >= p.config.ReadTimeout {
			return nil, &TimeoutError{Op: sess.State().String(), Timeout: p.config.ReadTimeout}
		}
	}

	progress := sess.Progress()
	reason, _ := sess.GoodbyeReason()
	res := &Result{
		SessionID: sess.ID(),
		Chunks:    progress.MaxChunks + 1,
		ChunkSize: sess.ChunkSize(),
		Bytes:     len(img.Data),
		Elapsed:   time.Since(startTime),
		Reason:    reason,
	}

	if err := goodbyeError(reason, "chunk transfer"); err != nil {
		p.logError("device rejected image", logrus.Fields{"reason": reason.String()})
		return res, err
	}

	p.reportProgress(Progress{
		Phase:        PhaseComplete,
		CurrentChunk: progress.CurrentChunk,
		MaxChunks:    progress.MaxChunks,
		Percentage:   100,
		BytesSent:    len(img.Data),
		ElapsedTime:  res.Elapsed,
	})

	p.logInfo("transfer complete", logrus.Fields{
		"chunks":  res.Chunks,
		"bytes":   res.Bytes,
		"elapsed": res.Elapsed.String(),
	})

	return res, nil
}

// Identify sends a Hello and returns the device's answer without starting a
// transfer. It works in both bootloader and application mode.
func (p *Programmer) Identify(ctx context.Context) (protocol.HelloResp, error) {
	frame, err := protocol.MarshalFrame(protocol.NewHello())
	if err != nil {
		return protocol.HelloResp{}, err
	}
	if err := p.write(ctx, frame); err != nil {
		return protocol.HelloResp{}, fmt.Errorf("write hello: %w", err)
	}

	msg, err := p.readMessage(ctx)
	if err != nil {
		return protocol.HelloResp{}, err
	}
	resp, ok := msg.(protocol.HelloResp)
	if !ok {
		return protocol.HelloResp{}, &UnexpectedMessageError{State: StateWaitingHelloResp, Message: msg}
	}

	p.logDebug("device identified", logrus.Fields{
		"mode":    resp.Mode.String(),
		"version": resp.Version.String(),
	})
	return resp, nil
}

// readMessage reads until one complete frame has arrived.
func (p *Programmer) readMessage(ctx context.Context) (protocol.Message, error) {
	var pending []byte
	buf := make([]byte, p.config.ReadBufferSize)
	lastData := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cancelled: %w", err)
		}

		n, err := p.read(buf)
		if n > 0 {
			lastData = time.Now()
			pending = append(pending, buf[:n]...)

			_, msg, derr := protocol.DecodeFrame(pending)
			if _, more := protocol.IsContinuation(derr); !more {
				if derr != nil {
					return nil, &FramingError{Err: derr}
				}
				return msg, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if n == 0 && time.Since(lastData) >= p.config.ReadTimeout {
			return nil, &TimeoutError{Op: "identify", Timeout: p.config.ReadTimeout}
		}
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// read reads from the device, applying the read timeout as a deadline when supported.
func (p *Programmer) read(buf []byte) (int, error) {
	if d, ok := p.device.(readDeadliner); ok && p.config.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(p.config.ReadTimeout)); err != nil {
			return 0, err
		}
	}

	n, err := p.device.Read(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, &TimeoutError{Op: "read", Timeout: p.config.ReadTimeout}
	}
	return n, err
}

// write sends a whole frame, applying the write timeout as a deadline when supported.
// CommandDelay follows the write and is cut short when ctx is done.
func (p *Programmer) write(ctx context.Context, frame []byte) error {
	if d, ok := p.device.(writeDeadliner); ok && p.config.WriteTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)); err != nil {
			return err
		}
	}

	for len(frame) > 0 {
		n, err := p.device.Write(frame)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return &TimeoutError{Op: "write", Timeout: p.config.WriteTimeout}
		}
		if err != nil {
			return err
		}
		frame = frame[n:]
	}

	if p.config.CommandDelay > 0 {
		return sleepContext(ctx, p.config.CommandDelay)
	}
	return nil
}

// sessionError turns an early Goodbye into the error it stands for.
func (p *Programmer) sessionError(sess *Session, err error) error {
	var unexpected *UnexpectedMessageError
	if errors.As(err, &unexpected) {
		if bye, ok := unexpected.Message.(protocol.Goodbye); ok {
			if gerr := goodbyeError(bye.Reason, unexpected.State.String()); gerr != nil {
				return gerr
			}
		}
	}

	p.logError("session failed", logrus.Fields{
		"session": sess.ID().String(),
		"state":   sess.State().String(),
		"error":   err.Error(),
	})
	return err
}

func goodbyeError(reason protocol.GoodbyeReason, op string) error {
	switch reason {
	case protocol.ReasonInstallingNewFirmware:
		return nil
	case protocol.ReasonDownloadHashMismatch:
		return &VerificationError{Message: "device reported an image hash mismatch"}
	default:
		return &protocol.ProtocolError{Operation: op, Reason: reason}
	}
}

// reportTransfer reports chunk progress once chunks are being served.
func (p *Programmer) reportTransfer(sess *Session, imageSize int, startTime time.Time) {
	if sess.State() != StateChunkTransfer || sess.ChunkSize() == 0 {
		return
	}

	progress := sess.Progress()
	sent := min(uint64(progress.CurrentChunk+1)*uint64(sess.ChunkSize()), uint64(imageSize))
	p.reportProgress(Progress{
		Phase:        PhaseTransfer,
		CurrentChunk: progress.CurrentChunk,
		MaxChunks:    progress.MaxChunks,
		Percentage:   float64(progress.CurrentChunk+1) / float64(progress.MaxChunks+1) * 100,
		BytesSent:    int(sent),
		ElapsedTime:  time.Since(startTime),
	})
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(progress Progress) {
	if p.config.ProgressCallback != nil {
		p.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (p *Programmer) logDebug(msg string, fields logrus.Fields) {
	if p.config.Logger != nil {
		p.config.Logger.WithFields(fields).Debug(msg)
	}
}

// logInfo logs an info message if a logger is configured.
func (p *Programmer) logInfo(msg string, fields logrus.Fields) {
	if p.config.Logger != nil {
		p.config.Logger.WithFields(fields).Info(msg)
	}
}

// logError logs an error message if a logger is configured.
func (p *Programmer) logError(msg string, fields logrus.Fields) {
	if p.config.Logger != nil {
		p.config.Logger.WithFields(fields).Error(msg)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
