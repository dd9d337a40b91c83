package bootloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-smartcoaster/firmware"
	"github.com/moffa90/go-smartcoaster/protocol"
)

// MockDevice simulates a coaster bootloader for testing. Every frame written
// by the host is decoded and passed to the handler; the messages it returns
// are queued for the next reads. Read returns (0, nil) when nothing is queued,
// like a serial port whose read timeout expired.
type MockDevice struct {
	handler  func(protocol.Message) []protocol.Message
	pending  bytes.Buffer
	readBuf  bytes.Buffer
	received []protocol.Message
	readErr  error
	writeErr error
	maxRead  int

	// trailer is queued right after any Goodbye, in the same read
	trailer []byte
}

func NewMockDevice(handler func(protocol.Message) []protocol.Message) *MockDevice {
	return &MockDevice{handler: handler}
}

func (m *MockDevice) Read(p []byte) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.maxRead > 0 && len(p) > m.maxRead {
		p = p[:m.maxRead]
	}
	if m.readBuf.Len() == 0 {
		return 0, nil
	}
	return m.readBuf.Read(p)
}

func (m *MockDevice) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.pending.Write(p)

	for {
		n, msg, err := protocol.DecodeFrame(m.pending.Bytes())
		if _, more := protocol.IsContinuation(err); more {
			break
		}
		m.pending.Next(n)
		if err != nil {
			continue
		}
		m.received = append(m.received, msg)
		for _, out := range m.handler(msg) {
			b, err := protocol.MarshalFrame(out)
			if err != nil {
				panic(err)
			}
			m.readBuf.Write(b)
			if _, bye := out.(protocol.Goodbye); bye {
				m.readBuf.Write(m.trailer)
			}
		}
	}
	return len(p), nil
}

func (m *MockDevice) SetReadError(err error) {
	m.readErr = err
}

func (m *MockDevice) SetWriteError(err error) {
	m.writeErr = err
}

// bootloaderHandler answers like a healthy device that requests every chunk
// in order and finishes with the given reason.
func bootloaderHandler(chunkSize uint32, reason protocol.GoodbyeReason) func(protocol.Message) []protocol.Message {
	var maxChunk uint32
	return func(msg protocol.Message) []protocol.Message {
		switch m := msg.(type) {
		case protocol.Hello:
			return []protocol.Message{protocol.NewHelloResp(protocol.ModeBootloader, protocol.VersionNumber{Minor: 1})}
		case protocol.ReadyToDownload:
			maxChunk = protocol.MaxChunkIndex(m.ImageSizeBytes, chunkSize)
			return []protocol.Message{
				protocol.NewReadyToDownloadResponse(chunkSize),
				protocol.NewChunkReq(0),
			}
		case protocol.ChunkResp:
			if !m.Valid() {
				return []protocol.Message{protocol.NewChunkReq(m.ChunkNumber)}
			}
			if m.ChunkNumber == maxChunk {
				return []protocol.Message{protocol.NewGoodbye(reason)}
			}
			return []protocol.Message{protocol.NewChunkReq(m.ChunkNumber + 1)}
		}
		return nil
	}
}

func testImage(size int) *firmware.Image {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	return &firmware.Image{Data: data, Version: protocol.VersionNumber{Major: 1, Minor: 2, Patch: 3}}
}

func fastOptions(opts ...Option) []Option {
	return append([]Option{
		WithStartupDelay(0),
		WithReadTimeout(200 * time.Millisecond),
	}, opts...)
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		prog := New(NewMockDevice(nil))
		assert.Equal(t, 5*time.Second, prog.config.ReadTimeout)
		assert.Equal(t, 5*time.Second, prog.config.WriteTimeout)
		assert.Equal(t, 100*time.Millisecond, prog.config.StartupDelay)
		assert.Equal(t, protocol.ChunkSize, prog.config.ChunkSize)
		assert.Equal(t, protocol.DefaultBufferSize, prog.config.BufferSize)
	})

	t.Run("options", func(t *testing.T) {
		log := logrus.New()
		prog := New(NewMockDevice(nil),
			WithTimeout(time.Second),
			WithChunkSize(256),
			WithBufferSize(8192),
			WithReadBufferSize(64),
			WithCommandDelay(time.Millisecond),
			WithLogger(log),
		)
		assert.Equal(t, time.Second, prog.config.ReadTimeout)
		assert.Equal(t, time.Second, prog.config.WriteTimeout)
		assert.Equal(t, 256, prog.config.ChunkSize)
		assert.Equal(t, 8192, prog.config.BufferSize)
		assert.Equal(t, 64, prog.config.ReadBufferSize)
		assert.Equal(t, time.Millisecond, prog.config.CommandDelay)
		assert.Same(t, log, prog.config.Logger)
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		prog := New(NewMockDevice(nil),
			WithChunkSize(0),
			WithBufferSize(-1),
			WithStartupDelay(-time.Second),
		)
		assert.Equal(t, protocol.ChunkSize, prog.config.ChunkSize)
		assert.Equal(t, protocol.DefaultBufferSize, prog.config.BufferSize)
		assert.Equal(t, 100*time.Millisecond, prog.config.StartupDelay)
	})

	t.Run("nil device panics", func(t *testing.T) {
		assert.Panics(t, func() { New(nil) })
	})
}

func TestProgram(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize uint32
		chunks    uint32
	}{
		{name: "single byte", size: 1, chunkSize: 1024, chunks: 1},
		{name: "exact multiple", size: 4096, chunkSize: 1024, chunks: 4},
		{name: "partial last chunk", size: 2049, chunkSize: 1024, chunks: 3},
		{name: "small chunks", size: 300, chunkSize: 64, chunks: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testImage(tt.size)
			dev := NewMockDevice(bootloaderHandler(tt.chunkSize, protocol.ReasonInstallingNewFirmware))

			res, err := New(dev, fastOptions()...).Program(context.Background(), img)
			require.NoError(t, err)

			assert.Equal(t, tt.chunks, res.Chunks)
			assert.Equal(t, tt.chunkSize, res.ChunkSize)
			assert.Equal(t, tt.size, res.Bytes)
			assert.Equal(t, protocol.ReasonInstallingNewFirmware, res.Reason)

			require.GreaterOrEqual(t, len(dev.received), 2)
			assert.Equal(t, protocol.Hello{}, dev.received[0])
			ready := dev.received[1].(protocol.ReadyToDownload)
			assert.Equal(t, uint32(tt.size), ready.ImageSizeBytes)
			assert.Equal(t, img.Version, ready.Version)
			assert.Equal(t, img.Hash(), ready.Hash)

			// reassemble what the device received
			var assembled []byte
			for _, msg := range dev.received[2:] {
				chunk := msg.(protocol.ChunkResp)
				assert.Len(t, chunk.ChunkData, protocol.ChunkSize)
				n := protocol.ValidChunkLength(uint32(tt.size), tt.chunkSize, chunk.ChunkNumber)
				assembled = append(assembled, chunk.ChunkData[:n]...)
			}
			assert.Equal(t, img.Data, assembled)
		})
	}
}

func TestProgramWithProgress(t *testing.T) {
	dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))

	var updates []Progress
	prog := New(dev, fastOptions(WithProgressCallback(func(p Progress) {
		updates = append(updates, p)
	}))...)

	_, err := prog.Program(context.Background(), testImage(3000))
	require.NoError(t, err)

	require.NotEmpty(t, updates)
	assert.Equal(t, PhaseHandshake, updates[0].Phase)

	last := updates[len(updates)-1]
	assert.Equal(t, PhaseComplete, last.Phase)
	assert.Equal(t, 100.0, last.Percentage)
	assert.Equal(t, 3000, last.BytesSent)

	var transfer []Progress
	for _, p := range updates {
		if p.Phase == PhaseTransfer {
			transfer = append(transfer, p)
		}
	}
	require.Len(t, transfer, 3)
	for i, p := range transfer {
		assert.Equal(t, uint32(i), p.CurrentChunk)
		assert.Equal(t, uint32(2), p.MaxChunks)
	}
	assert.Equal(t, 2048, transfer[1].BytesSent)
	assert.Equal(t, 3000, transfer[2].BytesSent)
}

func TestProgramWithLogging(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))
	_, err := New(dev, fastOptions(WithLogger(log))...).Program(context.Background(), testImage(100))
	require.NoError(t, err)

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "starting transfer")
	assert.Contains(t, messages, "device identified")
	assert.Contains(t, messages, "transfer complete")

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "transfer complete", last.Message)
	assert.Equal(t, uint32(1), last.Data["chunks"])
}

func TestProgramDeviceRejectsImage(t *testing.T) {
	t.Run("hash mismatch", func(t *testing.T) {
		dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonDownloadHashMismatch))
		res, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))

		var verr *VerificationError
		require.ErrorAs(t, err, &verr)
		require.NotNil(t, res)
		assert.Equal(t, protocol.ReasonDownloadHashMismatch, res.Reason)
	})

	t.Run("aborted", func(t *testing.T) {
		dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonAborted))
		_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))
		assert.True(t, protocol.IsProtocolError(err))
	})

	t.Run("goodbye during handshake", func(t *testing.T) {
		dev := NewMockDevice(func(msg protocol.Message) []protocol.Message {
			if _, ok := msg.(protocol.ReadyToDownload); ok {
				return []protocol.Message{protocol.NewGoodbye(protocol.ReasonAborted)}
			}
			return bootloaderHandler(1024, protocol.ReasonAborted)(msg)
		})
		_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))

		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, protocol.ReasonAborted, perr.Reason)
		assert.Equal(t, StateWaitingReadyToDownloadResp.String(), perr.Operation)
	})
}

func TestProgramDeviceInApplicationMode(t *testing.T) {
	dev := NewMockDevice(func(msg protocol.Message) []protocol.Message {
		return []protocol.Message{protocol.NewHelloResp(protocol.ModeApplication, protocol.VersionNumber{Major: 2})}
	})

	_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))
	require.ErrorIs(t, err, ErrIncorrectDeviceMode)
	assert.Len(t, dev.received, 1)
}

func TestProgramSmallReads(t *testing.T) {
	dev := NewMockDevice(bootloaderHandler(128, protocol.ReasonInstallingNewFirmware))
	dev.maxRead = 1

	res, err := New(dev, fastOptions(WithChunkSize(128))...).Program(context.Background(), testImage(1000))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), res.Chunks)
}

func TestProgramBytesAfterGoodbye(t *testing.T) {
	tests := []struct {
		name    string
		trailer []byte
		reason  protocol.GoodbyeReason
	}{
		{name: "one stray byte", trailer: []byte{0x00}, reason: protocol.ReasonInstallingNewFirmware},
		{name: "another frame", trailer: []byte{0x00, 0x02, 0x82, 0x00}, reason: protocol.ReasonInstallingNewFirmware},
		{name: "rejected image", trailer: []byte{0xFF}, reason: protocol.ReasonDownloadHashMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewMockDevice(bootloaderHandler(protocol.ChunkSize, tt.reason))
			dev.trailer = tt.trailer

			res, err := New(dev, fastOptions()...).Program(context.Background(), testImage(3000))
			require.NotNil(t, res)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, uint32(3), res.Chunks)
			if tt.reason == protocol.ReasonInstallingNewFirmware {
				assert.NoError(t, err)
			} else {
				var verr *VerificationError
				assert.ErrorAs(t, err, &verr)
			}
		})
	}
}

func TestProgramCommandDelayHonoursContext(t *testing.T) {
	dev := NewMockDevice(bootloaderHandler(protocol.ChunkSize, protocol.ReasonInstallingNewFirmware))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(dev, fastOptions(WithCommandDelay(time.Hour))...).Program(ctx, testImage(100))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, dev.received, 1)
}

func TestProgramChunkSizeTooLarge(t *testing.T) {
	dev := NewMockDevice(bootloaderHandler(2048, protocol.ReasonInstallingNewFirmware))

	_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))
	require.ErrorIs(t, err, protocol.ErrInvalidChunkSize)
}

func TestProgramWithContextCancellation(t *testing.T) {
	dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(dev, WithStartupDelay(time.Second)).Program(ctx, testImage(100))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dev.received)
}

func TestProgramWithTimeout(t *testing.T) {
	silent := NewMockDevice(func(protocol.Message) []protocol.Message { return nil })

	start := time.Now()
	_, err := New(silent, WithStartupDelay(0), WithReadTimeout(50*time.Millisecond)).
		Program(context.Background(), testImage(100))

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateWaitingHelloResp.String(), terr.Op)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReadWriteErrors(t *testing.T) {
	t.Run("write error", func(t *testing.T) {
		dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))
		dev.SetWriteError(errors.New("usb unplugged"))

		_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "usb unplugged")
	})

	t.Run("read error", func(t *testing.T) {
		dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))
		dev.SetReadError(errors.New("port closed"))

		_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port closed")
	})

	t.Run("eof", func(t *testing.T) {
		dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))
		dev.SetReadError(io.EOF)

		_, err := New(dev, fastOptions()...).Program(context.Background(), testImage(100))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed the connection")
	})

	t.Run("nil firmware", func(t *testing.T) {
		_, err := New(NewMockDevice(nil)).Program(context.Background(), nil)
		require.Error(t, err)
	})

	t.Run("empty firmware", func(t *testing.T) {
		_, err := New(NewMockDevice(nil)).Program(context.Background(), &firmware.Image{})
		require.ErrorIs(t, err, ErrEmptyImage)
	})
}

func TestIdentify(t *testing.T) {
	dev := NewMockDevice(func(msg protocol.Message) []protocol.Message {
		return []protocol.Message{protocol.NewHelloResp(protocol.ModeApplication, protocol.VersionNumber{Major: 4, Minor: 2})}
	})
	dev.maxRead = 3

	resp, err := New(dev, fastOptions()...).Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeApplication, resp.Mode)
	assert.Equal(t, "4.2.0", resp.Version.String())
}

func BenchmarkProgram(b *testing.B) {
	img := testImage(64 * 1024)
	for i := 0; i < b.N; i++ {
		dev := NewMockDevice(bootloaderHandler(1024, protocol.ReasonInstallingNewFirmware))
		if _, err := New(dev, WithStartupDelay(0)).Program(context.Background(), img); err != nil {
			b.Fatal(err)
		}
	}
}
