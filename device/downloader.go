package device

import (
	"bytes"
	"fmt"
	"hash"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/ascon"
	"github.com/moffa90/go-smartcoaster/protocol"
)

// DefaultMaxRetries is how many times in a row a chunk is requested again
// before the download is aborted.
const DefaultMaxRetries = 5

// State of a Downloader.
type State int

const (
	// StateIdle waits for Hello or ReadyToDownload
	StateIdle State = iota

	// StateDownloading requests chunks in order
	StateDownloading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type downloaderConfig struct {
	version    protocol.VersionNumber
	chunkSize  uint32
	maxRetries int
	logger     logrus.FieldLogger
}

// Option configures a Downloader.
type Option func(*downloaderConfig)

// WithVersion sets the bootloader version reported in HelloResp.
func WithVersion(v protocol.VersionNumber) Option {
	return func(c *downloaderConfig) {
		c.version = v
	}
}

// WithChunkSize sets the chunk size requested in ReadyToDownloadResponse.
// Default is protocol.ChunkSize, which is also the largest a host accepts;
// values outside 1..protocol.ChunkSize are ignored.
func WithChunkSize(n uint32) Option {
	return func(c *downloaderConfig) {
		if n > 0 && n <= protocol.ChunkSize {
			c.chunkSize = n
		}
	}
}

// WithMaxRetries sets how many consecutive bad chunks abort the download.
func WithMaxRetries(n int) Option {
	return func(c *downloaderConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *downloaderConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Download describes the image announced by the host.
type Download struct {
	Size    uint32
	Version protocol.VersionNumber
	Hash    protocol.Hash
}

// Downloader is the device side of a firmware download. It answers host
// messages one at a time and writes accepted chunks to a Flash.
//
// The device drives the transfer: it requests chunks in order, asks again for
// a chunk whose number or CRC is wrong, and verifies the Ascon-Hash256 of the
// whole image before committing it.
type Downloader struct {
	flash Flash
	cfg   downloaderConfig
	log   *logrus.Entry

	state    State
	download Download
	next     uint32
	maxChunk uint32
	retries  int
	retried  int
	hasher   hash.Hash
}

// NewDownloader returns a Downloader writing to flash.
func NewDownloader(flash Flash, opts ...Option) *Downloader {
	if flash == nil {
		panic("flash cannot be nil")
	}

	cfg := downloaderConfig{
		chunkSize:  protocol.ChunkSize,
		maxRetries: DefaultMaxRetries,
		logger:     discardLogger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Downloader{
		flash:  flash,
		cfg:    cfg,
		log:    cfg.logger.WithField("component", "downloader"),
		hasher: ascon.New(),
	}
}

// State returns the current state.
func (d *Downloader) State() State { return d.state }

// Download returns the image most recently announced by the host.
func (d *Downloader) Download() Download { return d.download }

// NextChunk returns the chunk number the device is waiting for.
func (d *Downloader) NextChunk() uint32 { return d.next }

// Handle processes one host message and returns the replies to send, in order.
//
// A non-nil error means the flash failed; the replies then end the transfer
// and must still be sent.
func (d *Downloader) Handle(msg protocol.Message) ([]protocol.Message, error) {
	switch m := msg.(type) {
	case protocol.Hello:
		if d.state == StateDownloading {
			d.log.Warn("hello during download, restarting")
			if err := d.abort(); err != nil {
				return []protocol.Message{protocol.NewHelloResp(protocol.ModeBootloader, d.cfg.version)}, err
			}
		}
		return []protocol.Message{protocol.NewHelloResp(protocol.ModeBootloader, d.cfg.version)}, nil

	case protocol.ReadyToDownload:
		return d.onReadyToDownload(m)

	case protocol.ChunkResp:
		if d.state != StateDownloading {
			d.log.WithField("chunk", m.ChunkNumber).Warn("chunk outside a download, ignoring")
			return nil, nil
		}
		return d.onChunk(m)

	default:
		d.log.WithField("message", protocol.Name(msg)).Warn("unexpected message, ignoring")
		return nil, nil
	}
}

func (d *Downloader) onReadyToDownload(m protocol.ReadyToDownload) ([]protocol.Message, error) {
	if d.state == StateDownloading {
		d.log.Warn("new download announced, dropping the current one")
		if err := d.abort(); err != nil {
			return goodbye(protocol.ReasonAborted), err
		}
	}

	fields := logrus.Fields{
		"size":    m.ImageSizeBytes,
		"version": m.Version.String(),
		"hash":    m.Hash.String(),
	}
	d.download = Download{Size: m.ImageSizeBytes, Version: m.Version, Hash: m.Hash}
	if m.ImageSizeBytes == 0 || m.ImageSizeBytes > d.flash.Capacity() {
		d.log.WithFields(fields).WithField("capacity", d.flash.Capacity()).Error("image does not fit flash")
		return goodbye(protocol.ReasonAborted), nil
	}

	d.next = 0
	d.maxChunk = protocol.MaxChunkIndex(m.ImageSizeBytes, d.cfg.chunkSize)
	d.retries = 0
	d.retried = 0
	d.hasher.Reset()
	d.state = StateDownloading

	d.log.WithFields(fields).WithField("chunks", d.maxChunk+1).Info("download started")
	return []protocol.Message{
		protocol.NewReadyToDownloadResponse(d.cfg.chunkSize),
		protocol.NewChunkReq(0),
	}, nil
}

func (d *Downloader) onChunk(m protocol.ChunkResp) ([]protocol.Message, error) {
	valid := protocol.ValidChunkLength(d.download.Size, d.cfg.chunkSize, d.next)

	var problem string
	switch {
	case m.ChunkNumber != d.next:
		problem = "wrong chunk number"
	case !m.Valid():
		problem = "crc mismatch"
	case len(m.ChunkData) < valid:
		problem = "short chunk"
	}
	if problem != "" {
		d.retries++
		d.retried++
		entry := d.log.WithFields(logrus.Fields{
			"chunk":    d.next,
			"received": m.ChunkNumber,
			"attempt":  d.retries,
		})
		if d.retries > d.cfg.maxRetries {
			entry.Error(problem + ", giving up")
			return goodbye(protocol.ReasonAborted), d.abort()
		}
		entry.Warn(problem + ", requesting again")
		return []protocol.Message{protocol.NewChunkReq(d.next)}, nil
	}

	offset := uint32(protocol.ChunkOffset(d.next, d.cfg.chunkSize))
	data := m.ChunkData[:valid]
	if err := d.flash.Write(offset, data); err != nil {
		d.log.WithError(err).WithField("chunk", d.next).Error("flash write failed")
		if derr := d.abort(); derr != nil {
			d.log.WithError(derr).Error("discard failed")
		}
		return goodbye(protocol.ReasonAborted), fmt.Errorf("write chunk %d: %w", d.next, err)
	}
	d.hasher.Write(data)
	d.retries = 0

	d.log.WithFields(logrus.Fields{"chunk": d.next, "bytes": valid}).Trace("chunk written")

	if d.next < d.maxChunk {
		d.next++
		return []protocol.Message{protocol.NewChunkReq(d.next)}, nil
	}
	return d.finish()
}

func (d *Downloader) finish() ([]protocol.Message, error) {
	d.state = StateIdle
	sum := d.hasher.Sum(nil)

	if !bytes.Equal(sum, d.download.Hash[:]) {
		d.log.WithFields(logrus.Fields{
			"expected": d.download.Hash.String(),
			"actual":   fmt.Sprintf("%X", sum),
		}).Error("image hash mismatch")
		return goodbye(protocol.ReasonDownloadHashMismatch), d.flash.Discard()
	}

	if err := d.flash.MarkUpdated(d.download.Size); err != nil {
		d.log.WithError(err).Error("commit failed")
		return goodbye(protocol.ReasonAborted), fmt.Errorf("commit image: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"size":    d.download.Size,
		"version": d.download.Version.String(),
		"retries": d.retried,
	}).Info("image verified, installing")
	return goodbye(protocol.ReasonInstallingNewFirmware), nil
}

// abort drops the current download.
func (d *Downloader) abort() error {
	d.state = StateIdle
	d.retries = 0
	d.hasher.Reset()
	return d.flash.Discard()
}

func goodbye(reason protocol.GoodbyeReason) []protocol.Message {
	return []protocol.Message{protocol.NewGoodbye(reason)}
}

var discardLogger = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()
