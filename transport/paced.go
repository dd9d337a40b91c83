package transport

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps a single reservation. One full chunk frame fits.
const maxBurstSize = 4096

// PacedWriter is an io.ReadWriter whose writes are limited to a byte rate with
// a token bucket. Reads pass through.
type PacedWriter struct {
	rw      io.ReadWriter
	limiter *rate.Limiter
	ctx     context.Context
}

// NewPacedWriter wraps rw so that writes do not exceed bytesPerSec.
// If bytesPerSec <= 0, rw is returned unchanged.
func NewPacedWriter(ctx context.Context, rw io.ReadWriter, bytesPerSec int64) io.ReadWriter {
	if bytesPerSec <= 0 {
		return rw
	}

	burst := int(min(bytesPerSec, maxBurstSize))
	return &PacedWriter{
		rw:      rw,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (pw *PacedWriter) Read(p []byte) (int, error) {
	return pw.rw.Read(p)
}

// Write splits p into pieces no larger than the burst and waits for tokens
// before each one.
func (pw *PacedWriter) Write(p []byte) (int, error) {
	total := 0

	for len(p) > 0 {
		n := min(len(p), pw.limiter.Burst())
		if err := pw.limiter.WaitN(pw.ctx, n); err != nil {
			return total, err
		}

		written, err := pw.rw.Write(p[:n])
		total += written
		if err != nil {
			return total, err
		}
		p = p[written:]
	}

	return total, nil
}

// Close closes the wrapped stream if it is an io.Closer.
func (pw *PacedWriter) Close() error {
	if c, ok := pw.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
