package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/protocol"
)

// pollInterval bounds how long Serve blocks in Read before checking ctx, for
// streams that support read deadlines.
const pollInterval = 100 * time.Millisecond

// Outcome summarizes a download that ended with a Goodbye.
type Outcome struct {
	Reason   protocol.GoodbyeReason
	Download Download
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Serve answers host frames read from rw until the Downloader sends a Goodbye,
// ctx is cancelled or rw fails. Malformed frames are skipped.
//
// Streams without read deadlines are expected to return (0, nil) from Read
// periodically, as serial ports with a read timeout do; otherwise
// cancellation is only noticed when data arrives.
func (d *Downloader) Serve(ctx context.Context, rw io.ReadWriter) (*Outcome, error) {
	var pending []byte
	buf := make([]byte, 4096)
	deadliner, _ := rw.(readDeadliner)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if deadliner != nil {
			if err := deadliner.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
				return nil, err
			}
		}
		n, err := rw.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("read: %w", err)
		}

		for len(pending) > 0 {
			used, msg, derr := protocol.DecodeFrame(pending)
			if _, more := protocol.IsContinuation(derr); more {
				break
			}
			pending = pending[used:]
			if derr != nil {
				d.log.WithError(derr).WithField("bytes", used).Warn("skipping malformed frame")
				continue
			}

			d.log.WithField("message", protocol.Name(msg)).Trace("received")
			replies, herr := d.Handle(msg)
			if err := d.send(rw, replies); err != nil {
				return nil, err
			}
			if herr != nil {
				return nil, herr
			}

			for _, r := range replies {
				if bye, ok := r.(protocol.Goodbye); ok {
					return &Outcome{Reason: bye.Reason, Download: d.download}, nil
				}
			}
		}
	}
}

func (d *Downloader) send(w io.Writer, msgs []protocol.Message) error {
	var out []byte
	for _, m := range msgs {
		var err error
		out, err = protocol.AppendFrame(out, m)
		if err != nil {
			return err
		}
		d.log.WithFields(logrus.Fields{"message": protocol.Name(m)}).Trace("sending")
	}
	if len(out) == 0 {
		return nil
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
