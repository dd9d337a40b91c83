package bootloader

// rxBuffer is a fixed-capacity byte queue. Bytes are appended at the back and
// consumed from the front; the unread region is always contiguous so a frame
// can be decoded in place.
type rxBuffer struct {
	buf   []byte
	start int
	end   int
}

func newRxBuffer(capacity int) *rxBuffer {
	return &rxBuffer{buf: make([]byte, capacity)}
}

// Len returns the number of unread bytes.
func (r *rxBuffer) Len() int { return r.end - r.start }

// Cap returns the fixed capacity.
func (r *rxBuffer) Cap() int { return len(r.buf) }

// Free returns how many more bytes fit.
func (r *rxBuffer) Free() int { return r.Cap() - r.Len() }

// Write appends p entirely or not at all.
func (r *rxBuffer) Write(p []byte) bool {
	if len(p) > r.Free() {
		return false
	}
	if r.end+len(p) > len(r.buf) {
		r.end = copy(r.buf, r.buf[r.start:r.end])
		r.start = 0
	}
	r.end += copy(r.buf[r.end:], p)
	return true
}

// Bytes returns the unread bytes. The slice is only valid until the next Write or Consume.
func (r *rxBuffer) Bytes() []byte { return r.buf[r.start:r.end] }

// Consume drops n bytes from the front.
func (r *rxBuffer) Consume(n int) {
	r.start += min(n, r.Len())
	if r.start == r.end {
		r.start, r.end = 0, 0
	}
}
