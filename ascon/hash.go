// Package ascon implements the Ascon-Hash256 hash function from NIST SP 800-232.
//
// The coaster identifies firmware images by their Ascon-Hash256 digest: the
// host announces it in ReadyToDownload and the bootloader recomputes it over
// the received chunks before activating the image.
//
//	sum := ascon.Sum256(image)
//
//	h := ascon.New()
//	h.Write(chunk)
//	digest := h.Sum(nil)
package ascon

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

const (
	// Size is the digest length in bytes.
	Size = 32

	// BlockSize is the rate of the sponge in bytes.
	BlockSize = 8
)

// iv is the Ascon-Hash256 initial value.
const iv = 0x0000080100cc0002

var roundConstants = [12]uint64{
	0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87, 0x78, 0x69, 0x5a, 0x4b,
}

type state [5]uint64

// permute applies the 12-round Ascon permutation.
func (s *state) permute() {
	x0, x1, x2, x3, x4 := s[0], s[1], s[2], s[3], s[4]
	for _, c := range roundConstants {
		// constant addition
		x2 ^= c

		// substitution layer
		x0 ^= x4
		x4 ^= x3
		x2 ^= x1
		t0 := ^x0 & x1
		t1 := ^x1 & x2
		t2 := ^x2 & x3
		t3 := ^x3 & x4
		t4 := ^x4 & x0
		x0 ^= t1
		x1 ^= t2
		x2 ^= t3
		x3 ^= t4
		x4 ^= t0
		x1 ^= x0
		x0 ^= x4
		x3 ^= x2
		x2 = ^x2

		// linear diffusion layer
		x0 ^= bits.RotateLeft64(x0, -19) ^ bits.RotateLeft64(x0, -28)
		x1 ^= bits.RotateLeft64(x1, -61) ^ bits.RotateLeft64(x1, -39)
		x2 ^= bits.RotateLeft64(x2, -1) ^ bits.RotateLeft64(x2, -6)
		x3 ^= bits.RotateLeft64(x3, -10) ^ bits.RotateLeft64(x3, -17)
		x4 ^= bits.RotateLeft64(x4, -7) ^ bits.RotateLeft64(x4, -41)
	}
	s[0], s[1], s[2], s[3], s[4] = x0, x1, x2, x3, x4
}

var initialState = func() state {
	s := state{iv}
	s.permute()
	return s
}()

// digest is a streaming Ascon-Hash256 computation.
type digest struct {
	s   state
	buf [BlockSize]byte
	n   int
}

// New returns a new hash.Hash computing Ascon-Hash256.
func New() hash.Hash {
	d := &digest{}
	d.Reset()
	return d
}

func (d *digest) Reset() {
	d.s = initialState
	d.n = 0
}

func (d *digest) Size() int      { return Size }
func (d *digest) BlockSize() int { return BlockSize }

func (d *digest) Write(p []byte) (int, error) {
	written := len(p)

	if d.n > 0 {
		c := copy(d.buf[d.n:], p)
		d.n += c
		p = p[c:]
		if d.n < BlockSize {
			return written, nil
		}
		d.absorb(d.buf[:])
		d.n = 0
	}

	for len(p) >= BlockSize {
		d.absorb(p[:BlockSize])
		p = p[BlockSize:]
	}

	d.n = copy(d.buf[:], p)
	return written, nil
}

func (d *digest) absorb(block []byte) {
	d.s[0] ^= binary.LittleEndian.Uint64(block)
	d.s.permute()
}

// Sum appends the digest to b without changing the running state.
func (d *digest) Sum(b []byte) []byte {
	out := d.checkSum()
	return append(b, out[:]...)
}

func (d *digest) checkSum() [Size]byte {
	s := d.s

	var last [BlockSize]byte
	copy(last[:], d.buf[:d.n])
	last[d.n] = 0x01
	s[0] ^= binary.LittleEndian.Uint64(last[:])
	s.permute()

	var out [Size]byte
	for i := 0; i < Size; i += BlockSize {
		if i > 0 {
			s.permute()
		}
		binary.LittleEndian.PutUint64(out[i:], s[0])
	}
	return out
}

// Sum256 returns the Ascon-Hash256 digest of data.
func Sum256(data []byte) [Size]byte {
	var d digest
	d.Reset()
	_, _ = d.Write(data)
	return d.checkSum()
}
