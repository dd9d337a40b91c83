package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor encode mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:   8,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor decode mode: %v", err))
	}
}

// envelope is the outer CBOR item of every payload: [tag, body].
type envelope struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	Body cbor.RawMessage
}

// EncodeMessage returns the CBOR payload for m without the length prefix.
func EncodeMessage(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrEncoding)
	}

	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrEncoding, Name(m), err)
	}

	payload, err := encMode.Marshal(envelope{Tag: m.Tag(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("%w: %s envelope: %v", ErrEncoding, Name(m), err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s payload is %d bytes, limit is %d",
			ErrEncoding, Name(m), len(payload), MaxPayloadSize)
	}

	return payload, nil
}

// EncodeFrame writes m as a length-prefixed frame into dst and returns the
// number of bytes written.
//
// Frame structure:
//
//	[LEN_H][LEN_L][CBOR PAYLOAD...]
//
// If dst cannot hold the whole frame nothing is written and a
// *BufferTooSmallError carrying the required size is returned.
func EncodeFrame(dst []byte, m Message) (int, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return 0, err
	}

	total := HeaderSize + len(payload)
	if len(dst) < total {
		return 0, &BufferTooSmallError{Needed: total}
	}

	binary.BigEndian.PutUint16(dst[:HeaderSize], uint16(len(payload)))
	copy(dst[HeaderSize:], payload)

	return total, nil
}

// AppendFrame appends the frame for m to dst.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return dst, err
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...), nil
}

// MarshalFrame returns a newly allocated frame for m.
//
// Example:
//
//	frame, err := protocol.MarshalFrame(protocol.ChunkReq{ChunkNumber: 3})
//	if err != nil {
//	    return err
//	}
//	_, err = port.Write(frame)
func MarshalFrame(m Message) ([]byte, error) {
	return AppendFrame(nil, m)
}

// DecodeFrame decodes the frame at the start of src.
//
// It returns the number of bytes the frame occupies and the decoded message.
// When src does not yet hold a complete frame the error is a
// *BufferTooSmallError with the number of bytes needed; callers should retry
// with more data. A complete frame whose payload does not match any message
// schema yields an error wrapping ErrDecoding; consumed still reports the frame
// length so a tolerant reader can skip it.
func DecodeFrame(src []byte) (int, Message, error) {
	if len(src) < HeaderSize {
		return 0, nil, &BufferTooSmallError{Needed: HeaderSize}
	}

	payloadLen := int(binary.BigEndian.Uint16(src[:HeaderSize]))
	total := HeaderSize + payloadLen
	if len(src) < total {
		return 0, nil, &BufferTooSmallError{Needed: total}
	}

	m, err := DecodeMessage(src[HeaderSize:total])
	if err != nil {
		return total, nil, err
	}

	return total, m, nil
}

// FrameLength reports the total length of the frame at the start of src, or
// false if the length prefix has not arrived yet.
func FrameLength(src []byte) (int, bool) {
	if len(src) < HeaderSize {
		return 0, false
	}
	return HeaderSize + int(binary.BigEndian.Uint16(src[:HeaderSize])), true
}
