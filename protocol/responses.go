package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborMajorMap is the CBOR major type of maps.
const cborMajorMap = 5

// DecodeMessage decodes a CBOR payload (without length prefix) into a message.
//
// The two families share tag values, so the message type is resolved from the
// tag together with the exact set of body keys, which is unique per type:
//
//	tag 0: {}        Hello           {0,1,2} ReadyToDownload
//	tag 1: {0,1}     HelloResp       {0}     ReadyToDownloadResponse
//	tag 2: {0}       ChunkReq
//	tag 3: {0,1,2}   ChunkResp
//	tag 4: {0}       Goodbye
//
// Any other shape is rejected with an error wrapping ErrDecoding.
func DecodeMessage(payload []byte) (Message, error) {
	var env envelope
	if err := decMode.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDecoding, err)
	}

	keys, err := mapKeys(env.Body, -1)
	if err != nil {
		return nil, fmt.Errorf("%w: tag %d body: %v", ErrDecoding, env.Tag, err)
	}

	var m Message
	switch {
	case env.Tag == TagHello && keys == 0:
		m, err = decodeBody[Hello](env.Body, keys)
	case env.Tag == TagReadyToDownload && keys == 3:
		m, err = decodeBody[ReadyToDownload](env.Body, keys)
	case env.Tag == TagHelloResp && keys == 2:
		m, err = decodeBody[HelloResp](env.Body, keys)
	case env.Tag == TagReadyToDownloadResponse && keys == 1:
		m, err = decodeBody[ReadyToDownloadResponse](env.Body, keys)
	case env.Tag == TagChunkReq && keys == 1:
		m, err = decodeBody[ChunkReq](env.Body, keys)
	case env.Tag == TagChunkResp && keys == 3:
		m, err = decodeChunkResp(env.Body, keys)
	case env.Tag == TagGoodbye && keys == 1:
		m, err = decodeBody[Goodbye](env.Body, keys)
	default:
		return nil, fmt.Errorf("%w: no message with tag %d and %d fields", ErrDecoding, env.Tag, keys)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}

	return m, nil
}

// decodeBody checks that the body map uses exactly the keys 0..n-1, then
// decodes it into T.
func decodeBody[T Message](body cbor.RawMessage, n int) (T, error) {
	var m T
	if _, err := mapKeys(body, n); err != nil {
		return m, fmt.Errorf("%s: %w", Name(m), err)
	}
	if err := decMode.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("%s: %w", Name(m), err)
	}
	return m, nil
}

func decodeChunkResp(body cbor.RawMessage, n int) (ChunkResp, error) {
	m, err := decodeBody[ChunkResp](body, n)
	if err != nil {
		return m, err
	}
	if len(m.ChunkData) == 0 {
		return m, fmt.Errorf("ChunkResp: empty chunk data")
	}
	return m, nil
}

// mapKeys decodes data as an unsigned-integer keyed map and returns its size.
// With want >= 0 it also requires the keys to be exactly 0..want-1.
func mapKeys(data []byte, want int) (int, error) {
	if len(data) == 0 || data[0]>>5 != cborMajorMap {
		return 0, fmt.Errorf("expected a map")
	}

	var fields map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(data, &fields); err != nil {
		return 0, err
	}
	if want < 0 {
		return len(fields), nil
	}

	if len(fields) != want {
		return 0, fmt.Errorf("got %d fields, want %d", len(fields), want)
	}
	for k := 0; k < want; k++ {
		if _, ok := fields[uint64(k)]; !ok {
			return 0, fmt.Errorf("missing field %d", k)
		}
	}
	return want, nil
}

// unmarshalFixedBytes decodes a byte string that must be exactly len(dst) long.
func unmarshalFixedBytes(data []byte, dst []byte, field string) error {
	var b []byte
	if err := decMode.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s: got %d bytes, want %d", field, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
