// Package protocol implements the coaster firmware update protocol.
//
// This package provides the message model, the frame codec and the chunk
// transfer algorithm shared by the host (package bootloader) and the device
// (package device).
//
// # Protocol Overview
//
// Every message travels in a frame:
//
//	Frame:   [LEN_H][LEN_L][PAYLOAD...]
//	Payload: CBOR [tag, {0: field0, 1: field1, ...}]
//
// Where:
//   - LEN = 16-bit payload length (big-endian), not counting itself
//   - tag = message tag within its family
//   - fields are identified by small integer keys
//
// The exchange is strict request/response:
//
//	host                              device
//	Hello                    ->
//	                         <-       HelloResp{mode, version}
//	ReadyToDownload          ->
//	                         <-       ReadyToDownloadResponse{chunk size}
//	                         <-       ChunkReq{0}
//	ChunkResp{0, data, crc}  ->
//	                         ...
//	                         <-       Goodbye{reason}
//
// # Message Families
//
// General messages (Hello=0, HelloResp=1) are understood by every firmware
// role. Bootloader messages (ReadyToDownload=0, ReadyToDownloadResponse=1,
// ChunkReq=2, ChunkResp=3, Goodbye=4) drive the download. Tags overlap between
// families; DecodeMessage resolves the type from the tag and the body's key set.
//
// # Encoding and Decoding
//
//	frame, err := protocol.MarshalFrame(protocol.NewChunkReq(0))
//
//	n, msg, err := protocol.DecodeFrame(buf)
//	if need, ok := protocol.IsContinuation(err); ok {
//	    // read at least need bytes, then retry
//	}
//
// # Chunks
//
// A chunk is a chunkSize slice of the image copied into a zero-padded buffer
// of ChunkSize bytes. The CRC-32/ISO-HDLC of the padded buffer is sent
// little-endian alongside it:
//
//	resp, err := protocol.NewChunkResp(image, chunkSize, protocol.ChunkSize, n)
//	ok := resp.Valid()
//
// # Error Handling
//
// BufferTooSmallError from DecodeFrame means more bytes are needed. Errors
// wrapping ErrDecoding or ErrEncoding are fatal for the frame in question:
//
//	if errors.Is(err, protocol.ErrDecoding) {
//	    // drop the frame
//	}
package protocol
