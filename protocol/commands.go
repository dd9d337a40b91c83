package protocol

import "fmt"

// NewHello constructs a Hello message.
func NewHello() Hello {
	return Hello{}
}

// NewHelloResp constructs the answer to Hello.
func NewHelloResp(mode SystemMode, version VersionNumber) HelloResp {
	return HelloResp{Mode: mode, Version: version}
}

// NewReadyToDownload constructs the download announcement for an image.
// The image must not exceed the 32-bit size field.
//
// Example:
//
//	msg, err := protocol.NewReadyToDownload(image, version, ascon.Sum256(image))
func NewReadyToDownload(image []byte, version VersionNumber, hash Hash) (ReadyToDownload, error) {
	if uint64(len(image)) > uint64(^uint32(0)) {
		return ReadyToDownload{}, fmt.Errorf("image is %d bytes, limit is %d", len(image), ^uint32(0))
	}
	return ReadyToDownload{
		ImageSizeBytes: uint32(len(image)),
		Version:        version,
		Hash:           hash,
	}, nil
}

// NewReadyToDownloadResponse constructs the device's chunk size answer.
func NewReadyToDownloadResponse(chunkSize uint32) ReadyToDownloadResponse {
	return ReadyToDownloadResponse{DesiredChunkSize: chunkSize}
}

// NewChunkReq constructs a request for chunk n.
func NewChunkReq(n uint32) ChunkReq {
	return ChunkReq{ChunkNumber: n}
}

// NewChunkResp builds the response for chunk n of image: the chunk is copied
// into a zero-padded buffer of payloadSize bytes and the CRC is computed over
// the whole padded buffer.
//
// Example:
//
//	resp, err := protocol.NewChunkResp(image, 1024, protocol.ChunkSize, 3)
//	if errors.Is(err, protocol.ErrChunkOutOfBounds) {
//	    // the device asked for data past the end of the image
//	}
func NewChunkResp(image []byte, chunkSize uint32, payloadSize int, n uint32) (ChunkResp, error) {
	data, _, err := ChunkData(image, chunkSize, payloadSize, n)
	if err != nil {
		return ChunkResp{}, err
	}
	return ChunkResp{
		ChunkNumber: n,
		ChunkData:   data,
		CRC:         CalculateCRC(data),
	}, nil
}

// NewGoodbye constructs a Goodbye with the given reason.
func NewGoodbye(reason GoodbyeReason) Goodbye {
	return Goodbye{Reason: reason}
}
