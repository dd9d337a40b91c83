package protocol

// ProtocolVersion is the coaster firmware update protocol revision implemented by this library.
const ProtocolVersion = "1.0"

// Frame structure constants.
const (
	// HeaderSize is the size of the big-endian length prefix in front of every payload
	HeaderSize = 2

	// MaxPayloadSize is the largest payload a 16-bit length prefix can describe
	MaxPayloadSize = 0xFFFF

	// MaxFrameSize is the largest possible frame: header plus maximum payload
	MaxFrameSize = HeaderSize + MaxPayloadSize

	// DefaultBufferSize is the receive/transmit buffer capacity used by sessions
	// when no other size is configured. It holds one ChunkResp frame with room to spare.
	DefaultBufferSize = 4096
)

// Transfer constants.
const (
	// ChunkSize is the fixed payload length of every ChunkResp, including the
	// final chunk which is zero-padded up to this length
	ChunkSize = 1024

	// HashSize is the length of the Ascon-Hash256 image digest
	HashSize = 32

	// CRCSize is the length of the little-endian CRC-32 carried by each chunk
	CRCSize = 4
)

// General message tags.
const (
	// TagHello asks the peer to identify its running firmware role
	TagHello uint8 = 0

	// TagHelloResp answers Hello with the system mode and version
	TagHelloResp uint8 = 1
)

// Bootloader message tags.
const (
	// TagReadyToDownload announces image size, version and hash
	TagReadyToDownload uint8 = 0

	// TagReadyToDownloadResponse carries the chunk size the device wants
	TagReadyToDownloadResponse uint8 = 1

	// TagChunkReq requests one chunk by number
	TagChunkReq uint8 = 2

	// TagChunkResp delivers one padded chunk and its CRC
	TagChunkResp uint8 = 3

	// TagGoodbye ends the transfer with a reason
	TagGoodbye uint8 = 4
)

// USB identifiers the coaster enumerates with in bootloader mode.
const (
	// USBVendorID is the pid.codes vendor ID used by the coaster
	USBVendorID = 0x1209

	// USBProductID is the product ID of the coaster bootloader
	USBProductID = 0x4004
)
