package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Family groups message tags. Tags are only unique within a family.
type Family uint8

const (
	// FamilyGeneral holds messages every firmware role understands (Hello, HelloResp)
	FamilyGeneral Family = iota

	// FamilyBootloader holds the firmware download messages
	FamilyBootloader
)

func (f Family) String() string {
	switch f {
	case FamilyGeneral:
		return "general"
	case FamilyBootloader:
		return "bootloader"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Message is implemented by every protocol message.
type Message interface {
	// Family returns the message family the tag belongs to
	Family() Family

	// Tag returns the message tag within its family
	Tag() uint8
}

// SystemMode identifies which firmware role answered a Hello.
type SystemMode uint8

const (
	// ModeBootloader is reported by the bootloader, the only role that accepts downloads
	ModeBootloader SystemMode = 0

	// ModeApplication is reported by the drink-monitoring application
	ModeApplication SystemMode = 1
)

func (m SystemMode) String() string {
	switch m {
	case ModeBootloader:
		return "bootloader"
	case ModeApplication:
		return "application"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// UnmarshalCBOR rejects unknown modes.
func (m *SystemMode) UnmarshalCBOR(data []byte) error {
	var v uint8
	if err := decMode.Unmarshal(data, &v); err != nil {
		return err
	}
	if SystemMode(v) > ModeApplication {
		return fmt.Errorf("unknown system mode %d", v)
	}
	*m = SystemMode(v)
	return nil
}

// GoodbyeReason tells the host why the device ended the transfer.
type GoodbyeReason uint8

const (
	// ReasonInstallingNewFirmware means the image verified and will be activated
	ReasonInstallingNewFirmware GoodbyeReason = 0

	// ReasonDownloadHashMismatch means the assembled image did not match the announced hash
	ReasonDownloadHashMismatch GoodbyeReason = 1

	// ReasonAborted means the device gave up, e.g. after repeated chunk failures
	ReasonAborted GoodbyeReason = 2
)

func (r GoodbyeReason) String() string {
	switch r {
	case ReasonInstallingNewFirmware:
		return "installing new firmware"
	case ReasonDownloadHashMismatch:
		return "download hash mismatch"
	case ReasonAborted:
		return "aborted"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// UnmarshalCBOR rejects unknown reasons.
func (r *GoodbyeReason) UnmarshalCBOR(data []byte) error {
	var v uint8
	if err := decMode.Unmarshal(data, &v); err != nil {
		return err
	}
	if GoodbyeReason(v) > ReasonAborted {
		return fmt.Errorf("unknown goodbye reason %d", v)
	}
	*r = GoodbyeReason(v)
	return nil
}

// VersionNumber is a semantic version triple.
type VersionNumber struct {
	Major uint16 `cbor:"0,keyasint"`
	Minor uint16 `cbor:"1,keyasint"`
	Patch uint16 `cbor:"2,keyasint"`
}

func (v VersionNumber) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// UnmarshalCBOR requires exactly the three version keys.
func (v *VersionNumber) UnmarshalCBOR(data []byte) error {
	if _, err := mapKeys(data, 3); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	type plain VersionNumber
	return decMode.Unmarshal(data, (*plain)(v))
}

// ParseVersion parses "major.minor.patch". Missing trailing parts default to zero,
// so "2" and "2.1" are accepted.
//
// Example:
//
//	v, err := protocol.ParseVersion("1.4.0")
func ParseVersion(s string) (VersionNumber, error) {
	var v VersionNumber
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return v, fmt.Errorf("empty version")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return v, fmt.Errorf("invalid version %q: too many components", s)
	}

	fields := []*uint16{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return VersionNumber{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		*fields[i] = uint16(n)
	}
	return v, nil
}

// Hash is an Ascon-Hash256 digest.
type Hash [HashSize]byte

// UnmarshalCBOR requires a byte string of exactly HashSize bytes.
func (h *Hash) UnmarshalCBOR(data []byte) error {
	return unmarshalFixedBytes(data, h[:], "hash")
}

func (h Hash) String() string {
	return fmt.Sprintf("%X", h[:])
}

// CRC32 is a little-endian CRC-32/ISO-HDLC value.
type CRC32 [CRCSize]byte

// UnmarshalCBOR requires a byte string of exactly CRCSize bytes.
func (c *CRC32) UnmarshalCBOR(data []byte) error {
	return unmarshalFixedBytes(data, c[:], "crc32")
}

// Hello asks the peer to identify itself.
type Hello struct{}

func (Hello) Family() Family { return FamilyGeneral }
func (Hello) Tag() uint8     { return TagHello }

// HelloResp reports the system mode and firmware version of the responder.
type HelloResp struct {
	Mode    SystemMode    `cbor:"0,keyasint"`
	Version VersionNumber `cbor:"1,keyasint"`
}

func (HelloResp) Family() Family { return FamilyGeneral }
func (HelloResp) Tag() uint8     { return TagHelloResp }

// ReadyToDownload announces the image the host is about to transfer.
type ReadyToDownload struct {
	ImageSizeBytes uint32        `cbor:"0,keyasint"`
	Version        VersionNumber `cbor:"1,keyasint"`
	Hash           Hash          `cbor:"2,keyasint"`
}

func (ReadyToDownload) Family() Family { return FamilyBootloader }
func (ReadyToDownload) Tag() uint8     { return TagReadyToDownload }

// ReadyToDownloadResponse tells the host which chunk size the device will request.
type ReadyToDownloadResponse struct {
	DesiredChunkSize uint32 `cbor:"0,keyasint"`
}

func (ReadyToDownloadResponse) Family() Family { return FamilyBootloader }
func (ReadyToDownloadResponse) Tag() uint8     { return TagReadyToDownloadResponse }

// ChunkReq requests one chunk by zero-based number.
type ChunkReq struct {
	ChunkNumber uint32 `cbor:"0,keyasint"`
}

func (ChunkReq) Family() Family { return FamilyBootloader }
func (ChunkReq) Tag() uint8     { return TagChunkReq }

// ChunkResp carries one zero-padded chunk and the CRC over the padded buffer.
type ChunkResp struct {
	ChunkNumber uint32 `cbor:"0,keyasint"`
	ChunkData   []byte `cbor:"1,keyasint"`
	CRC         CRC32  `cbor:"2,keyasint"`
}

func (ChunkResp) Family() Family { return FamilyBootloader }
func (ChunkResp) Tag() uint8     { return TagChunkResp }

// Goodbye ends a transfer.
type Goodbye struct {
	Reason GoodbyeReason `cbor:"0,keyasint"`
}

func (Goodbye) Family() Family { return FamilyBootloader }
func (Goodbye) Tag() uint8     { return TagGoodbye }

// Name returns a short human readable name for a message, used in logs and errors.
func Name(m Message) string {
	switch m.(type) {
	case Hello:
		return "Hello"
	case HelloResp:
		return "HelloResp"
	case ReadyToDownload:
		return "ReadyToDownload"
	case ReadyToDownloadResponse:
		return "ReadyToDownloadResponse"
	case ChunkReq:
		return "ChunkReq"
	case ChunkResp:
		return "ChunkResp"
	case Goodbye:
		return "Goodbye"
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%s/%d", m.Family(), m.Tag())
	}
}
