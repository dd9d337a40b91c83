// Package bootloader implements the host side of the coaster firmware download.
//
// # Overview
//
// A transfer runs through four steps:
//   - Hello / HelloResp, checking the device is in bootloader mode
//   - ReadyToDownload, announcing the image size, version and Ascon-Hash256
//   - ReadyToDownloadResponse, where the device picks the chunk size
//   - ChunkReq / ChunkResp until the device says Goodbye
//
// The device drives the transfer: it requests chunks in whatever order it
// likes, retries chunks whose CRC did not match and decides when it is done.
//
// # Session
//
// Session is the protocol state machine with no I/O of its own. Callers feed
// it received bytes and take at most one outgoing frame after each feed. It
// suits transports that push data, such as a browser or a message bus:
//
//	sess, _ := bootloader.NewSession(image)
//	sess.Feed(nil) // queues Hello
//	frame, _ := sess.TakeOutgoing()
//
// The first Feed must be Feed(nil), and its Hello must be taken before any
// device bytes are fed. The same holds after every Feed: take the outgoing
// frame before feeding again.
//
// # Programmer
//
// Programmer runs a Session over any io.ReadWriter:
//
//	img, err := firmware.Load("coaster.bin.zst")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	prog := bootloader.New(port)
//	res, err := prog.Program(context.Background(), img)
//
// # Progress Tracking
//
// Track transfer progress with a callback:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Chunk %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentChunk, p.MaxChunks)
//	    }),
//	)
//
// # Configuration Options
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithLogger(logrus.StandardLogger()),
//	    bootloader.WithReadTimeout(5*time.Second),
//	    bootloader.WithStartupDelay(100*time.Millisecond),
//	    bootloader.WithChunkSize(1024),
//	)
//
// # Logging
//
// Logging uses logrus. Session and Programmer log the handshake at debug level
// and every frame at trace level, tagged with the session ID.
//
// # Error Handling
//
// Errors from a Session are terminal. The package provides sentinel errors for
// errors.Is and structured types for errors.As:
//   - DeviceModeError: device answered Hello outside the bootloader
//   - UnexpectedMessageError: message not valid in the current state
//   - ChunkOutOfRangeError: device requested data past the end of the image
//   - InvalidChunkSizeError: device asked for a chunk size the host cannot serve
//   - FramingError: malformed frame or codec failure
//   - TimeoutError: device stopped answering
//   - VerificationError: device reported a hash mismatch
//   - protocol.ProtocolError: device ended the transfer for another reason
package bootloader
