// Package device implements the coaster side of the firmware download.
//
// A Downloader answers Hello, accepts a ReadyToDownload announcement when the
// image fits its Flash, then requests chunks in order. Chunks with the wrong
// number or a bad CRC are requested again up to a retry limit. Once the last
// chunk is written the Ascon-Hash256 of the received image is compared with the
// announced hash: a match commits the image and says Goodbye with
// ReasonInstallingNewFirmware, a mismatch discards it.
//
// Serve runs a Downloader over a byte stream; cmd/device-sim uses it to turn a
// serial port into a simulated coaster.
package device
