// Command device-sim turns a serial port into a simulated coaster bootloader.
// Images it accepts are written to --out.
//
// Pair it with firmware-loader over a null-modem cable or a virtual port pair
// (socat -d -d pty,raw,echo=0 pty,raw,echo=0).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/device"
	"github.com/moffa90/go-smartcoaster/logging"
	"github.com/moffa90/go-smartcoaster/protocol"
	"github.com/moffa90/go-smartcoaster/transport"
)

type options struct {
	port       string
	out        string
	capacity   uint
	version    string
	chunkSize  uint
	maxRetries int
	logLevel   string
	once       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("device-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.port, "port", "", "Serial port to listen on.")
	fs.StringVar(&opts.out, "out", "coaster.bin", "File a verified image is written to.")
	fs.UintVar(&opts.capacity, "capacity", 512*1024, "Flash capacity in bytes.")
	fs.StringVar(&opts.version, "version", "0.1.0", "Bootloader version reported in HelloResp.")
	fs.UintVar(&opts.chunkSize, "chunk-size", protocol.ChunkSize, "Chunk size requested from the host.")
	fs.IntVar(&opts.maxRetries, "max-retries", device.DefaultMaxRetries, "Bad chunks in a row before aborting.")
	fs.StringVar(&opts.logLevel, "log-level", logging.DefaultLevel, "Log level: OFF, ERROR, WARN, INFO, DEBUG or TRACE.")
	fs.BoolVar(&opts.once, "once", false, "Exit after the first download.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.port == "" {
		return nil, errors.New("--port is required")
	}
	if opts.chunkSize == 0 || opts.chunkSize > protocol.ChunkSize {
		return nil, fmt.Errorf("--chunk-size must be between 1 and %d", protocol.ChunkSize)
	}
	if opts.capacity == 0 || uint64(opts.capacity) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("--capacity must be between 1 and %d", ^uint32(0))
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log, err := logging.New(opts.logLevel, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	version, err := protocol.ParseVersion(opts.version)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	port, err := transport.OpenSerial(transport.SerialConfig{
		Name:        opts.port,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.WithError(err).Error("cannot open port")
		return 1
	}
	defer port.Close()

	flash := device.NewFileFlash(opts.out, uint32(opts.capacity))
	dl := device.NewDownloader(flash,
		device.WithVersion(version),
		device.WithChunkSize(uint32(opts.chunkSize)),
		device.WithMaxRetries(opts.maxRetries),
		device.WithLogger(log),
	)

	log.WithFields(logrus.Fields{
		"port":     port.Name(),
		"capacity": opts.capacity,
		"version":  version.String(),
	}).Info("waiting for host")

	for {
		outcome, err := dl.Serve(ctx, port)
		if errors.Is(err, context.Canceled) {
			return 0
		}
		if err != nil {
			log.WithError(err).Error("download failed")
			return 1
		}

		report(stdout, outcome, flash.Path())
		if opts.once {
			if outcome.Reason != protocol.ReasonInstallingNewFirmware {
				return 1
			}
			return 0
		}
	}
}

func report(w io.Writer, o *device.Outcome, path string) {
	if o.Reason == protocol.ReasonInstallingNewFirmware {
		color.New(color.FgGreen, color.Bold).Fprint(w, "INSTALLED ")
		fmt.Fprintf(w, "%d bytes, version %s, written to %s\n", o.Download.Size, o.Download.Version, path)
		return
	}
	color.New(color.FgYellow, color.Bold).Fprint(w, "REJECTED ")
	fmt.Fprintf(w, "%s\n", o.Reason)
}
