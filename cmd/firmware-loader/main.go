// Command firmware-loader downloads a firmware image to a coaster bootloader
// over a serial port.
//
// Usage:
//
//	firmware-loader [flags] <firmware-path>
//
// The firmware may be raw, gzip or zstd compressed; --format skips detection.
// Without --port the coaster is found by its USB vendor and product ID.
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
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/bootloader"
	"github.com/moffa90/go-smartcoaster/config"
	"github.com/moffa90/go-smartcoaster/firmware"
	"github.com/moffa90/go-smartcoaster/logging"
	"github.com/moffa90/go-smartcoaster/protocol"
	"github.com/moffa90/go-smartcoaster/transport"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var version = "dev"

type options struct {
	configPath   string
	port         string
	logLevel     string
	imageVersion string
	format       string
	baud         int
	timeout      time.Duration
	rate         int64
	listPorts    bool
	identify     bool
	showVersion  bool
	noProgress   bool

	firmwarePath string
	set          map[string]bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// parseArgs parses flags that may appear before or after the firmware path.
func parseArgs(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("firmware-loader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML or TOML config file.")
	fs.StringVar(&opts.port, "port", "", "Serial port of the coaster. Found by USB ID when empty.")
	fs.StringVar(&opts.logLevel, "log-level", logging.DefaultLevel, "Log level: OFF, ERROR, WARN, INFO, DEBUG or TRACE.")
	fs.StringVar(&opts.imageVersion, "image-version", "0.0.0", "Version announced for the image.")
	fs.StringVar(&opts.format, "format", "auto", "Firmware container: auto, raw, gzip or zstd.")
	fs.IntVar(&opts.baud, "baud", transport.DefaultBaudRate, "Baud rate.")
	fs.DurationVar(&opts.timeout, "timeout", transport.DefaultReadTimeout, "How long the coaster may stay silent.")
	fs.Int64Var(&opts.rate, "rate", 0, "Write rate limit in bytes per second, 0 for none.")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "List serial ports and exit.")
	fs.BoolVar(&opts.identify, "identify", false, "Print the coaster's mode and version and exit.")
	fs.BoolVar(&opts.showVersion, "version", false, "Print the program version and exit.")
	fs.BoolVar(&opts.noProgress, "no-progress", false, "Do not draw a progress bar.")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] <firmware-path>\n\nFlags:\n", fs.Name())
		fs.PrintDefaults()
	}

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fs, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	if len(positional) > 1 {
		return nil, fs, fmt.Errorf("expected one firmware path, got %d", len(positional))
	}
	if len(positional) == 1 {
		opts.firmwarePath = positional[0]
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, fs, nil
}

// loadConfig reads the config file, if any, and applies the flags given explicitly.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if opts.set["port"] {
		cfg.Port = opts.port
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.logLevel
	}
	if opts.set["image-version"] {
		cfg.ImageVersion = opts.imageVersion
	}
	if opts.set["baud"] {
		cfg.Baud = opts.baud
	}
	if opts.set["timeout"] {
		cfg.ReadTimeout = opts.timeout
	}
	if opts.set["rate"] {
		cfg.RateLimit = opts.rate
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, fs, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return exitUsage
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "firmware-loader %s (protocol %s)\n", version, protocol.ProtocolVersion)
		return exitOK
	}
	if opts.listPorts {
		return listPorts(stdout, stderr)
	}
	if opts.firmwarePath == "" && !opts.identify {
		fmt.Fprintln(stderr, "missing firmware path")
		fs.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		failf(stderr, "%v", err)
		return exitUsage
	}

	log, err := logging.New(cfg.LogLevel, stderr)
	if err != nil {
		failf(stderr, "%v", err)
		return exitUsage
	}

	var img *firmware.Image
	if !opts.identify {
		img, err = loadImage(opts.firmwarePath, opts.format, cfg)
		if err != nil {
			failf(stderr, "%v", err)
			return exitError
		}
		log.WithFields(logrus.Fields{
			"path":    img.Source,
			"format":  img.Format,
			"bytes":   len(img.Data),
			"version": img.Version.String(),
		}).Info("firmware loaded")
	}

	port, err := openPort(cfg, log)
	if err != nil {
		failf(stderr, "%v", err)
		return exitError
	}
	defer port.Close()

	rw := transport.NewPacedWriter(ctx, port, cfg.RateLimit)
	progOpts := []bootloader.Option{
		bootloader.WithLogger(log),
		bootloader.WithReadTimeout(cfg.ReadTimeout),
		bootloader.WithStartupDelay(cfg.StartupDelay),
		bootloader.WithBufferSize(cfg.BufferSize),
		bootloader.WithChunkSize(cfg.ChunkSize),
	}

	if opts.identify {
		resp, err := bootloader.New(rw, progOpts...).Identify(ctx)
		if err != nil {
			failf(stderr, "identify: %v", err)
			return exitError
		}
		fmt.Fprintf(stdout, "%s: %s %s\n", port.Name(), resp.Mode, resp.Version)
		return exitOK
	}

	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = newProgressBar(len(img.Data), stderr)
		progOpts = append(progOpts, bootloader.WithProgressCallback(func(p bootloader.Progress) {
			if p.Phase != bootloader.PhaseHandshake {
				_ = bar.Set(p.BytesSent)
			}
		}))
	}

	res, err := bootloader.New(rw, progOpts...).Program(ctx, img)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		failf(stderr, "download failed: %v", err)
		return exitError
	}

	color.New(color.FgGreen, color.Bold).Fprint(stdout, "OK ")
	fmt.Fprintf(stdout, "%d bytes in %d chunks of %d bytes, %s, coaster is installing %s\n",
		res.Bytes, res.Chunks, res.ChunkSize, res.Elapsed.Round(time.Millisecond), img.Version)
	return exitOK
}

func loadImage(path, format string, cfg *config.Config) (*firmware.Image, error) {
	f, err := firmware.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	img, err := firmware.LoadFormat(path, f, firmware.MaxImageSize)
	if err != nil {
		return nil, err
	}
	v, err := cfg.Version()
	if err != nil {
		return nil, err
	}
	img.Version = v
	return img, nil
}

func openPort(cfg *config.Config, log logrus.FieldLogger) (*transport.SerialPort, error) {
	name := cfg.Port
	if name == "" {
		info, err := transport.FindPort(cfg.USB.VID, cfg.USB.PID)
		if err != nil {
			return nil, fmt.Errorf("%w (use --port to pick one)", err)
		}
		log.WithField("port", info.String()).Info("found coaster")
		name = info.Name
	}

	port, err := transport.OpenSerial(transport.SerialConfig{
		Name:        name,
		BaudRate:    cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"port": name, "baud": cfg.Baud}).Debug("port opened")
	return port, nil
}

func listPorts(stdout, stderr io.Writer) int {
	ports, err := transport.ListPorts()
	if err != nil {
		failf(stderr, "%v", err)
		return exitError
	}
	if len(ports) == 0 {
		fmt.Fprintln(stdout, "no serial ports found")
		return exitOK
	}

	coaster := color.New(color.FgCyan)
	for _, p := range ports {
		if p.IsUSB && p.VID == protocol.USBVendorID && p.PID == protocol.USBProductID {
			coaster.Fprintln(stdout, p.String())
			continue
		}
		fmt.Fprintln(stdout, p.String())
	}
	return exitOK
}

func newProgressBar(size int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func failf(w io.Writer, format string, a ...any) {
	color.New(color.FgRed, color.Bold).Fprint(w, "error: ")
	fmt.Fprintf(w, format+"\n", a...)
}
