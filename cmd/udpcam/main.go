package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lumakit/udpcam/internal/camera"
	"github.com/lumakit/udpcam/internal/lifecycle"
	"github.com/lumakit/udpcam/internal/logging"
	"github.com/lumakit/udpcam/internal/pipe"
	"github.com/lumakit/udpcam/internal/rtpout"
)

// Populated via -ldflags="-X main.buildVersion=...".
var buildVersion = "dev"

var log = logging.DefaultLogger.WithTag("main")

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(exitOK)
	}
	if flagVersion {
		version()
		os.Exit(exitOK)
	}

	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: udpcam [OPTION]... DESTINATION-IP PORT")
		fmt.Fprintln(os.Stderr, "Try 'udpcam --help' for more information.")
		return exitFailure
	}

	host := args[0]
	if net.ParseIP(host) == nil {
		fmt.Fprintf(os.Stderr, "udpcam: destination %q is not an IP literal\n", host)
		return exitFailure
	}
	port, err := parsePort(args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "udpcam:", err)
		return exitFailure
	}
	width, height, err := parseGeometry(flagGeometry)
	if err != nil {
		fmt.Fprintln(os.Stderr, "udpcam:", err)
		return exitFailure
	}
	if err := checkPoolSize(flagBuffers); err != nil {
		fmt.Fprintln(os.Stderr, "udpcam:", err)
		return exitFailure
	}

	gstOpts := pipe.Options{Host: host, Port: port, Bitrate: flagBitrate}

	var sender *rtpout.Sender
	var newBackend func() (pipe.Backend, error)
	switch flagRTPStack {
	case "gst":
		newBackend = func() (pipe.Backend, error) {
			return pipe.NewGstSource(gstOpts)
		}
	case "go":
		newBackend = func() (pipe.Backend, error) {
			s, err := rtpout.NewSender(host, port)
			if err != nil {
				return nil, err
			}
			sender = s
			return pipe.NewGstTap(gstOpts, func(au []byte) {
				if err := s.WriteAccessUnit(au); err != nil {
					log.Warn("access unit lost: %v", err)
				}
			})
		}
	default:
		fmt.Fprintf(os.Stderr, "udpcam: unknown RTP stack %q, expected gst or go\n", flagRTPStack)
		return exitFailure
	}

	ctrl := lifecycle.New(lifecycle.Options{
		Subsystem: camera.NewV4L2(camera.V4L2Options{
			Path:  flagDevice,
			HFlip: flagHFlip,
			VFlip: flagVFlip,
		}),
		NewBackend: newBackend,
		Want: camera.Config{
			Format:    camera.FormatXRGB,
			Width:     width,
			Height:    height,
			FrameRate: pipe.FPS,
		},
		PoolSize: flagBuffers,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	color.Green("streaming to %s, interrupt to stop", net.JoinHostPort(host, args[1]))

	err = ctrl.Run(sig)
	if sender != nil {
		sender.Close()
	}

	switch errors.Cause(err) {
	case nil:
		return exitOK
	case lifecycle.ErrInterrupted:
		return exitInterrupted
	default:
		fmt.Fprintln(os.Stderr, "udpcam:", err)
		return exitFailure
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, errors.Errorf("port %q must be a number between 1 and 65535", s)
	}
	return port, nil
}

func parseGeometry(s string) (width, height int, err error) {
	if n, err := fmt.Sscanf(s, "%dx%d", &width, &height); n != 2 || err != nil {
		return 0, 0, errors.Errorf("bad geometry %q, expected WxH", s)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, errors.Errorf("bad geometry %q, dimensions must be positive", s)
	}
	return width, height, nil
}

func checkPoolSize(n int) error {
	if n < 2 || n > 8 {
		return errors.Errorf("buffer pool size %d out of range 2-8", n)
	}
	return nil
}
