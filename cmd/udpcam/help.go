package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/lumakit/udpcam/internal/camera"
)

var (
	flagDevice   string
	flagGeometry string
	flagBitrate  int
	flagBuffers  int
	flagRTPStack string
	flagHFlip    bool
	flagVFlip    bool
	flagHelp     bool
	flagVersion  bool
)

func init() {
	flag.StringVarP(&flagDevice, "device", "d", "/dev/video0", "Capture device")
	flag.StringVarP(&flagGeometry, "geometry", "g", "800x600", "Capture frame size, WxH")
	flag.IntVarP(&flagBitrate, "bitrate", "b", 0, "Encoder bitrate in kbit/s")
	flag.IntVarP(&flagBuffers, "buffers", "n", camera.DefaultPoolSize, "Capture buffer pool size")
	flag.StringVarP(&flagRTPStack, "rtp-stack", "r", "gst", "RTP packetizer")
	flag.BoolVarP(&flagHFlip, "hflip", "", false, "Flip video horizontally")
	flag.BoolVarP(&flagVFlip, "vflip", "", false, "Flip video vertically")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Live camera to RTP/H.264 over UDP transmitter

Usage: udpcam [OPTION]... DESTINATION-IP PORT

Positional arguments:
  DESTINATION-IP         IPv4 or IPv6 literal of the receiving host
  PORT                   UDP destination port (1-65535)

Capture:
  -d, --device=FILE      Capture device (default: /dev/video0)
  -g, --geometry=WxH     Capture frame size (default: 800x600)
  -n, --buffers=NUM      Capture buffer pool size, 2 to 8 (default: 4)
      --hflip            Flip video horizontally
      --vflip            Flip video vertically

Encoding and output:
  -b, --bitrate=NUM      Fixed encoder bitrate, in kbit/s
                           (default: encoder's own choice)
  -r, --rtp-stack=NAME   RTP packetizer: "gst" for the pipeline's own,
                           "go" for the built-in stack (default: gst)

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

The stream is raw RTP (payload type 96), no RTCP and no session
control. Receive it with any RTP-capable player, e.g.
  gst-launch-1.0 udpsrc port=PORT caps="application/x-rtp" ! \
    rtph264depay ! avdec_h264 ! autovideosink`

// Help information is printed and program exits
func help() {
	color.New(color.FgCyan).Println("udpcam")
	fmt.Println(helpString)
}

// Version information is printed and program exits
func version() {
	fmt.Println("udpcam", buildVersion)
}
