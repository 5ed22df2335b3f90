// Package camera owns the capture side of the transmitter: the
// interface to the camera subsystem, the buffer pool and request
// queue, and the driver that publishes completed frames into the
// frame store.
package camera

import (
	"fmt"

	"github.com/lumakit/udpcam/internal/logging"
)

var log = logging.DefaultLogger.WithTag("camera")

// Pixel layout of a negotiated stream.
type PixelFormat int

const (
	FormatInvalid PixelFormat = iota

	// Packed 32-bit XRGB, 4 bytes per pixel. Matches the GStreamer
	// BGRx caps format on little-endian hosts.
	FormatXRGB

	// Packed YUV 4:2:2, 2 bytes per pixel. Accepted from drivers that
	// cannot produce XRGB; the convert stage handles either.
	FormatYUYV
)

func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatXRGB:
		return 4
	case FormatYUYV:
		return 2
	}
	return 0
}

func (f PixelFormat) String() string {
	switch f {
	case FormatXRGB:
		return "XRGB"
	case FormatYUYV:
		return "YUYV"
	}
	return "invalid"
}

// Config is a negotiated stream descriptor. It is created once at
// startup, after validation, and immutable thereafter.
type Config struct {
	Format    PixelFormat
	Width     int
	Height    int
	Stride    int // bytes per row
	FrameRate int
	Planes    int // plane count of the negotiated layout
}

// FrameSize returns the size in bytes of one full frame.
func (c Config) FrameSize() int {
	return c.Stride * c.Height
}

func (c Config) String() string {
	return fmt.Sprintf("%dx%d %s (stride %d) @%dfps", c.Width, c.Height, c.Format, c.Stride, c.FrameRate)
}

// Outcome of a configuration negotiation.
type NegotiationStatus int

const (
	NegotiationValid NegotiationStatus = iota

	// The driver changed width, height or format to the nearest thing
	// it can do. The caller must accept the adjusted values.
	NegotiationAdjusted

	NegotiationInvalid
)

// Completion status of a capture request.
type RequestStatus int

const (
	RequestComplete RequestStatus = iota
	RequestCancelled
)

// FrameBuffer is one slot of the capture pool: a region addressable by
// the CPU and written directly by the camera hardware. Data covers the
// whole mapped length; the per-frame byte count arrives on the request.
type FrameBuffer struct {
	Data  []byte
	Index int
}

// Request is a reusable descriptor binding one pool buffer to the
// stream. Created once at startup, queued to the camera, completed by
// the subsystem's callback, and re-queued without reallocation.
type Request struct {
	Buffer    *FrameBuffer
	Status    RequestStatus
	BytesUsed int
}

// Camera is the handle to one acquired camera. Completion callbacks
// fire on a thread owned by the subsystem, at sensor rate, and must
// not block beyond a memory copy.
type Camera interface {
	// Negotiate validates the requested configuration against the
	// hardware. On NegotiationAdjusted the returned Config carries the
	// driver's substitute values.
	Negotiate(want Config) (Config, NegotiationStatus, error)

	// Allocate builds the pool of count mapped frame buffers.
	Allocate(count int) ([]*FrameBuffer, error)

	// OnComplete registers the completion callback. Must be called
	// before Start.
	OnComplete(fn func(*Request))

	// Queue submits a request for capture.
	Queue(r *Request) error

	Start() error

	// Stop transitions out of streaming and cancels in-flight
	// requests. It must be called before Free.
	Stop() error

	// Free releases the buffer pool.
	Free() error

	// Release gives the camera handle back to the subsystem.
	Release() error
}

// Subsystem models the opaque camera stack (manager startup plus
// acquisition of the first camera).
type Subsystem interface {
	Open() (Camera, error)
	Close() error
}
