// Package pipe owns the encoding side of the transmitter: the encoder
// source abstraction, the fixed-cadence pump that feeds it from the
// frame store, and the GStreamer backend that encodes and ships RTP.
package pipe

import (
	"time"

	"github.com/lumakit/udpcam/internal/camera"
	"github.com/lumakit/udpcam/internal/logging"
)

var log = logging.DefaultLogger.WithTag("pipe")

// FPS is the target frame rate of the outgoing stream.
const FPS = 30

// FrameDuration is the presentation duration of one frame.
const FrameDuration = time.Second / FPS

// Flow is the result of submitting one buffer to an encoder source.
type Flow int

const (
	FlowOK Flow = iota

	// The source is flushing, usually because the pipeline is leaving
	// the Playing state. No further buffers will be accepted.
	FlowFlushing

	// End-of-stream has already been delivered downstream.
	FlowEOS

	// Any other downstream refusal. Transient as far as the pump is
	// concerned.
	FlowError
)

func (f Flow) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	}
	return "error"
}

// Source accepts timestamped raw frames on their way to the encoder.
// Push may block on downstream backpressure. EndStream must be safe to
// call after any Flow result.
type Source interface {
	// SetCaps fixes the raw video format the source will announce. Must
	// be called with the negotiated camera configuration before the
	// pipeline starts.
	SetCaps(cfg camera.Config) error

	Push(data []byte, pts, duration time.Duration) Flow

	EndStream()
}

// Backend is the full lifecycle surface of an encoder source: the pump
// contract plus pipeline state management for the controller.
type Backend interface {
	Source

	// Play transitions the pipeline to its running state. SetCaps must
	// have been called first.
	Play() error

	// Close tears the pipeline down. Safe after a failed Play.
	Close() error
}
