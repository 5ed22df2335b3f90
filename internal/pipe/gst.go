package pipe

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/lumakit/udpcam/internal/camera"
)

// Options selects the destination and encoder tuning of the GStreamer
// graph.
type Options struct {
	Host    string
	Port    int
	Bitrate int // kbit/s, 0 keeps the encoder default
}

func (o Options) encodeChain() string {
	var b strings.Builder
	b.WriteString("appsrc name=camsrc is-live=true block=true format=time")
	b.WriteString(" ! videoconvert ! video/x-raw,format=I420")
	b.WriteString(" ! x264enc tune=zerolatency speed-preset=ultrafast")
	if o.Bitrate > 0 {
		fmt.Fprintf(&b, " bitrate=%d", o.Bitrate)
	}
	return b.String()
}

// GstSource drives one GStreamer pipeline fed through a named appsrc.
// Two graph shapes exist: the full graph packetizing and sending RTP
// itself, and a tap graph that stops after the encoder and hands
// H.264 access units to a callback.
type GstSource struct {
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink
}

// NewGstSource builds the full graph: convert, encode, RTP packetize
// with 1 s parameter-set re-insertion, UDP out.
func NewGstSource(opts Options) (*GstSource, error) {
	launch := fmt.Sprintf(
		"%s ! rtph264pay config-interval=1 pt=96 ! udpsink host=%s port=%d auto-multicast=false",
		opts.encodeChain(), opts.Host, opts.Port,
	)
	return newGstSource(launch, nil)
}

// NewGstTap builds the tap graph: the encoder's byte-stream output,
// aligned on access units, is delivered to onAccessUnit. The callback
// runs on a GStreamer streaming thread and receives a copy it owns.
func NewGstTap(opts Options, onAccessUnit func(au []byte)) (*GstSource, error) {
	launch := opts.encodeChain() +
		" ! video/x-h264,stream-format=byte-stream,alignment=au" +
		" ! appsink name=encsink sync=false"
	return newGstSource(launch, onAccessUnit)
}

func newGstSource(launch string, onAccessUnit func([]byte)) (*GstSource, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline parse")
	}

	elem, err := pipeline.GetElementByName("camsrc")
	if err != nil || elem == nil {
		pipeline.SetState(gst.StateNull)
		return nil, errors.New("appsrc camsrc not found in graph")
	}
	s := &GstSource{pipeline: pipeline, src: app.SrcFromElement(elem)}

	if onAccessUnit != nil {
		se, err := pipeline.GetElementByName("encsink")
		if err != nil || se == nil {
			pipeline.SetState(gst.StateNull)
			return nil, errors.New("appsink encsink not found in graph")
		}
		s.sink = app.SinkFromElement(se)
		s.sink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				sample := sink.PullSample()
				if sample == nil {
					return gst.FlowEOS
				}
				buffer := sample.GetBuffer()
				if buffer == nil {
					return gst.FlowError
				}
				mapped := buffer.Map(gst.MapRead)
				if mapped == nil {
					return gst.FlowError
				}
				au := make([]byte, len(mapped.Bytes()))
				copy(au, mapped.Bytes())
				buffer.Unmap()
				onAccessUnit(au)
				return gst.FlowOK
			},
		})
	}

	log.Debug("pipeline built: %s", launch)
	return s, nil
}

func capsFormat(f camera.PixelFormat) string {
	switch f {
	case camera.FormatXRGB:
		return "BGRx"
	case camera.FormatYUYV:
		return "YUY2"
	}
	return ""
}

// SetCaps announces the raw frame layout on the appsrc. Called with
// the negotiated camera configuration, after any driver adjustment,
// before Play.
func (s *GstSource) SetCaps(cfg camera.Config) error {
	format := capsFormat(cfg.Format)
	if format == "" {
		return errors.Errorf("no caps mapping for pixel format %v", cfg.Format)
	}
	rate := cfg.FrameRate
	if rate <= 0 {
		rate = FPS
	}
	str := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
		format, cfg.Width, cfg.Height, rate)
	caps := gst.NewCapsFromString(str)
	if caps == nil {
		return errors.Errorf("invalid caps %q", str)
	}
	if err := s.src.Element.SetProperty("caps", caps); err != nil {
		return errors.Wrap(err, "set caps")
	}
	log.Info("source caps: %s", str)
	return nil
}

func (s *GstSource) Play() error {
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return errors.Wrap(err, "pipeline to Playing")
	}
	return nil
}

func (s *GstSource) Push(data []byte, pts, duration time.Duration) Flow {
	buf := gst.NewBufferFromBytes(data)
	buf.SetPresentationTimestamp(pts)
	buf.SetDuration(duration)

	switch ret := s.src.PushBuffer(buf); ret {
	case gst.FlowOK:
		return FlowOK
	case gst.FlowFlushing:
		return FlowFlushing
	case gst.FlowEOS:
		return FlowEOS
	default:
		log.Debug("appsrc push: %v", ret)
		return FlowError
	}
}

func (s *GstSource) EndStream() {
	s.src.EndStream()
}

func (s *GstSource) Close() error {
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return errors.Wrap(err, "pipeline to Null")
	}
	return nil
}
