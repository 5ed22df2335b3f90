// Package rtpout is the pure-Go RTP output path: H.264 access units
// from the encoder tap are packetized with pion/rtp and written to a
// UDP socket. It replaces the rtph264pay/udpsink tail of the pipeline
// when the go RTP stack is selected.
package rtpout

import (
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pkg/errors"

	"github.com/lumakit/udpcam/internal/logging"
	"github.com/lumakit/udpcam/internal/pipe"
)

var log = logging.DefaultLogger.WithTag("rtpout")

const (
	// mtu leaves headroom for IP/UDP headers on a 1500-byte link.
	mtu = 1200

	payloadType = 96
	clockRate   = 90000

	// samplesPerFrame is the RTP timestamp increment per access unit.
	samplesPerFrame = clockRate / pipe.FPS

	// paramInterval matches the pipeline's config-interval: parameter
	// sets are re-inserted ahead of an IDR at most this often, so late
	// joiners can pick up the stream.
	paramInterval = time.Second
)

// H.264 NAL unit types.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

// Sender packetizes byte-stream H.264 access units into RTP and
// writes one datagram per packet. WriteAccessUnit is called from the
// encoder tap's streaming thread.
type Sender struct {
	mu         sync.Mutex
	w          io.Writer
	conn       *net.UDPConn
	packetizer rtp.Packetizer

	sps, pps  []byte
	lastParam time.Time
	now       func() time.Time
}

// NewSender opens the UDP flow to host:port.
func NewSender(host string, port int) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "resolve destination")
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial destination")
	}
	s := newSender(conn)
	s.conn = conn
	log.Info("RTP flow open to %s", addr)
	return s, nil
}

func newSender(w io.Writer) *Sender {
	return &Sender{
		w: w,
		packetizer: rtp.NewPacketizer(
			mtu,
			payloadType,
			rand.Uint32(),
			&codecs.H264Payloader{},
			rtp.NewRandomSequencer(),
			clockRate,
		),
		now: time.Now,
	}
}

// WriteAccessUnit packetizes one access unit, re-inserting cached
// SPS/PPS ahead of IDR frames when they have not been on the wire for
// paramInterval. All packets of one access unit share a timestamp;
// the last carries the marker bit.
func (s *Sender) WriteAccessUnit(au []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.augment(au, s.now())

	for _, pkt := range s.packetizer.Packetize(stream, samplesPerFrame) {
		b, err := pkt.Marshal()
		if err != nil {
			return errors.Wrap(err, "marshal packet")
		}
		if _, err := s.w.Write(b); err != nil {
			return errors.Wrap(err, "send packet")
		}
	}
	return nil
}

// augment caches parameter sets seen in au and, when an IDR arrives
// with the cached sets stale, returns a stream with SPS and PPS
// prepended. Callers hold s.mu.
func (s *Sender) augment(au []byte, now time.Time) []byte {
	idr := false
	forEachNAL(au, func(nal []byte) {
		switch nal[0] & 0x1f {
		case nalSPS:
			s.sps = append(s.sps[:0], nal...)
			s.lastParam = now
		case nalPPS:
			s.pps = append(s.pps[:0], nal...)
			s.lastParam = now
		case nalIDR:
			idr = true
		}
	})

	if !idr || s.sps == nil || s.pps == nil {
		return au
	}
	if now.Sub(s.lastParam) < paramInterval {
		return au
	}

	s.lastParam = now
	out := make([]byte, 0, len(s.sps)+len(s.pps)+len(au)+8)
	out = append(out, 0, 0, 0, 1)
	out = append(out, s.sps...)
	out = append(out, 0, 0, 0, 1)
	out = append(out, s.pps...)
	out = append(out, au...)
	return out
}

func (s *Sender) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// forEachNAL walks the Annex B byte stream, calling fn with each NAL
// unit stripped of its start code. Both 3- and 4-byte start codes are
// accepted.
func forEachNAL(stream []byte, fn func(nal []byte)) {
	start := -1
	i := 0
	for i+2 < len(stream) {
		if stream[i] != 0 || stream[i+1] != 0 {
			i++
			continue
		}
		var next int
		switch {
		case stream[i+2] == 1:
			next = i + 3
		case i+3 < len(stream) && stream[i+2] == 0 && stream[i+3] == 1:
			next = i + 4
		default:
			i++
			continue
		}
		if start >= 0 && i > start {
			fn(stream[start:i])
		}
		start = next
		i = next
	}
	if start >= 0 && start < len(stream) {
		fn(stream[start:])
	}
}
