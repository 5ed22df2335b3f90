package pipe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lumakit/udpcam/internal/store"
)

// ErrSourceGone reports that the encoder source left the stream
// (flushing or end-of-stream) without a shutdown being requested.
var ErrSourceGone = errors.New("encoder source left the stream")

// Pump samples the frame store at a fixed cadence and feeds the
// encoder source with timestamped buffers. It owns the presentation
// clock: strictly monotone, advanced by exactly one frame duration per
// successful push. A refused push keeps the clock in place so the
// stream never opens a permanent gap while downstream recovers.
type Pump struct {
	store *store.FrameStore
	src   Source

	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	eosOnce  sync.Once

	pts     time.Duration
	scratch []byte
}

func NewPump(st *store.FrameStore, src Source) *Pump {
	return &Pump{
		store: st,
		src:   src,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run ticks at the stream frame rate until Shutdown is called or the
// source terminates the stream. Ticks that fire while a previous push
// is still blocked downstream are coalesced by the ticker.
func (p *Pump) Run() error {
	p.started.Store(true)
	defer close(p.done)

	tick := time.NewTicker(FrameDuration)
	defer tick.Stop()

	for {
		select {
		case <-p.quit:
			return nil
		case <-tick.C:
			if p.tick() {
				continue
			}
			select {
			case <-p.quit:
				return nil
			default:
			}
			return ErrSourceGone
		}
	}
}

// tick runs one pump cycle. It reports false when the source has
// terminated and the pump must stop.
func (p *Pump) tick() bool {
	frame, gen := p.store.Snapshot(p.scratch)
	p.scratch = frame
	if gen == 0 {
		// Nothing captured yet. Submitting an empty buffer would only
		// confuse the encoder.
		return true
	}

	switch f := p.src.Push(frame, p.pts, FrameDuration); f {
	case FlowOK:
		p.pts += FrameDuration
		return true
	case FlowFlushing, FlowEOS:
		log.Info("source reports %v, pump stopping", f)
		return false
	default:
		log.Warn("frame dropped, push returned %v", f)
		return true
	}
}

// Shutdown disarms the pump, waits for the loop to park, and delivers
// end-of-stream to the source exactly once. Idempotent.
func (p *Pump) Shutdown() {
	p.stopOnce.Do(func() { close(p.quit) })
	if p.started.Load() {
		<-p.done
	}
	p.eosOnce.Do(p.src.EndStream)
}
