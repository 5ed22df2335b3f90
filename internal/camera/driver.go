package camera

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lumakit/udpcam/internal/store"
)

// Startup-fatal error classes. Callers test with errors.Cause.
var (
	ErrConfigInvalid    = errors.New("camera configuration invalid")
	ErrAllocationFailed = errors.New("buffer allocation failed")
	ErrRequestBuild     = errors.New("request build failed")
	ErrStartFailed      = errors.New("camera start failed")
)

// DefaultPoolSize is the number of pre-allocated capture buffers. Four
// is enough to keep the sensor busy while one frame is being copied
// out.
const DefaultPoolSize = 4

// Driver runs the capture loop: it negotiates the stream, owns the
// buffer pool and requests, and publishes every completed frame into
// the frame store. It never touches the pipeline domain; the store is
// the only shared object.
type Driver struct {
	cam      Camera
	store    *store.FrameStore
	poolSize int

	cfg        Config
	configured bool

	mu       sync.Mutex
	running  bool
	requests []*Request
}

func NewDriver(cam Camera, st *store.FrameStore, poolSize int) *Driver {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Driver{cam: cam, store: st, poolSize: poolSize}
}

// Configure negotiates want against the hardware and freezes the
// result. Adjusted values from the driver are accepted as-is;
// multi-plane layouts are rejected here so the completion path can
// assume a single plane.
func (d *Driver) Configure(want Config) (Config, error) {
	got, status, err := d.cam.Negotiate(want)
	if err != nil {
		return Config{}, errors.Wrap(err, "negotiate")
	}
	switch status {
	case NegotiationInvalid:
		return Config{}, ErrConfigInvalid
	case NegotiationAdjusted:
		log.Info("configuration adjusted by driver: %v -> %v", want, got)
	}
	if got.Planes > 1 {
		return Config{}, errors.Wrapf(ErrConfigInvalid, "%d-plane layout not supported", got.Planes)
	}

	d.cfg = got
	d.configured = true
	return got, nil
}

// Config returns the negotiated configuration. Valid after Configure.
func (d *Driver) Config() Config {
	return d.cfg
}

// Start allocates the buffer pool, builds one request per buffer,
// wires the completion callback, starts the camera, and queues every
// request. On failure no partial resources are left behind.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		return ErrConfigInvalid
	}
	if d.running {
		return nil
	}

	bufs, err := d.cam.Allocate(d.poolSize)
	if err != nil {
		return errors.Wrap(ErrAllocationFailed, err.Error())
	}
	if len(bufs) == 0 {
		return errors.Wrap(ErrAllocationFailed, "empty buffer pool")
	}

	requests := make([]*Request, 0, len(bufs))
	for _, buf := range bufs {
		if buf == nil || buf.Data == nil {
			d.cam.Free()
			return errors.Wrapf(ErrRequestBuild, "unmapped buffer in pool")
		}
		requests = append(requests, &Request{Buffer: buf})
	}

	d.cam.OnComplete(d.completed)

	if err := d.cam.Start(); err != nil {
		d.cam.Free()
		return errors.Wrap(ErrStartFailed, err.Error())
	}

	// Mark running before queueing: completions may fire immediately.
	d.running = true
	d.requests = requests

	for _, r := range requests {
		if err := d.cam.Queue(r); err != nil {
			d.running = false
			d.requests = nil
			d.cam.Stop()
			d.cam.Free()
			return errors.Wrap(ErrStartFailed, err.Error())
		}
	}

	log.Info("capture started: %v, pool of %d buffers", d.cfg, len(requests))
	return nil
}

// Stop transitions the camera out of streaming, which cancels all
// in-flight requests, then frees the pool. The camera is always
// stopped before its buffers are released. Idempotent.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.running = false
	d.requests = nil

	if err := d.cam.Stop(); err != nil {
		log.Warn("camera stop: %v", err)
	}
	if err := d.cam.Free(); err != nil {
		log.Warn("buffer pool release: %v", err)
	}
	log.Debug("capture stopped")
}

// completed runs on the capture subsystem's thread for every finished
// request. Only a memory copy and a re-queue happen here.
func (d *Driver) completed(r *Request) {
	if r.Status != RequestComplete {
		// Cancellations during teardown are expected; re-queue is a
		// best-effort no-op once the camera is stopping.
		d.requeue(r)
		return
	}

	n := r.BytesUsed
	if max := len(r.Buffer.Data); n > max {
		log.Warn("payload size %d larger than plane size %d, clamping", n, max)
		n = max
	}
	d.store.Publish(r.Buffer.Data[:n])

	d.requeue(r)
}

func (d *Driver) requeue(r *Request) {
	r.Status = RequestComplete
	r.BytesUsed = 0
	if err := d.cam.Queue(r); err != nil {
		// Camera is stopping; the request is dropped and its buffer
		// will be released with the pool.
		log.Debug("request re-queue dropped: %v", err)
	}
}
