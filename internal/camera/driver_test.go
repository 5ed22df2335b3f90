package camera

import (
	"bytes"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumakit/udpcam/internal/store"
)

// fakeCamera scripts the subsystem side of the driver contract and
// records the order of lifecycle calls.
type fakeCamera struct {
	negotiated Config
	status     NegotiationStatus
	negErr     error

	allocErr error
	startErr error
	queueErr error
	mapped   int // bytes per pool buffer

	onComplete func(*Request)
	queued     []*Request
	calls      []string
	stopped    bool
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{
		negotiated: Config{Format: FormatXRGB, Width: 640, Height: 480, Stride: 2560, FrameRate: 30, Planes: 1},
		mapped:     2560 * 480,
	}
}

func (f *fakeCamera) Negotiate(want Config) (Config, NegotiationStatus, error) {
	f.calls = append(f.calls, "negotiate")
	return f.negotiated, f.status, f.negErr
}

func (f *fakeCamera) Allocate(count int) ([]*FrameBuffer, error) {
	f.calls = append(f.calls, "allocate")
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	bufs := make([]*FrameBuffer, count)
	for i := range bufs {
		bufs[i] = &FrameBuffer{Data: make([]byte, f.mapped), Index: i}
	}
	return bufs, nil
}

func (f *fakeCamera) OnComplete(fn func(*Request)) { f.onComplete = fn }

func (f *fakeCamera) Queue(r *Request) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	if f.stopped {
		return errors.New("camera not streaming")
	}
	f.queued = append(f.queued, r)
	return nil
}

func (f *fakeCamera) Start() error {
	f.calls = append(f.calls, "start")
	return f.startErr
}

func (f *fakeCamera) Stop() error {
	f.calls = append(f.calls, "stop")
	f.stopped = true
	return nil
}

func (f *fakeCamera) Free() error {
	f.calls = append(f.calls, "free")
	return nil
}

func (f *fakeCamera) Release() error {
	f.calls = append(f.calls, "release")
	return nil
}

// complete simulates the subsystem finishing the oldest queued request.
func (f *fakeCamera) complete(status RequestStatus, bytesUsed int) *Request {
	r := f.queued[0]
	f.queued = f.queued[1:]
	r.Status = status
	r.BytesUsed = bytesUsed
	f.onComplete(r)
	return r
}

func TestConfigureInvalid(t *testing.T) {
	cam := newFakeCamera()
	cam.status = NegotiationInvalid
	d := NewDriver(cam, store.New(), 0)

	_, err := d.Configure(Config{Width: 800, Height: 600})
	assert.Equal(t, ErrConfigInvalid, errors.Cause(err))
}

func TestConfigureAcceptsAdjusted(t *testing.T) {
	cam := newFakeCamera()
	cam.status = NegotiationAdjusted
	d := NewDriver(cam, store.New(), 0)

	got, err := d.Configure(Config{Format: FormatXRGB, Width: 800, Height: 600})
	require.NoError(t, err)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 480, got.Height)
	assert.Equal(t, got, d.Config())
}

func TestConfigureRejectsMultiPlane(t *testing.T) {
	cam := newFakeCamera()
	cam.negotiated.Planes = 2
	d := NewDriver(cam, store.New(), 0)

	_, err := d.Configure(Config{Format: FormatXRGB})
	assert.Equal(t, ErrConfigInvalid, errors.Cause(err))
}

func TestStartQueuesWholePool(t *testing.T) {
	cam := newFakeCamera()
	d := NewDriver(cam, store.New(), 5)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.Len(t, cam.queued, 5)
	assert.NotNil(t, cam.onComplete)
}

func TestStartAllocationFailure(t *testing.T) {
	cam := newFakeCamera()
	cam.allocErr = errors.New("out of CMA memory")
	d := NewDriver(cam, store.New(), 0)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)

	err = d.Start()
	assert.Equal(t, ErrAllocationFailed, errors.Cause(err))
}

func TestStartFailureFreesPool(t *testing.T) {
	cam := newFakeCamera()
	cam.startErr = errors.New("sensor fault")
	d := NewDriver(cam, store.New(), 0)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)

	err = d.Start()
	assert.Equal(t, ErrStartFailed, errors.Cause(err))
	assert.Equal(t, []string{"negotiate", "allocate", "start", "free"}, cam.calls)
}

func TestCompletionPublishesAndRequeues(t *testing.T) {
	cam := newFakeCamera()
	st := store.New()
	d := NewDriver(cam, st, 2)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	r := cam.queued[0]
	copy(r.Buffer.Data, []byte("frame-one"))
	cam.complete(RequestComplete, 9)

	out, gen := st.Snapshot(nil)
	assert.EqualValues(t, 1, gen)
	assert.Equal(t, []byte("frame-one"), out)

	// The same request descriptor went back on the queue.
	assert.Len(t, cam.queued, 2)
	assert.Same(t, r, cam.queued[1])
}

func TestCancelledCompletionIsSilent(t *testing.T) {
	cam := newFakeCamera()
	st := store.New()
	d := NewDriver(cam, st, 2)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	cam.complete(RequestCancelled, 0)
	_, gen := st.Snapshot(nil)
	assert.Zero(t, gen, "cancelled request must not publish")
	assert.Len(t, cam.queued, 2, "cancelled request is re-queued")
}

func TestOversizedBytesUsedIsClamped(t *testing.T) {
	cam := newFakeCamera()
	cam.mapped = 64
	st := store.New()
	d := NewDriver(cam, st, 1)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	var diag bytes.Buffer
	log.SetDestination(&diag)
	defer log.SetDestination(os.Stderr)

	cam.complete(RequestComplete, 64+16)

	out, gen := st.Snapshot(nil)
	assert.EqualValues(t, 1, gen)
	assert.Len(t, out, 64, "only the mapped length is published")
	assert.Contains(t, diag.String(), "larger than plane size")

	// Subsequent completions are unaffected.
	cam.complete(RequestComplete, 32)
	out, gen = st.Snapshot(out)
	assert.EqualValues(t, 2, gen)
	assert.Len(t, out, 32)
}

func TestStopOrderAndIdempotence(t *testing.T) {
	cam := newFakeCamera()
	d := NewDriver(cam, store.New(), 0)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	d.Stop()
	d.Stop()

	assert.Equal(t, []string{"negotiate", "allocate", "start", "stop", "free"}, cam.calls,
		"camera must stop exactly once, before the pool is freed")
}

func TestCompletedRequestDroppedWhenStopping(t *testing.T) {
	cam := newFakeCamera()
	st := store.New()
	d := NewDriver(cam, st, 1)
	_, err := d.Configure(Config{Format: FormatXRGB})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	// A frame completed just as the camera stops still publishes, but
	// its re-queue is dropped.
	r := cam.queued[0]
	cam.queued = nil
	cam.stopped = true
	r.Status = RequestComplete
	r.BytesUsed = 16
	cam.onComplete(r)

	_, gen := st.Snapshot(nil)
	assert.EqualValues(t, 1, gen)
	assert.Empty(t, cam.queued)
}
