//go:build linux

package camera

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// V4L2Options selects and trims the capture device.
type V4L2Options struct {
	Path  string // device node, usually /dev/video0
	HFlip bool
	VFlip bool
}

// NewV4L2 returns the real capture subsystem, backed by a V4L2 device
// with memory-mapped streaming I/O.
func NewV4L2(opts V4L2Options) Subsystem {
	if opts.Path == "" {
		opts.Path = "/dev/video0"
	}
	return &v4l2Subsystem{opts: opts}
}

type v4l2Subsystem struct {
	opts V4L2Options
}

func (s *v4l2Subsystem) Open() (Camera, error) {
	fd, err := unix.Open(s.opts.Path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.opts.Path)
	}
	cam := &v4l2Camera{fd: fd, byIndex: make(map[int]*Request)}

	// Orientation controls are best-effort: not every sensor has them.
	if s.opts.HFlip {
		if err := cam.setControl(v4l2CidHflip, 1); err != nil {
			log.Warn("horizontal flip not supported: %v", err)
		}
	}
	if s.opts.VFlip {
		if err := cam.setControl(v4l2CidVflip, 1); err != nil {
			log.Warn("vertical flip not supported: %v", err)
		}
	}
	return cam, nil
}

func (s *v4l2Subsystem) Close() error {
	return nil
}

// v4l2Camera drives one /dev/video node. The dequeue goroutine it owns
// plays the role of the subsystem's completion thread: every DQBUF
// becomes a completion callback.
type v4l2Camera struct {
	fd int

	mu        sync.Mutex
	bufs      []*FrameBuffer
	byIndex   map[int]*Request
	streaming bool
	looping   bool
	done      chan struct{}

	onComplete func(*Request)
}

func (c *v4l2Camera) ioctl(request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(c.fd),
		uintptr(request),
		uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func (c *v4l2Camera) setControl(id uint32, value int32) error {
	ctrl := v4l2Control{id: id, value: value}
	return c.ioctl(vidiocSCtrl, unsafe.Pointer(&ctrl))
}

func pixelFormatToFourcc(f PixelFormat) uint32 {
	switch f {
	case FormatXRGB:
		return pixFmtXRGB32
	case FormatYUYV:
		return pixFmtYUYV
	}
	return 0
}

func fourccToPixelFormat(fcc uint32) PixelFormat {
	switch fcc {
	case pixFmtXRGB32:
		return FormatXRGB
	case pixFmtYUYV:
		return FormatYUYV
	}
	return FormatInvalid
}

// Negotiate maps the want/adjust contract onto VIDIOC_S_FMT, which
// rewrites the passed format with the nearest layout the hardware can
// produce.
func (c *v4l2Camera) Negotiate(want Config) (Config, NegotiationStatus, error) {
	fcc := pixelFormatToFourcc(want.Format)
	if fcc == 0 {
		fcc = pixFmtXRGB32
	}

	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	f.pix.width = uint32(want.Width)
	f.pix.height = uint32(want.Height)
	f.pix.pixelformat = fcc
	f.pix.field = v4l2FieldAny
	if err := c.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Config{}, NegotiationInvalid, errors.Wrap(err, "VIDIOC_S_FMT")
	}

	got := Config{
		Format:    fourccToPixelFormat(f.pix.pixelformat),
		Width:     int(f.pix.width),
		Height:    int(f.pix.height),
		Stride:    int(f.pix.bytesperline),
		FrameRate: want.FrameRate,
		Planes:    1,
	}
	if got.Format == FormatInvalid {
		log.Error("driver substituted unsupported pixel format %08x", f.pix.pixelformat)
		return Config{}, NegotiationInvalid, nil
	}
	if got.Stride == 0 {
		got.Stride = got.Width * got.Format.BytesPerPixel()
	}

	// Frame interval is advisory; UVC-class devices honour it, CSI
	// sensors often run at the mode's native rate.
	sp := v4l2Streamparm{typ: v4l2BufTypeVideoCapture}
	sp.capture.timeperframe = v4l2Fract{numerator: 1, denominator: uint32(want.FrameRate)}
	if err := c.ioctl(vidiocSParm, unsafe.Pointer(&sp)); err != nil {
		log.Debug("VIDIOC_S_PARM: %v", err)
	} else if d := sp.capture.timeperframe.denominator; d != 0 && sp.capture.timeperframe.numerator != 0 {
		got.FrameRate = int(d / sp.capture.timeperframe.numerator)
	}

	status := NegotiationValid
	if got.Width != want.Width || got.Height != want.Height || got.Format != want.Format {
		status = NegotiationAdjusted
	}
	return got, status, nil
}

func (c *v4l2Camera) Allocate(count int) ([]*FrameBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rb := v4l2Requestbuffers{
		count:  uint32(count),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := c.ioctl(vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return nil, errors.Wrap(err, "VIDIOC_REQBUFS")
	}
	if rb.count == 0 {
		return nil, errors.New("driver granted no buffers")
	}

	bufs := make([]*FrameBuffer, 0, rb.count)
	for i := 0; i < int(rb.count); i++ {
		qb := v4l2Buffer{
			index:  uint32(i),
			typ:    v4l2BufTypeVideoCapture,
			memory: v4l2MemoryMmap,
		}
		if err := c.ioctl(vidiocQuerybuf, unsafe.Pointer(&qb)); err != nil {
			c.freeLocked()
			return nil, errors.Wrapf(err, "VIDIOC_QUERYBUF %d", i)
		}
		offset := nativeEndian.Uint32(qb.m[0:4])
		data, err := unix.Mmap(
			c.fd,
			int64(offset),
			int(qb.length),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED,
		)
		if err != nil {
			c.freeLocked()
			return nil, errors.Wrapf(err, "mmap buffer %d", i)
		}
		bufs = append(bufs, &FrameBuffer{Data: data, Index: i})
	}
	c.bufs = bufs
	return bufs, nil
}

func (c *v4l2Camera) OnComplete(fn func(*Request)) {
	c.onComplete = fn
}

func (c *v4l2Camera) Queue(r *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bufs == nil {
		return errors.New("no buffer pool")
	}
	qbuf := v4l2Buffer{
		index:  uint32(r.Buffer.Index),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := c.ioctl(vidiocQbuf, unsafe.Pointer(&qbuf)); err != nil {
		return errors.Wrap(err, "VIDIOC_QBUF")
	}
	c.byIndex[r.Buffer.Index] = r

	// The dequeue loop starts with the first queued buffer. A blocking
	// DQBUF on an empty queue fails with EINVAL instead of waiting.
	if c.streaming && !c.looping {
		c.looping = true
		c.done = make(chan struct{})
		go c.dequeueLoop(c.done)
	}
	return nil
}

func (c *v4l2Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming {
		return nil
	}
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := c.ioctl(vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return errors.Wrap(err, "VIDIOC_STREAMON")
	}
	c.streaming = true
	return nil
}

// dequeueLoop blocks in DQBUF and delivers completions. STREAMOFF
// wakes any waiter with an error, which ends the loop.
func (c *v4l2Camera) dequeueLoop(done chan struct{}) {
	defer close(done)
	for {
		dq := v4l2Buffer{
			typ:    v4l2BufTypeVideoCapture,
			memory: v4l2MemoryMmap,
		}
		if err := c.ioctl(vidiocDqbuf, unsafe.Pointer(&dq)); err != nil {
			c.mu.Lock()
			streaming := c.streaming
			c.mu.Unlock()
			if streaming {
				log.Error("VIDIOC_DQBUF: %v", err)
			}
			return
		}

		c.mu.Lock()
		r := c.byIndex[int(dq.index)]
		delete(c.byIndex, int(dq.index))
		c.mu.Unlock()
		if r == nil {
			log.Warn("completion for unknown buffer index %d", dq.index)
			continue
		}

		r.Status = RequestComplete
		r.BytesUsed = int(dq.bytesused)
		if c.onComplete != nil {
			c.onComplete(r)
		}
	}
}

func (c *v4l2Camera) Stop() error {
	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		return nil
	}
	c.streaming = false
	c.looping = false
	done := c.done
	c.done = nil
	typ := uint32(v4l2BufTypeVideoCapture)
	err := c.ioctl(vidiocStreamoff, unsafe.Pointer(&typ))
	c.byIndex = make(map[int]*Request)
	c.mu.Unlock()

	// The dequeue goroutine must be gone before buffers are unmapped.
	if done != nil {
		<-done
	}
	if err != nil {
		return errors.Wrap(err, "VIDIOC_STREAMOFF")
	}
	return nil
}

func (c *v4l2Camera) Free() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeLocked()
}

func (c *v4l2Camera) freeLocked() error {
	for _, buf := range c.bufs {
		if err := unix.Munmap(buf.Data); err != nil {
			log.Warn("munmap buffer %d: %v", buf.Index, err)
		}
	}
	c.bufs = nil

	rb := v4l2Requestbuffers{
		count:  0,
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := c.ioctl(vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return errors.Wrap(err, "VIDIOC_REQBUFS(0)")
	}
	return nil
}

func (c *v4l2Camera) Release() error {
	return unix.Close(c.fd)
}
