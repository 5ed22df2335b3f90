// Package lifecycle sequences the transmitter: ordered startup across
// the capture and pipeline subsystems, the steady-state run loop, and
// signal-driven teardown that unwinds startup in reverse.
package lifecycle

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lumakit/udpcam/internal/camera"
	"github.com/lumakit/udpcam/internal/logging"
	"github.com/lumakit/udpcam/internal/pipe"
	"github.com/lumakit/udpcam/internal/store"
)

var log = logging.DefaultLogger.WithTag("lifecycle")

// ErrInterrupted reports a shutdown forced by an operator signal. The
// process maps it to exit code 130.
var ErrInterrupted = errors.New("interrupted by signal")

// State of the controller.
type State int

const (
	Unconfigured State = iota
	Configured
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Options wires the controller to its collaborators. NewBackend defers
// pipeline construction until the camera is up, so a camera failure
// never leaves a half-built graph behind.
type Options struct {
	Subsystem  camera.Subsystem
	NewBackend func() (pipe.Backend, error)
	Want       camera.Config
	PoolSize   int

	// Store may be supplied for tests; Run creates one when nil.
	Store *store.FrameStore
}

// Controller owns the startup/teardown ordering. Teardown steps are
// pushed onto a stack as their setup step succeeds and popped in
// reverse, so a failure at any point releases exactly what was
// acquired. The camera is always stopped before its buffers go away.
type Controller struct {
	opts Options

	mu    sync.Mutex
	state State

	interrupted atomic.Bool
	pump        *pipe.Pump
	teardown    []func()
}

func New(opts Options) *Controller {
	if opts.Store == nil {
		opts.Store = store.New()
	}
	return &Controller{opts: opts}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	log.Debug("state %v -> %v", c.state, s)
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) push(fn func()) {
	c.teardown = append(c.teardown, fn)
}

func (c *Controller) unwind() {
	for i := len(c.teardown) - 1; i >= 0; i-- {
		c.teardown[i]()
	}
	c.teardown = nil
}

// Run brings the transmitter up, blocks until an operator signal or a
// fatal stream error, and tears everything down. It returns nil on a
// clean end of stream, ErrInterrupted on signal, and the underlying
// error on startup failure.
func (c *Controller) Run(sig <-chan os.Signal) error {
	if err := c.start(); err != nil {
		c.setState(Stopping)
		c.unwind()
		c.setState(Unconfigured)
		return err
	}
	c.setState(Running)

	pumpDone := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(pumpDone)
		return c.pump.Run()
	})
	g.Go(func() error {
		select {
		case s := <-sig:
			log.Info("received %v, shutting down", s)
			c.interrupted.Store(true)
			c.pump.Shutdown()
		case <-pumpDone:
		}
		return nil
	})
	err := g.Wait()

	c.setState(Stopping)
	// Covers the path where the pump stopped on its own: the stream
	// still gets its single end-of-stream before the graph is torn
	// down.
	c.pump.Shutdown()
	c.unwind()
	c.setState(Unconfigured)

	if c.interrupted.Load() {
		return ErrInterrupted
	}
	return err
}

// start acquires resources in dependency order, arming the teardown
// stack step by step.
func (c *Controller) start() error {
	cam, err := c.opts.Subsystem.Open()
	if err != nil {
		return errors.Wrap(err, "camera acquire")
	}
	c.push(func() {
		if err := cam.Release(); err != nil {
			log.Warn("camera release: %v", err)
		}
		if err := c.opts.Subsystem.Close(); err != nil {
			log.Warn("capture subsystem close: %v", err)
		}
	})

	driver := camera.NewDriver(cam, c.opts.Store, c.opts.PoolSize)
	cfg, err := driver.Configure(c.opts.Want)
	if err != nil {
		return errors.Wrap(err, "camera configure")
	}
	c.setState(Configured)

	backend, err := c.opts.NewBackend()
	if err != nil {
		return errors.Wrap(err, "pipeline build")
	}
	c.push(func() {
		if err := backend.Close(); err != nil {
			log.Warn("pipeline close: %v", err)
		}
	})

	// Caps carry the negotiated geometry, adjusted or not, and must be
	// in place before the graph starts rolling.
	if err := backend.SetCaps(cfg); err != nil {
		return errors.Wrap(err, "source caps")
	}
	if err := backend.Play(); err != nil {
		return errors.Wrap(err, "pipeline start")
	}

	if err := driver.Start(); err != nil {
		return errors.Wrap(err, "capture start")
	}
	c.push(driver.Stop)

	c.pump = pipe.NewPump(c.opts.Store, backend)
	return nil
}
