package pipe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumakit/udpcam/internal/camera"
	"github.com/lumakit/udpcam/internal/store"
)

type pushRecord struct {
	data     []byte
	pts      time.Duration
	duration time.Duration
}

// fakeSource records every push and plays back a scripted sequence of
// flow results (FlowOK forever once the script runs out).
type fakeSource struct {
	mu     sync.Mutex
	script []Flow
	pushes []pushRecord
	eos    int
}

func (f *fakeSource) SetCaps(camera.Config) error { return nil }

func (f *fakeSource) Push(data []byte, pts, duration time.Duration) Flow {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.pushes = append(f.pushes, pushRecord{cp, pts, duration})
	if len(f.script) == 0 {
		return FlowOK
	}
	flow := f.script[0]
	f.script = f.script[1:]
	return flow
}

func (f *fakeSource) EndStream() {
	f.mu.Lock()
	f.eos++
	f.mu.Unlock()
}

func (f *fakeSource) recorded() []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushRecord(nil), f.pushes...)
}

func newPumpUnderTest() (*Pump, *fakeSource, *store.FrameStore) {
	src := &fakeSource{}
	st := store.New()
	return NewPump(st, src), src, st
}

func TestWarmupTicksEmitNothing(t *testing.T) {
	p, src, _ := newPumpUnderTest()

	for i := 0; i < 10; i++ {
		assert.True(t, p.tick())
	}
	assert.Empty(t, src.recorded())
	assert.Zero(t, p.pts, "clock must not move during warmup")
}

func TestMonotonePTS(t *testing.T) {
	p, src, st := newPumpUnderTest()
	st.Publish([]byte("frame"))

	for i := 0; i < 5; i++ {
		require.True(t, p.tick())
	}

	pushes := src.recorded()
	require.Len(t, pushes, 5)
	for i, rec := range pushes {
		assert.Equal(t, time.Duration(i)*FrameDuration, rec.pts)
		assert.Equal(t, FrameDuration, rec.duration)
	}
}

func TestUnderrunReplaysLatestFrame(t *testing.T) {
	p, src, st := newPumpUnderTest()
	st.Publish([]byte("only-frame"))

	for i := 0; i < 30; i++ {
		require.True(t, p.tick())
	}

	pushes := src.recorded()
	require.Len(t, pushes, 30)
	for _, rec := range pushes {
		assert.Equal(t, []byte("only-frame"), rec.data)
	}
	last := pushes[len(pushes)-1]
	assert.Equal(t, 29*FrameDuration, last.pts, "clock keeps advancing across replays")
}

func TestOverrunDeliversNewestFrame(t *testing.T) {
	p, src, st := newPumpUnderTest()
	for i := 1; i <= 100; i++ {
		st.Publish([]byte(fmt.Sprintf("frame-%03d", i)))
	}

	require.True(t, p.tick())

	pushes := src.recorded()
	require.Len(t, pushes, 1)
	assert.Equal(t, []byte("frame-100"), pushes[0].data)
}

func TestRefusedPushKeepsClock(t *testing.T) {
	p, src, st := newPumpUnderTest()
	src.script = []Flow{FlowError, FlowOK, FlowOK}
	st.Publish([]byte("frame"))

	require.True(t, p.tick()) // refused, dropped
	require.True(t, p.tick())
	require.True(t, p.tick())

	pushes := src.recorded()
	require.Len(t, pushes, 3)
	assert.Equal(t, time.Duration(0), pushes[0].pts)
	assert.Equal(t, time.Duration(0), pushes[1].pts, "refusal must not advance the clock")
	assert.Equal(t, FrameDuration, pushes[2].pts)
}

func TestFlushingStopsThePump(t *testing.T) {
	p, src, st := newPumpUnderTest()
	src.script = []Flow{FlowFlushing}
	st.Publish([]byte("frame"))

	assert.False(t, p.tick())
}

func TestRunReportsSourceTermination(t *testing.T) {
	p, src, st := newPumpUnderTest()
	src.script = []Flow{FlowEOS}
	st.Publish([]byte("frame"))

	err := p.Run()
	assert.Equal(t, ErrSourceGone, err)
}

func TestShutdownDeliversOneEOS(t *testing.T) {
	p, src, st := newPumpUnderTest()
	st.Publish([]byte("frame"))

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	p.Shutdown()
	p.Shutdown()

	require.NoError(t, <-done)
	assert.Equal(t, 1, src.eos, "end-of-stream is delivered exactly once")
}

func TestShutdownWithoutRunDoesNotHang(t *testing.T) {
	p, src, _ := newPumpUnderTest()
	p.Shutdown()
	assert.Equal(t, 1, src.eos)
}
