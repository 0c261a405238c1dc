package audio

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
)

// constReader отдаёт постоянные значения в каждом канале
type constReader struct {
	values []float32
	reads  int
}

func (r *constReader) Channels() int { return len(r.values) }

func (r *constReader) ReadFrames(dst [][]float32) int {
	r.reads++
	for ch := range dst {
		for i := range dst[ch] {
			dst[ch][i] = r.values[ch]
		}
	}
	return len(dst[0])
}

// noiseReader отдаёт независимый белый шум в каждом канале
type noiseReader struct {
	rng      *rand.Rand
	channels int
	same     bool
}

func (r *noiseReader) Channels() int { return r.channels }

func (r *noiseReader) ReadFrames(dst [][]float32) int {
	for i := range dst[0] {
		v := float32(r.rng.Float64()*2-1) * 0.5
		for ch := range dst {
			if !r.same && ch > 0 {
				v = float32(r.rng.Float64()*2-1) * 0.5
			}
			dst[ch][i] = v
		}
	}
	return len(dst[0])
}

func newRunningContext(t *testing.T) *Context {
	t.Helper()
	c, err := NewContext(ContextOptions{SampleRate: 48000})
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func renderOnce(c *Context) []float32 {
	out := make([]float32, RenderQuantum*OutputChannels)
	c.Render(out)
	return out
}

func mustConnect(t *testing.T, from interface{ ConnectPort(Node, int, int) error }, to Node, output, input int) {
	t.Helper()
	if err := from.ConnectPort(to, output, input); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
}

func TestGainScalesSignal(t *testing.T) {
	c := newRunningContext(t)
	tap, err := c.CreateMediaElementSource(&constReader{values: []float32{0.5, -0.25}})
	if err != nil {
		t.Fatalf("CreateMediaElementSource failed: %v", err)
	}
	gain := c.CreateGain()
	gain.SetGain(2)

	mustConnect(t, tap, gain, 0, 0)
	mustConnect(t, gain, c.Destination(), 0, 0)

	out := renderOnce(c)
	if out[0] != 1 || out[1] != -0.5 {
		t.Errorf("Expected [1, -0.5], got [%v, %v]", out[0], out[1])
	}
}

func TestMonoDownmixPath(t *testing.T) {
	c := newRunningContext(t)
	tap, _ := c.CreateMediaElementSource(&constReader{values: []float32{0.6, 0.2}})
	splitter, _ := c.CreateChannelSplitter(2)
	merger, _ := c.CreateChannelMerger(1)
	left := c.CreateGain()
	right := c.CreateGain()
	left.SetGain(0.5)
	right.SetGain(0.5)

	mustConnect(t, tap, splitter, 0, 0)
	mustConnect(t, splitter, left, 0, 0)
	mustConnect(t, splitter, right, 1, 0)
	mustConnect(t, left, merger, 0, 0)
	mustConnect(t, right, merger, 0, 0)
	mustConnect(t, merger, c.Destination(), 0, 0)

	out := renderOnce(c)
	for ch := 0; ch < OutputChannels; ch++ {
		if math.Abs(float64(out[ch])-0.4) > 1e-6 {
			t.Errorf("Channel %d: expected 0.4, got %v", ch, out[ch])
		}
	}
}

func TestPhaseCancellationSilencesIdenticalChannels(t *testing.T) {
	c := newRunningContext(t)
	tap, _ := c.CreateMediaElementSource(&noiseReader{rng: rand.New(rand.NewSource(1)), channels: 2, same: true})
	probe := buildCancellation(t, c, tap)

	for i := 0; i < 40; i++ {
		renderOnce(c)
	}

	bins := make([]byte, probe.FrequencyBinCount())
	probe.GetByteFrequencyData(bins)
	for i, b := range bins {
		if b != 0 {
			t.Fatalf("Bin %d: expected 0 for identical channels, got %d", i, b)
		}
	}
}

func TestPhaseCancellationKeepsDecorrelatedNoise(t *testing.T) {
	c := newRunningContext(t)
	tap, _ := c.CreateMediaElementSource(&noiseReader{rng: rand.New(rand.NewSource(2)), channels: 2})
	probe := buildCancellation(t, c, tap)

	for i := 0; i < 40; i++ {
		renderOnce(c)
	}

	bins := make([]byte, probe.FrequencyBinCount())
	probe.GetByteFrequencyData(bins)
	var sum float64
	for _, b := range bins {
		sum += float64(b) * float64(b)
	}
	rms := math.Sqrt(sum / float64(len(bins)))
	if rms <= 5 {
		t.Errorf("Expected residual energy above 5, got %.2f", rms)
	}
}

func TestMonoSourceIsUpmixedBySplitter(t *testing.T) {
	c := newRunningContext(t)
	tap, _ := c.CreateMediaElementSource(&constReader{values: []float32{0.3}})
	probe := buildCancellation(t, c, tap)

	for i := 0; i < 20; i++ {
		renderOnce(c)
	}

	samples := make([]float32, 64)
	probe.GetFloatTimeDomainData(samples)
	for i, s := range samples {
		if s != 0 {
			t.Fatalf("Sample %d: expected 0 after cancelling mono source, got %v", i, s)
		}
	}
}

func buildCancellation(t *testing.T, c *Context, tap *MediaElementSource) *AnalyserNode {
	t.Helper()
	splitter, _ := c.CreateChannelSplitter(2)
	merger, _ := c.CreateChannelMerger(1)
	left := c.CreateGain()
	right := c.CreateGain()
	right.SetGain(-1)
	probe, err := c.CreateAnalyser(DefaultAnalyserOptions())
	if err != nil {
		t.Fatalf("CreateAnalyser failed: %v", err)
	}

	mustConnect(t, tap, splitter, 0, 0)
	mustConnect(t, splitter, left, 0, 0)
	mustConnect(t, splitter, right, 1, 0)
	mustConnect(t, left, merger, 0, 0)
	mustConnect(t, right, merger, 0, 0)
	mustConnect(t, merger, probe, 0, 0)
	return probe
}

func TestDisconnectKeepsTap(t *testing.T) {
	c := newRunningContext(t)
	reader := &constReader{values: []float32{0.1, 0.1}}
	tap, _ := c.CreateMediaElementSource(reader)
	a := c.CreateGain()
	b := c.CreateGain()

	mustConnect(t, tap, a, 0, 0)
	mustConnect(t, tap, b, 0, 0)
	mustConnect(t, a, c.Destination(), 0, 0)

	tap.DisconnectFrom(a)
	if tap.ConnectedTo(a) {
		t.Error("Expected tap to be disconnected from a")
	}
	if !tap.ConnectedTo(b) {
		t.Error("Expected tap to stay connected to b")
	}

	a.Release()
	if c.Destination().InputCount(0) != 0 {
		t.Error("Expected released node to leave destination")
	}
	if err := a.Connect(c.Destination()); !errors.Is(err, ErrNodeReleased) {
		t.Errorf("Expected ErrNodeReleased, got %v", err)
	}

	before := reader.reads
	renderOnce(c)
	if reader.reads != before+1 {
		t.Errorf("Expected tap to be rendered once per quantum, got %d reads", reader.reads-before)
	}
}

func TestConnectRejectsCycle(t *testing.T) {
	c := newRunningContext(t)
	a := c.CreateGain()
	b := c.CreateGain()
	mustConnect(t, a, b, 0, 0)
	if err := b.Connect(a); !errors.Is(err, ErrCycle) {
		t.Errorf("Expected ErrCycle, got %v", err)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	c := newRunningContext(t)
	a := c.CreateGain()
	mustConnect(t, a, c.Destination(), 0, 0)
	mustConnect(t, a, c.Destination(), 0, 0)
	if n := c.Destination().InputCount(0); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}
}

func TestSuspendedContextRendersSilence(t *testing.T) {
	c, _ := NewContext(ContextOptions{SampleRate: 8000, RequireGesture: true})
	defer c.Close()

	tap, _ := c.CreateMediaElementSource(&constReader{values: []float32{1, 1}})
	mustConnect(t, tap, c.Destination(), 0, 0)

	out := renderOnce(c)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("Sample %d: expected silence while suspended, got %v", i, s)
		}
	}
	if c.CurrentTime() != 0 {
		t.Errorf("Expected clock to stay at 0, got %v", c.CurrentTime())
	}

	if err := c.Resume(context.Background()); !errors.Is(err, ErrGestureRequired) {
		t.Fatalf("Expected ErrGestureRequired, got %v", err)
	}
	c.GrantGesture()
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume after gesture failed: %v", err)
	}
	out = renderOnce(c)
	if out[0] != 1 {
		t.Errorf("Expected signal after resume, got %v", out[0])
	}
}

func TestClosedContextRejectsConnections(t *testing.T) {
	c, _ := NewContext(ContextOptions{SampleRate: 8000})
	a := c.CreateGain()
	c.Close()

	if err := a.Connect(c.Destination()); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Expected ErrContextClosed, got %v", err)
	}
	if err := c.Resume(context.Background()); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Expected ErrContextClosed from Resume, got %v", err)
	}
}

func TestOfflineDriverAdvancesClock(t *testing.T) {
	c := newRunningContext(t)
	d := NewOfflineDriver(c, 60)

	start := d.Now()
	for i := 0; i < 60; i++ {
		if err := d.WaitFrame(context.Background()); err != nil {
			t.Fatalf("WaitFrame failed: %v", err)
		}
	}
	elapsed := d.Now().Sub(start).Seconds()
	if elapsed < 0.99 || elapsed > 1.05 {
		t.Errorf("Expected ~1s of virtual time, got %.3fs", elapsed)
	}

	if err := c.Suspend(); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if err := d.WaitFrame(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestAnalyserRejectsInvalidOptions(t *testing.T) {
	c := newRunningContext(t)
	tests := []struct {
		name string
		opts AnalyserOptions
	}{
		{name: "not power of two", opts: AnalyserOptions{FFTSize: 1000, Smoothing: 0.8}},
		{name: "too small", opts: AnalyserOptions{FFTSize: 16, Smoothing: 0.8}},
		{name: "smoothing out of range", opts: AnalyserOptions{FFTSize: 2048, Smoothing: 1.5}},
		{name: "inverted decibels", opts: AnalyserOptions{FFTSize: 2048, MinDecibels: -10, MaxDecibels: -20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.CreateAnalyser(tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
