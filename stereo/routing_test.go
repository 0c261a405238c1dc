package stereo

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"stereochecker/audio"
	"stereochecker/media"
)

const testSampleRate = 8000

// noise генерирует стерео шум; при same=true каналы совпадают по семплам
func noise(seconds float64, same bool, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	frames := int(seconds * testSampleRate)
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := range left {
		left[i] = float32(rng.Float64()*2-1) * 0.5
		if same {
			right[i] = left[i]
		} else {
			right[i] = float32(rng.Float64()*2-1) * 0.5
		}
	}
	return [][]float32{left, right}
}

type rig struct {
	ctx     *audio.Context
	player  *media.Player
	tap     *audio.MediaElementSource
	graph   *Graph
	routing *RoutingController
	driver  *audio.OfflineDriver
}

func newRig(t *testing.T, channels [][]float32, opts audio.ContextOptions) *rig {
	t.Helper()
	if opts.SampleRate == 0 {
		opts.SampleRate = testSampleRate
	}
	ctx, err := audio.NewContext(opts)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(ctx.Close)
	if !opts.RequireGesture {
		if err := ctx.Resume(context.Background()); err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
	}

	player, err := media.NewPlayer(channels, opts.SampleRate)
	if err != nil {
		t.Fatalf("NewPlayer failed: %v", err)
	}
	tap, err := ctx.CreateMediaElementSource(player)
	if err != nil {
		t.Fatalf("CreateMediaElementSource failed: %v", err)
	}
	graph, err := NewGraph(ctx, tap)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	routing := NewRoutingController()
	routing.SetGraph(graph)

	return &rig{
		ctx:     ctx,
		player:  player,
		tap:     tap,
		graph:   graph,
		routing: routing,
		driver:  audio.NewOfflineDriver(ctx, audio.DefaultFrameRate),
	}
}

func TestNewGraphConnectsNothing(t *testing.T) {
	r := newRig(t, noise(1, false, 1), audio.ContextOptions{})
	if n := r.graph.ConnectedOutputs(); n != 0 {
		t.Errorf("Expected no outputs connected, got %d", n)
	}
	if r.routing.Current() != PathNone {
		t.Errorf("Expected PathNone, got %s", r.routing.Current())
	}
}

func TestConnectWithoutGraphIsNotReady(t *testing.T) {
	routing := NewRoutingController()
	if err := routing.Connect(PathStereo); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got %v", err)
	}
	if _, err := routing.Toggle(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady from Toggle, got %v", err)
	}
	if routing.Current() != PathNone {
		t.Errorf("Expected PathNone, got %s", routing.Current())
	}
	if IsFailure(ErrNotReady) {
		t.Error("ErrNotReady must not count as a failure")
	}
}

func TestTogglesLeaveExactlyOneOutput(t *testing.T) {
	r := newRig(t, noise(1, false, 2), audio.ContextOptions{})
	if err := r.routing.Connect(PathStereo); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	want := PathStereo
	for i := 0; i < 7; i++ {
		got, err := r.routing.Toggle()
		if err != nil {
			t.Fatalf("Toggle %d failed: %v", i, err)
		}
		if want == PathStereo {
			want = PathMono
		} else {
			want = PathStereo
		}
		if got != want || r.routing.Current() != want {
			t.Fatalf("Toggle %d: got %s, want %s", i, got, want)
		}
		if n := r.graph.ConnectedOutputs(); n != 1 {
			t.Fatalf("Toggle %d: expected 1 connected output, got %d", i, n)
		}
		if !r.graph.OutputConnected(want) {
			t.Fatalf("Toggle %d: %s path not connected", i, want)
		}
	}
}

func TestToggleFromNoneSelectsMono(t *testing.T) {
	r := newRig(t, noise(1, false, 3), audio.ContextOptions{})
	got, err := r.routing.Toggle()
	if err != nil {
		t.Fatal(err)
	}
	if got != PathMono {
		t.Errorf("Expected mono, got %s", got)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	r := newRig(t, noise(1, false, 4), audio.ContextOptions{})
	for i := 0; i < 3; i++ {
		if err := r.routing.Connect(PathMono); err != nil {
			t.Fatal(err)
		}
	}
	if n := r.graph.ConnectedOutputs(); n != 1 {
		t.Errorf("Expected 1 connected output, got %d", n)
	}

	r.routing.DisconnectCurrent()
	if n := r.graph.ConnectedOutputs(); n != 0 || r.routing.Current() != PathNone {
		t.Errorf("Expected nothing connected, got %d outputs / %s", n, r.routing.Current())
	}
}

func TestMonoPathIsAudible(t *testing.T) {
	left := make([]float32, testSampleRate)
	right := make([]float32, testSampleRate)
	for i := range left {
		left[i] = 0.8
	}
	r := newRig(t, [][]float32{left, right}, audio.ContextOptions{})
	if err := r.player.Play(); err != nil {
		t.Fatal(err)
	}
	if err := r.routing.Connect(PathMono); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, audio.RenderQuantum*audio.OutputChannels)
	r.ctx.Render(out)
	if out[0] != 0.4 || out[1] != 0.4 {
		t.Errorf("Expected downmix 0.4 on both channels, got [%v %v]", out[0], out[1])
	}

	if err := r.routing.Connect(PathStereo); err != nil {
		t.Fatal(err)
	}
	r.ctx.Render(out)
	if out[0] != 0.8 || out[1] != 0 {
		t.Errorf("Expected stereo passthrough [0.8 0], got [%v %v]", out[0], out[1])
	}
}

func TestAnalysisDefersUserChoice(t *testing.T) {
	r := newRig(t, noise(1, false, 5), audio.ContextOptions{})
	if err := r.routing.Connect(PathStereo); err != nil {
		t.Fatal(err)
	}

	saved, err := r.routing.BeginAnalysis()
	if err != nil || saved != PathStereo {
		t.Fatalf("BeginAnalysis: %s, %v", saved, err)
	}
	if _, err := r.routing.BeginAnalysis(); !errors.Is(err, ErrAnalysisInProgress) {
		t.Errorf("Expected ErrAnalysisInProgress, got %v", err)
	}
	if n := r.graph.ConnectedOutputs(); n != 0 {
		t.Fatalf("Expected silent output during analysis, got %d", n)
	}

	path, err := r.graph.NewAnalysisPath()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.routing.AttachProbe(path); err != nil {
		t.Fatal(err)
	}
	if n := r.graph.ConnectedOutputs(); n != 0 {
		t.Errorf("Analysis path must never reach the output, got %d outputs", n)
	}

	if got, _ := r.routing.Toggle(); got != PathMono {
		t.Errorf("Expected toggle to select mono, got %s", got)
	}
	if r.routing.Current() != PathNone || r.routing.Preferred() != PathMono {
		t.Errorf("Expected deferred mono, got current=%s preferred=%s", r.routing.Current(), r.routing.Preferred())
	}

	restored, err := r.routing.EndAnalysis()
	if err != nil {
		t.Fatal(err)
	}
	if restored != PathMono || !r.graph.OutputConnected(PathMono) || r.graph.ConnectedOutputs() != 1 {
		t.Errorf("Expected mono restored, got %s with %d outputs", restored, r.graph.ConnectedOutputs())
	}
	if r.tap.ConnectedTo(path.Probe()) || r.tap.ConnectedTo(path.entry) {
		t.Error("Expected probe detached after analysis")
	}
}

func TestNewAnalysisPathReleasesPrevious(t *testing.T) {
	r := newRig(t, noise(1, false, 6), audio.ContextOptions{})
	first, err := r.graph.NewAnalysisPath()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.graph.NewAnalysisPath()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Probe().Released() {
		t.Error("Expected previous probe to be released")
	}
	if second.Probe().Released() || r.graph.AnalysisPath() != second {
		t.Error("Expected fresh analysis path to be current")
	}
}

func TestGraphReleaseKeepsTap(t *testing.T) {
	r := newRig(t, noise(1, false, 7), audio.ContextOptions{})
	if err := r.routing.Connect(PathStereo); err != nil {
		t.Fatal(err)
	}
	r.graph.Release()

	if n := r.graph.ConnectedOutputs(); n != 0 {
		t.Errorf("Expected no outputs after release, got %d", n)
	}
	if r.tap.Released() {
		t.Fatal("Tap must survive graph release")
	}

	rebuilt, err := NewGraph(r.ctx, r.tap)
	if err != nil {
		t.Fatalf("Rebuild on the same tap failed: %v", err)
	}
	r.routing.SetGraph(rebuilt)
	if err := r.routing.Connect(PathStereo); err != nil {
		t.Fatalf("Connect on rebuilt graph failed: %v", err)
	}
	if n := rebuilt.ConnectedOutputs(); n != 1 {
		t.Errorf("Expected 1 output on rebuilt graph, got %d", n)
	}
	if _, err := r.graph.NewAnalysisPath(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady from released graph, got %v", err)
	}
}
