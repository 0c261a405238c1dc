package service

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"stereochecker/audio"
	"stereochecker/media"
	"stereochecker/stereo"
)

const testSampleRate = 8000

// writeNoise пишет стерео WAV с шумом; при same=true каналы совпадают
func writeNoise(t *testing.T, name string, seconds float64, same bool, seed int64) string {
	t.Helper()
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
	return writePlanar(t, name, [][]float32{left, right})
}

func writePlanar(t *testing.T, name string, channels [][]float32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	w, err := media.NewWAVWriter(path, testSampleRate, len(channels))
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}
	if err := w.WritePlanar(channels); err != nil {
		t.Fatalf("WritePlanar failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func newHeadless(t *testing.T, opts Options) *StereoService {
	t.Helper()
	opts.Headless = true
	svc := NewStereoService(opts)
	t.Cleanup(svc.Close)
	return svc
}

func TestLoadConnectsStereoAndPlays(t *testing.T) {
	svc := newHeadless(t, Options{})
	var states []State
	svc.OnState = func(s State) { states = append(states, s) }

	path := writeNoise(t, "stereo.wav", 4, false, 1)
	if err := svc.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	st := svc.State()
	if !st.Loaded || st.Path != path || st.Format != media.FormatWAV {
		t.Errorf("Unexpected state: %+v", st)
	}
	if st.Route != stereo.PathStereo || st.Paused {
		t.Errorf("Expected stereo route and playback, got route=%s paused=%v", st.Route, st.Paused)
	}
	if st.Device != audio.StateRunning.String() || !st.Headless {
		t.Errorf("Expected running headless context, got %s headless=%v", st.Device, st.Headless)
	}
	if math.Abs(st.Duration-4) > 1e-3 {
		t.Errorf("Expected 4s duration, got %v", st.Duration)
	}
	if len(states) == 0 {
		t.Error("Expected state callback after load")
	}

	svc.Unload()
	if st := svc.State(); st.Loaded || st.Route != stereo.PathNone {
		t.Errorf("Expected empty state after unload, got %+v", st)
	}
}

func TestLoadRejectsUnsupportedFile(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
	if svc.State().Loaded {
		t.Error("Failed load must not leave a source")
	}
}

func TestCommandsWithoutSourceAreNotReady(t *testing.T) {
	svc := newHeadless(t, Options{})
	if _, err := svc.Toggle(context.Background()); !errors.Is(err, stereo.ErrNotReady) {
		t.Errorf("Toggle: expected ErrNotReady, got %v", err)
	}
	if err := svc.SetRoute(stereo.PathMono); !errors.Is(err, stereo.ErrNotReady) {
		t.Errorf("SetRoute: expected ErrNotReady, got %v", err)
	}
	if _, err := svc.Analyze(context.Background()); !errors.Is(err, stereo.ErrNotReady) {
		t.Errorf("Analyze: expected ErrNotReady, got %v", err)
	}
	if svc.CancelAnalysis() {
		t.Error("CancelAnalysis must report no run")
	}
}

func TestToggleAndSetRoute(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "a.wav", 4, false, 2)); err != nil {
		t.Fatal(err)
	}

	kind, err := svc.Toggle(context.Background())
	if err != nil || kind != stereo.PathMono {
		t.Fatalf("Toggle: got %s, %v", kind, err)
	}
	if err := svc.SetRoute(stereo.PathNone); err != nil {
		t.Fatal(err)
	}
	if got := svc.State().Route; got != stereo.PathNone {
		t.Errorf("Expected silence, got %s", got)
	}
	if err := svc.SetRoute(stereo.PathStereo); err != nil {
		t.Fatal(err)
	}
	if got := svc.Routing.Current(); got != stereo.PathStereo {
		t.Errorf("Expected stereo, got %s", got)
	}
}

func TestAnalyzeDualMonoFile(t *testing.T) {
	svc := newHeadless(t, Options{FrameRate: 60})
	if err := svc.Load(writeNoise(t, "dual.wav", 8, true, 3)); err != nil {
		t.Fatal(err)
	}

	var failed error
	svc.OnAnalysisFailed = func(_ string, err error) { failed = err }

	result, err := svc.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.IsStereo || result.SectionsAnalyzed != 3 {
		t.Errorf("Expected mono verdict over 3 sections, got %+v", result)
	}
	if failed != nil {
		t.Errorf("Unexpected failure callback: %v", failed)
	}

	st := svc.State()
	if st.LastResult == nil || st.LastResult.ID != result.ID {
		t.Error("Expected result kept in state")
	}
	if st.Analyzing || st.Route != stereo.PathStereo || st.Paused {
		t.Errorf("Expected stereo playback restored, got %+v", st)
	}

	// Новый источник сбрасывает результат
	if err := svc.Load(writeNoise(t, "next.wav", 4, false, 4)); err != nil {
		t.Fatal(err)
	}
	if svc.State().LastResult != nil {
		t.Error("Expected result dropped after source change")
	}
}

func TestAnalyzeRejectsConcurrentRun(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "a.wav", 6, false, 5)); err != nil {
		t.Fatal(err)
	}

	var nested error
	svc.OnAnalysisState = func(sc stereo.StateChange) {
		if sc.State == stereo.RunSampling && sc.Section == 1 {
			_, nested = svc.Analyze(context.Background())
		}
	}
	if _, err := svc.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !errors.Is(nested, stereo.ErrAnalysisInProgress) {
		t.Errorf("Expected ErrAnalysisInProgress, got %v", nested)
	}
}

func TestSourceSwapAbortsRun(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "old.wav", 10, false, 6)); err != nil {
		t.Fatal(err)
	}
	oldID := svc.State().SourceID
	next := writeNoise(t, "new.wav", 5, true, 7)

	loaded := make(chan error, 1)
	var failedRun string
	var reported []error
	svc.OnAnalysisFailed = func(runID string, _ error) { failedRun = runID }
	svc.OnAnalysisState = func(sc stereo.StateChange) {
		if sc.Err != nil {
			reported = append(reported, sc.Err)
		}
		if sc.State != stereo.RunSampling || sc.Section != 1 {
			return
		}
		go func() { loaded <- svc.Load(next) }()
		// Ждём, пока смена источника станет видна прогону
		for svc.State().SourceID == oldID {
			time.Sleep(time.Millisecond)
		}
	}

	_, err := svc.Analyze(context.Background())
	if !errors.Is(err, stereo.ErrAnalysisAborted) {
		t.Fatalf("Expected ErrAnalysisAborted, got %v", err)
	}
	if failedRun != "" {
		t.Errorf("Source swap must not report a failure, got one for run %s", failedRun)
	}
	if len(reported) != 0 {
		t.Errorf("Source swap must not carry errors in state changes, got %v", reported)
	}
	if err := <-loaded; err != nil {
		t.Fatalf("Load during run failed: %v", err)
	}

	st := svc.State()
	if st.SourceID == oldID || st.Route != stereo.PathStereo || st.Analyzing {
		t.Errorf("Expected fresh source on stereo, got %+v", st)
	}
	if n := svc.Routing.Graph().ConnectedOutputs(); n != 1 {
		t.Errorf("Expected exactly one output on the new graph, got %d", n)
	}
}

func TestUnloadDuringRunIsSilent(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "a.wav", 10, false, 12)); err != nil {
		t.Fatal(err)
	}

	unloaded := make(chan struct{})
	var failed int
	var last stereo.StateChange
	svc.OnAnalysisFailed = func(string, error) { failed++ }
	svc.OnAnalysisState = func(sc stereo.StateChange) {
		last = sc
		if sc.State != stereo.RunSampling || sc.Section != 2 {
			return
		}
		go func() {
			svc.Unload()
			close(unloaded)
		}()
		for svc.State().Loaded {
			time.Sleep(time.Millisecond)
		}
	}

	result, err := svc.Analyze(context.Background())
	if result != nil || !errors.Is(err, stereo.ErrAnalysisAborted) {
		t.Fatalf("Expected aborted run without result, got %v, %v", result, err)
	}
	<-unloaded

	if failed != 0 {
		t.Errorf("Unload must not report a failure, got %d", failed)
	}
	if last.State != stereo.RunAborted || last.Err != nil {
		t.Errorf("Expected silent aborted transition, got %s (%v)", last.State, last.Err)
	}
	if st := svc.State(); st.Loaded || st.Analyzing || st.LastResult != nil {
		t.Errorf("Expected empty state after unload, got %+v", st)
	}
}

func TestCancelAnalysis(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "a.wav", 10, false, 8)); err != nil {
		t.Fatal(err)
	}
	svc.OnAnalysisState = func(sc stereo.StateChange) {
		if sc.State == stereo.RunSampling && sc.Section == 2 {
			if !svc.CancelAnalysis() {
				t.Error("Expected CancelAnalysis to find the run")
			}
		}
	}
	var failedRun string
	svc.OnAnalysisFailed = func(runID string, _ error) { failedRun = runID }

	_, err := svc.Analyze(context.Background())
	if !errors.Is(err, stereo.ErrAnalysisAborted) {
		t.Fatalf("Expected ErrAnalysisAborted, got %v", err)
	}
	// Явная отмена остаётся отказом
	if failedRun == "" {
		t.Error("Expected failure callback for an explicit cancel")
	}
	if got := svc.Routing.Current(); got != stereo.PathStereo {
		t.Errorf("Expected stereo restored, got %s", got)
	}
}

func TestStartAnalysisReportsResult(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "a.wav", 6, false, 9)); err != nil {
		t.Fatal(err)
	}
	results := make(chan *stereo.AnalysisResult, 1)
	svc.OnAnalysisResult = func(r *stereo.AnalysisResult) { results <- r }

	id, err := svc.StartAnalysis()
	if err != nil {
		t.Fatalf("StartAnalysis failed: %v", err)
	}
	select {
	case r := <-results:
		if r.ID != id || !r.IsStereo {
			t.Errorf("Expected stereo result for run %s, got %+v", id, r)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for analysis result")
	}
	svc.Wait()
}

func TestResumeAfterGesture(t *testing.T) {
	svc := newHeadless(t, Options{RequireGesture: true})
	if err := svc.Load(writeNoise(t, "a.wav", 6, false, 10)); err != nil {
		t.Fatal(err)
	}
	if st := svc.State(); st.Device != audio.StateSuspended.String() {
		t.Fatalf("Expected suspended context, got %s", st.Device)
	}

	// Toggle пробует resume, но без жеста контекст остаётся приостановленным
	if _, err := svc.Toggle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Analyze(context.Background()); !errors.Is(err, stereo.ErrDeviceSuspended) {
		t.Fatalf("Expected ErrDeviceSuspended, got %v", err)
	}

	if err := svc.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	result, err := svc.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze after resume failed: %v", err)
	}
	if !result.IsStereo {
		t.Errorf("Expected stereo verdict, got %.2f", result.AverageEnergy)
	}
	if got := svc.Routing.Current(); got != stereo.PathMono {
		t.Errorf("Expected toggled mono route restored, got %s", got)
	}
}

func TestSeekValidation(t *testing.T) {
	svc := newHeadless(t, Options{})
	if err := svc.Load(writeNoise(t, "a.wav", 4, false, 11)); err != nil {
		t.Fatal(err)
	}
	if err := svc.Seek(-1); err == nil {
		t.Error("Expected error for negative seek")
	}
	if err := svc.Seek(2.5); err != nil {
		t.Fatal(err)
	}
	if err := svc.Pause(); err != nil {
		t.Fatal(err)
	}
	st := svc.State()
	if math.Abs(st.CurrentTime-2.5) > 1e-3 || !st.Paused {
		t.Errorf("Expected paused at 2.5, got %+v", st)
	}
}
