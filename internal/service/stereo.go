package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"stereochecker/audio"
	"stereochecker/media"
	"stereochecker/stereo"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Options настройки StereoService
type Options struct {
	// DeviceName - подстрока имени устройства вывода, пусто = по умолчанию
	DeviceName string
	// Headless - без устройства вывода, кадры опроса рендерит офлайн драйвер
	Headless bool
	// RequireGesture - контекст не запускается без явного Resume от клиента
	RequireGesture bool
	FrameRate      int
	Threshold      float64
	DurationWait   time.Duration
	Analyser       audio.AnalyserOptions
}

// frameSource - то, что сэмплер использует как кадры и часы
type frameSource interface {
	stereo.FrameScheduler
	stereo.Clock
}

// loadedSource - всё, что живёт ровно столько же, сколько загруженный файл
type loadedSource struct {
	id     string
	player *media.Player
	ctx    *audio.Context
	device *audio.Device
	tap    *audio.MediaElementSource
	graph  *stereo.Graph
	frames frameSource
}

// analysisRun - анализ в процессе
type analysisRun struct {
	id       string
	sourceID string
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// State - снимок состояния сервиса для клиентов
type State struct {
	Loaded      bool                   `json:"loaded"`
	SourceID    string                 `json:"sourceId,omitempty"`
	Path        string                 `json:"path,omitempty"`
	Format      media.Format           `json:"format,omitempty"`
	Channels    int                    `json:"channels,omitempty"`
	SampleRate  int                    `json:"sampleRate,omitempty"`
	Duration    float64                `json:"duration"`
	CurrentTime float64                `json:"currentTime"`
	Paused      bool                   `json:"paused"`
	Route       stereo.PathKind        `json:"route"`
	Device      string                 `json:"device"`
	Headless    bool                   `json:"headless"`
	Analyzing   bool                   `json:"analyzing"`
	LastResult  *stereo.AnalysisResult `json:"lastResult,omitempty"`
}

// StereoService владеет жизненным циклом источника: контекст, граф, маршрутизация, анализ.
type StereoService struct {
	Routing *stereo.RoutingController

	opts Options

	// lifecycle сериализует Load/Unload, mu защищает поля ниже
	lifecycle sync.Mutex
	mu        sync.Mutex

	source     *loadedSource
	run        *analysisRun
	lastResult *stereo.AnalysisResult

	// Callbacks
	OnState          func(State)
	OnAnalysisState  func(stereo.StateChange)
	OnAnalysisResult func(*stereo.AnalysisResult)
	OnAnalysisFailed func(runID string, err error)
}

func NewStereoService(opts Options) *StereoService {
	if opts.FrameRate <= 0 {
		opts.FrameRate = audio.DefaultFrameRate
	}
	if opts.Threshold <= 0 {
		opts.Threshold = stereo.DefaultThreshold
	}
	if opts.Analyser.FFTSize == 0 {
		opts.Analyser = audio.DefaultAnalyserOptions()
	}
	return &StereoService{
		Routing: stereo.NewRoutingController(),
		opts:    opts,
	}
}

// Load открывает файл и делает его текущим источником
func (s *StereoService) Load(path string) error {
	player, err := media.Open(path)
	if err != nil {
		return err
	}
	if err := s.LoadPlayer(player); err != nil {
		_ = player.Close()
		return err
	}
	return nil
}

// LoadPlayer заменяет источник: старый контекст закрывается, строится новый граф,
// подключается стерео путь и запускается воспроизведение.
func (s *StereoService) LoadPlayer(player *media.Player) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.teardown()

	src := &loadedSource{id: uuid.New().String(), player: player}

	// При ошибке закрываем всё, что успели создать
	success := false
	defer func() {
		if !success {
			if src.graph != nil {
				src.graph.Release()
			}
			// Контекст закрывает и устройство
			if src.ctx != nil {
				src.ctx.Close()
			}
		}
	}()

	ctx, err := audio.NewContext(audio.ContextOptions{
		SampleRate:     player.SampleRate(),
		RequireGesture: s.opts.RequireGesture,
	})
	if err != nil {
		return fmt.Errorf("failed to create audio context: %w", err)
	}
	src.ctx = ctx

	if !s.opts.Headless {
		device, err := audio.OpenDevice(ctx, s.opts.DeviceName)
		if err != nil {
			log.Warnf("StereoService: no playback device, running headless: %v", err)
		} else {
			src.device = device
		}
	}
	if src.device != nil {
		src.frames = audio.NewRealtimeDriver(s.opts.FrameRate)
	} else {
		src.frames = audio.NewOfflineDriver(ctx, s.opts.FrameRate)
	}

	tap, err := ctx.CreateMediaElementSource(player)
	if err != nil {
		return fmt.Errorf("failed to create source tap: %w", err)
	}
	src.tap = tap

	graph, err := stereo.NewGraphWithOptions(ctx, tap, s.opts.Analyser)
	if err != nil {
		return fmt.Errorf("failed to build signal graph: %w", err)
	}
	src.graph = graph

	s.Routing.SetGraph(graph)
	if err := s.Routing.Connect(stereo.PathStereo); err != nil {
		s.Routing.SetGraph(nil)
		return fmt.Errorf("failed to connect stereo path: %w", err)
	}

	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
	success = true

	if err := ctx.Resume(context.Background()); err != nil {
		// Контекст ждёт resume от клиента, воспроизведение начнётся после него
		log.Printf("StereoService: audio context suspended until resume: %v", err)
	}
	if err := player.Play(); err != nil {
		log.Warnf("StereoService: failed to start playback: %v", err)
	}

	log.WithField("source", src.id).Printf("StereoService: loaded %s (%s, %d ch, %d Hz, %.2fs)",
		player.Path(), player.Format(), player.Channels(), player.SampleRate(), player.Duration())
	s.emitState()
	return nil
}

// Unload закрывает текущий источник
func (s *StereoService) Unload() {
	s.lifecycle.Lock()
	s.teardown()
	s.lifecycle.Unlock()
	s.emitState()
}

// teardown отменяет анализ, дожидается его завершения на старом графе и освобождает источник.
// Вызывается под lifecycle.
func (s *StereoService) teardown() {
	s.mu.Lock()
	old := s.source
	run := s.run
	// Guard незавершённого анализа увидит смену источника и прервёт его
	s.source = nil
	s.lastResult = nil
	s.mu.Unlock()

	if run != nil {
		run.cancel()
		<-run.done
	}
	if old == nil {
		return
	}

	s.Routing.SetGraph(nil)
	old.graph.Release()
	old.ctx.Close()
	if err := old.player.Close(); err != nil {
		log.Warnf("StereoService: failed to close player: %v", err)
	}
	log.WithField("source", old.id).Printf("StereoService: unloaded %s", old.player.Path())
}

// current возвращает текущий источник или ErrNotReady
func (s *StereoService) current() (*loadedSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return nil, stereo.ErrNotReady
	}
	return s.source, nil
}

// Toggle переключает стерео/моно. Приостановленный контекст сначала пробуем запустить.
func (s *StereoService) Toggle(ctx context.Context) (stereo.PathKind, error) {
	src, err := s.current()
	if err != nil {
		return stereo.PathNone, err
	}
	if src.ctx.State() == audio.StateSuspended {
		if err := src.ctx.Resume(ctx); err != nil {
			log.Printf("StereoService: resume before toggle failed: %v", err)
		}
	}
	kind, err := s.Routing.Toggle()
	if err != nil {
		return stereo.PathNone, err
	}
	s.emitState()
	return kind, nil
}

// SetRoute подключает указанный путь вывода (PathNone = тишина)
func (s *StereoService) SetRoute(kind stereo.PathKind) error {
	if _, err := s.current(); err != nil {
		return err
	}
	if kind == stereo.PathNone {
		s.Routing.DisconnectCurrent()
	} else if err := s.Routing.Connect(kind); err != nil {
		return err
	}
	s.emitState()
	return nil
}

// Resume - явное действие пользователя ("Start Audio"): разрешает и запускает контекст
func (s *StereoService) Resume(ctx context.Context) error {
	src, err := s.current()
	if err != nil {
		return err
	}
	src.ctx.GrantGesture()
	if err := src.ctx.Resume(ctx); err != nil {
		return fmt.Errorf("%w: %w", stereo.ErrDeviceSuspended, err)
	}
	s.emitState()
	return nil
}

func (s *StereoService) Play() error {
	src, err := s.current()
	if err != nil {
		return err
	}
	if err := src.player.Play(); err != nil {
		return err
	}
	s.emitState()
	return nil
}

func (s *StereoService) Pause() error {
	src, err := s.current()
	if err != nil {
		return err
	}
	src.player.Pause()
	s.emitState()
	return nil
}

func (s *StereoService) Seek(seconds float64) error {
	src, err := s.current()
	if err != nil {
		return err
	}
	if math.IsNaN(seconds) || seconds < 0 {
		return fmt.Errorf("invalid seek position: %v", seconds)
	}
	src.player.SetCurrentTime(seconds)
	s.emitState()
	return nil
}

// Analyze запускает анализ текущего источника и ждёт результата.
// Одновременно идёт только один анализ: второй получает ErrAnalysisInProgress.
func (s *StereoService) Analyze(ctx context.Context) (*stereo.AnalysisResult, error) {
	run, src, err := s.beginRun(ctx)
	if err != nil {
		return nil, err
	}
	return s.execute(run, src)
}

// StartAnalysis запускает анализ в фоне и возвращает id запуска.
// Результат приходит через OnAnalysisResult / OnAnalysisFailed.
func (s *StereoService) StartAnalysis() (string, error) {
	run, src, err := s.beginRun(context.Background())
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := s.execute(run, src); err != nil {
			log.WithField("run", run.id).Printf("StereoService: analysis finished without verdict: %v", err)
		}
	}()
	return run.id, nil
}

// CancelAnalysis прерывает текущий анализ; false если анализа нет
func (s *StereoService) CancelAnalysis() bool {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return false
	}
	run.cancel()
	return true
}

func (s *StereoService) beginRun(parent context.Context) (*analysisRun, *loadedSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return nil, nil, stereo.ErrNotReady
	}
	if s.run != nil {
		return nil, nil, stereo.ErrAnalysisInProgress
	}
	ctx, cancel := context.WithCancel(parent)
	run := &analysisRun{
		id:       uuid.New().String(),
		sourceID: s.source.id,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.run = run
	// Прошлый результат заменяется следующим анализом
	s.lastResult = nil
	return run, s.source, nil
}

func (s *StereoService) execute(run *analysisRun, src *loadedSource) (*stereo.AnalysisResult, error) {
	defer func() {
		run.cancel()
		s.mu.Lock()
		if s.run == run {
			s.run = nil
		}
		s.mu.Unlock()
		close(run.done)
	}()

	logger := log.WithFields(log.Fields{"run": run.id, "source": src.id})
	logger.Printf("StereoService: analysis started")

	classifier := stereo.NewClassifier(src.ctx, stereo.NewSampler(src.frames, src.frames))
	classifier.Threshold = s.opts.Threshold
	classifier.RunID = run.id
	if s.opts.DurationWait > 0 {
		classifier.DurationWait = s.opts.DurationWait
	}
	classifier.OnState = func(change stereo.StateChange) {
		// Прогон, у которого забрали источник, сворачивается молча
		if change.Err != nil && s.sourceGone(run) {
			change.Err = nil
		}
		if s.OnAnalysisState != nil {
			s.OnAnalysisState(change)
		}
	}
	classifier.Guard = func() error {
		if s.sourceGone(run) {
			return errors.New("source changed")
		}
		return nil
	}

	result, err := classifier.Analyze(run.ctx, src.player, s.Routing, src.graph)
	if err != nil {
		switch {
		case s.sourceGone(run):
			// Смена или выгрузка источника - не отказ, результата нет
			logger.Debugf("StereoService: analysis dropped with its source: %v", err)
		case stereo.IsFailure(err) && s.OnAnalysisFailed != nil:
			s.OnAnalysisFailed(run.id, err)
		}
		s.emitState()
		return nil, err
	}

	s.mu.Lock()
	if s.source == src {
		s.lastResult = result
	}
	s.mu.Unlock()

	logger.Printf("StereoService: %s (energy %.2f, confidence %d%%)", result.Verdict(), result.AverageEnergy, result.Confidence)
	if s.OnAnalysisResult != nil {
		s.OnAnalysisResult(result)
	}
	s.emitState()
	return result, nil
}

// sourceGone сообщает что источник прогона сменился или выгружен
func (s *StereoService) sourceGone(run *analysisRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source == nil || s.source.id != run.sourceID
}

// Wait ждёт завершения текущего анализа (если он есть)
func (s *StereoService) Wait() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

// State возвращает снимок состояния
func (s *StereoService) State() State {
	s.mu.Lock()
	src := s.source
	st := State{
		Analyzing:  s.run != nil,
		LastResult: s.lastResult,
		Device:     audio.StateClosed.String(),
		Route:      stereo.PathNone,
	}
	s.mu.Unlock()

	if src == nil {
		return st
	}
	p := src.player
	st.Loaded = true
	st.SourceID = src.id
	st.Path = p.Path()
	st.Format = p.Format()
	st.Channels = p.Channels()
	st.SampleRate = p.SampleRate()
	st.Duration = p.Duration()
	if math.IsNaN(st.Duration) {
		st.Duration = 0
	}
	st.CurrentTime = p.CurrentTime()
	st.Paused = p.Paused()
	st.Route = s.Routing.Preferred()
	st.Device = src.ctx.State().String()
	st.Headless = src.device == nil
	return st
}

// Devices возвращает список устройств вывода
func (s *StereoService) Devices() ([]audio.AudioDevice, error) {
	return audio.ListDevices()
}

// Close освобождает текущий источник
func (s *StereoService) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.teardown()
}

func (s *StereoService) emitState() {
	if s.OnState != nil {
		s.OnState(s.State())
	}
}
