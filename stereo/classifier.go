package stereo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"stereochecker/audio"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultDurationWait - сколько ждать, пока источник узнает свою длительность
const DefaultDurationWait = 2 * time.Second

// Source - медиа источник, которым управляет медиа хост.
// Duration возвращает NaN, пока длительность неизвестна.
type Source interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64
	Play() error
	Pause()
	Paused() bool
}

// Device - часы аудио устройства
type Device interface {
	State() audio.ContextState
	Resume(ctx context.Context) error
}

// Classifier прогоняет анализ по трём точкам и выносит вердикт stereo/mono
type Classifier struct {
	Device       Device
	Sampler      *Sampler
	Threshold    float64
	DurationWait time.Duration

	// OnState получает каждый переход автомата прогона
	OnState func(StateChange)

	// Guard проверяется перед каждым шагом; ошибка прерывает прогон
	// (источник сменился или выгружен)
	Guard func() error

	// RunID - id следующего прогона; пусто = сгенерировать
	RunID string
}

// NewClassifier создаёт классификатор с порогом по умолчанию
func NewClassifier(device Device, sampler *Sampler) *Classifier {
	return &Classifier{
		Device:       device,
		Sampler:      sampler,
		Threshold:    DefaultThreshold,
		DurationWait: DefaultDurationWait,
	}
}

// Analyze определяет, несёт ли источник настоящее стерео.
// Ошибка означает "не удалось определить" и никогда не равна вердикту mono.
// После прогона (успешного или нет) восстанавливаются позиция, play/pause
// и выходной путь, бывший до анализа.
func (c *Classifier) Analyze(ctx context.Context, source Source, routing *RoutingController, graph *Graph) (*AnalysisResult, error) {
	if source == nil || graph == nil || routing == nil || routing.Graph() != graph {
		return nil, ErrNotReady
	}
	if c.Sampler == nil {
		return nil, fmt.Errorf("classifier has no sampler")
	}

	id := c.RunID
	if id == "" {
		id = uuid.NewString()
	}
	logger := log.WithField("run", id)
	r := newRun(id, c.OnState)
	startedAt := time.Now()

	abort := func(err error) (*AnalysisResult, error) {
		r.to(RunAborted, err)
		logger.Warnf("Classifier: analysis failed: %v", err)
		return nil, err
	}

	if err := c.check(ctx); err != nil {
		return abort(err)
	}
	if err := c.ensureRunning(ctx); err != nil {
		return abort(err)
	}

	duration, err := c.awaitDuration(ctx, source)
	if err != nil {
		return abort(err)
	}
	if duration < MinDuration {
		return abort(fmt.Errorf("%w: %.2fs, need at least %.0fs", ErrInsufficientDuration, duration, MinDuration))
	}

	points := AnalysisPoints(duration)
	r.total = len(points)

	position := source.CurrentTime()
	wasPaused := source.Paused()

	previous, err := routing.BeginAnalysis()
	if err != nil {
		return abort(err)
	}
	logger.Infof("Classifier: analyzing %.2fs source at %d points (output %s saved)", duration, len(points), previous)

	sections, runErr := c.runSections(ctx, r, source, routing, graph, points)

	// Транзитные узлы уже сняты в runSections, теперь восстановление
	r.to(RunRestoring, runErr)
	restoreErr := c.restore(source, routing, graph, position, wasPaused)
	if restoreErr != nil {
		logger.Warnf("Classifier: restore incomplete: %v", restoreErr)
	}

	if runErr != nil {
		r.to(RunAborted, runErr)
		logger.Warnf("Classifier: analysis aborted: %v", runErr)
		return nil, runErr
	}

	degenerate := 0
	for _, s := range sections {
		if s.Degenerate {
			degenerate++
		}
	}
	if degenerate == len(sections) {
		err := fmt.Errorf("%w: all %d sections were empty", ErrNoSamples, len(sections))
		r.to(RunAborted, err)
		logger.Warnf("Classifier: %v", err)
		return nil, err
	}
	if restoreErr != nil {
		r.to(RunAborted, restoreErr)
		return nil, restoreErr
	}

	threshold := c.threshold()
	average, isStereo, confidence := Summarize(sections, threshold)
	result := &AnalysisResult{
		ID:                 id,
		IsStereo:           isStereo,
		AverageEnergy:      average,
		Threshold:          threshold,
		Confidence:         confidence,
		SectionsAnalyzed:   len(sections),
		DegenerateSections: degenerate,
		Sections:           sections,
		StartedAt:          startedAt,
		FinishedAt:         time.Now(),
	}
	r.to(RunDone, nil)

	logger.WithFields(log.Fields{
		"energy":     fmt.Sprintf("%.2f", average),
		"confidence": confidence,
		"degenerate": degenerate,
	}).Infof("Classifier: verdict %s", result.Verdict())
	return result, nil
}

// runSections строго последовательно снимает секции. Каждая секция получает
// свежий путь анализа, который снимается до перехода к следующей.
func (c *Classifier) runSections(ctx context.Context, r *run, source Source, routing *RoutingController, graph *Graph, points []AnalysisPoint) ([]SectionResult, error) {
	sections := make([]SectionResult, 0, len(points))

	for i, point := range points {
		r.seek(i, point)
		if err := c.check(ctx); err != nil {
			return sections, err
		}

		path, err := graph.NewAnalysisPath()
		if err != nil {
			return sections, fmt.Errorf("failed to build analysis path: %w", err)
		}
		teardown := func() {
			routing.DetachProbe()
			graph.ReleaseAnalysisPath(path)
		}

		if err := routing.AttachProbe(path); err != nil {
			teardown()
			return sections, fmt.Errorf("failed to attach analysis path: %w", err)
		}

		source.SetCurrentTime(point.Time)
		if err := source.Play(); err != nil {
			teardown()
			return sections, fmt.Errorf("%w: failed to start playback at %.2fs: %w", ErrAnalysisAborted, point.Time, err)
		}

		r.to(RunSampling, nil)
		section, err := c.Sampler.Sample(ctx, path.Probe())
		teardown()
		if err != nil {
			return sections, c.abortCause(err)
		}

		section.Point = point
		if section.Degenerate {
			log.Warnf("Classifier: %s section produced no samples", point.Label)
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// restore возвращает позицию, play/pause и выходной путь.
// Граф, который уже заменён новым источником, не трогается.
func (c *Classifier) restore(source Source, routing *RoutingController, graph *Graph, position float64, wasPaused bool) error {
	if wasPaused {
		source.Pause()
	}
	source.SetCurrentTime(position)

	var errs []error
	if routing.Graph() == graph {
		if _, err := routing.EndAnalysis(); err != nil {
			errs = append(errs, err)
		}
	} else {
		log.Printf("Classifier: source changed, skipping output restore")
	}

	if !wasPaused {
		if err := source.Play(); err != nil {
			errs = append(errs, fmt.Errorf("failed to resume playback: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ensureRunning возобновляет часы устройства; отказ - ErrDeviceSuspended
func (c *Classifier) ensureRunning(ctx context.Context) error {
	if c.Device == nil || c.Device.State() == audio.StateRunning {
		return nil
	}
	log.Printf("Classifier: audio device %s, resuming", c.Device.State())
	if err := c.Device.Resume(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceSuspended, err)
	}
	return nil
}

// awaitDuration ждёт, пока длительность станет известна
func (c *Classifier) awaitDuration(ctx context.Context, source Source) (float64, error) {
	if d := source.Duration(); knownDuration(d) {
		return d, nil
	}

	wait := c.DurationWait
	if wait <= 0 {
		wait = DefaultDurationWait
	}
	log.Printf("Classifier: duration unknown, waiting up to %v", wait)

	start := c.Sampler.Clock.Now()
	for {
		if err := c.check(ctx); err != nil {
			return 0, err
		}
		if err := c.Sampler.Scheduler.WaitFrame(ctx); err != nil {
			return 0, c.abortCause(err)
		}
		if d := source.Duration(); knownDuration(d) {
			return d, nil
		}
		if c.Sampler.Clock.Now().Sub(start) >= wait {
			return 0, fmt.Errorf("%w after %v", ErrDurationUnknown, wait)
		}
	}
}

func (c *Classifier) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAnalysisAborted, err)
	}
	if c.Guard != nil {
		if err := c.Guard(); err != nil {
			if errors.Is(err, ErrAnalysisAborted) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrAnalysisAborted, err)
		}
	}
	return nil
}

// abortCause переводит ошибки планировщика в таксономию анализа
func (c *Classifier) abortCause(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrAnalysisAborted, err)
	case errors.Is(err, audio.ErrNotRunning):
		return fmt.Errorf("%w: %w", ErrDeviceSuspended, err)
	default:
		return err
	}
}

func (c *Classifier) threshold() float64 {
	if c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

func knownDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d >= 0
}
