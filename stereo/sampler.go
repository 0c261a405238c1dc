package stereo

import (
	"context"
	"iter"
	"math"
	"sync/atomic"
	"time"
)

const (
	// SectionWindow - окно одной секции в многосекционном анализе
	SectionWindow = 1000 * time.Millisecond

	// LegacySectionWindow - окно прежнего односекционного анализа.
	// Analyze его не использует.
	LegacySectionWindow = 3000 * time.Millisecond
)

// FrameScheduler выдаёт кадры опроса (vsync у realtime, рендер у offline)
type FrameScheduler interface {
	WaitFrame(ctx context.Context) error
}

// Clock - источник времени для окна секции
type Clock interface {
	Now() time.Time
}

// Probe - буфер частотных данных анализатора
type Probe interface {
	FrequencyBinCount() int
	GetByteFrequencyData(dst []byte)
}

// Sampler снимает энергию с зонда в течение окна
type Sampler struct {
	Window    time.Duration
	Scheduler FrameScheduler
	Clock     Clock
}

// NewSampler создаёт sampler с окном SectionWindow
func NewSampler(scheduler FrameScheduler, clock Clock) *Sampler {
	return &Sampler{
		Window:    SectionWindow,
		Scheduler: scheduler,
		Clock:     clock,
	}
}

// BinRMS - корень из среднего квадрата значений бинов
func BinRMS(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		v := float64(b)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(bins)))
}

// Samples возвращает конечную ленивую последовательность измерений за окно.
// Последовательность одноразовая: повторный range ничего не выдаст.
// Ошибка планировщика (отмена контекста) приходит последним элементом.
func (s *Sampler) Samples(ctx context.Context, probe Probe) iter.Seq2[SectionSample, error] {
	var used atomic.Bool
	return func(yield func(SectionSample, error) bool) {
		if used.Swap(true) {
			return
		}

		bins := make([]byte, probe.FrequencyBinCount())
		start := s.Clock.Now()
		for {
			if err := s.Scheduler.WaitFrame(ctx); err != nil {
				yield(SectionSample{}, err)
				return
			}
			// Время проверяется до чтения: голодный планировщик даёт ноль измерений
			if s.Clock.Now().Sub(start) > s.Window {
				return
			}
			probe.GetByteFrequencyData(bins)
			if !yield(SectionSample{Energy: BinRMS(bins)}, nil) {
				return
			}
		}
	}
}

// Sample усредняет энергию за окно. Без единого измерения секция вырождена:
// среднее 0, Degenerate=true.
func (s *Sampler) Sample(ctx context.Context, probe Probe) (SectionResult, error) {
	var result SectionResult
	var sum float64
	for sample, err := range s.Samples(ctx, probe) {
		if err != nil {
			return result, err
		}
		sum += sample.Energy
		result.Samples++
	}
	if result.Samples == 0 {
		result.Degenerate = true
		return result, nil
	}
	result.Average = sum / float64(result.Samples)
	return result, nil
}
