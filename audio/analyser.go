package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
	minFFTSize         = 32
	maxFFTSize         = 32768
	blackmanAlpha      = 0.16
)

// AnalyserOptions параметры анализатора
type AnalyserOptions struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// DefaultAnalyserOptions возвращает параметры по умолчанию
func DefaultAnalyserOptions() AnalyserOptions {
	return AnalyserOptions{
		FFTSize:     DefaultFFTSize,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
	}
}

// AnalyserNode - зонд энергии: хранит последние FFTSize семплов (вход сводится в моно)
// и отдаёт сглаженный спектр. Выход повторяет вход, но подключать его не обязательно:
// анализатор рендерится всегда, пока не освобождён.
type AnalyserNode struct {
	*node
	opts AnalyserOptions

	ring []float64
	pos  int

	fft        *fourier.FFT
	window     []float64
	frame      []float64
	coeffs     []complex128
	smoothed   []float64
	computedAt uint64
}

// CreateAnalyser создаёт анализатор
func (c *Context) CreateAnalyser(opts AnalyserOptions) (*AnalyserNode, error) {
	if opts.FFTSize == 0 {
		opts.FFTSize = DefaultFFTSize
	}
	if opts.FFTSize < minFFTSize || opts.FFTSize > maxFFTSize || opts.FFTSize&(opts.FFTSize-1) != 0 {
		return nil, fmt.Errorf("invalid fft size: %d", opts.FFTSize)
	}
	if opts.Smoothing < 0 || opts.Smoothing > 1 {
		return nil, fmt.Errorf("invalid smoothing time constant: %v", opts.Smoothing)
	}
	if opts.MinDecibels == 0 && opts.MaxDecibels == 0 {
		opts.MinDecibels, opts.MaxDecibels = DefaultMinDecibels, DefaultMaxDecibels
	}
	if opts.MinDecibels >= opts.MaxDecibels {
		return nil, fmt.Errorf("invalid decibel range: [%v, %v]", opts.MinDecibels, opts.MaxDecibels)
	}

	a := &AnalyserNode{
		opts:     opts,
		ring:     make([]float64, opts.FFTSize),
		fft:      fourier.NewFFT(opts.FFTSize),
		window:   createBlackmanWindow(opts.FFTSize),
		frame:    make([]float64, opts.FFTSize),
		coeffs:   make([]complex128, opts.FFTSize/2+1),
		smoothed: make([]float64, opts.FFTSize/2),
	}
	a.node = newNode(c, "analyser", 1, 1, a)
	c.addAutoPull(a.node)
	return a, nil
}

// FFTSize возвращает размер окна FFT
func (a *AnalyserNode) FFTSize() int {
	return a.opts.FFTSize
}

// FrequencyBinCount возвращает число частотных бинов (FFTSize/2)
func (a *AnalyserNode) FrequencyBinCount() int {
	return a.opts.FFTSize / 2
}

func (a *AnalyserNode) process(n *node, q uint64) {
	in := n.mixInput(0, q)
	out := n.setOutput(0, len(in))
	for ch := range in {
		copy(out[ch], in[ch])
	}

	scale := 1 / float64(len(in))
	for i := 0; i < RenderQuantum; i++ {
		var sum float64
		for ch := range in {
			sum += float64(in[ch][i])
		}
		a.ring[a.pos] = sum * scale
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// GetFloatTimeDomainData копирует последние семплы (до len(dst))
func (a *AnalyserNode) GetFloatTimeDomainData(dst []float32) {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()

	size := len(a.ring)
	n := min(len(dst), size)
	start := (a.pos - n + size) % size
	for i := 0; i < n; i++ {
		dst[i] = float32(a.ring[(start+i)%size])
	}
}

// GetFloatFrequencyData копирует сглаженный спектр в децибелах
func (a *AnalyserNode) GetFloatFrequencyData(dst []float32) {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()

	a.computeSpectrumLocked()
	for i := 0; i < len(dst) && i < len(a.smoothed); i++ {
		dst[i] = float32(toDecibels(a.smoothed[i]))
	}
}

// GetByteFrequencyData копирует спектр, отмасштабированный из [MinDecibels, MaxDecibels] в 0..255
func (a *AnalyserNode) GetByteFrequencyData(dst []byte) {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()

	a.computeSpectrumLocked()
	rangeScale := 255 / (a.opts.MaxDecibels - a.opts.MinDecibels)
	for i := 0; i < len(dst) && i < len(a.smoothed); i++ {
		db := toDecibels(a.smoothed[i])
		v := math.Floor(rangeScale * (db - a.opts.MinDecibels))
		switch {
		case math.IsNaN(v) || v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[i] = byte(v)
	}
}

// computeSpectrumLocked пересчитывает спектр не чаще раза за render quantum,
// чтобы сглаживание не зависело от частоты опроса
func (a *AnalyserNode) computeSpectrumLocked() {
	if a.computedAt == a.ctx.quantum && a.computedAt != 0 {
		return
	}
	a.computedAt = a.ctx.quantum

	size := len(a.ring)
	for i := 0; i < size; i++ {
		a.frame[i] = a.ring[(a.pos+i)%size] * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	tau := a.opts.Smoothing
	norm := 1 / float64(size)
	for k := range a.smoothed {
		re := real(a.coeffs[k])
		im := imag(a.coeffs[k])
		mag := math.Sqrt(re*re+im*im) * norm
		v := tau*a.smoothed[k] + (1-tau)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[k] = v
	}
}

func toDecibels(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// createBlackmanWindow создаёт окно Блэкмана
func createBlackmanWindow(size int) []float64 {
	a0 := (1 - blackmanAlpha) / 2
	a1 := 0.5
	a2 := blackmanAlpha / 2
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		x := 2 * math.Pi * float64(i) / float64(size)
		window[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return window
}
