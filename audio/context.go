package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// RenderQuantum - число фреймов, обрабатываемых графом за один проход
const RenderQuantum = 128

// OutputChannels - число каналов устройства вывода
const OutputChannels = 2

// ErrGestureRequired возвращается из Resume, пока пользователь не разрешил воспроизведение
var ErrGestureRequired = errors.New("resume requires a user gesture")

// ContextState состояние часов устройства
type ContextState int

const (
	StateSuspended ContextState = iota
	StateRunning
	StateClosed
)

func (s ContextState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ContextState(%d)", int(s))
	}
}

// MarshalText позволяет отдавать состояние в JSON строкой
func (s ContextState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink - устройство, которое забирает отрендеренный звук (malgo playback)
type Sink interface {
	Start() error
	Stop() error
	Close()
}

// ContextOptions настройки контекста
type ContextOptions struct {
	SampleRate int
	// RequireGesture - Resume разрешён только после GrantGesture (autoplay policy)
	RequireGesture bool
}

// Context - аудио контекст: граф узлов, часы и состояние устройства.
// Топология графа и рендер защищены одним мьютексом.
type Context struct {
	mu sync.Mutex
	// transition сериализует Resume/Suspend, которые отпускают mu на время работы с устройством
	transition sync.Mutex

	sampleRate     int
	state          ContextState
	requireGesture bool
	gesture        bool

	quantum  uint64
	frames   uint64
	autoPull map[*node]struct{}
	dest     *Destination
	sink     Sink

	// Остаток отрендеренного quantum, не забранный устройством
	pending []float32
}

// NewContext создаёт контекст в состоянии Suspended
func NewContext(opts ContextOptions) (*Context, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", opts.SampleRate)
	}
	c := &Context{
		sampleRate:     opts.SampleRate,
		state:          StateSuspended,
		requireGesture: opts.RequireGesture,
		autoPull:       make(map[*node]struct{}),
	}
	c.dest = newDestination(c)
	return c, nil
}

// SampleRate возвращает частоту дискретизации контекста
func (c *Context) SampleRate() int {
	return c.sampleRate
}

// Destination возвращает узел вывода на устройство
func (c *Context) Destination() *Destination {
	return c.dest
}

// State возвращает текущее состояние часов
func (c *Context) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTime возвращает время часов контекста в секундах
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frames) / float64(c.sampleRate)
}

// AttachSink подключает устройство вывода. Устройство стартует при следующем Resume.
func (c *Context) AttachSink(s Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrContextClosed
	}
	c.sink = s
	return nil
}

// GrantGesture отмечает что пользователь явно разрешил воспроизведение
func (c *Context) GrantGesture() {
	c.mu.Lock()
	c.gesture = true
	c.mu.Unlock()
}

// Resume запускает часы. Может быть отклонён политикой автовоспроизведения.
func (c *Context) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		c.mu.Unlock()
		return ErrContextClosed
	case c.state == StateRunning:
		c.mu.Unlock()
		return nil
	case c.requireGesture && !c.gesture:
		c.mu.Unlock()
		return ErrGestureRequired
	}
	sink := c.sink
	c.mu.Unlock()

	// Устройство стартуем без мьютекса: его callback сам берёт мьютекс в Render
	if sink != nil {
		if err := sink.Start(); err != nil {
			return fmt.Errorf("failed to start output device: %w", err)
		}
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.state = StateRunning
	c.mu.Unlock()

	log.Printf("AudioContext: resumed (rate=%d)", c.sampleRate)
	return nil
}

// Suspend останавливает часы; источники не продвигаются
func (c *Context) Suspend() error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrContextClosed
	case StateSuspended:
		c.mu.Unlock()
		return nil
	}
	c.state = StateSuspended
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink.Stop(); err != nil {
			return fmt.Errorf("failed to stop output device: %w", err)
		}
	}
	return nil
}

// Close закрывает контекст и освобождает устройство
func (c *Context) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	sink := c.sink
	c.sink = nil
	c.autoPull = make(map[*node]struct{})
	c.mu.Unlock()

	// Устройство останавливаем без мьютекса: callback может ждать его в Render
	if sink != nil {
		sink.Close()
	}
	log.Println("AudioContext: closed")
}

// Render заполняет out интерлив-стерео семплами (L0, R0, L1, R1, ...).
// Вне состояния Running отдаёт тишину и не двигает часы.
// Возвращает количество отрендеренных фреймов.
func (c *Context) Render(out []float32) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := len(out) / OutputChannels
	if c.state != StateRunning {
		clear(out)
		return 0
	}

	written := 0
	for written < frames {
		if len(c.pending) == 0 {
			c.renderQuantumLocked()
		}
		n := copy(out[written*OutputChannels:frames*OutputChannels], c.pending)
		c.pending = c.pending[n:]
		written += n / OutputChannels
	}
	return frames
}

// renderQuantumLocked проталкивает один quantum через граф
func (c *Context) renderQuantumLocked() {
	c.quantum++
	q := c.quantum

	c.dest.pull(q)
	for n := range c.autoPull {
		n.pull(q)
	}

	bus := c.dest.out[0]
	buf := make([]float32, RenderQuantum*OutputChannels)
	for i := 0; i < RenderQuantum; i++ {
		for ch := 0; ch < OutputChannels; ch++ {
			buf[i*OutputChannels+ch] = bus[ch][i]
		}
	}
	c.pending = buf
	c.frames += RenderQuantum
}

func (c *Context) addAutoPull(n *node) {
	c.mu.Lock()
	c.autoPull[n] = struct{}{}
	c.mu.Unlock()
}
