package media

import (
	"errors"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrPlayerClosed возвращается при обращении к закрытому плееру
var ErrPlayerClosed = errors.New("player is closed")

// Player - медиа элемент: декодированный PCM в памяти, позиция, play/pause.
// Граф тянет звук через ReadFrames на потоке рендеринга.
type Player struct {
	mu         sync.Mutex
	channels   [][]float32
	sampleRate int
	pos        int
	paused     bool
	ended      bool
	closed     bool

	path   string
	format Format
}

// Open открывает файл: определяет формат и декодирует его целиком
func Open(path string) (*Player, error) {
	format, err := SniffFile(path)
	if err != nil {
		return nil, err
	}
	if !format.Decodable() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, format, format.Kind())
	}

	var channels [][]float32
	var sampleRate int

	switch format {
	case FormatMP3:
		reader, err := NewMP3Reader(path)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		sampleRate = reader.SampleRate()
		channels, err = reader.ReadAll()
		if err != nil {
			return nil, err
		}
	case FormatWAV:
		var info WAVInfo
		channels, info, err = ReadWAVFile(path)
		if err != nil {
			return nil, err
		}
		sampleRate = info.SampleRate
	}

	p, err := NewPlayer(channels, sampleRate)
	if err != nil {
		return nil, err
	}
	p.path = path
	p.format = format

	log.Printf("Player: loaded %s (%s, %d Hz, %d ch, %.2fs)", path, format, sampleRate, len(channels), p.Duration())
	return p, nil
}

// NewPlayer создаёт плеер из планарных каналов [channel][frame].
// Плеер создаётся на паузе.
func NewPlayer(channels [][]float32, sampleRate int) (*Player, error) {
	if len(channels) < 1 || len(channels) > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, len(channels))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	for ch := 1; ch < len(channels); ch++ {
		if len(channels[ch]) != len(channels[0]) {
			return nil, fmt.Errorf("channel length mismatch: %d vs %d", len(channels[ch]), len(channels[0]))
		}
	}
	return &Player{
		channels:   channels,
		sampleRate: sampleRate,
		paused:     true,
		format:     FormatUnknown,
	}, nil
}

// Path возвращает путь к файлу (пусто для плееров из памяти)
func (p *Player) Path() string {
	return p.path
}

// Format возвращает формат файла
func (p *Player) Format() Format {
	return p.format
}

// SampleRate возвращает частоту дискретизации
func (p *Player) SampleRate() int {
	return p.sampleRate
}

// Channels возвращает число каналов
func (p *Player) Channels() int {
	return len(p.channels)
}

// PCM возвращает декодированные каналы (только для чтения)
func (p *Player) PCM() [][]float32 {
	return p.channels
}

// Duration возвращает длительность в секундах
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return math.NaN()
	}
	return float64(len(p.channels[0])) / float64(p.sampleRate)
}

// CurrentTime возвращает позицию воспроизведения в секундах
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.pos) / float64(p.sampleRate)
}

// SetCurrentTime перематывает на позицию (с ограничением в [0, duration])
func (p *Player) SetCurrentTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frames := len(p.channels[0])
	pos := int(math.Round(seconds * float64(p.sampleRate)))
	if math.IsNaN(seconds) || pos < 0 {
		pos = 0
	}
	if pos > frames {
		pos = frames
	}
	p.pos = pos
	p.ended = pos >= frames
}

// Play запускает воспроизведение; с конца файла начинает сначала
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if p.ended {
		p.pos = 0
		p.ended = false
	}
	p.paused = false
	return nil
}

// Pause ставит воспроизведение на паузу
func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Paused сообщает стоит ли плеер на паузе
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Ended сообщает дошло ли воспроизведение до конца
func (p *Player) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// ReadFrames копирует следующие фреймы в dst[channel][frame].
// На паузе ничего не пишет; на конце файла встаёт на паузу.
func (p *Player) ReadFrames(dst [][]float32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused || p.closed || len(dst) == 0 {
		return 0
	}

	total := len(p.channels[0])
	n := min(len(dst[0]), total-p.pos)
	for ch := range dst {
		src := p.channels[min(ch, len(p.channels)-1)]
		copy(dst[ch][:n], src[p.pos:p.pos+n])
	}
	p.pos += n

	if p.pos >= total {
		p.ended = true
		p.paused = true
	}
	return n
}

// Close останавливает плеер; дальнейший Play вернёт ErrPlayerClosed
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.paused = true
	return nil
}
