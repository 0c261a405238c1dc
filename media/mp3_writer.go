package media

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"
	log "github.com/sirupsen/logrus"
)

// shine кодирует блоками по 1152 семпла на канал (MPEG Layer III)
const shineBlockFrames = 1152

// MP3Writer потоковый писатель MP3 через shine-mp3 (чистый Go)
type MP3Writer struct {
	file       *os.File
	out        *bufio.Writer
	encoder    *mp3.Encoder
	filePath   string
	sampleRate int
	channels   int

	// shine требует целые блоки, копим интерлив int16
	buffer []int16

	framesWritten int64
	mu            sync.Mutex
	closed        bool
}

// NewMP3Writer создаёт MP3 writer (1 или 2 канала)
func NewMP3Writer(filePath string, sampleRate, channels int) (*MP3Writer, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 file: %w", err)
	}

	log.Printf("MP3Writer: started %s (rate=%d, ch=%d)", filePath, sampleRate, channels)

	return &MP3Writer{
		file:       file,
		out:        bufio.NewWriter(file),
		encoder:    mp3.NewEncoder(sampleRate, channels),
		filePath:   filePath,
		sampleRate: sampleRate,
		channels:   channels,
		buffer:     make([]int16, 0, shineBlockFrames*channels*4),
	}, nil
}

// Write записывает интерлив float32 семплы
func (w *MP3Writer) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	for _, s := range samples {
		w.buffer = append(w.buffer, floatToPCM16(s))
	}
	w.framesWritten += int64(len(samples) / w.channels)

	block := shineBlockFrames * w.channels
	if full := len(w.buffer) / block * block; full >= block*4 {
		if err := w.encoder.Write(w.out, w.buffer[:full]); err != nil {
			return fmt.Errorf("failed to encode MP3: %w", err)
		}
		rest := copy(w.buffer, w.buffer[full:])
		w.buffer = w.buffer[:rest]
	}
	return nil
}

// WritePlanar записывает планарные каналы [channel][frame]
func (w *MP3Writer) WritePlanar(channels [][]float32) error {
	if len(channels) != w.channels {
		return fmt.Errorf("expected %d channels, got %d", w.channels, len(channels))
	}
	return w.Write(interleave(channels))
}

// Duration возвращает длительность записанного звука
func (w *MP3Writer) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.framesWritten) * time.Second / time.Duration(w.sampleRate)
}

// Close дописывает хвост (дополненный тишиной до блока) и закрывает файл
func (w *MP3Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if len(w.buffer) > 0 {
		block := shineBlockFrames * w.channels
		for len(w.buffer)%block != 0 {
			w.buffer = append(w.buffer, 0)
		}
		if err := w.encoder.Write(w.out, w.buffer); err != nil {
			w.file.Close()
			return fmt.Errorf("failed to encode MP3 tail: %w", err)
		}
	}

	if err := w.out.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush MP3 data: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	log.Printf("MP3Writer: closed %s (duration=%v)", w.filePath, w.Duration())
	return nil
}

// FilePath возвращает путь к файлу
func (w *MP3Writer) FilePath() string {
	return w.filePath
}
