package media

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// WAVWriter потоковый писатель 16-bit PCM WAV файлов
type WAVWriter struct {
	file          *os.File
	buf           *bufio.Writer
	filePath      string
	sampleRate    int
	channels      int
	framesWritten int64
	mu            sync.Mutex
	closed        bool
}

// NewWAVWriter создаёт новый WAV writer
func NewWAVWriter(filePath string, sampleRate, channels int) (*WAVWriter, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w := &WAVWriter{
		file:       file,
		buf:        bufio.NewWriter(file),
		filePath:   filePath,
		sampleRate: sampleRate,
		channels:   channels,
	}

	// Placeholder header, размеры обновятся в Close
	if err := w.writeHeader(w.buf); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// writeHeader записывает WAV header
func (w *WAVWriter) writeHeader(out io.Writer) error {
	const bitsPerSample = 16
	byteRate := w.sampleRate * w.channels * bitsPerSample / 8
	blockAlign := w.channels * bitsPerSample / 8
	dataSize := uint32(w.framesWritten * int64(blockAlign))

	header := make([]byte, 0, 44)
	header = append(header, "RIFF"...)
	header = binary.LittleEndian.AppendUint32(header, 36+dataSize)
	header = append(header, "WAVE"...)

	header = append(header, "fmt "...)
	header = binary.LittleEndian.AppendUint32(header, 16)                 // chunk size
	header = binary.LittleEndian.AppendUint16(header, 1)                  // PCM
	header = binary.LittleEndian.AppendUint16(header, uint16(w.channels)) // channels
	header = binary.LittleEndian.AppendUint32(header, uint32(w.sampleRate))
	header = binary.LittleEndian.AppendUint32(header, uint32(byteRate))
	header = binary.LittleEndian.AppendUint16(header, uint16(blockAlign))
	header = binary.LittleEndian.AppendUint16(header, bitsPerSample)

	header = append(header, "data"...)
	header = binary.LittleEndian.AppendUint32(header, dataSize)

	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// Write записывает интерлив float32 семплы (конвертирует в PCM16)
func (w *WAVWriter) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	var b [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(b[:], uint16(floatToPCM16(s)))
		if _, err := w.buf.Write(b[:]); err != nil {
			return err
		}
	}
	w.framesWritten += int64(len(samples) / w.channels)
	return nil
}

// WritePlanar записывает планарные каналы [channel][frame]
func (w *WAVWriter) WritePlanar(channels [][]float32) error {
	if len(channels) != w.channels {
		return fmt.Errorf("expected %d channels, got %d", w.channels, len(channels))
	}
	return w.Write(interleave(channels))
}

// FramesWritten возвращает количество записанных фреймов
func (w *WAVWriter) FramesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framesWritten
}

// Close дописывает буфер, обновляет header и закрывает файл
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush WAV data: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek WAV header: %w", err)
	}
	if err := w.writeHeader(w.file); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// FilePath возвращает путь к файлу
func (w *WAVWriter) FilePath() string {
	return w.filePath
}

func floatToPCM16(s float32) int16 {
	// Clamp
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int16(s * 32767)
}

func interleave(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]float32, frames*len(channels))
	for i := 0; i < frames; i++ {
		for ch := range channels {
			out[i*len(channels)+ch] = channels[ch][i]
		}
	}
	return out
}
