package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Reader читает MP3 файлы используя чистый Go (без FFmpeg)
type MP3Reader struct {
	decoder    *mp3.Decoder
	file       *os.File
	sampleRate int
	length     int64 // длина в байтах (signed 16-bit PCM, стерео)
}

// NewMP3Reader открывает MP3 файл для чтения
func NewMP3Reader(filePath string) (*MP3Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	return &MP3Reader{
		decoder:    decoder,
		file:       file,
		sampleRate: decoder.SampleRate(),
		length:     decoder.Length(),
	}, nil
}

// SampleRate возвращает частоту дискретизации
func (r *MP3Reader) SampleRate() int {
	return r.sampleRate
}

// Channels возвращает количество каналов (go-mp3 всегда декодирует в стерео,
// моно MP3 приходит продублированным в оба канала)
func (r *MP3Reader) Channels() int {
	return 2
}

// Duration возвращает длительность в секундах
func (r *MP3Reader) Duration() float64 {
	// length в байтах, 4 байта на фрейм (16-bit stereo)
	return float64(r.length/4) / float64(r.sampleRate)
}

// ReadAll читает весь файл и возвращает планарные каналы [left, right]
func (r *MP3Reader) ReadAll() ([][]float32, error) {
	var pcmData []byte
	if r.length > 0 {
		pcmData = make([]byte, r.length)
		n, err := io.ReadFull(r.decoder, pcmData)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("failed to read PCM data: %w", err)
		}
		pcmData = pcmData[:n]
	} else {
		// Длина неизвестна - читаем до конца потока
		data, err := io.ReadAll(r.decoder)
		if err != nil {
			return nil, fmt.Errorf("failed to read PCM data: %w", err)
		}
		pcmData = data
	}

	numFrames := len(pcmData) / 4
	left := make([]float32, numFrames)
	right := make([]float32, numFrames)

	for i := 0; i < numFrames; i++ {
		leftSample := int16(binary.LittleEndian.Uint16(pcmData[i*4:]))
		rightSample := int16(binary.LittleEndian.Uint16(pcmData[i*4+2:]))

		left[i] = float32(leftSample) / 32768.0
		right[i] = float32(rightSample) / 32768.0
	}

	return [][]float32{left, right}, nil
}

// Close закрывает файл
func (r *MP3Reader) Close() error {
	return r.file.Close()
}
