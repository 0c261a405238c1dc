package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// WAVInfo описывает формат WAV файла
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Float         bool
	Frames        int
}

// Duration возвращает длительность в секундах
func (i WAVInfo) Duration() float64 {
	if i.SampleRate == 0 {
		return 0
	}
	return float64(i.Frames) / float64(i.SampleRate)
}

// ReadWAVFile читает WAV файл целиком и возвращает планарные каналы
func ReadWAVFile(filePath string) ([][]float32, WAVInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer file.Close()
	return ReadWAV(file)
}

// ReadWAV разбирает RIFF/WAVE поток: PCM 8/16/24/32 бит и float32, 1-2 канала
func ReadWAV(r io.Reader) ([][]float32, WAVInfo, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, WAVInfo{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	var info WAVInfo
	var audioFormat uint16
	haveFmt := false

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrUnsupportedFormat)
			}
			return nil, WAVInfo{}, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, WAVInfo{}, fmt.Errorf("%w: fmt chunk too short", ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, WAVInfo{}, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if audioFormat == wavFormatExtensible && size >= 26 {
				// Подформат - первые два байта GUID
				audioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			info.Float = audioFormat == wavFormatFloat
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			if err := validateWAVInfo(audioFormat, info); err != nil {
				return nil, WAVInfo{}, err
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, WAVInfo{}, fmt.Errorf("failed to read data chunk: %w", err)
			}
			channels := decodeWAVSamples(data[:n], info)
			info.Frames = len(channels[0])
			return channels, info, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, WAVInfo{}, fmt.Errorf("failed to skip chunk %q: %w", id, err)
			}
			continue
		}

		// Чанки выровнены по двум байтам
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return nil, WAVInfo{}, fmt.Errorf("failed to skip padding: %w", err)
			}
		}
	}
}

func validateWAVInfo(audioFormat uint16, info WAVInfo) error {
	if info.Channels < 1 || info.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, info.Channels)
	}
	if info.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, info.SampleRate)
	}
	switch audioFormat {
	case wavFormatPCM:
		switch info.BitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case wavFormatFloat:
		if info.BitsPerSample == 32 {
			return nil
		}
	}
	return fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedFormat, audioFormat, info.BitsPerSample)
}

func decodeWAVSamples(data []byte, info WAVInfo) [][]float32 {
	bytesPerSample := info.BitsPerSample / 8
	frameSize := bytesPerSample * info.Channels
	frames := len(data) / frameSize

	channels := make([][]float32, info.Channels)
	for ch := range channels {
		channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < info.Channels; ch++ {
			b := data[i*frameSize+ch*bytesPerSample:]
			var v float32
			switch {
			case info.Float:
				v = math.Float32frombits(binary.LittleEndian.Uint32(b))
			case bytesPerSample == 1:
				// 8-bit WAV беззнаковый
				v = (float32(b[0]) - 128) / 128
			case bytesPerSample == 2:
				v = float32(int16(binary.LittleEndian.Uint16(b))) / 32768
			case bytesPerSample == 3:
				s := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
				v = float32(s) / 8388608
			case bytesPerSample == 4:
				v = float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648
			}
			channels[ch][i] = v
		}
	}
	return channels
}
