package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat возвращается для файлов, которые плеер не умеет декодировать
var ErrUnsupportedFormat = errors.New("unsupported media format")

// Kind - тип медиа (как префикс MIME: audio/*, video/*)
type Kind string

const (
	KindAudio   Kind = "audio"
	KindVideo   Kind = "video"
	KindUnknown Kind = "unknown"
)

// Format - контейнер/кодек файла
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatMP4     Format = "mp4"
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatUnknown Format = "unknown"
)

// Decodable сообщает умеет ли плеер декодировать формат
func (f Format) Decodable() bool {
	return f == FormatWAV || f == FormatMP3
}

// Kind возвращает тип медиа для формата
func (f Format) Kind() Kind {
	switch f {
	case FormatWAV, FormatMP3, FormatOgg, FormatFLAC:
		return KindAudio
	case FormatMP4, FormatWebM:
		return KindVideo
	default:
		return KindUnknown
	}
}

// SniffFile определяет формат файла по сигнатуре, с откатом на расширение
func SniffFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read media header: %w", err)
	}

	if format := Sniff(header[:n]); format != FormatUnknown {
		return format, nil
	}
	return formatFromExtension(path), nil
}

// Sniff определяет формат по первым байтам файла
func Sniff(header []byte) Format {
	switch {
	case len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return FormatMP3
	case len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.HasPrefix(header, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatOgg
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC
	default:
		return FormatUnknown
	}
}

func formatFromExtension(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".mp4", ".m4a", ".m4v", ".mov":
		return FormatMP4
	case ".webm", ".mkv":
		return FormatWebM
	case ".ogg", ".oga", ".opus":
		return FormatOgg
	case ".flac":
		return FormatFLAC
	default:
		return FormatUnknown
	}
}
