// Генератор тестовых файлов для ручной проверки детектора стерео
// Запуск: go run ./cmd/testtone -kind dual-mono -o dual.wav

package main

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"stereochecker/media"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// writer - общий интерфейс WAV и MP3 writer
type writer interface {
	WritePlanar(channels [][]float32) error
	Close() error
}

var kinds = []string{"stereo", "dual-mono", "inverted", "left-only", "silent"}

func main() {
	kind := pflag.StringP("kind", "k", "stereo", "Signal kind: "+strings.Join(kinds, ", "))
	output := pflag.StringP("output", "o", "", "Output file (.wav or .mp3)")
	seconds := pflag.Float64P("duration", "d", 10, "Duration in seconds")
	rate := pflag.IntP("rate", "r", 44100, "Sample rate")
	pflag.Parse()

	if *output == "" {
		*output = *kind + ".wav"
	}

	left, right, err := generate(*kind, int(*seconds*float64(*rate)), *rate)
	if err != nil {
		log.Fatalf("TestTone: %v", err)
	}

	w, err := open(*output, *rate)
	if err != nil {
		log.Fatalf("TestTone: %v", err)
	}
	if err := w.WritePlanar([][]float32{left, right}); err != nil {
		w.Close()
		log.Fatalf("TestTone: write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Fatalf("TestTone: close failed: %v", err)
	}
	log.Printf("TestTone: wrote %s (%s, %.1fs, %d Hz)", *output, *kind, *seconds, *rate)
}

func open(path string, rate int) (writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return media.NewWAVWriter(path, rate, 2)
	case ".mp3":
		return media.NewMP3Writer(path, rate, 2)
	default:
		return nil, fmt.Errorf("unsupported output extension: %s", path)
	}
}

// generate строит пару каналов. Тон 440 Гц плюс шум, чтобы FFT видел широкий спектр.
func generate(kind string, frames, rate int) ([]float32, []float32, error) {
	rng := rand.New(rand.NewSource(1))
	left := make([]float32, frames)
	right := make([]float32, frames)

	tone := func(i int, freq float64) float64 {
		return 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}

	for i := 0; i < frames; i++ {
		l := tone(i, 440) + 0.2*(rng.Float64()*2-1)
		switch kind {
		case "stereo":
			left[i] = float32(l)
			right[i] = float32(tone(i, 660) + 0.2*(rng.Float64()*2-1))
		case "dual-mono":
			left[i] = float32(l)
			right[i] = float32(l)
		case "inverted":
			// Противофаза: при сведении в моно сигнал пропадает
			left[i] = float32(l)
			right[i] = float32(-l)
		case "left-only":
			left[i] = float32(l)
		case "silent":
		default:
			return nil, nil, fmt.Errorf("unknown kind %q (%s)", kind, strings.Join(kinds, ", "))
		}
	}
	return left, right, nil
}
