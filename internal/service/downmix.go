package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stereochecker/audio"
	"stereochecker/media"
	"stereochecker/stereo"

	log "github.com/sirupsen/logrus"
)

// DownmixReport - итог экспорта моно версии
type DownmixReport struct {
	Input      string        `json:"input" yaml:"input" toml:"input"`
	Output     string        `json:"output" yaml:"output" toml:"output"`
	SampleRate int           `json:"sampleRate" yaml:"sample_rate" toml:"sample_rate"`
	Frames     int64         `json:"frames" yaml:"frames" toml:"frames"`
	Duration   time.Duration `json:"duration" yaml:"duration" toml:"duration"`
}

// sampleWriter - WAV или MP3 writer для моно потока
type sampleWriter interface {
	Write(samples []float32) error
	Close() error
}

func newSampleWriter(path string, sampleRate int) (sampleWriter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return media.NewMP3Writer(path, sampleRate, 1)
	case ".wav":
		return media.NewWAVWriter(path, sampleRate, 1)
	default:
		return nil, fmt.Errorf("%w: output must be .wav or .mp3, got %q", media.ErrUnsupportedFormat, path)
	}
}

// Downmix пропускает файл через моно путь графа и пишет результат в WAV/MP3.
// Рендер идёт офлайн драйвером, быстрее реального времени.
func Downmix(ctx context.Context, inputPath, outputPath string, frameRate int) (*DownmixReport, error) {
	player, err := media.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer player.Close()

	actx, err := audio.NewContext(audio.ContextOptions{SampleRate: player.SampleRate()})
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	defer actx.Close()
	if err := actx.Resume(ctx); err != nil {
		return nil, err
	}

	tap, err := actx.CreateMediaElementSource(player)
	if err != nil {
		return nil, fmt.Errorf("failed to create source tap: %w", err)
	}
	graph, err := stereo.NewGraph(actx, tap)
	if err != nil {
		return nil, fmt.Errorf("failed to build signal graph: %w", err)
	}
	defer graph.Release()

	routing := stereo.NewRoutingController()
	routing.SetGraph(graph)
	if err := routing.Connect(stereo.PathMono); err != nil {
		return nil, err
	}

	w, err := newSampleWriter(outputPath, player.SampleRate())
	if err != nil {
		return nil, err
	}

	// Недописанный файл не оставляем
	discard := func(cause error) error {
		if err := w.Close(); err != nil {
			log.Warnf("Downmix: failed to close %s: %v", outputPath, err)
		}
		if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
			log.Warnf("Downmix: failed to remove partial %s: %v", outputPath, err)
		}
		return cause
	}

	total := int64(len(player.PCM()[0]))
	var written int64
	var mono []float32

	driver := audio.NewOfflineDriver(actx, frameRate)
	driver.Sink = func(samples []float32) error {
		frames := int64(len(samples) / audio.OutputChannels)
		if rest := total - written; frames > rest {
			frames = rest
		}
		// Оба канала моно пути одинаковы, берём левый
		mono = mono[:0]
		for i := int64(0); i < frames; i++ {
			mono = append(mono, samples[i*audio.OutputChannels])
		}
		written += frames
		return w.Write(mono)
	}

	if err := player.Play(); err != nil {
		return nil, discard(err)
	}
	for written < total {
		if err := driver.WaitFrame(ctx); err != nil {
			return nil, discard(fmt.Errorf("downmix interrupted: %w", err))
		}
	}
	if err := w.Close(); err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("Downmix: failed to remove partial %s: %v", outputPath, rmErr)
		}
		return nil, fmt.Errorf("failed to finalize %s: %w", outputPath, err)
	}

	report := &DownmixReport{
		Input:      inputPath,
		Output:     outputPath,
		SampleRate: player.SampleRate(),
		Frames:     written,
		Duration:   time.Duration(float64(written) / float64(player.SampleRate()) * float64(time.Second)),
	}
	log.Printf("Downmix: wrote %s (%d frames, %v)", outputPath, written, report.Duration)
	return report, nil
}
