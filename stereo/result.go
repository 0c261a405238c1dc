package stereo

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// DefaultThreshold - порог энергии остатка после подавления фазы
	DefaultThreshold = 5.0

	// MinDuration - минимальная длительность источника для анализа (секунды)
	MinDuration = 3.0

	// stereoSaturation - энергия, при которой уверенность в стерео максимальна
	stereoSaturation = 20.0

	minConfidence = 80
	maxConfidence = 100
)

// PathKind - выходной путь, подключённый к устройству
type PathKind int

const (
	PathNone PathKind = iota
	PathStereo
	PathMono
)

func (k PathKind) String() string {
	switch k {
	case PathStereo:
		return "stereo"
	case PathMono:
		return "mono"
	default:
		return "none"
	}
}

// MarshalText для JSON/YAML
func (k PathKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText разбирает "stereo" / "mono" / "none"
func (k *PathKind) UnmarshalText(text []byte) error {
	parsed, err := ParsePathKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePathKind разбирает имя пути
func ParsePathKind(s string) (PathKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stereo":
		return PathStereo, nil
	case "mono":
		return PathMono, nil
	case "none", "":
		return PathNone, nil
	default:
		return PathNone, fmt.Errorf("unknown path %q", s)
	}
}

// AnalysisPoint - позиция воспроизведения, с которой снимается секция
type AnalysisPoint struct {
	Label string  `json:"label" yaml:"label" toml:"label"`
	Time  float64 `json:"time" yaml:"time" toml:"time"`
}

// SectionSample - одно RMS измерение за кадр опроса
type SectionSample struct {
	Energy float64 `json:"energy" yaml:"energy" toml:"energy"`
}

// SectionResult - итог одной секции
type SectionResult struct {
	Point      AnalysisPoint `json:"point" yaml:"point" toml:"point"`
	Average    float64       `json:"average" yaml:"average" toml:"average"`
	Samples    int           `json:"samples" yaml:"samples" toml:"samples"`
	Degenerate bool          `json:"degenerate,omitempty" yaml:"degenerate,omitempty" toml:"degenerate,omitempty"`
}

// AnalysisResult - вердикт одного прогона анализа. Не изменяется после создания.
type AnalysisResult struct {
	ID                 string          `json:"id" yaml:"id" toml:"id"`
	IsStereo           bool            `json:"isStereo" yaml:"is_stereo" toml:"is_stereo"`
	AverageEnergy      float64         `json:"averageEnergy" yaml:"average_energy" toml:"average_energy"`
	Threshold          float64         `json:"threshold" yaml:"threshold" toml:"threshold"`
	Confidence         int             `json:"confidence" yaml:"confidence" toml:"confidence"`
	SectionsAnalyzed   int             `json:"sectionsAnalyzed" yaml:"sections_analyzed" toml:"sections_analyzed"`
	DegenerateSections int             `json:"degenerateSections,omitempty" yaml:"degenerate_sections,omitempty" toml:"degenerate_sections,omitempty"`
	Sections           []SectionResult `json:"sections" yaml:"sections" toml:"sections"`
	StartedAt          time.Time       `json:"startedAt" yaml:"started_at" toml:"started_at"`
	FinishedAt         time.Time       `json:"finishedAt" yaml:"finished_at" toml:"finished_at"`
}

// Verdict возвращает "stereo" или "mono"
func (r *AnalysisResult) Verdict() string {
	if r.IsStereo {
		return "stereo"
	}
	return "mono"
}

// AnalysisPoints возвращает три точки анализа: начало (1с), середина, конец (d-2с).
// Каждая точка ограничена [0, duration).
func AnalysisPoints(duration float64) []AnalysisPoint {
	points := []AnalysisPoint{
		{Label: "beginning", Time: 1},
		{Label: "middle", Time: duration / 2},
		{Label: "end", Time: duration - 2},
	}
	last := math.Max(0, math.Nextafter(duration, 0))
	for i := range points {
		points[i].Time = math.Max(0, math.Min(points[i].Time, last))
	}
	return points
}

// Confidence переводит среднюю энергию в уверенность 80..100
func Confidence(averageEnergy, threshold float64) int {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var strength float64
	if averageEnergy > threshold {
		strength = math.Min(averageEnergy/stereoSaturation, 1)
	} else {
		strength = math.Max(0, 1-averageEnergy/threshold)
	}
	c := int(math.Round(minConfidence + strength*(maxConfidence-minConfidence)))
	return max(minConfidence, min(c, maxConfidence))
}

// Summarize агрегирует секции: вырожденные секции входят в среднее с нулём
func Summarize(sections []SectionResult, threshold float64) (averageEnergy float64, isStereo bool, confidence int) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(sections) > 0 {
		var sum float64
		for _, s := range sections {
			if !s.Degenerate {
				sum += s.Average
			}
		}
		averageEnergy = sum / float64(len(sections))
	}
	isStereo = averageEnergy > threshold
	return averageEnergy, isStereo, Confidence(averageEnergy, threshold)
}
