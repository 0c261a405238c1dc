package stereo

import (
	"encoding/json"
	"math"
	"testing"
)

func sectionsOf(averages ...float64) []SectionResult {
	sections := make([]SectionResult, len(averages))
	for i, a := range averages {
		sections[i] = SectionResult{Average: a, Samples: 60}
	}
	return sections
}

func TestSummarizeScenarios(t *testing.T) {
	tests := []struct {
		name           string
		sections       []SectionResult
		wantAverage    float64
		wantStereo     bool
		wantConfidence int
	}{
		{name: "mono sections", sections: sectionsOf(2, 3, 1), wantAverage: 2, wantStereo: false, wantConfidence: 92},
		{name: "stereo sections", sections: sectionsOf(18, 22, 20), wantAverage: 20, wantStereo: true, wantConfidence: 100},
		{name: "silent", sections: sectionsOf(0, 0, 0), wantAverage: 0, wantStereo: false, wantConfidence: 100},
		{name: "exactly threshold is mono", sections: sectionsOf(5, 5, 5), wantAverage: 5, wantStereo: false, wantConfidence: 80},
		{name: "just above threshold", sections: sectionsOf(6, 6, 6), wantAverage: 6, wantStereo: true, wantConfidence: 86},
		{
			name:           "degenerate counts as zero",
			sections:       []SectionResult{{Average: 30, Samples: 60}, {Degenerate: true}, {Average: 0, Samples: 60}},
			wantAverage:    10,
			wantStereo:     true,
			wantConfidence: 90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avg, isStereo, confidence := Summarize(tt.sections, DefaultThreshold)
			if math.Abs(avg-tt.wantAverage) > 1e-9 {
				t.Errorf("average = %v, want %v", avg, tt.wantAverage)
			}
			if isStereo != tt.wantStereo {
				t.Errorf("isStereo = %v, want %v", isStereo, tt.wantStereo)
			}
			if confidence != tt.wantConfidence {
				t.Errorf("confidence = %d, want %d", confidence, tt.wantConfidence)
			}
		})
	}
}

func TestConfidenceBoundsAndMonotonicity(t *testing.T) {
	prevMono := math.MaxInt
	prevStereo := 0
	for e := 0.0; e <= 100; e += 0.05 {
		c := Confidence(e, DefaultThreshold)
		if c < 80 || c > 100 {
			t.Fatalf("Confidence(%v) = %d out of [80,100]", e, c)
		}
		if e <= DefaultThreshold {
			if c > prevMono {
				t.Fatalf("Mono confidence increased at %v: %d > %d", e, c, prevMono)
			}
			prevMono = c
		} else {
			if c < prevStereo {
				t.Fatalf("Stereo confidence decreased at %v: %d < %d", e, c, prevStereo)
			}
			prevStereo = c
		}
	}
}

func TestAnalysisPoints(t *testing.T) {
	t.Run("TenSeconds", func(t *testing.T) {
		points := AnalysisPoints(10)
		want := []AnalysisPoint{{"beginning", 1}, {"middle", 5}, {"end", 8}}
		if len(points) != len(want) {
			t.Fatalf("Expected %d points, got %d", len(want), len(points))
		}
		for i := range want {
			if points[i] != want[i] {
				t.Errorf("Point %d: got %+v, want %+v", i, points[i], want[i])
			}
		}
	})

	for _, d := range []float64{3, 3.5, 6, 60, 1.5, 0.2} {
		points := AnalysisPoints(d)
		if len(points) != 3 {
			t.Fatalf("Duration %v: expected 3 points, got %d", d, len(points))
		}
		for _, p := range points {
			if p.Time < 0 || p.Time >= d {
				t.Errorf("Duration %v: point %s at %v outside [0, %v)", d, p.Label, p.Time, d)
			}
		}
	}
}

func TestPathKindText(t *testing.T) {
	data, err := json.Marshal(map[string]PathKind{"route": PathMono})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"route":"mono"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}

	var decoded struct{ Route PathKind }
	if err := json.Unmarshal([]byte(`{"Route":"stereo"}`), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Route != PathStereo {
		t.Errorf("Expected stereo, got %s", decoded.Route)
	}
	if _, err := ParsePathKind("surround"); err == nil {
		t.Error("Expected error for unknown path")
	}
}
