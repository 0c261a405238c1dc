package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Пустая рабочая папка, чтобы не подхватить чужой stereochecker.yaml
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.Analysis.Threshold != 5 || cfg.Analysis.FFTSize != 2048 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Analysis.DurationWait != 2*time.Second {
		t.Errorf("Expected 2s duration wait, got %v", cfg.Analysis.DurationWait)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `
port: "9090"
audio:
  headless: true
  frame_rate: 30
analysis:
  duration_wait: 500ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STEREOCHECKER_LOG_LEVEL", "debug")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || !cfg.Audio.Headless || cfg.Audio.FrameRate != 30 {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.Analysis.DurationWait != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", cfg.Analysis.DurationWait)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected env override debug, got %q", cfg.Log.Level)
	}
	// Не указанные в файле ключи остаются по умолчанию
	if cfg.Analysis.Smoothing != 0.8 {
		t.Errorf("Expected default smoothing, got %v", cfg.Analysis.Smoothing)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "frame rate", mutate: func(c *Config) { c.Audio.FrameRate = 0 }, field: "frame_rate"},
		{name: "threshold", mutate: func(c *Config) { c.Analysis.Threshold = -1 }, field: "threshold"},
		{name: "fft size", mutate: func(c *Config) { c.Analysis.FFTSize = 1000 }, field: "fft_size"},
		{name: "smoothing", mutate: func(c *Config) { c.Analysis.Smoothing = 2 }, field: "smoothing"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, field: "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error mentioning %s, got %v", tt.field, err)
			}
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Defaults().WriteYAML(&buf); err != nil {
		t.Fatalf("WriteYAML failed: %v", err)
	}
	if !strings.Contains(buf.String(), "fft_size: 2048") {
		t.Errorf("Expected fft_size in YAML, got:\n%s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "stereochecker.yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load of generated file failed: %v", err)
	}
	if cfg.Analysis.DurationWait != 2*time.Second {
		t.Errorf("Expected 2s after round trip, got %v", cfg.Analysis.DurationWait)
	}
}

func TestConfigureLogging(t *testing.T) {
	if err := ConfigureLogging(LogConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
	if err := ConfigureLogging(LogConfig{Level: "warn", Format: "json"}); err != nil {
		t.Errorf("ConfigureLogging failed: %v", err)
	}
}
