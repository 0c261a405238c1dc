package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix - префикс переменных окружения (STEREOCHECKER_PORT и т.п.)
const EnvPrefix = "STEREOCHECKER"

// Config - настройки приложения: defaults -> YAML файл -> env -> флаги
type Config struct {
	Port        string         `mapstructure:"port" yaml:"port"`
	GRPCAddress string         `mapstructure:"grpc_address" yaml:"grpc_address"`
	Log         LogConfig      `mapstructure:"log" yaml:"log"`
	Audio       AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Analysis    AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
}

// LogConfig - уровень и формат логов
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AudioConfig - устройство вывода и часы
type AudioConfig struct {
	// Device - имя устройства вывода (пусто = по умолчанию)
	Device string `mapstructure:"device" yaml:"device"`
	// Headless - без устройства вывода, граф рендерит офлайн драйвер
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RequireGesture - resume только после явного разрешения клиента
	RequireGesture bool `mapstructure:"require_gesture" yaml:"require_gesture"`
	// FrameRate - частота кадров опроса анализатора
	FrameRate int `mapstructure:"frame_rate" yaml:"frame_rate"`
}

// AnalysisConfig - параметры классификатора и зонда
type AnalysisConfig struct {
	Threshold    float64       `mapstructure:"threshold" yaml:"threshold"`
	DurationWait time.Duration `mapstructure:"duration_wait" yaml:"duration_wait"`
	FFTSize      int           `mapstructure:"fft_size" yaml:"fft_size"`
	Smoothing    float64       `mapstructure:"smoothing" yaml:"smoothing"`
}

// Defaults возвращает конфигурацию по умолчанию
func Defaults() *Config {
	return &Config{
		Port:        "8080",
		GRPCAddress: "",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Audio: AudioConfig{
			FrameRate: 60,
		},
		Analysis: AnalysisConfig{
			Threshold:    5,
			DurationWait: 2 * time.Second,
			FFTSize:      2048,
			Smoothing:    0.8,
		},
	}
}

// New создаёт viper с defaults и привязкой к окружению
func New() *viper.Viper {
	v := viper.New()
	d := Defaults()

	v.SetDefault("port", d.Port)
	v.SetDefault("grpc_address", d.GRPCAddress)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.headless", d.Audio.Headless)
	v.SetDefault("audio.require_gesture", d.Audio.RequireGesture)
	v.SetDefault("audio.frame_rate", d.Audio.FrameRate)
	v.SetDefault("analysis.threshold", d.Analysis.Threshold)
	v.SetDefault("analysis.duration_wait", d.Analysis.DurationWait)
	v.SetDefault("analysis.fft_size", d.Analysis.FFTSize)
	v.SetDefault("analysis.smoothing", d.Analysis.Smoothing)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load читает конфиг файл (если есть) и собирает Config.
// Пустой configFile ищет stereochecker.yaml в текущей папке и ~/.config/stereochecker.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("stereochecker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "stereochecker"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_rate must be positive, got %d", c.Audio.FrameRate))
	}
	if c.Analysis.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("analysis.threshold must be positive, got %v", c.Analysis.Threshold))
	}
	if c.Analysis.DurationWait < 0 {
		errs = append(errs, fmt.Errorf("analysis.duration_wait must not be negative, got %v", c.Analysis.DurationWait))
	}
	if n := c.Analysis.FFTSize; n < 32 || n > 32768 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("analysis.fft_size must be a power of two in [32, 32768], got %d", n))
	}
	if s := c.Analysis.Smoothing; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("analysis.smoothing must be in [0, 1], got %v", s))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteYAML записывает конфиг в YAML (для config init)
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
