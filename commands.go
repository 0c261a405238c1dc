package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"stereochecker/audio"
	"stereochecker/internal/api"
	"stereochecker/internal/config"
	"stereochecker/internal/service"
	"stereochecker/stereo"

	"github.com/spf13/cobra"
)

// serviceOptions собирает настройки сервиса из конфига
func serviceOptions(cfg *config.Config) service.Options {
	analyser := audio.DefaultAnalyserOptions()
	analyser.FFTSize = cfg.Analysis.FFTSize
	analyser.Smoothing = cfg.Analysis.Smoothing
	return service.Options{
		DeviceName:     cfg.Audio.Device,
		Headless:       cfg.Audio.Headless,
		RequireGesture: cfg.Audio.RequireGesture,
		FrameRate:      cfg.Audio.FrameRate,
		Threshold:      cfg.Analysis.Threshold,
		DurationWait:   cfg.Analysis.DurationWait,
		Analyser:       analyser,
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket and gRPC control server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc := service.NewStereoService(serviceOptions(cfg))
			defer svc.Close()

			server := api.NewServer(cfg, svc)
			return server.Start(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "HTTP port for the /ws endpoint")
	flags.String("grpc-address", "", "gRPC address (unix:/path, npipe:\\\\.\\pipe\\name or host:port)")
	flags.String("device", "", "Output device name (substring match)")
	flags.Bool("headless", false, "Run without an output device")
	flags.Bool("require-gesture", false, "Keep the audio context suspended until a client sends resume")
	ctx.bindFlag(flags, "port", "port")
	ctx.bindFlag(flags, "grpc_address", "grpc-address")
	ctx.bindFlag(flags, "audio.device", "device")
	ctx.bindFlag(flags, "audio.headless", "headless")
	ctx.bindFlag(flags, "audio.require_gesture", "require-gesture")
	return cmd
}

// analysisReport - то, что печатает analyze
type analysisReport struct {
	File    string                 `json:"file" yaml:"file" toml:"file"`
	Verdict string                 `json:"verdict" yaml:"verdict" toml:"verdict"`
	Result  *stereo.AnalysisResult `json:"result" yaml:"result" toml:"result"`
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Detect whether a file carries real stereo, rendering offline",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := serviceOptions(cfg)
			// Офлайн: без устройства и без ожидания жеста
			opts.Headless = true
			opts.RequireGesture = false

			svc := service.NewStereoService(opts)
			defer svc.Close()
			if err := svc.Load(args[0]); err != nil {
				return err
			}
			result, err := svc.Analyze(cmd.Context())
			if err != nil {
				return fmt.Errorf("could not determine stereo content of %s: %w", args[0], err)
			}

			report := analysisReport{File: args[0], Verdict: result.Verdict(), Result: result}
			if format != formatText {
				return writeStructured(cmd, format, report)
			}
			printAnalysis(cmd, report)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", formatText, "Output format: text, json, yaml, toml")
	flags.Float64("threshold", 0, "Energy threshold separating mono from stereo")
	flags.Int("fps", 0, "Polling frames per second of audio")
	ctx.bindFlag(flags, "analysis.threshold", "threshold")
	ctx.bindFlag(flags, "audio.frame_rate", "fps")
	return cmd
}

func printAnalysis(cmd *cobra.Command, report analysisReport) {
	out := cmd.OutOrStdout()
	color := shouldColorize(out)
	r := report.Result

	verdict := "MONO (channels carry the same signal)"
	verdictColor := ansiYellow
	if r.IsStereo {
		verdict = "STEREO"
		verdictColor = ansiGreen
	}
	fmt.Fprintf(out, "%s: %s\n", report.File, colorize(verdict, verdictColor, color))
	fmt.Fprintf(out, "Average energy %.2f (threshold %.0f), confidence %d%%\n\n", r.AverageEnergy, r.Threshold, r.Confidence)

	rows := make([][]string, 0, len(r.Sections))
	for _, s := range r.Sections {
		average := strconv.FormatFloat(s.Average, 'f', 2, 64)
		if s.Degenerate {
			average = colorize("no samples", ansiRed, color)
		}
		rows = append(rows, []string{
			s.Point.Label,
			strconv.FormatFloat(s.Point.Time, 'f', 2, 64),
			strconv.Itoa(s.Samples),
			average,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Section", "At (s)", "Samples", "Energy"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))
}

func newDownmixCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "downmix <input> <output.wav|output.mp3>",
		Short: "Export the mono downmix of a file",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := service.Downmix(cmd.Context(), args[0], args[1], cfg.Audio.FrameRate)
			if err != nil {
				return err
			}
			if format != formatText {
				return writeStructured(cmd, format, report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%v, %d Hz mono)\n", report.Output, report.Duration, report.SampleRate)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json, yaml, toml")
	return cmd
}

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List playback devices",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.ListDevices()
			if err != nil {
				return err
			}
			if format != formatText {
				return writeStructured(cmd, format, map[string]any{"devices": devices})
			}
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				def := ""
				if d.IsDefault {
					def = "yes"
				}
				rows = append(rows, []string{d.Name, d.ID, def})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Name", "ID", "Default"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json, yaml, toml")
	return cmd
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration helpers",
		Annotations: map[string]string{"skipConfig": "true"},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			if len(args) == 0 {
				return cfg.WriteYAML(cmd.OutOrStdout())
			}

			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			if err := cfg.WriteYAML(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}
